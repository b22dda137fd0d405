package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/pointcloud.report/internal/config"
	"github.com/banshee-data/pointcloud.report/internal/frame"
	"github.com/banshee-data/pointcloud.report/internal/framelog"
	"github.com/banshee-data/pointcloud.report/internal/serialmux"
	"github.com/banshee-data/pointcloud.report/internal/upsample"
	"github.com/banshee-data/pointcloud.report/internal/version"
	"github.com/banshee-data/pointcloud.report/internal/viewer"
)

var (
	configPath   = flag.String("config", "", "Path to a JSON viewer config (defaults are used when empty)")
	port         = flag.String("port", "/dev/ttyUSB0", "Serial port the sensor is attached to (ignored in dev mode)")
	baud         = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	protocol     = flag.String("protocol", config.ProtocolJSON, "Serial protocol: json (frame lines) or binary (native sensor frames)")
	method       = flag.String("method", string(upsample.MethodInterpolation), "Upsampling method: none, interpolation, mls or voronoi")
	rendererKind = flag.String("renderer", config.RendererProjection2D, "Renderer: 2d (PNG projections) or 3d (HTML scatter)")
	outDir       = flag.String("out", ".", "Directory for rendered frames")
	interval     = flag.Duration("interval", viewer.DefaultTickInterval, "Tick interval")
	readTimeout  = flag.Duration("read-timeout", frame.DefaultReadTimeout, "How long each tick waits for a serial line")
	seed         = flag.Uint64("seed", 0, "Fixed random seed for reproducible upsampling")
	frameLogPath = flag.String("framelog", "", "SQLite file recording every frame line (disabled when empty)")
	debugListen  = flag.String("debug-listen", "", "Address for the /debug/ HTTP server (disabled when empty)")
	devMode      = flag.Bool("dev", false, "Replay a fixtures file instead of opening the serial port")
	fixtures     = flag.String("fixtures", "cmd/pointcloud/testdata/frames.jsonl", "Fixture lines replayed in dev mode")
	replay       = flag.String("replay", "", "Replay a session id from -framelog instead of opening the serial port")
	listPorts    = flag.Bool("list-ports", false, "List serial ports and exit")
	showVersion  = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	flag.Visit(func(f *flag.Flag) { applyFlag(cfg, f.Name) })
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	log.Print(version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var flog *framelog.Log
	if path := cfg.GetFrameLog(); path != "" {
		flog, err = framelog.Open(path, nil)
		if err != nil {
			log.Fatalf("failed to open frame log: %v", err)
		}
		defer flog.Close()
	}

	source, sourceName, err := openSource(ctx, cfg, flog)
	if err != nil {
		log.Fatalf("failed to open frame source: %v", err)
	}
	defer source.Close()

	renderer, err := newRenderer(cfg)
	if err != nil {
		log.Fatalf("failed to create renderer: %v", err)
	}
	if err := os.MkdirAll(cfg.GetOutputDir(), 0o755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	up := newUpsampler(cfg)
	reader := frame.NewReader(source, cfg.GetReadTimeout(), nil)
	defer reader.Close()

	opts := viewer.Options{
		Source:    reader,
		Upsampler: up,
		Renderer:  renderer,
		Interval:  cfg.GetTickInterval(),
	}
	// a replayed session is not recorded again
	if flog != nil && *replay == "" {
		sessionID, err := flog.StartSession(ctx, string(up.Method), sourceName)
		if err != nil {
			log.Fatalf("failed to start frame log session: %v", err)
		}
		log.Printf("recording frames as session %s", sessionID)
		opts.Recorder = flog
		opts.SessionID = sessionID
	}
	v, err := viewer.New(opts)
	if err != nil {
		log.Fatalf("failed to create viewer: %v", err)
	}

	log.Printf("reading frames from %s with %s upsampling, %s renderer, output in %s",
		sourceName, up.Method, cfg.GetRenderer(), cfg.GetOutputDir())

	var wg sync.WaitGroup

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := source.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := v.Run(ctx); err != nil {
			log.Printf("viewer stopped: %v", err)
		}
		log.Print("viewer routine terminated")
	}()

	if addr := cfg.GetDebugListen(); addr != "" {
		mux := http.NewServeMux()
		source.AttachAdminRoutes(mux)
		v.AttachAdminRoutes(mux)
		if flog != nil {
			if err := flog.AttachAdminRoutes(mux); err != nil {
				log.Fatalf("failed to attach frame log routes: %v", err)
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(ctx, addr, mux)
		}()
	}

	<-ctx.Done()
	// closing the port unblocks the monitor's pending read
	source.Close()
	wg.Wait()

	s := v.Stats()
	log.Printf("Graceful shutdown complete: %d ticks, %d frames, %d rendered", s.Ticks, s.Frames, s.Rendered)
}

func serveDebug(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Printf("debug server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("debug server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("debug server force close error: %v", err)
		}
	}
}
