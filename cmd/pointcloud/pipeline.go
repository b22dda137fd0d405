package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/banshee-data/pointcloud.report/internal/config"
	"github.com/banshee-data/pointcloud.report/internal/framelog"
	"github.com/banshee-data/pointcloud.report/internal/render"
	"github.com/banshee-data/pointcloud.report/internal/serialmux"
	"github.com/banshee-data/pointcloud.report/internal/upsample"
)

func loadConfig(path string) (*config.ViewerConfig, error) {
	if path == "" {
		return config.DefaultViewerConfig(), nil
	}
	return config.LoadViewerConfig(path)
}

// applyFlag copies an explicitly set flag over the config value.
func applyFlag(cfg *config.ViewerConfig, name string) {
	switch name {
	case "port":
		cfg.SerialPort = port
	case "baud":
		cfg.BaudRate = baud
	case "protocol":
		cfg.Protocol = protocol
	case "method":
		cfg.Method = method
	case "renderer":
		cfg.Renderer = rendererKind
	case "out":
		cfg.OutputDir = outDir
	case "interval":
		s := interval.String()
		cfg.TickInterval = &s
	case "read-timeout":
		s := readTimeout.String()
		cfg.ReadTimeout = &s
	case "seed":
		cfg.Seed = seed
	case "framelog":
		cfg.FrameLog = frameLogPath
	case "debug-listen":
		cfg.DebugListen = debugListen
	}
}

func newUpsampler(cfg *config.ViewerConfig) *upsample.Upsampler {
	var rng *rand.Rand
	if s, ok := cfg.GetSeed(); ok {
		rng = rand.New(rand.NewPCG(s, s))
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	up := upsample.NewUpsampler(cfg.GetMethod(), rng)
	up.Interpolation = cfg.GetInterpolationParams()
	up.MLS = cfg.GetMLSParams()
	up.VoronoiMaxRatio = cfg.GetVoronoiMaxRatio()
	up.VoronoiPadding = cfg.GetVoronoiPadding()
	return up
}

func newRenderer(cfg *config.ViewerConfig) (render.Renderer, error) {
	switch cfg.GetRenderer() {
	case config.RendererScatter3D:
		return render.NewScatter3D(render.Scatter3DOptions{
			OutputDir: cfg.GetOutputDir(),
			SpeedMin:  cfg.GetSpeedMin(),
			SpeedMax:  cfg.GetSpeedMax(),
		})
	case config.RendererProjection2D:
		panels := make(map[string]config.Limits, len(config.DefaultPanels))
		for name := range config.DefaultPanels {
			panels[name] = cfg.GetPanel(name)
		}
		return render.NewProjection2D(render.Projection2DOptions{
			OutputDir: cfg.GetOutputDir(),
			SpeedMin:  cfg.GetSpeedMin(),
			SpeedMax:  cfg.GetSpeedMax(),
			Panels:    panels,
		})
	default:
		return nil, fmt.Errorf("unknown renderer %q", cfg.GetRenderer())
	}
}

// openSource picks the line source: a recorded session, the dev fixtures or
// the serial port. With the binary protocol the fixtures and the port are
// decoded from native sensor frames; recorded sessions are always JSON lines. It also returns a name for the logs and the session row.
func openSource(ctx context.Context, cfg *config.ViewerConfig, flog *framelog.Log) (serialmux.Mux, string, error) {
	pace := serialmux.ReplayOptions{Interval: cfg.GetTickInterval()}

	switch {
	case *replay != "":
		if flog == nil {
			return nil, "", fmt.Errorf("-replay needs -framelog")
		}
		r, err := flog.Replay(ctx, *replay)
		if err != nil {
			return nil, "", err
		}
		mux, err := serialmux.NewMockSerialMux(r, pace)
		if err != nil {
			return nil, "", err
		}
		return mux, "session " + *replay, nil

	case *devMode:
		f, err := os.Open(*fixtures)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open fixtures file: %w", err)
		}
		defer f.Close()
		pace.Loop = true
		if cfg.GetProtocol() == config.ProtocolBinary {
			mux, err := serialmux.NewMockBinarySerialMux(f, pace)
			if err != nil {
				return nil, "", err
			}
			return mux, *fixtures + " (binary)", nil
		}
		mux, err := serialmux.NewMockSerialMux(f, pace)
		if err != nil {
			return nil, "", err
		}
		return mux, *fixtures, nil

	default:
		opts, err := serialmux.PortOptions{BaudRate: cfg.GetBaudRate()}.Normalize()
		if err != nil {
			return nil, "", err
		}
		path := cfg.GetSerialPort()
		if path == "" {
			path = *port
		}
		desc := fmt.Sprintf("%s (%s, %s)", path, opts, cfg.GetProtocol())
		if cfg.GetProtocol() == config.ProtocolBinary {
			mux, err := serialmux.NewBinarySerialMux(path, opts)
			if err != nil {
				return nil, "", err
			}
			return mux, desc, nil
		}
		mux, err := serialmux.NewRealSerialMux(path, opts)
		if err != nil {
			return nil, "", err
		}
		return mux, desc, nil
	}
}
