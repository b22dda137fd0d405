// Package viewer drives the read, upsample and render pipeline on a fixed
// tick.
package viewer

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/pointcloud.report/internal/frame"
	"github.com/banshee-data/pointcloud.report/internal/httputil"
	"github.com/banshee-data/pointcloud.report/internal/monitoring"
	"github.com/banshee-data/pointcloud.report/internal/render"
	"github.com/banshee-data/pointcloud.report/internal/timeutil"
	"github.com/banshee-data/pointcloud.report/internal/upsample"
)

// DefaultTickInterval is how often Run polls the reader.
const DefaultTickInterval = 100 * time.Millisecond

// FrameSource yields frame lines; frame.Reader implements it.
type FrameSource interface {
	ReadNextFrame(ctx context.Context) (string, bool)
}

// Recorder stores accepted frame lines; framelog.Log implements it.
type Recorder interface {
	Record(ctx context.Context, sessionID, line string, f *frame.Frame) error
}

// Outcome is what one tick did.
type Outcome int

const (
	// NoFrame means the reader produced nothing before its timeout.
	NoFrame Outcome = iota
	// Malformed means the line was not valid frame JSON.
	Malformed
	// Empty means the frame carried no targets.
	Empty
	// Rendered means an artifact was written.
	Rendered
	// Failed means upsampling or rendering returned an error.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case NoFrame:
		return "no_frame"
	case Malformed:
		return "malformed"
	case Empty:
		return "empty"
	case Rendered:
		return "rendered"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stats counts tick outcomes.
type Stats struct {
	Ticks     uint64 `json:"ticks"`
	Frames    uint64 `json:"frames"`
	Empty     uint64 `json:"empty"`
	Malformed uint64 `json:"malformed"`
	Rendered  uint64 `json:"rendered"`
	Failed    uint64 `json:"failed"`
	// Outcomes counts upsampling outcomes by name.
	Outcomes map[string]uint64 `json:"outcomes"`
	// LastArtifact is the path of the most recent rendered file.
	LastArtifact string `json:"last_artifact,omitempty"`
}

// Options configures a Viewer.
type Options struct {
	Source    FrameSource
	Upsampler *upsample.Upsampler
	Renderer  render.Renderer
	// Recorder and SessionID are optional; lines are recorded when both are
	// set.
	Recorder  Recorder
	SessionID string
	Interval  time.Duration
	Clock     timeutil.Clock
}

// Viewer owns the pipeline state. Tick and Run must be called from one
// goroutine; Stats and LastSnapshot may be called from any.
type Viewer struct {
	src       FrameSource
	upsampler *upsample.Upsampler
	renderer  render.Renderer
	recorder  Recorder
	sessionID string
	interval  time.Duration
	clock     timeutil.Clock

	mu    sync.Mutex
	stats Stats
	last  *render.Snapshot
}

// New returns a Viewer. Source, Upsampler and Renderer are required.
func New(opts Options) (*Viewer, error) {
	if opts.Source == nil || opts.Upsampler == nil || opts.Renderer == nil {
		return nil, errors.New("viewer needs a source, an upsampler and a renderer")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultTickInterval
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Viewer{
		src:       opts.Source,
		upsampler: opts.Upsampler,
		renderer:  opts.Renderer,
		recorder:  opts.Recorder,
		sessionID: opts.SessionID,
		interval:  opts.Interval,
		clock:     opts.Clock,
		stats:     Stats{Outcomes: map[string]uint64{}},
	}, nil
}

// Tick reads at most one frame, upsamples it and renders it. Nothing that
// happens inside a tick is fatal; failures are logged and counted.
func (v *Viewer) Tick(ctx context.Context) Outcome {
	outcome := v.tick(ctx)
	v.mu.Lock()
	v.stats.Ticks++
	switch outcome {
	case Malformed:
		v.stats.Malformed++
	case Empty:
		v.stats.Empty++
	case Rendered:
		v.stats.Rendered++
	case Failed:
		v.stats.Failed++
	}
	v.mu.Unlock()
	return outcome
}

func (v *Viewer) tick(ctx context.Context) Outcome {
	line, ok := v.src.ReadNextFrame(ctx)
	if !ok {
		return NoFrame
	}

	f, err := frame.Parse(line)
	v.record(ctx, line, f)
	if err != nil {
		monitoring.Logf("skipping frame: %v", err)
		return Malformed
	}

	v.mu.Lock()
	v.stats.Frames++
	v.mu.Unlock()

	res, err := v.upsampler.Apply(f.Points(), f.Speeds())
	if err != nil {
		monitoring.Logf("upsampling failed: %v", err)
		return Failed
	}

	snap := render.Snapshot{
		Timestamp: f.TimestampOr(v.clock.Now().UnixMilli()),
		Method:    v.upsampler.Method,
		Result:    res,
		TargetIDs: f.TargetIDs(),
	}
	v.mu.Lock()
	v.last = &snap
	if !f.Empty() {
		v.stats.Outcomes[res.Outcome.String()]++
	}
	v.mu.Unlock()

	path, err := v.renderer.Render(snap)
	if err != nil {
		monitoring.Logf("render failed: %v", err)
		return Failed
	}
	if path == "" {
		return Empty
	}

	v.mu.Lock()
	v.stats.LastArtifact = path
	v.mu.Unlock()
	return Rendered
}

func (v *Viewer) record(ctx context.Context, line string, f *frame.Frame) {
	if v.recorder == nil || v.sessionID == "" {
		return
	}
	if err := v.recorder.Record(ctx, v.sessionID, line, f); err != nil {
		monitoring.Logf("frame log: %v", err)
	}
}

// Run ticks every interval until ctx is cancelled.
func (v *Viewer) Run(ctx context.Context) error {
	ticker := v.clock.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			v.Tick(ctx)
		}
	}
}

// Stats returns a copy of the counters.
func (v *Viewer) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.stats
	s.Outcomes = make(map[string]uint64, len(v.stats.Outcomes))
	for k, n := range v.stats.Outcomes {
		s.Outcomes[k] = n
	}
	return s
}

// LastSnapshot returns the most recent parsed frame, or false before the
// first one.
func (v *Viewer) LastSnapshot() (render.Snapshot, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.last == nil {
		return render.Snapshot{}, false
	}
	return *v.last, true
}

// AttachAdminRoutes serves /debug/frame and /debug/stats.
func (v *Viewer) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("frame", "latest snapshot", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := v.LastSnapshot()
		if !ok {
			httputil.NotFound(w, "no frame yet")
			return
		}
		httputil.WriteJSONOK(w, snap)
	})
	debug.HandleFunc("stats", "viewer counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, v.Stats())
	})
}
