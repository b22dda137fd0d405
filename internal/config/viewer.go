// Package config loads the viewer's JSON configuration. Every field is
// optional; the Get* accessors supply the defaults for anything omitted, so a
// partial file only needs the values it changes.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/pointcloud.report/internal/upsample"
)

// DefaultConfigPath is the checked-in file that spells out every default.
const DefaultConfigPath = "config/pointcloud.defaults.json"

const maxFileSize = 1 << 20

// Renderer kinds.
const (
	RendererProjection2D = "2d"
	RendererScatter3D    = "3d"
)

// Serial protocols: JSON frame lines, or the sensor's native binary frames.
const (
	ProtocolJSON   = "json"
	ProtocolBinary = "binary"
)

// Limits is an axis window: [min, max] for the horizontal then the vertical
// axis of a panel.
type Limits struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// ViewerConfig is the root of the configuration file.
type ViewerConfig struct {
	// Serial input
	SerialPort  *string `json:"serial_port,omitempty"`
	BaudRate    *int    `json:"baud_rate,omitempty"`
	Protocol    *string `json:"protocol,omitempty"`
	ReadTimeout *string `json:"read_timeout,omitempty"` // duration string like "1s"

	// Loop
	TickInterval *string `json:"tick_interval,omitempty"`

	// Upsampling
	Method              *string  `json:"method,omitempty"`
	InterpolationFactor *int     `json:"interpolation_factor,omitempty"`
	InterpolationK      *int     `json:"interpolation_k,omitempty"`
	MLSFactor           *int     `json:"mls_factor,omitempty"`
	MLSRadius           *float64 `json:"mls_radius,omitempty"`
	VoronoiMaxRatio     *int     `json:"voronoi_max_ratio,omitempty"`
	VoronoiPadding      *float64 `json:"voronoi_padding,omitempty"`
	Seed                *uint64  `json:"seed,omitempty"`

	// Rendering
	Renderer  *string            `json:"renderer,omitempty"`
	OutputDir *string            `json:"output_dir,omitempty"`
	SpeedMin  *float64           `json:"speed_min,omitempty"`
	SpeedMax  *float64           `json:"speed_max,omitempty"`
	Panels    map[string]*Limits `json:"panels,omitempty"`

	// Recording and debugging
	FrameLog    *string `json:"frame_log,omitempty"`
	DebugListen *string `json:"debug_listen,omitempty"`
}

// DefaultPanels are the fixed 2D projection windows in metres.
var DefaultPanels = map[string]Limits{
	"xy": {XMin: -0.5, XMax: 0.5, YMin: 0, YMax: 2},
	"yz": {XMin: 0, XMax: 2, YMin: -0.5, YMax: 1},
	"xz": {XMin: -0.7, XMax: 0.7, YMin: -1, YMax: 1},
}

func ptr[T any](v T) *T { return &v }

// DefaultViewerConfig returns a config with every field populated.
func DefaultViewerConfig() *ViewerConfig {
	panels := make(map[string]*Limits, len(DefaultPanels))
	for k, v := range DefaultPanels {
		panels[k] = ptr(v)
	}
	return &ViewerConfig{
		SerialPort:          ptr(""),
		BaudRate:            ptr(115200),
		Protocol:            ptr(ProtocolJSON),
		ReadTimeout:         ptr("1s"),
		TickInterval:        ptr("100ms"),
		Method:              ptr(string(upsample.MethodInterpolation)),
		InterpolationFactor: ptr(3),
		InterpolationK:      ptr(3),
		MLSFactor:           ptr(3),
		MLSRadius:           ptr(0.15),
		VoronoiMaxRatio:     ptr(2),
		VoronoiPadding:      ptr(upsample.DefaultBoundsPadding),
		Renderer:            ptr(RendererProjection2D),
		OutputDir:           ptr("."),
		SpeedMin:            ptr(-5.0),
		SpeedMax:            ptr(5.0),
		Panels:              panels,
		FrameLog:            ptr(""),
		DebugListen:         ptr(""),
	}
}

// LoadViewerConfig reads a .json config file of at most 1MB and validates it.
func LoadViewerConfig(path string) (*ViewerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ViewerConfig{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *ViewerConfig) Validate() error {
	if c.BaudRate != nil && *c.BaudRate < 0 {
		return fmt.Errorf("baud_rate must be non-negative, got %d", *c.BaudRate)
	}
	if c.Protocol != nil {
		switch *c.Protocol {
		case ProtocolJSON, ProtocolBinary:
		default:
			return fmt.Errorf("protocol must be %q or %q, got %q", ProtocolJSON, ProtocolBinary, *c.Protocol)
		}
	}
	for name, d := range map[string]*string{"read_timeout": c.ReadTimeout, "tick_interval": c.TickInterval} {
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *d, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, v)
		}
	}
	if c.Method != nil {
		if _, err := upsample.ParseMethod(*c.Method); err != nil {
			return err
		}
	}
	for name, v := range map[string]*int{
		"interpolation_factor": c.InterpolationFactor,
		"interpolation_k":      c.InterpolationK,
		"mls_factor":           c.MLSFactor,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}
	if c.MLSRadius != nil && !(*c.MLSRadius > 0) {
		return fmt.Errorf("mls_radius must be positive, got %v", *c.MLSRadius)
	}
	if c.VoronoiMaxRatio != nil && *c.VoronoiMaxRatio < 0 {
		return fmt.Errorf("voronoi_max_ratio must be non-negative, got %d", *c.VoronoiMaxRatio)
	}
	if c.VoronoiPadding != nil && (*c.VoronoiPadding < 0 || math.IsNaN(*c.VoronoiPadding)) {
		return fmt.Errorf("voronoi_padding must be non-negative, got %v", *c.VoronoiPadding)
	}
	if c.Renderer != nil {
		switch *c.Renderer {
		case RendererProjection2D, RendererScatter3D:
		default:
			return fmt.Errorf("renderer must be %q or %q, got %q", RendererProjection2D, RendererScatter3D, *c.Renderer)
		}
	}
	if lo, hi := c.GetSpeedMin(), c.GetSpeedMax(); !(lo < hi) {
		return fmt.Errorf("speed_min %v must be below speed_max %v", lo, hi)
	}
	for name, l := range c.Panels {
		if _, ok := DefaultPanels[name]; !ok {
			return fmt.Errorf("unknown panel %q: expected xy, yz or xz", name)
		}
		if l == nil {
			continue
		}
		if !(l.XMin < l.XMax) || !(l.YMin < l.YMax) {
			return fmt.Errorf("panel %s has an empty axis window", name)
		}
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c *ViewerConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

func (c *ViewerConfig) GetBaudRate() int {
	if c.BaudRate == nil || *c.BaudRate == 0 {
		return 115200
	}
	return *c.BaudRate
}

func (c *ViewerConfig) GetProtocol() string {
	if c.Protocol == nil || *c.Protocol == "" {
		return ProtocolJSON
	}
	return *c.Protocol
}

// GetReadTimeout is how long the reader waits for a line per tick.
func (c *ViewerConfig) GetReadTimeout() time.Duration {
	return durationOr(c.ReadTimeout, time.Second)
}

func (c *ViewerConfig) GetTickInterval() time.Duration {
	return durationOr(c.TickInterval, 100*time.Millisecond)
}

// GetMethod returns the configured method, falling back to interpolation for
// names that do not parse.
func (c *ViewerConfig) GetMethod() upsample.Method {
	if c.Method == nil {
		return upsample.MethodInterpolation
	}
	m, err := upsample.ParseMethod(*c.Method)
	if err != nil {
		return upsample.MethodInterpolation
	}
	return m
}

func (c *ViewerConfig) GetInterpolationParams() upsample.InterpolationParams {
	p := upsample.DefaultInterpolationParams()
	if c.InterpolationFactor != nil {
		p.Factor = *c.InterpolationFactor
	}
	if c.InterpolationK != nil {
		p.K = *c.InterpolationK
	}
	return p
}

func (c *ViewerConfig) GetMLSParams() upsample.MLSParams {
	p := upsample.DefaultMLSParams()
	if c.MLSFactor != nil {
		p.Factor = *c.MLSFactor
	}
	if c.MLSRadius != nil {
		p.Radius = *c.MLSRadius
	}
	return p
}

func (c *ViewerConfig) GetVoronoiMaxRatio() int {
	if c.VoronoiMaxRatio == nil {
		return 2
	}
	return *c.VoronoiMaxRatio
}

func (c *ViewerConfig) GetVoronoiPadding() float64 {
	if c.VoronoiPadding == nil {
		return upsample.DefaultBoundsPadding
	}
	return *c.VoronoiPadding
}

// GetSeed reports the fixed random seed, if any.
func (c *ViewerConfig) GetSeed() (uint64, bool) {
	if c.Seed == nil {
		return 0, false
	}
	return *c.Seed, true
}

func (c *ViewerConfig) GetRenderer() string {
	if c.Renderer == nil || *c.Renderer == "" {
		return RendererProjection2D
	}
	return *c.Renderer
}

func (c *ViewerConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "."
	}
	return *c.OutputDir
}

func (c *ViewerConfig) GetSpeedMin() float64 {
	if c.SpeedMin == nil {
		return -5
	}
	return *c.SpeedMin
}

func (c *ViewerConfig) GetSpeedMax() float64 {
	if c.SpeedMax == nil {
		return 5
	}
	return *c.SpeedMax
}

// GetPanel returns the axis window for the named projection ("xy", "yz" or
// "xz").
func (c *ViewerConfig) GetPanel(name string) Limits {
	if l, ok := c.Panels[name]; ok && l != nil {
		return *l
	}
	return DefaultPanels[name]
}

// GetFrameLog is the SQLite path for recording frames; empty disables it.
func (c *ViewerConfig) GetFrameLog() string {
	if c.FrameLog == nil {
		return ""
	}
	return *c.FrameLog
}

func (c *ViewerConfig) GetDebugListen() string {
	if c.DebugListen == nil {
		return ""
	}
	return *c.DebugListen
}
