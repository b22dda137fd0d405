// Package render turns upsampled frames into image and HTML artifacts.
package render

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"

	"github.com/banshee-data/pointcloud.report/internal/upsample"
)

// Default speed window for colouring, in cm/s.
const (
	DefaultSpeedMin = -5.0
	DefaultSpeedMax = 5.0
)

var ErrInvalidSpeedRange = errors.New("speed range must have min below max")

// Snapshot is one processed frame ready to draw. Result holds the original
// targets first, followed by synthesized points.
type Snapshot struct {
	// Timestamp is the frame time in milliseconds.
	Timestamp int64           `json:"timestamp"`
	Method    upsample.Method `json:"method"`
	Result    upsample.Result `json:"result"`
	// TargetIDs holds the sensor's id for each original point, -1 where the
	// frame carried none.
	TargetIDs []int `json:"target_ids,omitempty"`
}

// Renderer draws snapshots. Render returns the path of the artifact it wrote,
// or "" when the snapshot had nothing to draw. Renderers number their output
// and are not safe for concurrent use.
type Renderer interface {
	Render(Snapshot) (string, error)
}

// speedScale maps speeds onto a colour map, clamping to the window.
type speedScale struct {
	cm palette.ColorMap
}

func newSpeedScale(lo, hi float64) (speedScale, error) {
	if !(lo < hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return speedScale{}, fmt.Errorf("%w: [%v, %v]", ErrInvalidSpeedRange, lo, hi)
	}
	cm := moreland.ExtendedBlackBody()
	cm.SetMin(lo)
	cm.SetMax(hi)
	return speedScale{cm: cm}, nil
}

func (s speedScale) min() float64 { return s.cm.Min() }
func (s speedScale) max() float64 { return s.cm.Max() }

func (s speedScale) color(speed float64) color.Color {
	v := math.Max(s.min(), math.Min(s.max(), speed))
	if math.IsNaN(v) {
		v = s.min()
	}
	c, err := s.cm.At(v)
	if err != nil {
		return color.Black
	}
	return c
}

// hexStops samples n colours across the window as #rrggbb strings.
func (s speedScale) hexStops(n int) []string {
	stops := make([]string, n)
	for i := range stops {
		v := s.min() + (s.max()-s.min())*float64(i)/float64(n-1)
		r, g, b, _ := s.color(v).RGBA()
		stops[i] = fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
	}
	return stops
}
