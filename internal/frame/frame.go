// Package frame decodes the JSON detection frames printed by the mmWave
// sensor, one per line:
//
//	{"timestamp": 1723456789, "targets": [{"x_point": 0.1, "y_point": 0.5,
//	  "z_point": 0.2, "move_speed": 1.5, "target_id": 1}]}
//
// Coordinates are metres in the sensor frame, speeds cm/s. Stock firmware
// sends the same detections as binary frames; see BinaryDecoder.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrMalformedFrame wraps every Parse failure.
var ErrMalformedFrame = errors.New("malformed frame")

// Target is one detection.
type Target struct {
	X     float64 `json:"x_point"`
	Y     float64 `json:"y_point"`
	Z     float64 `json:"z_point"`
	Speed float64 `json:"move_speed"`
	ID    *int    `json:"target_id,omitempty"`
}

// Point returns the target position.
func (t Target) Point() r3.Vec { return r3.Vec{X: t.X, Y: t.Y, Z: t.Z} }

// Frame is one sensor report. A Frame is not modified after Parse returns it.
type Frame struct {
	// Timestamp is in milliseconds and absent on some firmware.
	Timestamp *int64   `json:"timestamp,omitempty"`
	Targets   []Target `json:"targets"`
}

// Parse decodes a frame line. Missing coordinates decode as zero and a
// missing or null targets array means no detections.
func Parse(line string) (*Frame, error) {
	line = strings.TrimSpace(line)
	if !IsFrameLine(line) {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedFrame)
	}
	var f Frame
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &f, nil
}

// IsFrameLine reports whether line looks like a JSON object once surrounding
// whitespace is removed. It does not validate the JSON.
func IsFrameLine(line string) bool {
	line = strings.TrimSpace(line)
	return len(line) >= 2 && line[0] == '{' && line[len(line)-1] == '}'
}

// Empty reports whether the frame has no detections.
func (f *Frame) Empty() bool { return len(f.Targets) == 0 }

// TimestampOr returns the frame timestamp, or def when it is absent.
func (f *Frame) TimestampOr(def int64) int64 {
	if f.Timestamp == nil {
		return def
	}
	return *f.Timestamp
}

func (f *Frame) Points() []r3.Vec {
	pts := make([]r3.Vec, len(f.Targets))
	for i, t := range f.Targets {
		pts[i] = t.Point()
	}
	return pts
}

func (f *Frame) Speeds() []float64 {
	speeds := make([]float64, len(f.Targets))
	for i, t := range f.Targets {
		speeds[i] = t.Speed
	}
	return speeds
}

// TargetIDs returns the target ids in order, with -1 for targets that did
// not carry one.
func (f *Frame) TargetIDs() []int {
	ids := make([]int, len(f.Targets))
	for i, t := range f.Targets {
		ids[i] = -1
		if t.ID != nil {
			ids[i] = *t.ID
		}
	}
	return ids
}
