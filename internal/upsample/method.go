package upsample

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Method names an upsampling strategy.
type Method string

const (
	MethodNone          Method = "none"
	MethodInterpolation Method = "interpolation"
	MethodMLS           Method = "mls"
	MethodVoronoi       Method = "voronoi"
)

// Methods lists the accepted method names.
var Methods = []Method{MethodNone, MethodInterpolation, MethodMLS, MethodVoronoi}

// ParseMethod converts a case-insensitive name into a Method.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown upsampling method %q: expected one of %v", s, Methods)
}

// Upsampler applies the selected strategy to successive frames. It is not
// safe for concurrent use because it shares one random generator.
type Upsampler struct {
	Method        Method
	Interpolation InterpolationParams
	MLS           MLSParams
	// VoronoiBounds overrides the automatic bounds when set.
	VoronoiBounds *Bounds
	// VoronoiPadding grows the automatic bounds on each side.
	VoronoiPadding float64
	// VoronoiMaxRatio caps Voronoi additions at this many points per input
	// point.
	VoronoiMaxRatio int

	rng *rand.Rand
}

// NewUpsampler returns an Upsampler with the live viewer defaults.
func NewUpsampler(method Method, rng *rand.Rand) *Upsampler {
	return &Upsampler{
		Method:          method,
		Interpolation:   DefaultInterpolationParams(),
		MLS:             DefaultMLSParams(),
		VoronoiMaxRatio: 2,
		VoronoiPadding:  DefaultBoundsPadding,
		rng:             rng,
	}
}

// Apply upsamples one frame's points. Unknown methods use interpolation.
func (u *Upsampler) Apply(points []r3.Vec, speeds []float64) (Result, error) {
	switch u.Method {
	case MethodNone:
		if err := checkInputs(points, speeds, u.rng); err != nil {
			return Result{}, err
		}
		return newResult(points, speeds, 0, Disabled), nil
	case MethodMLS:
		return MovingLeastSquares(points, speeds, u.MLS, u.rng)
	case MethodVoronoi:
		bounds := u.VoronoiBounds
		if bounds == nil && len(points) >= voronoiMinPoints {
			b := PaddedBounds(points, u.VoronoiPadding)
			bounds = &b
		}
		return Voronoi(points, speeds, VoronoiParams{
			Bounds:         bounds,
			MaxPointsToAdd: len(points) * u.VoronoiMaxRatio,
		}, u.rng)
	default:
		return Interpolate(points, speeds, u.Interpolation, u.rng)
	}
}
