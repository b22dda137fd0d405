// Package upsample synthesizes additional points for sparse radar point
// clouds so that rendered frames look denser.
//
// Three interchangeable strategies are provided: neighbour interpolation
// (Interpolate), local-plane sampling (MovingLeastSquares) and Voronoi vertex
// interpolation (Voronoi). Every strategy returns the original points and
// speeds, unchanged and in order, at the front of its Result, followed by the
// synthesized points. Randomness comes from the generator passed by the
// caller so runs can be reproduced by seeding it.
package upsample

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidParams is returned when a strategy is called with arguments that
// can never produce a result, such as mismatched point and speed counts.
var ErrInvalidParams = errors.New("invalid upsampling parameters")

// errDegenerate reports a point configuration that a numeric step cannot
// handle. Strategies never return it; it marks fallback paths internally.
var errDegenerate = errors.New("degenerate point configuration")

// idwEpsilon keeps inverse distance weights finite for coincident points.
const idwEpsilon = 1e-10

// Outcome records which path a strategy took.
type Outcome int

const (
	// Upsampled means the strategy ran its primary algorithm.
	Upsampled Outcome = iota
	// Fallback means at least part of the result came from a simpler
	// heuristic, or the input was returned unchanged, after a numeric failure.
	Fallback
	// TooFewPoints means the input was below the strategy minimum and was
	// returned unchanged.
	TooFewPoints
	// Disabled means no strategy was selected.
	Disabled
)

func (o Outcome) String() string {
	switch o {
	case Upsampled:
		return "upsampled"
	case Fallback:
		return "fallback"
	case TooFewPoints:
		return "too_few_points"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MarshalText lets outcomes appear by name in JSON stats.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Result is an upsampled point set. Points[:Original] and Speeds[:Original]
// are copies of the inputs.
type Result struct {
	Points   []r3.Vec
	Speeds   []float64
	Outcome  Outcome
	Original int
	// Fallbacks counts neighbourhoods that used the fallback heuristic.
	Fallbacks int
}

// Added returns the number of synthesized points.
func (r Result) Added() int {
	return len(r.Points) - r.Original
}

// Synthesized returns only the points and speeds added by the strategy.
func (r Result) Synthesized() ([]r3.Vec, []float64) {
	return r.Points[r.Original:], r.Speeds[r.Original:]
}

func checkInputs(points []r3.Vec, speeds []float64, rng *rand.Rand) error {
	if len(points) != len(speeds) {
		return fmt.Errorf("%w: %d points but %d speeds", ErrInvalidParams, len(points), len(speeds))
	}
	if rng == nil {
		return fmt.Errorf("%w: nil random generator", ErrInvalidParams)
	}
	return nil
}

// newResult copies the inputs into a Result with room for extra points.
func newResult(points []r3.Vec, speeds []float64, extra int, outcome Outcome) Result {
	if extra < 0 {
		extra = 0
	}
	res := Result{
		Points:   make([]r3.Vec, len(points), len(points)+extra),
		Speeds:   make([]float64, len(speeds), len(speeds)+extra),
		Outcome:  outcome,
		Original: len(points),
	}
	copy(res.Points, points)
	copy(res.Speeds, speeds)
	return res
}

func (r *Result) add(p r3.Vec, speed float64) {
	r.Points = append(r.Points, p)
	r.Speeds = append(r.Speeds, speed)
}

// idwAverage returns the inverse-distance-weighted mean of values.
func idwAverage(dists, values []float64) float64 {
	w := make([]float64, len(dists))
	for i, d := range dists {
		w[i] = 1 / (d + idwEpsilon)
	}
	floats.Scale(1/floats.Sum(w), w)
	return floats.Dot(w, values)
}

func midpoint(a, b r3.Vec) r3.Vec {
	return r3.Scale(0.5, r3.Add(a, b))
}

func gaussianVec(rng *rand.Rand, sigma float64) r3.Vec {
	return r3.Vec{
		X: rng.NormFloat64() * sigma,
		Y: rng.NormFloat64() * sigma,
		Z: rng.NormFloat64() * sigma,
	}
}

// pickTwo draws two distinct entries of candidates.
func pickTwo(candidates []int, rng *rand.Rand) (int, int) {
	i := rng.IntN(len(candidates))
	j := rng.IntN(len(candidates) - 1)
	if j >= i {
		j++
	}
	return candidates[i], candidates[j]
}

// sampleIndices returns k distinct indices from [0, n) in ascending order.
func sampleIndices(n, k int, rng *rand.Rand) []int {
	perm := rng.Perm(n)[:k]
	idx := make([]int, k)
	copy(idx, perm)
	slices.Sort(idx)
	return idx
}
