package upsample

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// interpolationPositionSigma is the positional noise added to each
	// synthesized midpoint, in metres.
	interpolationPositionSigma = 0.02
	// interpolationSpeedSigma is the noise added to synthesized speeds, in cm/s.
	interpolationSpeedSigma = 0.1
)

// InterpolationParams configures Interpolate.
type InterpolationParams struct {
	// Factor is the target multiplier per point; Factor-1 points are
	// synthesized around each original.
	Factor int
	// K is the neighbourhood size, counting the point itself.
	K int
}

// DefaultInterpolationParams returns the parameters used by the live viewer.
func DefaultInterpolationParams() InterpolationParams {
	return InterpolationParams{Factor: 3, K: 3}
}

func (p InterpolationParams) validate() error {
	if p.Factor < 1 {
		return fmt.Errorf("%w: factor %d < 1", ErrInvalidParams, p.Factor)
	}
	if p.K < 1 {
		return fmt.Errorf("%w: k %d < 1", ErrInvalidParams, p.K)
	}
	return nil
}

// Interpolate synthesizes Factor-1 points per input point at the midpoint of
// two of its K nearest neighbours, jittered with Gaussian noise. Speeds are
// the midpoint of the two neighbour speeds plus noise. Inputs with fewer than
// K points are returned unchanged.
func Interpolate(points []r3.Vec, speeds []float64, params InterpolationParams, rng *rand.Rand) (Result, error) {
	if err := checkInputs(points, speeds, rng); err != nil {
		return Result{}, err
	}
	if err := params.validate(); err != nil {
		return Result{}, err
	}
	if len(points) == 0 || len(points) < params.K {
		return newResult(points, speeds, 0, TooFewPoints), nil
	}

	res := newResult(points, speeds, len(points)*(params.Factor-1), Upsampled)
	index := newNeighborIndex(points)
	for i := range points {
		candidates := without(index.nearest(i, params.K), i)
		for s := 0; s < params.Factor-1; s++ {
			var a, b int
			switch {
			case len(candidates) >= 2:
				a, b = pickTwo(candidates, rng)
			case len(candidates) == 1:
				a, b = candidates[0], i
			default:
				continue
			}
			p := r3.Add(midpoint(points[a], points[b]), gaussianVec(rng, interpolationPositionSigma))
			speed := (speeds[a]+speeds[b])/2 + rng.NormFloat64()*interpolationSpeedSigma
			res.add(p, speed)
		}
	}
	return res, nil
}
