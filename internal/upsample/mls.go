package upsample

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

const (
	// mlsFallbackSigma is the positional noise used when no local plane can
	// be fitted and a neighbour midpoint is used instead.
	mlsFallbackSigma = 0.01
	// mlsFlatness is the relative size below which the middle eigenvalue of
	// a neighbourhood covariance is treated as zero. A neighbourhood whose two
	// smallest eigenvalues vanish is a line and has no unique normal.
	mlsFlatness = 1e-9
	// mlsMinPoints is the smallest input MovingLeastSquares will process.
	mlsMinPoints = 3
)

// MLSParams configures MovingLeastSquares.
type MLSParams struct {
	// Factor is the target multiplier per point.
	Factor int
	// Radius is the neighbourhood search radius in metres. New points are
	// placed within Radius/2 of their origin.
	Radius float64
}

// DefaultMLSParams returns the parameters used by the live viewer.
func DefaultMLSParams() MLSParams {
	return MLSParams{Factor: 3, Radius: 0.15}
}

func (p MLSParams) validate() error {
	if p.Factor < 1 {
		return fmt.Errorf("%w: factor %d < 1", ErrInvalidParams, p.Factor)
	}
	if !(p.Radius > 0) || math.IsInf(p.Radius, 1) {
		return fmt.Errorf("%w: radius %v must be positive and finite", ErrInvalidParams, p.Radius)
	}
	return nil
}

// MovingLeastSquares synthesizes points on the local tangent plane of each
// input point. The plane normal is the eigenvector of the smallest eigenvalue
// of the covariance of the neighbours within Radius. New points are offset
// from their origin by a random in-plane vector no longer than Radius/2 and
// take the inverse-distance-weighted speed of the neighbours.
//
// Points with fewer than two neighbours are skipped. When the covariance
// cannot be decomposed, or the neighbourhood is a line, the point falls back
// to jittered midpoints of random neighbour pairs and the result outcome is
// Fallback. Inputs with fewer than three points are returned unchanged.
func MovingLeastSquares(points []r3.Vec, speeds []float64, params MLSParams, rng *rand.Rand) (Result, error) {
	if err := checkInputs(points, speeds, rng); err != nil {
		return Result{}, err
	}
	if err := params.validate(); err != nil {
		return Result{}, err
	}
	if len(points) < mlsMinPoints {
		return newResult(points, speeds, 0, TooFewPoints), nil
	}

	res := newResult(points, speeds, len(points)*(params.Factor-1), Upsampled)
	index := newNeighborIndex(points)
	for i, p := range points {
		neighbors, dists := index.within(i, params.Radius)
		if len(neighbors) < 2 {
			continue
		}

		neighborSpeeds := make([]float64, len(neighbors))
		for k, j := range neighbors {
			neighborSpeeds[k] = speeds[j]
		}

		normal, err := localNormal(points, neighbors)
		if err != nil {
			res.Fallbacks++
			for s := 0; s < params.Factor-1; s++ {
				a, b := pickTwo(neighbors, rng)
				q := r3.Add(midpoint(points[a], points[b]), gaussianVec(rng, mlsFallbackSigma))
				res.add(q, (speeds[a]+speeds[b])/2)
			}
			continue
		}

		v1, v2 := tangentBasis(normal)
		speed := idwAverage(dists, neighborSpeeds)
		for s := 0; s < params.Factor-1; s++ {
			theta := rng.Float64() * 2 * math.Pi
			r := rng.Float64() * params.Radius * 0.5
			offset := r3.Scale(r, r3.Add(r3.Scale(math.Cos(theta), v1), r3.Scale(math.Sin(theta), v2)))
			res.add(r3.Add(p, offset), speed)
		}
	}
	if res.Fallbacks > 0 {
		res.Outcome = Fallback
	}
	return res, nil
}

// localNormal fits a plane to the given neighbours and returns its unit
// normal. It returns errDegenerate when the plane is not determined.
func localNormal(points []r3.Vec, neighbors []int) (r3.Vec, error) {
	data := mat.NewDense(len(neighbors), 3, nil)
	for row, j := range neighbors {
		data.SetRow(row, []float64{points[j].X, points[j].Y, points[j].Z})
	}
	cov := mat.NewSymDense(3, nil)
	stat.CovarianceMatrix(cov, data, nil)

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return r3.Vec{}, fmt.Errorf("%w: eigen decomposition failed", errDegenerate)
	}
	values := eig.Values(nil)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return r3.Vec{}, fmt.Errorf("%w: non-finite eigenvalue", errDegenerate)
		}
	}
	// Values are ascending.
	if values[2] <= 0 || values[1] <= mlsFlatness*values[2] {
		return r3.Vec{}, fmt.Errorf("%w: neighbourhood has no unique normal", errDegenerate)
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	n := r3.Vec{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	return r3.Unit(n), nil
}

// tangentBasis returns two orthonormal vectors perpendicular to normal.
func tangentBasis(normal r3.Vec) (r3.Vec, r3.Vec) {
	var v1 r3.Vec
	if math.Abs(normal.X) > math.Abs(normal.Y) {
		v1 = r3.Vec{X: normal.Z, Y: 0, Z: -normal.X}
	} else {
		v1 = r3.Vec{X: 0, Y: normal.Z, Z: -normal.Y}
	}
	v1 = r3.Scale(1/(r3.Norm(v1)+idwEpsilon), v1)
	return v1, r3.Cross(normal, v1)
}
