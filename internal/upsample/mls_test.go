package upsample

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// tiltedGrid returns an n x n grid with the given spacing on the plane
// z = 1 + 0.3x - 0.2y, together with the plane's unit normal.
func tiltedGrid(n int, spacing float64) ([]r3.Vec, r3.Vec) {
	var points []r3.Vec
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x, y := float64(i)*spacing, float64(j)*spacing
			points = append(points, r3.Vec{X: x, Y: y, Z: 1 + 0.3*x - 0.2*y})
		}
	}
	return points, r3.Unit(r3.Vec{X: -0.3, Y: 0.2, Z: 1})
}

func TestMLSPlanarInputStaysInPlane(t *testing.T) {
	const factor = 4
	params := MLSParams{Factor: factor, Radius: 0.12}
	points, normal := tiltedGrid(6, 0.05)
	speeds := make([]float64, len(points))
	for i := range speeds {
		speeds[i] = 2.5
	}

	res, err := MovingLeastSquares(points, speeds, params, newRand(20))
	require.NoError(t, err)
	require.Equal(t, Upsampled, res.Outcome)
	require.Zero(t, res.Fallbacks)
	require.Equal(t, len(points)*(factor-1), res.Added())

	synth, synthSpeeds := res.Synthesized()
	for k, q := range synth {
		origin := points[k/(factor-1)]
		offset := r3.Sub(q, origin)
		assert.InDelta(t, 0, r3.Dot(offset, normal), 1e-9, "sample %d leaves the plane", k)
		assert.LessOrEqual(t, r3.Norm(offset), params.Radius/2+1e-12, "sample %d", k)
		assert.InDelta(t, 2.5, synthSpeeds[k], 1e-9)
	}
}

func TestMLSSpeedIsInverseDistanceWeighted(t *testing.T) {
	// the origin has three neighbours at distances 0.05, 0.1 and 0.08
	points := []r3.Vec{{X: 0}, {X: 0.05}, {Y: 0.1}, {Z: 0.08}, {X: 5}, {X: 5.01}, {Y: 5}}
	speeds := []float64{0, 1, 4, 2, 0, 0, 0}

	res, err := MovingLeastSquares(points, speeds, MLSParams{Factor: 2, Radius: 0.12}, newRand(21))
	require.NoError(t, err)

	_, synthSpeeds := res.Synthesized()
	require.NotEmpty(t, synthSpeeds)
	w1, w2, w3 := 1/(0.05+idwEpsilon), 1/(0.1+idwEpsilon), 1/(0.08+idwEpsilon)
	assert.InDelta(t, (w1*1+w2*4+w3*2)/(w1+w2+w3), synthSpeeds[0], 1e-9)
}

func TestMLSCollinearNeighbourhoodFallsBack(t *testing.T) {
	const factor = 3
	var points []r3.Vec
	var speeds []float64
	for i := 0; i < 6; i++ {
		points = append(points, r3.Vec{X: float64(i) * 0.05, Y: 1})
		speeds = append(speeds, float64(i))
	}

	res, err := MovingLeastSquares(points, speeds, MLSParams{Factor: factor, Radius: 0.15}, newRand(22))
	require.NoError(t, err)
	assert.Equal(t, Fallback, res.Outcome)
	assert.Equal(t, len(points), res.Fallbacks)
	assert.Equal(t, len(points)*(factor-1), res.Added())

	synth, _ := res.Synthesized()
	for k, q := range synth {
		assert.InDelta(t, 1, q.Y, 5*mlsFallbackSigma, "sample %d", k)
		assert.GreaterOrEqual(t, q.X, -5*mlsFallbackSigma)
		assert.LessOrEqual(t, q.X, 0.25+5*mlsFallbackSigma)
	}
}

func TestMLSSparsePointsAreSkipped(t *testing.T) {
	points := []r3.Vec{{X: 0}, {X: 1}, {X: 2}, {X: 3}}
	speeds := []float64{1, 2, 3, 4}

	res, err := MovingLeastSquares(points, speeds, MLSParams{Factor: 5, Radius: 0.5}, newRand(23))
	require.NoError(t, err)
	assert.Equal(t, Upsampled, res.Outcome)
	assert.Equal(t, 0, res.Added())
}

func TestLocalNormal(t *testing.T) {
	points := []r3.Vec{{X: 0, Y: 0, Z: 2}, {X: 1, Y: 0, Z: 2}, {X: 0, Y: 1, Z: 2}, {X: 1, Y: 1, Z: 2}}
	n, err := localNormal(points, []int{0, 1, 2, 3})
	require.NoError(t, err)
	assert.InDelta(t, 1, math.Abs(n.Z), 1e-12)

	_, err = localNormal(points, []int{0, 1})
	assert.True(t, errors.Is(err, errDegenerate))

	same := []r3.Vec{{X: 1}, {X: 1}, {X: 1}}
	_, err = localNormal(same, []int{0, 1, 2})
	assert.True(t, errors.Is(err, errDegenerate))
}

func TestTangentBasisIsOrthonormal(t *testing.T) {
	for _, n := range []r3.Vec{
		{Z: 1}, {X: 1}, {Y: 1}, {X: -1},
		r3.Unit(r3.Vec{X: 1, Y: 2, Z: 3}),
		r3.Unit(r3.Vec{X: -0.7, Y: 0.1, Z: -0.2}),
	} {
		v1, v2 := tangentBasis(n)
		assert.InDelta(t, 1, r3.Norm(v1), 1e-9, "%v", n)
		assert.InDelta(t, 1, r3.Norm(v2), 1e-9, "%v", n)
		assert.InDelta(t, 0, r3.Dot(v1, n), 1e-12, "%v", n)
		assert.InDelta(t, 0, r3.Dot(v2, n), 1e-12, "%v", n)
		assert.InDelta(t, 0, r3.Dot(v1, v2), 1e-12, "%v", n)
	}
}

func TestMLSInvalidParams(t *testing.T) {
	points, speeds := randomCloud(newRand(24), 5)
	for _, p := range []MLSParams{{Factor: 0, Radius: 1}, {Factor: 2, Radius: 0}, {Factor: 2, Radius: math.NaN()}, {Factor: 2, Radius: math.Inf(1)}} {
		_, err := MovingLeastSquares(points, speeds, p, newRand(24))
		assert.True(t, errors.Is(err, ErrInvalidParams), "%+v: %v", p, err)
	}
}
