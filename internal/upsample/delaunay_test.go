package upsample

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

func TestTriangulateSingleTriangle(t *testing.T) {
	pts := []r2.Vec{{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 0, Y: 2}}

	tris, err := triangulate(pts)
	require.NoError(t, err)
	require.Len(t, tris, 1)
	assert.InDelta(t, 1, tris[0].center.X, 1e-12)
	assert.InDelta(t, 1, tris[0].center.Y, 1e-12)
	assert.InDelta(t, 2, tris[0].radius2, 1e-12)
}

func TestDelaunayEmptyCircumcircles(t *testing.T) {
	rng := newRand(40)
	pts := make([]r2.Vec, 40)
	for i := range pts {
		pts[i] = r2.Vec{X: rng.Float64(), Y: rng.Float64()}
	}

	tris, err := triangulate(pts)
	require.NoError(t, err)
	require.NotEmpty(t, tris)
	for _, tri := range tris {
		for i, p := range pts {
			if i == tri.a || i == tri.b || i == tri.c {
				continue
			}
			d2 := r2.Norm2(r2.Sub(p, tri.center))
			assert.GreaterOrEqual(t, d2, tri.radius2*(1-1e-9), "point %d inside circumcircle of %v", i, tri)
		}
	}
}

// hullSize counts the vertices of the convex hull of pts (monotone chain,
// collinear boundary points excluded).
func hullSize(pts []r2.Vec) int {
	sorted := append([]r2.Vec(nil), pts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})
	turn := func(o, a, b r2.Vec) float64 { return r2.Cross(r2.Sub(a, o), r2.Sub(b, o)) }
	hull := make([]r2.Vec, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return len(hull) - 1
}

func TestTriangulateCoversHull(t *testing.T) {
	// narrow clouds shaped like a radar field of view
	for seed := uint64(0); seed < 200; seed++ {
		rng := newRand(seed)
		n := 4 + rng.IntN(20)
		pts := make([]r2.Vec, n)
		for i := range pts {
			pts[i] = r2.Vec{X: 0.3 * rng.Float64(), Y: 0.5 + 2*rng.Float64()}
		}

		tris, err := triangulate(pts)
		require.NoError(t, err, "seed %d", seed)
		want := 2*n - 2 - hullSize(pts)
		assert.Len(t, tris, want, "seed %d: %d points", seed, n)
	}
}

func TestTriangulateDegenerate(t *testing.T) {
	tests := []struct {
		name string
		pts  []r2.Vec
	}{
		{"too few", []r2.Vec{{X: 0}, {X: 1}}},
		{"collinear", []r2.Vec{{X: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: -4, Y: -4}}},
		{"single location", []r2.Vec{{X: 1}, {X: 1}, {X: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := triangulate(distinct(tt.pts))
			assert.ErrorIs(t, err, errDegenerate)
		})
	}
}

func TestCircumcenterCollinear(t *testing.T) {
	_, ok := circumcenter(r2.Vec{X: 0}, r2.Vec{X: 1}, r2.Vec{X: 2})
	assert.False(t, ok)
}

func TestVoronoiVerticesMergesCocircular(t *testing.T) {
	// both triangles of a square share one circumcentre; the repeated
	// corner is ignored
	square := []r2.Vec{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}, {X: 0, Y: 0}}
	vs, err := voronoiVertices(square)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.InDelta(t, 0.5, vs[0].X, 1e-9)
	assert.InDelta(t, 0.5, vs[0].Y, 1e-9)
}
