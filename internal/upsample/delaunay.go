package upsample

import (
	"fmt"
	"math"

	"github.com/fogleman/delaunay"
	"gonum.org/v1/gonum/spatial/r2"
)

type triangle struct {
	a, b, c int
	center  r2.Vec
	radius2 float64
}

func newTriangle(pts []r2.Vec, a, b, c int) triangle {
	center, ok := circumcenter(pts[a], pts[b], pts[c])
	t := triangle{a: a, b: b, c: c, center: center, radius2: math.Inf(1)}
	if ok {
		t.radius2 = r2.Norm2(r2.Sub(pts[a], center))
	}
	return t
}

// circumcenter returns the centre of the circle through a, b and c, and
// false when the points are collinear.
func circumcenter(a, b, c r2.Vec) (r2.Vec, bool) {
	d := 2 * (a.X*(b.Y-c.Y) + b.X*(c.Y-a.Y) + c.X*(a.Y-b.Y))
	if d == 0 || math.IsNaN(d) {
		return r2.Vec{}, false
	}
	a2, b2, c2 := r2.Norm2(a), r2.Norm2(b), r2.Norm2(c)
	return r2.Vec{
		X: (a2*(b.Y-c.Y) + b2*(c.Y-a.Y) + c2*(a.Y-b.Y)) / d,
		Y: (a2*(c.X-b.X) + b2*(a.X-c.X) + c2*(b.X-a.X)) / d,
	}, true
}

// triangulate returns the Delaunay triangles of pts, which must be distinct.
// Triangle corners index pts. It returns errDegenerate when fewer than three
// points are given or no triangle exists, as when all points are collinear.
func triangulate(pts []r2.Vec) ([]triangle, error) {
	if len(pts) < 3 {
		return nil, fmt.Errorf("%w: %d distinct points", errDegenerate, len(pts))
	}
	in := make([]delaunay.Point, len(pts))
	for i, p := range pts {
		in[i] = delaunay.Point{X: p.X, Y: p.Y}
	}
	tr, err := delaunay.Triangulate(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errDegenerate, err)
	}

	tris := make([]triangle, 0, len(tr.Triangles)/3)
	for i := 0; i+2 < len(tr.Triangles); i += 3 {
		tris = append(tris, newTriangle(pts, tr.Triangles[i], tr.Triangles[i+1], tr.Triangles[i+2]))
	}
	if len(tris) == 0 {
		return nil, fmt.Errorf("%w: empty triangulation", errDegenerate)
	}
	return tris, nil
}
