package upsample

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// voronoiMinPoints is the smallest input Voronoi will process.
	voronoiMinPoints = 4
	// voronoiNeighbors is the number of nearest inputs used to interpolate Z
	// and speed at a vertex.
	voronoiNeighbors = 3
	// DefaultBoundsPadding pads the automatic bounding box on every axis.
	DefaultBoundsPadding = 0.1
	// vertexMergeTolerance merges Voronoi vertices produced by co-circular
	// points.
	vertexMergeTolerance = 1e-9
)

// Bounds is an axis-aligned box used to accept Voronoi vertices.
type Bounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// PaddedBounds returns the bounding box of points grown by pad on each side.
func PaddedBounds(points []r3.Vec, pad float64) Bounds {
	b := Bounds{
		MinX: math.Inf(1), MaxX: math.Inf(-1),
		MinY: math.Inf(1), MaxY: math.Inf(-1),
		MinZ: math.Inf(1), MaxZ: math.Inf(-1),
	}
	for _, p := range points {
		b.MinX, b.MaxX = math.Min(b.MinX, p.X), math.Max(b.MaxX, p.X)
		b.MinY, b.MaxY = math.Min(b.MinY, p.Y), math.Max(b.MaxY, p.Y)
		b.MinZ, b.MaxZ = math.Min(b.MinZ, p.Z), math.Max(b.MaxZ, p.Z)
	}
	b.MinX, b.MaxX = b.MinX-pad, b.MaxX+pad
	b.MinY, b.MaxY = b.MinY-pad, b.MaxY+pad
	b.MinZ, b.MaxZ = b.MinZ-pad, b.MaxZ+pad
	return b
}

// ContainsXY reports whether (x, y) lies inside the box, edges included.
func (b Bounds) ContainsXY(x, y float64) bool {
	return b.MinX <= x && x <= b.MaxX && b.MinY <= y && y <= b.MaxY
}

// ContainsZ reports whether z lies inside the box's Z range, edges included.
func (b Bounds) ContainsZ(z float64) bool {
	return b.MinZ <= z && z <= b.MaxZ
}

// VoronoiParams configures Voronoi.
type VoronoiParams struct {
	// Bounds limits accepted vertices. When nil the padded bounding box of
	// the input is used.
	Bounds *Bounds
	// MaxPointsToAdd caps the number of synthesized points. Candidates beyond
	// the cap are dropped uniformly at random.
	MaxPointsToAdd int
}

// DefaultVoronoiParams returns automatic bounds and a cap of 100 points.
func DefaultVoronoiParams() VoronoiParams {
	return VoronoiParams{MaxPointsToAdd: 100}
}

func (p VoronoiParams) validate() error {
	if p.MaxPointsToAdd < 0 {
		return fmt.Errorf("%w: max points to add %d < 0", ErrInvalidParams, p.MaxPointsToAdd)
	}
	if b := p.Bounds; b != nil && (b.MinX > b.MaxX || b.MinY > b.MaxY || b.MinZ > b.MaxZ) {
		return fmt.Errorf("%w: inverted bounds %+v", ErrInvalidParams, *b)
	}
	return nil
}

// Voronoi synthesizes points at the vertices of the planar Voronoi diagram of
// the inputs' XY projection. Each vertex inside the XY bounds receives the
// inverse-distance-weighted Z and speed of its three nearest inputs in the
// plane; vertices whose Z falls outside the Z bounds are discarded.
//
// Inputs with fewer than four points are returned unchanged. When no
// tessellation exists, for example because all points are collinear, the
// input is returned unchanged with outcome Fallback.
func Voronoi(points []r3.Vec, speeds []float64, params VoronoiParams, rng *rand.Rand) (Result, error) {
	if err := checkInputs(points, speeds, rng); err != nil {
		return Result{}, err
	}
	if err := params.validate(); err != nil {
		return Result{}, err
	}
	if len(points) < voronoiMinPoints {
		return newResult(points, speeds, 0, TooFewPoints), nil
	}

	bounds := PaddedBounds(points, DefaultBoundsPadding)
	if params.Bounds != nil {
		bounds = *params.Bounds
	}

	planar := make([]r2.Vec, len(points))
	for i, p := range points {
		planar[i] = r2.Vec{X: p.X, Y: p.Y}
	}
	vertices, err := voronoiVertices(planar)
	if err != nil {
		return newResult(points, speeds, 0, Fallback), nil
	}

	var (
		candidates      []r3.Vec
		candidateSpeeds []float64
	)
	for _, v := range vertices {
		if !bounds.ContainsXY(v.X, v.Y) {
			continue
		}
		nearest, dists := nearestPlanar(planar, v, voronoiNeighbors)
		zs := make([]float64, len(nearest))
		ss := make([]float64, len(nearest))
		for k, j := range nearest {
			zs[k] = points[j].Z
			ss[k] = speeds[j]
		}
		z := idwAverage(dists, zs)
		if !bounds.ContainsZ(z) {
			continue
		}
		candidates = append(candidates, r3.Vec{X: v.X, Y: v.Y, Z: z})
		candidateSpeeds = append(candidateSpeeds, idwAverage(dists, ss))
	}

	keep := len(candidates)
	if keep > params.MaxPointsToAdd {
		keep = params.MaxPointsToAdd
	}
	res := newResult(points, speeds, keep, Upsampled)
	if keep == len(candidates) {
		for k := range candidates {
			res.add(candidates[k], candidateSpeeds[k])
		}
		return res, nil
	}
	for _, k := range sampleIndices(len(candidates), keep, rng) {
		res.add(candidates[k], candidateSpeeds[k])
	}
	return res, nil
}

// voronoiVertices returns the finite vertices of the Voronoi diagram of pts,
// which are the circumcentres of their Delaunay triangles.
func voronoiVertices(pts []r2.Vec) ([]r2.Vec, error) {
	tris, err := triangulate(distinct(pts))
	if err != nil {
		return nil, err
	}
	var out []r2.Vec
	for _, t := range tris {
		if math.IsInf(t.radius2, 1) {
			continue
		}
		dup := false
		for _, v := range out {
			if r2.Norm(r2.Sub(v, t.center)) <= vertexMergeTolerance {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, t.center)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no finite vertices", errDegenerate)
	}
	return out, nil
}

func distinct(pts []r2.Vec) []r2.Vec {
	seen := make(map[r2.Vec]bool, len(pts))
	out := make([]r2.Vec, 0, len(pts))
	for _, p := range pts {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// nearestPlanar returns up to k indices of pts closest to q, nearest first,
// with their distances.
func nearestPlanar(pts []r2.Vec, q r2.Vec, k int) ([]int, []float64) {
	idx := make([]int, len(pts))
	dist := make([]float64, len(pts))
	for i, p := range pts {
		idx[i] = i
		dist[i] = r2.Norm(r2.Sub(p, q))
	}
	sort.SliceStable(idx, func(a, b int) bool { return dist[idx[a]] < dist[idx[b]] })
	if k > len(idx) {
		k = len(idx)
	}
	idx = idx[:k]
	d := make([]float64, k)
	for i, j := range idx {
		d[i] = dist[j]
	}
	return idx, d
}
