package upsample

import (
	"slices"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// indexedPoint is a point that remembers its position in the input slice so
// kd-tree results can be mapped back to speeds.
type indexedPoint struct {
	r3.Vec
	index int
}

// Compare implements kdtree.Comparable.
func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("upsample: illegal dimension")
	}
}

// Dims implements kdtree.Comparable.
func (p indexedPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance, as kdtree expects.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	return r3.Norm2(r3.Sub(p.Vec, c.(indexedPoint).Vec))
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(plane{indexedPoints: p, Dim: d}, kdtree.MedianOfRandoms(plane{indexedPoints: p, Dim: d}, 100))
}

// plane sorts points along one dimension for kd-tree construction.
type plane struct {
	indexedPoints
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.indexedPoints[i].X < p.indexedPoints[j].X
	case 1:
		return p.indexedPoints[i].Y < p.indexedPoints[j].Y
	case 2:
		return p.indexedPoints[i].Z < p.indexedPoints[j].Z
	default:
		panic("upsample: illegal dimension")
	}
}

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{indexedPoints: p.indexedPoints[start:end], Dim: p.Dim}
}

func (p plane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}

// neighborIndex answers nearest-neighbour queries over a fixed point set.
type neighborIndex struct {
	points []r3.Vec
	tree   *kdtree.Tree
}

func newNeighborIndex(points []r3.Vec) *neighborIndex {
	ip := make(indexedPoints, len(points))
	for i, p := range points {
		ip[i] = indexedPoint{Vec: p, index: i}
	}
	return &neighborIndex{points: points, tree: kdtree.New(ip, false)}
}

// nearest returns the indices of the k points closest to points[i], which
// normally includes i itself. Indices are returned in ascending order.
func (n *neighborIndex) nearest(i, k int) []int {
	keep := kdtree.NewNKeeper(k)
	n.tree.NearestSet(keep, indexedPoint{Vec: n.points[i], index: i})
	return collect(keep.Heap)
}

// within returns the indices of points strictly closer than radius to
// points[i], excluding i, with their distances.
func (n *neighborIndex) within(i int, radius float64) ([]int, []float64) {
	keep := kdtree.NewDistKeeper(radius * radius)
	n.tree.NearestSet(keep, indexedPoint{Vec: n.points[i], index: i})
	var (
		idx   []int
		dists []float64
	)
	for _, j := range collect(keep.Heap) {
		if j == i {
			continue
		}
		if d := r3.Norm(r3.Sub(n.points[j], n.points[i])); d < radius {
			idx = append(idx, j)
			dists = append(dists, d)
		}
	}
	return idx, dists
}

// collect drops the keeper sentinel and returns sorted indices.
func collect(h kdtree.Heap) []int {
	out := make([]int, 0, len(h))
	for _, cd := range h {
		if cd.Comparable == nil {
			continue
		}
		out = append(out, cd.Comparable.(indexedPoint).index)
	}
	slices.Sort(out)
	return out
}

func without(idx []int, i int) []int {
	out := make([]int, 0, len(idx))
	for _, j := range idx {
		if j != i {
			out = append(out, j)
		}
	}
	return out
}
