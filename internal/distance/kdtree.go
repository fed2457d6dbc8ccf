package distance

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"veriface/internal/geometry"
)

// KDTree answers exact nearest-neighbour queries over a fixed 3-d point set.
// It never mutates the points it was built from.
type KDTree struct {
	tree *kdtree.Tree
	n    int
}

// NewKDTree builds a tree over pts. Nearest reports indices into pts.
func NewKDTree(pts []geometry.Vec3) *KDTree {
	if len(pts) == 0 {
		return &KDTree{}
	}
	// kdtree.New partitions in place, so it gets its own slice.
	nodes := make(points, len(pts))
	for i, p := range pts {
		nodes[i] = point{Vec3: p, index: i}
	}
	return &KDTree{tree: kdtree.New(nodes, false), n: len(pts)}
}

// Len returns the number of indexed points.
func (t *KDTree) Len() int { return t.n }

// Nearest returns the index of the point closest to q and its distance.
// It returns -1 and +Inf for an empty tree.
func (t *KDTree) Nearest(q geometry.Vec3) (int, float64) {
	if t.tree == nil {
		return -1, math.Inf(1)
	}
	got, sq := t.tree.Nearest(point{Vec3: q, index: -1})
	p, ok := got.(point)
	if !ok {
		return -1, math.Inf(1)
	}
	return p.index, math.Sqrt(sq)
}

// point is a vertex carrying its position in the caller's slice.
type point struct {
	geometry.Vec3
	index int
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.Axis(int(d)) - c.(point).Axis(int(d))
}

func (p point) Dims() int { return 3 }

// Distance is squared, as kdtree expects.
func (p point) Distance(c kdtree.Comparable) float64 {
	d := p.Sub(c.(point).Vec3)
	return d.Dot(d)
}

type points []point

func (s points) Index(i int) kdtree.Comparable { return s[i] }
func (s points) Len() int                      { return len(s) }
func (s points) Pivot(d kdtree.Dim) int        { return plane{Dim: d, points: s}.Pivot() }
func (s points) Slice(start, end int) kdtree.Interface {
	return s[start:end]
}

// plane orders points along one axis for median partitioning.
type plane struct {
	kdtree.Dim
	points
}

func (p plane) Less(i, j int) bool {
	return p.points[i].Axis(int(p.Dim)) < p.points[j].Axis(int(p.Dim))
}

func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}

func (p plane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }
