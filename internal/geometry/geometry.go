// Package geometry holds the point, mesh and rigid-transform primitives shared
// by the reconstruction, alignment, fusion and rendering stages.
//
// All coordinates are in the reconstructor's metric units. Nothing in this
// package converts units.
package geometry

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// Source identifies which capture an artifact was derived from.
type Source string

const (
	SourceID     Source = "id"
	SourceSelfie Source = "selfie"
	SourceFused  Source = "fused"
)

// Vec3 is a point or direction in mesh space.
type Vec3 struct {
	X, Y, Z float64
}

// Vec2 is a texture coordinate.
type Vec2 struct {
	U, V float64
}

// Triangle holds three 0-based indices into a vertex slice.
type Triangle [3]int

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Norm() float64      { return math.Sqrt(v.Dot(v)) }

// Dist returns the euclidean distance between v and o.
func (v Vec3) Dist(o Vec3) float64 { return v.Sub(o).Norm() }

// Axis returns the coordinate along axis 0 (x), 1 (y) or 2 (z).
func (v Vec3) Axis(i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// FaceCrop is a rectangular face region cut from one of the two captures.
// It is never mutated after creation.
type FaceCrop struct {
	Image  []byte
	Source Source
	Bounds image.Rectangle
}

var (
	ErrEmptyMesh         = errors.New("mesh has no vertices")
	ErrFaceIndex         = errors.New("face index out of range")
	ErrNonFiniteVertex   = errors.New("mesh has non-finite vertex")
	ErrUVCountMismatch   = errors.New("uv count does not match vertex count")
	ErrTransformNotRigid = errors.New("transform is not rigid")
)

// Mesh is a triangulated surface with optional per-vertex texture coordinates.
type Mesh struct {
	Vertices []Vec3
	Faces    []Triangle
	UV       []Vec2
	Source   Source
}

// Validate checks the structural invariants a reconstructor or fuser must
// guarantee: at least one vertex, finite coordinates, face indices in range,
// and either no UVs or one UV per vertex.
func (m *Mesh) Validate() error {
	if m == nil || len(m.Vertices) == 0 {
		return ErrEmptyMesh
	}
	for i, v := range m.Vertices {
		if !finite(v.X) || !finite(v.Y) || !finite(v.Z) {
			return fmt.Errorf("%w at %d", ErrNonFiniteVertex, i)
		}
	}
	n := len(m.Vertices)
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= n {
				return fmt.Errorf("%w: face %d references %d of %d vertices", ErrFaceIndex, i, idx, n)
			}
		}
	}
	if len(m.UV) != 0 && len(m.UV) != n {
		return fmt.Errorf("%w: %d uv for %d vertices", ErrUVCountMismatch, len(m.UV), n)
	}
	return nil
}

// Clone returns a deep copy so a stage can hand a mesh off without sharing
// backing arrays with the producer.
func (m *Mesh) Clone() *Mesh {
	if m == nil {
		return nil
	}
	return &Mesh{
		Vertices: append([]Vec3(nil), m.Vertices...),
		Faces:    append([]Triangle(nil), m.Faces...),
		UV:       append([]Vec2(nil), m.UV...),
		Source:   m.Source,
	}
}

// Bounds returns the axis-aligned bounding box of pts.
func Bounds(pts []Vec3) (min, max Vec3) {
	if len(pts) == 0 {
		return Vec3{}, Vec3{}
	}
	min, max = pts[0], pts[0]
	for _, p := range pts[1:] {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		min.Z = math.Min(min.Z, p.Z)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
		max.Z = math.Max(max.Z, p.Z)
	}
	return min, max
}

// Centroid returns the mean of pts, or the zero vector for an empty slice.
func Centroid(pts []Vec3) Vec3 {
	if len(pts) == 0 {
		return Vec3{}
	}
	var c Vec3
	for _, p := range pts {
		c = c.Add(p)
	}
	return c.Scale(1 / float64(len(pts)))
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
