// Package fusion merges aligned face point sets into one surface.
//
// HeightField is the in-process fuser. It treats the merged cloud as a
// 2.5D surface seen along -z (which is how both the ID photo and the selfie
// reconstructions are posed after alignment) and resamples it onto a regular
// grid of 2^depth vertices per side. The result is a single connected,
// deterministic triangle mesh, which is what the canonical renderer needs.
// Deployments that run a Poisson reconstruction service use the HTTP fuser
// instead; both satisfy the same port.
package fusion

import (
	"context"
	"errors"
	"fmt"

	"veriface/internal/distance"
	"veriface/internal/geometry"
)

const (
	MinDepth = 1
	MaxDepth = 12

	// DefaultMaxResolution caps the grid side regardless of depth.
	DefaultMaxResolution = 512
)

var (
	ErrNoPoints       = errors.New("fusion: no points to fuse")
	ErrInvalidDepth   = errors.New("fusion: depth out of range")
	ErrDegenerateBBox = errors.New("fusion: point cloud has no xy extent")
)

// HeightField resamples merged points onto a regular xy grid.
type HeightField struct {
	maxResolution int
}

// Option configures a HeightField.
type Option func(*HeightField)

// WithMaxResolution overrides the per-side vertex cap.
func WithMaxResolution(n int) Option {
	return func(h *HeightField) {
		if n >= 2 {
			h.maxResolution = n
		}
	}
}

// NewHeightField returns a fuser with the default resolution cap.
func NewHeightField(opts ...Option) *HeightField {
	h := &HeightField{maxResolution: DefaultMaxResolution}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Fuse merges sets (already in a common frame) into one grid mesh.
func (h *HeightField) Fuse(ctx context.Context, sets [][]geometry.Vec3, depth int) (*geometry.Mesh, error) {
	if depth < MinDepth || depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}
	var total int
	for _, s := range sets {
		total += len(s)
	}
	if total == 0 {
		return nil, ErrNoPoints
	}

	merged := make([]geometry.Vec3, 0, total)
	for _, s := range sets {
		merged = append(merged, s...)
	}
	lo, hi := geometry.Bounds(merged)
	if hi.X-lo.X <= 0 || hi.Y-lo.Y <= 0 {
		return nil, ErrDegenerateBBox
	}

	// Nearest neighbour in the xy plane picks the height for each sample.
	planar := make([]geometry.Vec3, len(merged))
	for i, p := range merged {
		planar[i] = geometry.Vec3{X: p.X, Y: p.Y}
	}
	tree := distance.NewKDTree(planar)

	n := 1 << depth
	if n > h.maxResolution {
		n = h.maxResolution
	}
	if n < 2 {
		n = 2
	}
	step := geometry.Vec3{
		X: (hi.X - lo.X) / float64(n-1),
		Y: (hi.Y - lo.Y) / float64(n-1),
	}

	mesh := &geometry.Mesh{
		Vertices: make([]geometry.Vec3, 0, n*n),
		UV:       make([]geometry.Vec2, 0, n*n),
		Faces:    make([]geometry.Triangle, 0, 2*(n-1)*(n-1)),
		Source:   geometry.SourceFused,
	}
	for j := 0; j < n; j++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		y := lo.Y + float64(j)*step.Y
		for i := 0; i < n; i++ {
			x := lo.X + float64(i)*step.X
			idx, _ := tree.Nearest(geometry.Vec3{X: x, Y: y})
			mesh.Vertices = append(mesh.Vertices, geometry.Vec3{X: x, Y: y, Z: merged[idx].Z})
			mesh.UV = append(mesh.UV, geometry.Vec2{
				U: float64(i) / float64(n-1),
				V: float64(j) / float64(n-1),
			})
		}
	}
	for j := 0; j < n-1; j++ {
		for i := 0; i < n-1; i++ {
			a := j*n + i
			b := a + 1
			c := a + n
			d := c + 1
			mesh.Faces = append(mesh.Faces, geometry.Triangle{a, b, c}, geometry.Triangle{b, d, c})
		}
	}
	return mesh, nil
}
