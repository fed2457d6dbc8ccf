// Package render produces the canonical view of a fused mesh that the
// embedding model consumes.
//
// The view is an orthographic depth map looking down -z: the mesh is centred
// and uniformly scaled into a square frame, triangles are rasterised with a
// z-buffer, and each covered pixel stores the normalised height (1..255,
// nearer is brighter). Background pixels are 0. The same mesh always yields
// the same pixels.
package render

import (
	"errors"
	"image"
	"image/color"
	"math"

	"veriface/internal/geometry"
)

// DefaultSize is the side of the canonical image in pixels.
const DefaultSize = 112

// ErrEmptyMesh is returned when there is nothing to draw.
var ErrEmptyMesh = errors.New("render: empty mesh")

// Canonical renders m at DefaultSize.
func Canonical(m *geometry.Mesh) (*image.Gray, error) {
	return Depth(m, DefaultSize)
}

// Depth renders m into a size x size grayscale depth map.
func Depth(m *geometry.Mesh, size int) (*image.Gray, error) {
	if m == nil || len(m.Vertices) == 0 {
		return nil, ErrEmptyMesh
	}
	if size < 8 {
		size = 8
	}
	lo, hi := geometry.Bounds(m.Vertices)
	extent := math.Max(hi.X-lo.X, hi.Y-lo.Y)
	if extent <= 0 {
		extent = 1
	}
	margin := 0.05 * float64(size)
	scale := (float64(size) - 2*margin) / extent
	cx, cy := (lo.X+hi.X)/2, (lo.Y+hi.Y)/2
	zRange := hi.Z - lo.Z

	proj := make([]pxPoint, len(m.Vertices))
	for i, v := range m.Vertices {
		proj[i] = pxPoint{
			x: float64(size)/2 + (v.X-cx)*scale,
			y: float64(size)/2 - (v.Y-cy)*scale, // image rows grow downward
			z: v.Z,
		}
	}

	zbuf := make([]float64, size*size)
	for i := range zbuf {
		zbuf[i] = math.Inf(-1)
	}
	if len(m.Faces) == 0 {
		for _, p := range proj {
			plot(zbuf, size, int(math.Floor(p.x)), int(math.Floor(p.y)), p.z)
		}
	} else {
		for _, f := range m.Faces {
			rasterize(zbuf, size, proj[f[0]], proj[f[1]], proj[f[2]])
		}
	}

	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			z := zbuf[y*size+x]
			if math.IsInf(z, -1) {
				continue
			}
			shade := uint8(255)
			if zRange > 0 {
				shade = uint8(1 + math.Round(254*(z-lo.Z)/zRange))
			}
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}
	return img, nil
}

type pxPoint struct {
	x, y, z float64
}

func plot(zbuf []float64, size, x, y int, z float64) {
	if x < 0 || y < 0 || x >= size || y >= size {
		return
	}
	if i := y*size + x; z > zbuf[i] {
		zbuf[i] = z
	}
}

// rasterize fills the triangle abc, sampling pixel centres with barycentric
// weights and keeping the highest z per pixel.
func rasterize(zbuf []float64, size int, a, b, c pxPoint) {
	area := edge(a, b, c.x, c.y)
	if area == 0 {
		plot(zbuf, size, int(math.Floor(a.x)), int(math.Floor(a.y)), a.z)
		return
	}
	minX := clamp(int(math.Floor(math.Min(a.x, math.Min(b.x, c.x)))), 0, size-1)
	maxX := clamp(int(math.Ceil(math.Max(a.x, math.Max(b.x, c.x)))), 0, size-1)
	minY := clamp(int(math.Floor(math.Min(a.y, math.Min(b.y, c.y)))), 0, size-1)
	maxY := clamp(int(math.Ceil(math.Max(a.y, math.Max(b.y, c.y)))), 0, size-1)

	for y := minY; y <= maxY; y++ {
		py := float64(y) + 0.5
		for x := minX; x <= maxX; x++ {
			px := float64(x) + 0.5
			w0 := edge(b, c, px, py) / area
			w1 := edge(c, a, px, py) / area
			w2 := edge(a, b, px, py) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			plot(zbuf, size, x, y, w0*a.z+w1*b.z+w2*c.z)
		}
	}
}

func edge(a, b pxPoint, x, y float64) float64 {
	return (b.x-a.x)*(y-a.y) - (b.y-a.y)*(x-a.x)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
