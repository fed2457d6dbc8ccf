package verification

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"

	"veriface/internal/geometry"
	"veriface/internal/verification/ports"
)

// faceGrid is a smooth synthetic face: a gaussian bump sampled on an n x n
// grid over [-1, 1]^2, triangulated two triangles per cell.
func faceGrid(n int) *geometry.Mesh { return faceGridWH(n, n) }

// faceGridWH samples the same face on a w x h grid.
func faceGridWH(w, h int) *geometry.Mesh {
	m := &geometry.Mesh{}
	for j := range h {
		for i := range w {
			x := -1 + 2*float64(i)/float64(w-1)
			y := -1 + 2*float64(j)/float64(h-1)
			m.Vertices = append(m.Vertices, geometry.Vec3{X: x, Y: y, Z: 0.5 * math.Exp(-(x*x + y*y))})
		}
	}
	for j := range h - 1 {
		for i := range w - 1 {
			a := j*w + i
			m.Faces = append(m.Faces,
				geometry.Triangle{a, a + 1, a + w},
				geometry.Triangle{a + 1, a + w + 1, a + w},
			)
		}
	}
	return m
}

func translated(m *geometry.Mesh, by geometry.Vec3) *geometry.Mesh {
	out := m.Clone()
	for i := range out.Vertices {
		out.Vertices[i] = out.Vertices[i].Add(by)
	}
	return out
}

// fakeReader returns fixed fields and records the image buffer it saw.
type fakeReader struct {
	fields map[string]string
	err    error
	// block makes ReadFields wait for ctx; started is closed on entry.
	block   bool
	started chan struct{}
	panics  bool

	mu   sync.Mutex
	seen []byte
}

func (f *fakeReader) ReadFields(ctx context.Context, img []byte) (map[string]string, error) {
	f.mu.Lock()
	f.seen = img
	f.mu.Unlock()
	if f.panics {
		panic("reader exploded")
	}
	if f.block {
		if f.started != nil {
			close(f.started)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.fields, nil
}

func (f *fakeReader) lastImage() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen
}

type fakeLiveness struct {
	score float64
	err   error
}

func (f fakeLiveness) Score(context.Context, geometry.FaceCrop) (float64, error) {
	return f.score, f.err
}

// fakeReconstructor returns base for the ID crop and base moved by
// selfieOffset for the selfie crop. calls, when set, counts every call.
type fakeReconstructor struct {
	base         *geometry.Mesh
	selfieOffset geometry.Vec3
	selfieMesh   *geometry.Mesh
	err          error
	calls        *atomic.Int32
}

func (f fakeReconstructor) Reconstruct(_ context.Context, crop geometry.FaceCrop) (*geometry.Mesh, error) {
	if f.calls != nil {
		f.calls.Add(1)
	}
	if f.err != nil {
		return nil, f.err
	}
	if crop.Source == geometry.SourceSelfie {
		if f.selfieMesh != nil {
			return f.selfieMesh, nil
		}
		return translated(f.base, f.selfieOffset), nil
	}
	return f.base, nil
}

// fakeRegistrar always answers with the same transform.
type fakeRegistrar struct {
	transform geometry.Transform
	quality   float64
	err       error
}

func (f fakeRegistrar) Register(context.Context, []geometry.Vec3, []geometry.Vec3, float64) (geometry.Transform, float64, error) {
	return f.transform, f.quality, f.err
}

// blockEmbedder averages the image over a 4x4 grid of blocks. Offsetting
// each block by one keeps the vector away from zero.
type blockEmbedder struct {
	err error
}

const embedDim = 16

func (b blockEmbedder) Embed(_ context.Context, img image.Image) ([]float32, error) {
	if b.err != nil {
		return nil, b.err
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	var sums [embedDim]float64
	var counts [embedDim]int
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			cell := ((y-bounds.Min.Y)*4/h)*4 + (x-bounds.Min.X)*4/w
			sums[cell] += float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y) / 255
			counts[cell]++
		}
	}
	vec := make([]float32, embedDim)
	for i := range vec {
		vec[i] = 1 + float32(sums[i]/float64(max(counts[i], 1)))
	}
	return vec, nil
}

// failingIndex wraps an index and fails inserts.
type failingIndex struct {
	ports.Index
	err error
}

func (f failingIndex) Insert(context.Context, []float32, string) error { return f.err }

var errBoom = errors.New("boom")
