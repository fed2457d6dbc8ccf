package distance

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veriface/internal/geometry"
)

func randomCloud(r *rand.Rand, n int) []geometry.Vec3 {
	pts := make([]geometry.Vec3, n)
	for i := range pts {
		pts[i] = geometry.Vec3{X: r.Float64(), Y: r.Float64(), Z: r.Float64() * 0.2}
	}
	return pts
}

func bruteNearest(pts []geometry.Vec3, q geometry.Vec3) float64 {
	best := math.Inf(1)
	for _, p := range pts {
		if d := q.Dist(p); d < best {
			best = d
		}
	}
	return best
}

func TestKDTree_MatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	pts := randomCloud(r, 400)
	before := append([]geometry.Vec3(nil), pts...)
	tree := NewKDTree(pts)
	require.Equal(t, 400, tree.Len())
	require.Equal(t, before, pts, "building the tree leaves the input order alone")

	for range 200 {
		q := geometry.Vec3{X: r.Float64()*1.4 - 0.2, Y: r.Float64()*1.4 - 0.2, Z: r.Float64()}
		idx, d := tree.Nearest(q)
		require.GreaterOrEqual(t, idx, 0)
		assert.InDelta(t, bruteNearest(pts, q), d, 1e-12)
		assert.InDelta(t, q.Dist(pts[idx]), d, 1e-12)
	}
}

func TestKDTree_Empty(t *testing.T) {
	idx, d := NewKDTree(nil).Nearest(geometry.Vec3{})
	assert.Equal(t, -1, idx)
	assert.True(t, math.IsInf(d, 1))
}

func TestEvaluate_IdenticalSetsAreZero(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	pts := randomCloud(r, 500)
	selfie := append([]geometry.Vec3(nil), pts...)

	res, err := Evaluate(pts, selfie)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.MeanBToA)
	assert.Equal(t, 0.0, res.MeanAToB)
	assert.Equal(t, 0.0, res.Max)
}

func TestEvaluate_DirectionalMeans(t *testing.T) {
	// B has an extra point far from A: only the B->A direction should see it.
	a := []geometry.Vec3{{0, 0, 0}, {1, 0, 0}}
	b := []geometry.Vec3{{0, 0, 0}, {1, 0, 0}, {1, 3, 0}}

	res, err := Evaluate(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.MeanAToB, 1e-12)
	assert.InDelta(t, 1.0, res.MeanBToA, 1e-12) // (0 + 0 + 3) / 3
	assert.InDelta(t, 3.0, res.Max, 1e-12)

	h, err := Hausdorff(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, h, 1e-12)
}

func TestEvaluate_TranslationShowsUp(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	a := randomCloud(r, 300)
	b := geometry.Translation(geometry.Vec3{Z: 5}).Apply(a)

	res, err := Evaluate(a, b)
	require.NoError(t, err)
	// z spread is at most 0.2, so every nearest neighbour is at least 4.8 away.
	assert.Greater(t, res.MeanBToA, 4.7)
	assert.Greater(t, res.MeanAToB, 4.7)
}

func TestEvaluate_EmptyInput(t *testing.T) {
	_, err := Evaluate(nil, []geometry.Vec3{{}})
	assert.ErrorIs(t, err, ErrEmptyPointSet)
	_, err = Evaluate([]geometry.Vec3{{}}, nil)
	assert.ErrorIs(t, err, ErrEmptyPointSet)
}
