package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veriface/internal/geometry"
	"veriface/pkg/platform/circuit"
	"veriface/pkg/platform/sentinel"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) (*Client, *Metrics) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	m := NewMetrics(prometheus.NewRegistry())
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(m),
	}
	c, err := New(srv.URL, append(base, opts...)...)
	require.NoError(t, err)
	return c, m
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
	_, err = New("ftp://models")
	assert.Error(t, err)
	_, err = New("http://models:8080/base")
	assert.NoError(t, err)
}

func TestAdapters(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/fields", func(w http.ResponseWriter, r *http.Request) {
		var req imageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []byte("doc"), req.Image)
		writeJSON(w, http.StatusOK, map[string]any{"fields": map[string]string{"dob": "2000-01-01"}})
	})
	mux.HandleFunc("POST /v1/detect", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"image":  []byte("crop"),
			"bounds": map[string]int{"min_x": 1, "min_y": 2, "max_x": 11, "max_y": 12},
		})
	})
	mux.HandleFunc("POST /v1/liveness", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"score": 0.87})
	})
	mux.HandleFunc("POST /v1/reconstruct", func(w http.ResponseWriter, r *http.Request) {
		var req imageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "selfie", req.Source)
		writeJSON(w, http.StatusOK, map[string]any{
			"vertices": [][3]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
			"faces":    [][3]int{{0, 1, 2}},
		})
	})
	mux.HandleFunc("POST /v1/register", func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Source, 2)
		assert.Equal(t, 0.05, req.Threshold)
		writeJSON(w, http.StatusOK, map[string]any{
			"transform": geometry.Translation(geometry.Vec3{X: 1}),
			"quality":   0.9,
		})
	})
	mux.HandleFunc("POST /v1/fuse", func(w http.ResponseWriter, r *http.Request) {
		var req fuseRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.PointSets, 2)
		assert.Equal(t, 6, req.Depth)
		writeJSON(w, http.StatusOK, map[string]any{
			"vertices": [][3]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
			"faces":    [][3]int{{0, 1, 2}},
		})
	})
	mux.HandleFunc("POST /v1/embed", func(w http.ResponseWriter, r *http.Request) {
		var req imageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []byte("\x89PNG"), req.Image[:4])
		writeJSON(w, http.StatusOK, map[string]any{"vector": []float32{0.1, 0.2}})
	})
	c, m := newTestClient(t, mux)
	ctx := context.Background()

	t.Run("read fields", func(t *testing.T) {
		fields, err := c.ReadFields(ctx, []byte("doc"))
		require.NoError(t, err)
		assert.Equal(t, "2000-01-01", fields["dob"])
	})
	t.Run("detect", func(t *testing.T) {
		crop, err := c.Detect(ctx, []byte("img"), geometry.SourceID)
		require.NoError(t, err)
		assert.Equal(t, []byte("crop"), crop.Image)
		assert.Equal(t, geometry.SourceID, crop.Source)
		assert.Equal(t, image.Rect(1, 2, 11, 12), crop.Bounds)
	})
	t.Run("liveness", func(t *testing.T) {
		score, err := c.Score(ctx, geometry.FaceCrop{Image: []byte("x")})
		require.NoError(t, err)
		assert.Equal(t, 0.87, score)
	})
	t.Run("reconstruct", func(t *testing.T) {
		mesh, err := c.Reconstruct(ctx, geometry.FaceCrop{Image: []byte("x"), Source: geometry.SourceSelfie})
		require.NoError(t, err)
		assert.Len(t, mesh.Vertices, 3)
		assert.Equal(t, geometry.SourceSelfie, mesh.Source)
	})
	t.Run("register", func(t *testing.T) {
		pts := []geometry.Vec3{{X: 1}, {Y: 1}}
		tr, q, err := c.Register(ctx, pts, pts, 0.05)
		require.NoError(t, err)
		assert.Equal(t, 0.9, q)
		assert.Equal(t, geometry.Vec3{X: 1}, tr.TranslationPart())
	})
	t.Run("fuse", func(t *testing.T) {
		mesh, err := c.Fuse(ctx, [][]geometry.Vec3{{{X: 1}}, {{Y: 1}}}, 6)
		require.NoError(t, err)
		assert.Equal(t, geometry.SourceFused, mesh.Source)
	})
	t.Run("embed", func(t *testing.T) {
		img := image.NewGray(image.Rect(0, 0, 4, 4))
		img.SetGray(1, 1, color.Gray{Y: 200})
		vec, err := c.Embed(ctx, img)
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2}, vec)
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues(OpEmbed, "ok")))
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		category    ErrorCategory
		unavailable bool
	}{
		{
			name: "server error is an outage",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "model crashed"})
			},
			category:    ErrorOutage,
			unavailable: true,
		},
		{
			name: "rate limiting is an outage",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			category:    ErrorOutage,
			unavailable: true,
		},
		{
			name: "client error is a rejected input",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "no document found"})
			},
			category: ErrorRejected,
		},
		{
			name: "garbage body is bad data",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
			category: ErrorBadData,
		},
		{
			name: "missing score is bad data",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{})
			},
			category: ErrorBadData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, tt.handler)
			_, err := c.Score(context.Background(), geometry.FaceCrop{Image: []byte("x")})
			require.Error(t, err)
			assert.Equal(t, tt.category, CategoryOf(err))
			assert.Equal(t, tt.unavailable, errors.Is(err, sentinel.ErrUnavailable))
			assert.Equal(t, tt.unavailable, IsRetryable(err))
		})
	}
}

func TestRejectedMessageIsKept(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "image too small"})
	}))
	_, err := c.ReadFields(context.Background(), []byte("x"))
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusBadRequest, ce.StatusCode)
	assert.Equal(t, "image too small", ce.Message)
	assert.Equal(t, OpReadFields, ce.Operation)
}

func TestInvalidMeshIsBadData(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"vertices": [][3]float64{{0, 0, 0}},
			"faces":    [][3]int{{0, 1, 2}},
		})
	}))
	_, err := c.Reconstruct(context.Background(), geometry.FaceCrop{Image: []byte("x")})
	assert.Equal(t, ErrorBadData, CategoryOf(err))
	assert.ErrorIs(t, err, geometry.ErrFaceIndex)
	assert.ErrorIs(t, err, sentinel.ErrInvalidData)
	assert.NotErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestDeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.ReadFields(ctx, []byte("x"))
	assert.Equal(t, ErrorTimeout, CategoryOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, sentinel.ErrUnavailable))
	assert.False(t, c.Breaker(OpReadFields).IsOpen())
}

func TestTransportFailureIsOutage(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	_, err = c.ReadFields(context.Background(), []byte("x"))
	assert.Equal(t, ErrorOutage, CategoryOf(err))
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

// An open breaker fails fast without touching the
// sidecar, and only for the endpoint that failed.
func TestBreakerOpensPerOperation(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/liveness", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("POST /v1/fields", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"fields": map[string]string{}})
	})
	c, m := newTestClient(t, mux, WithBreaker(circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour)))
	ctx := context.Background()
	crop := geometry.FaceCrop{Image: []byte("x")}

	for range 2 {
		_, err := c.Score(ctx, crop)
		require.Equal(t, ErrorOutage, CategoryOf(err))
	}
	assert.True(t, c.Breaker(OpLiveness).IsOpen())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues(OpLiveness)))

	_, err := c.Score(ctx, crop)
	assert.Equal(t, ErrorCircuitOpen, CategoryOf(err))
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.Equal(t, int32(2), hits.Load())

	_, err = c.ReadFields(ctx, []byte("x"))
	assert.NoError(t, err, "other endpoints keep working")
}

func TestBreakerClosesAfterRecovery(t *testing.T) {
	var healthy atomic.Bool
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"score": 1.0})
	}), WithBreaker(circuit.WithFailureThreshold(1), circuit.WithSuccessThreshold(2), circuit.WithCooldown(0)))
	ctx := context.Background()
	crop := geometry.FaceCrop{Image: []byte("x")}

	_, _ = c.Score(ctx, crop)
	require.True(t, c.Breaker(OpLiveness).IsOpen())

	healthy.Store(true)
	for range 2 {
		_, err := c.Score(ctx, crop)
		require.NoError(t, err)
	}
	assert.False(t, c.Breaker(OpLiveness).IsOpen())
}
