package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"veriface/internal/geometry"
	"veriface/internal/platform/config"
	"veriface/internal/platform/metrics"
	"veriface/internal/verification"
	"veriface/pkg/platform/middleware/admin"
	"veriface/pkg/testutil"
)

const sidecarDim = 8

// sidecar answers every model endpoint with the same deterministic face, so
// the ID and the selfie always agree.
type sidecar struct {
	fieldsCalls atomic.Int32
	embedCalls  atomic.Int32
}

func (s *sidecar) handler(t *testing.T) http.Handler {
	grid := wireGrid(9)
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(v))
	}
	mux.HandleFunc("POST /v1/fields", func(w http.ResponseWriter, r *http.Request) {
		s.fieldsCalls.Add(1)
		reply(w, map[string]any{"fields": map[string]string{
			"document_number": "P123",
			"date_of_birth":   "1990-01-01",
		}})
	})
	mux.HandleFunc("POST /v1/detect", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Image []byte `json:"image"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		reply(w, map[string]any{"image": req.Image, "bounds": map[string]int{"max_x": 10, "max_y": 10}})
	})
	mux.HandleFunc("POST /v1/liveness", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"score": 0.93})
	})
	mux.HandleFunc("POST /v1/reconstruct", func(w http.ResponseWriter, r *http.Request) {
		reply(w, grid)
	})
	mux.HandleFunc("POST /v1/register", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"transform": geometry.Identity(), "quality": 0.97})
	})
	mux.HandleFunc("POST /v1/embed", func(w http.ResponseWriter, r *http.Request) {
		s.embedCalls.Add(1)
		vec := make([]float32, sidecarDim)
		for i := range vec {
			vec[i] = float32(i + 1)
		}
		reply(w, map[string]any{"vector": vec})
	})
	return mux
}

func wireGrid(n int) map[string]any {
	var vertices [][3]float64
	var faces [][3]int
	for j := range n {
		for i := range n {
			x := -1 + 2*float64(i)/float64(n-1)
			y := -1 + 2*float64(j)/float64(n-1)
			vertices = append(vertices, [3]float64{x, y, 0.5 * math.Exp(-(x*x + y*y))})
		}
	}
	for j := range n - 1 {
		for i := range n - 1 {
			a := j*n + i
			faces = append(faces, [3]int{a, a + 1, a + n}, [3]int{a + 1, a + n + 1, a + n})
		}
	}
	return map[string]any{"vertices": vertices, "faces": faces}
}

type AppSuite struct {
	suite.Suite
	sidecar *sidecar
	cfg     *config.Config
}

func TestAppSuite(t *testing.T) {
	suite.Run(t, new(AppSuite))
}

func (s *AppSuite) SetupTest() {
	s.sidecar = &sidecar{}
	srv := httptest.NewServer(s.sidecar.handler(s.T()))
	s.T().Cleanup(srv.Close)

	s.T().Setenv("VERIFACE_COLLABORATOR_URL", srv.URL)
	s.T().Setenv("VERIFACE_WORK_DIR", s.T().TempDir())
	s.T().Setenv("VERIFACE_ARTIFACT_DIR", s.T().TempDir())
	s.T().Setenv("VERIFACE_INDEX_DIMENSION", "8")
	s.T().Setenv("VERIFACE_FUSION_DEPTH", "4")
	s.T().Setenv("VERIFACE_IN_PROCESS_FUSER", "true")
	s.T().Setenv("VERIFACE_HASH_SALT", "salt")
	s.T().Setenv("VERIFACE_HASH_PEPPER", "pepper")
	s.T().Setenv("VERIFACE_OPS_TOKEN", "ops")
	s.T().Setenv("VERIFACE_AUDIT_ASYNC_BUFFER", "0")

	cfg, err := config.Load()
	s.Require().NoError(err)
	s.cfg = cfg
}

func (s *AppSuite) build() *App {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), s.cfg, logger, metrics.New(), nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { s.NoError(a.Close()) })
	return a
}

func (s *AppSuite) TestVerifyThroughSidecar() {
	a := s.build()

	out, err := a.Service.Verify(context.Background(), verification.Request{
		IDImage:     []byte("id"),
		SelfieImage: []byte("selfie"),
		RequestID:   "req-app-1",
	})
	s.Require().NoError(err)
	s.Equal(verification.StatusVerified, out.Status)
	s.NotEmpty(out.SubjectID)
	s.EqualValues(1, s.sidecar.fieldsCalls.Load())
	s.EqualValues(1, s.sidecar.embedCalls.Load())
	s.Equal(0, a.Store.LiveCount())

	s.Run("audit trail is served behind the ops token", func() {
		rr := testutil.Get(s.T(), a.Ops.Router(), "/audit/requests/req-app-1", admin.HeaderToken, "ops")
		s.Require().Equal(http.StatusOK, rr.Code)
		s.Contains(rr.Body.String(), "verification_completed")
		s.NotContains(rr.Body.String(), "P123")
	})

	s.Run("metrics include every module", func() {
		body := testutil.Get(s.T(), a.Ops.Router(), "/metrics").Body.String()
		for _, name := range []string{
			"veriface_verification_",
			"veriface_collaborator_calls_total",
			"veriface_audit_",
		} {
			s.True(strings.Contains(body, name), name)
		}
	})
}

func (s *AppSuite) TestReadyWithMemoryBackends() {
	a := s.build()
	rr := testutil.Get(s.T(), a.Ops.Router(), "/readyz")
	s.Equal(http.StatusOK, rr.Code)
}

func (s *AppSuite) TestEncryptedRetention() {
	s.cfg.Retention.EncryptionKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	s.cfg.Retention.RetainFused = "short"
	a := s.build()

	out, err := a.Service.Verify(context.Background(), verification.Request{
		IDImage: []byte("id"), SelfieImage: []byte("selfie"),
	})
	s.Require().NoError(err)
	s.Require().NotEmpty(out.RetainedArtifact)
	s.True(strings.HasPrefix(out.RetainedArtifact, s.cfg.Retention.ArtifactDir))
}

func TestNewFailsFastOnUnreachableRedis(t *testing.T) {
	t.Setenv("VERIFACE_COLLABORATOR_URL", "http://127.0.0.1:1")
	t.Setenv("VERIFACE_WORK_DIR", t.TempDir())
	t.Setenv("VERIFACE_ARTIFACT_DIR", t.TempDir())
	t.Setenv("VERIFACE_INDEX_BACKEND", "redis")
	t.Setenv("VERIFACE_REDIS_URL", "redis://127.0.0.1:1")
	t.Setenv("VERIFACE_REDIS_DIAL_TIMEOUT", "100ms")
	cfg, err := config.Load()
	require.NoError(t, err)

	_, err = New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.New(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil, nil, nil)
	assert.Error(t, err)
}
