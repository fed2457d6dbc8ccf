package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veriface/internal/platform/metrics"
	"veriface/pkg/platform/audit"
	"veriface/pkg/platform/audit/store/memory"
	"veriface/pkg/platform/middleware/admin"
	"veriface/pkg/platform/middleware/request"
	"veriface/pkg/testutil"
)

const token = "ops-secret"

type HandlerSuite struct {
	suite.Suite
	store   *memory.InMemoryStore
	metrics *metrics.Metrics
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.metrics = metrics.New()
}

func (s *HandlerSuite) router(opts ...Option) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []Option{WithAudit(s.store, token)}
	return New(logger, s.metrics, append(base, opts...)...).Router()
}

func (s *HandlerSuite) do(h http.Handler, path string, authed bool) *httptest.ResponseRecorder {
	if authed {
		return testutil.Get(s.T(), h, path, admin.HeaderToken, token)
	}
	return testutil.Get(s.T(), h, path)
}

func (s *HandlerSuite) seed(requestID string, actions ...audit.AuditEvent) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, a := range actions {
		s.Require().NoError(s.store.Append(context.Background(), audit.Event{
			ID:        requestID + "-" + string(a),
			Category:  a.Category(),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			RequestID: requestID,
			Action:    string(a),
		}))
	}
}

// -----------------------------------------------------------------------------
// Health and readiness
// -----------------------------------------------------------------------------

func (s *HandlerSuite) TestHealth() {
	rr := s.do(s.router(), "/healthz", false)
	s.Equal(http.StatusOK, rr.Code)
	s.NotEmpty(rr.Header().Get(request.HeaderRequestID))
}

func (s *HandlerSuite) TestReadiness() {
	s.Run("all checks pass", func() {
		h := s.router(WithCheck("redis", func(context.Context) error { return nil }))
		rr := s.do(h, "/readyz", false)
		s.Equal(http.StatusOK, rr.Code)

		body := testutil.Decode[readyResponse](s.T(), rr)
		s.Equal("ready", body.Status)
		s.False(body.CheckedAt.IsZero())
		s.Equal("ok", body.Checks["redis"])
	})

	s.Run("one failing check fails readiness without leaking the error", func() {
		h := s.router(
			WithCheck("redis", func(context.Context) error { return nil }),
			WithCheck("postgres", func(context.Context) error { return errors.New("dial tcp 10.0.0.7:5432: refused") }),
		)
		rr := s.do(h, "/readyz", false)
		s.Equal(http.StatusServiceUnavailable, rr.Code)
		s.NotContains(rr.Body.String(), "10.0.0.7")

		body := testutil.Decode[readyResponse](s.T(), rr)
		s.Equal("unavailable", body.Checks["postgres"])
		s.Equal("ok", body.Checks["redis"])
	})

	s.Run("results reach metrics", func() {
		rr := s.do(s.router(), "/metrics", false)
		s.Equal(http.StatusOK, rr.Code)
		s.Contains(rr.Body.String(), `veriface_dependency_ready{dependency="postgres"} 0`)
	})
}

// -----------------------------------------------------------------------------
// Audit trail
// -----------------------------------------------------------------------------

func (s *HandlerSuite) TestAuditRequiresToken() {
	s.seed("req-1", audit.EventStageEntered)
	rr := s.do(s.router(), "/audit/requests/req-1", false)
	testutil.AssertError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
}

func (s *HandlerSuite) TestAuditByRequest() {
	s.seed("req-1", audit.EventStageEntered, audit.EventVerificationCompleted)
	s.seed("req-2", audit.EventVerificationRejected)

	rr := s.do(s.router(), "/audit/requests/req-1", true)
	s.Require().Equal(http.StatusOK, rr.Code)

	body := testutil.Decode[struct {
		Events []eventResponse `json:"events"`
	}](s.T(), rr)
	s.Require().Len(body.Events, 2)
	s.Equal(string(audit.EventStageEntered), body.Events[0].Action)
	s.Equal(string(audit.CategoryCompliance), body.Events[1].Category)

	s.Run("unknown request is not found", func() {
		rr := s.do(s.router(), "/audit/requests/nope", true)
		testutil.AssertError(s.T(), rr, http.StatusNotFound, "not_found")
	})
}

func (s *HandlerSuite) TestAuditRecent() {
	s.seed("req-1", audit.EventStageEntered, audit.EventVerificationCompleted, audit.EventSubjectEnrolled)

	rr := s.do(s.router(), "/audit/recent?limit=2", true)
	s.Require().Equal(http.StatusOK, rr.Code)
	body := testutil.Decode[struct {
		Events []eventResponse `json:"events"`
	}](s.T(), rr)
	s.Len(body.Events, 2)

	for _, bad := range []string{"0", "-1", "501", "lots"} {
		rr := s.do(s.router(), "/audit/recent?limit="+bad, true)
		testutil.AssertError(s.T(), rr, http.StatusBadRequest, "bad_request")
	}
}

func (s *HandlerSuite) TestAuditRoutesAbsentWithoutLister() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(logger, s.metrics).Router()
	rr := s.do(h, "/audit/recent", true)
	s.Equal(http.StatusNotFound, rr.Code)
}
