// Package httpapi serves the operational surface of the process: liveness,
// readiness, Prometheus metrics and the audit trail.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"veriface/internal/platform/metrics"
	"veriface/pkg/platform/audit"
	"veriface/pkg/platform/httputil"
	"veriface/pkg/platform/middleware/admin"
	"veriface/pkg/platform/middleware/request"
	"veriface/pkg/requestcontext"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
	checkTimeout       = 2 * time.Second
)

// Check tests one dependency for readiness.
type Check func(ctx context.Context) error

// Handler wires the ops endpoints.
type Handler struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	audit    audit.Lister
	opsToken string
	checks   map[string]Check
}

// Option configures a Handler.
type Option func(*Handler)

// WithCheck adds a readiness check under name.
func WithCheck(name string, c Check) Option {
	return func(h *Handler) {
		h.checks[name] = c
	}
}

// WithAudit exposes the audit trail behind the ops token.
func WithAudit(l audit.Lister, opsToken string) Option {
	return func(h *Handler) {
		h.audit = l
		h.opsToken = opsToken
	}
}

func New(logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Handler {
	h := &Handler{
		logger:  logger,
		metrics: m,
		checks:  make(map[string]Check),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns a chi router with every ops route mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recover(h.logger))
	r.Use(request.RequestID)
	r.Use(request.Time)
	h.Register(r)
	return r
}

// Register mounts the ops endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}
	if h.audit != nil {
		r.Group(func(r chi.Router) {
			r.Use(request.AccessLog(h.logger))
			r.Use(admin.RequireToken(h.opsToken, h.logger))
			r.Get("/audit/requests/{requestID}", h.handleAuditByRequest)
			r.Get("/audit/recent", h.handleAuditRecent)
		})
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	CheckedAt time.Time         `json:"checked_at"`
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := readyResponse{
		Status:    "ready",
		Checks:    make(map[string]string, len(h.checks)),
		CheckedAt: requestcontext.Now(ctx).UTC(),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := h.checks[name](cctx)
		cancel()
		h.metrics.SetReady(name, err == nil)
		if err != nil {
			resp.Status = "not_ready"
			resp.Checks[name] = "unavailable"
			h.logger.WarnContext(ctx, "readiness check failed",
				"request_id", requestcontext.RequestID(ctx),
				"dependency", name,
				"error", err,
			)
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}

type eventResponse struct {
	ID            string    `json:"id"`
	Category      string    `json:"category"`
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id"`
	Action        string    `json:"action"`
	Stage         string    `json:"stage,omitempty"`
	Decision      string    `json:"decision,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	SubjectIDHash string    `json:"subject_id_hash,omitempty"`
	Detail        string    `json:"detail,omitempty"`
}

func toResponse(events []audit.Event) []eventResponse {
	out := make([]eventResponse, len(events))
	for i, e := range events {
		out[i] = eventResponse{
			ID:            e.ID,
			Category:      string(e.Category),
			Timestamp:     e.Timestamp,
			RequestID:     e.RequestID,
			Action:        e.Action,
			Stage:         e.Stage,
			Decision:      e.Decision,
			Reason:        e.Reason,
			SubjectIDHash: e.SubjectIDHash,
			Detail:        e.Detail,
		}
	}
	return out
}

func (h *Handler) handleAuditByRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chi.URLParam(r, "requestID")

	events, err := h.audit.ListByRequest(ctx, requestID)
	if err != nil {
		h.logger.ErrorContext(ctx, "list audit events failed",
			"request_id", requestcontext.RequestID(ctx),
			"audited_request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "")
		return
	}
	if len(events) == 0 {
		httputil.WriteError(w, http.StatusNotFound, httputil.CodeNotFound, "no audit events for request")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": toResponse(events)})
}

func (h *Handler) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRecentLimit {
			httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest,
				"limit must be between 1 and "+strconv.Itoa(maxRecentLimit))
			return
		}
		limit = n
	}

	events, err := h.audit.ListRecent(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "list recent audit events failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeInternal, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": toResponse(events)})
}
