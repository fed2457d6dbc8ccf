// Package verification runs the document-to-selfie pipeline: read the
// document, gate on liveness, reconstruct and align both faces, decide the
// match from surface distances, then fuse, embed and enroll the subject.
//
// Every byte of biometric data handled for a request lives in that request's
// ephemeral.Workspace and is wiped when Verify returns, whichever way it
// returns.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"veriface/internal/ephemeral"
	"veriface/internal/verification/metrics"
	"veriface/pkg/platform/audit"
	"veriface/pkg/platform/sentinel"
	"veriface/pkg/requestcontext"
)

const tracerName = "veriface/internal/verification"

// Service orchestrates verification and enrollment. It is safe for
// concurrent use; collaborator calls from all requests share one bounded
// pool.
type Service struct {
	collab     Collaborators
	store      *ephemeral.Store
	cfg        Config
	calls      *semaphore.Weighted
	retention  *ephemeral.Registry
	encryption *ephemeral.EncryptedFileManager
	auditor    audit.Emitter
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAuditor records stage transitions and decisions.
func WithAuditor(e audit.Emitter) Option {
	return func(s *Service) {
		s.auditor = e
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// WithRetention enables tagging of retained fused meshes.
func WithRetention(r *ephemeral.Registry) Option {
	return func(s *Service) {
		s.retention = r
	}
}

// WithEncryption stores retained artifacts encrypted.
func WithEncryption(m *ephemeral.EncryptedFileManager) Option {
	return func(s *Service) {
		s.encryption = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New validates the collaborators and configuration. A missing required
// collaborator is reported as ErrCollaboratorUnavailable.
func New(collab Collaborators, store *ephemeral.Store, cfg Config, opts ...Option) (*Service, error) {
	required := []struct {
		name   string
		absent bool
	}{
		{"document reader", collab.Reader == nil},
		{"liveness gate", collab.Liveness == nil},
		{"reconstructor", collab.Reconstructor == nil},
		{"registrar", collab.Registrar == nil},
		{"fuser", collab.Fuser == nil},
		{"embedder", collab.Embedder == nil},
		{"index", collab.Index == nil},
	}
	for _, r := range required {
		if r.absent {
			return nil, fmt.Errorf("%w: %s is required", ErrCollaboratorUnavailable, r.name)
		}
	}
	if store == nil {
		return nil, errors.New("ephemeral store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		collab: collab,
		store:  store,
		cfg:    cfg,
		calls:  semaphore.NewWeighted(cfg.MaxConcurrentCalls),
		logger: slog.Default(),
		tracer: otel.GetTracerProvider().Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.RetainFusedPolicy != "" {
		if s.retention == nil {
			return nil, errors.New("retention registry is required to retain fused meshes")
		}
		if _, ok := s.retention.TTL(cfg.RetainFusedPolicy); !ok {
			return nil, fmt.Errorf("%w: %q", ephemeral.ErrUnknownPolicy, cfg.RetainFusedPolicy)
		}
	}
	if cfg.HashPepper == "" {
		s.logger.Warn("subject hashing runs without a pepper; subject ids are only salted")
	}
	return s, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case math.IsNaN(c.LivenessThreshold) || c.LivenessThreshold < 0 || c.LivenessThreshold > 1:
		return fmt.Errorf("liveness threshold must be in [0, 1], got %v", c.LivenessThreshold)
	case !(c.MatchThreshold >= 0) || math.IsInf(c.MatchThreshold, 0):
		return fmt.Errorf("match threshold must be a finite non-negative number, got %v", c.MatchThreshold)
	case c.FusionDepth < 1 || c.FusionDepth > 12:
		return fmt.Errorf("fusion depth must be in [1, 12], got %d", c.FusionDepth)
	case c.StageTimeout <= 0:
		return errors.New("stage timeout must be positive")
	case c.MaxConcurrentCalls <= 0:
		return errors.New("max concurrent calls must be positive")
	case c.DuplicateTopK <= 0:
		return errors.New("duplicate top-k must be positive")
	case c.RenderSize <= 0:
		return errors.New("render size must be positive")
	case c.WorkDir == "":
		return errors.New("work dir is required")
	case c.RetainFusedPolicy != "" && c.ArtifactDir == "":
		return errors.New("artifact dir is required when retaining fused meshes")
	}
	return nil
}

// Verify runs the full pipeline for one request.
//
// Routine rejections return a rejected Outcome and a nil error. An
// unavailable collaborator or a cancelled ctx returns the Outcome together
// with a *StageError. The request workspace is released before Verify
// returns in every case, including panics in collaborators.
func (s *Service) Verify(ctx context.Context, req Request) (*Outcome, error) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = requestcontext.RequestID(ctx)
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	start := s.now()
	out := &Outcome{RequestID: requestID}

	ctx, span := s.tracer.Start(ctx, "verification.Verify",
		trace.WithAttributes(attribute.String("request_id", requestID)))
	defer span.End()

	ws, err := s.store.Workspace(requestID, s.cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("open request workspace: %w", err)
	}
	defer func() {
		if rerr := ws.Release(); rerr != nil {
			s.logger.Warn("request workspace release incomplete",
				"request_id", requestID,
				"error", rerr,
			)
		}
	}()

	s.metrics.IncInFlight()
	defer s.metrics.DecInFlight()

	r := &run{
		svc:   s,
		ws:    ws,
		out:   out,
		start: start,
		id:    ws.Buffer(req.IDImage),
		self:  ws.Buffer(req.SelfieImage),
	}
	serr := r.pipeline(ctx)
	s.metrics.ObserveVerifyLatency(s.now().Sub(start))

	// Audit and logs must record the outcome even when ctx was cancelled.
	done := context.WithoutCancel(ctx)
	if serr == nil {
		out.Status = StatusVerified
		s.metrics.IncrementOutcome(string(StatusVerified), "")
		s.emit(done, audit.EventVerificationCompleted, out, string(StageVerified), "")
		s.logger.InfoContext(done, "verification completed",
			"request_id", requestID,
			"subject_id", out.SubjectID,
			"duplicates", len(out.Duplicates),
		)
		return out, nil
	}

	out.Status = StatusRejected
	out.Reason = serr.Reason
	s.metrics.IncrementOutcome(string(StatusRejected), string(serr.Reason))
	s.emit(done, audit.EventVerificationRejected, out, string(serr.Stage), string(serr.Reason))
	span.SetAttributes(attribute.String("reason", string(serr.Reason)))

	if !serr.Loud() {
		s.logger.InfoContext(done, "verification rejected",
			"request_id", requestID,
			"stage", serr.Stage,
			"reason", serr.Reason,
			"error", serr.Err,
		)
		return out, nil
	}
	span.SetStatus(codes.Error, string(serr.Reason))
	if serr.Reason == ReasonCollaboratorUnavailable {
		s.emit(done, audit.EventCollaboratorFailed, out, string(serr.Stage), string(serr.Reason))
		s.logger.ErrorContext(done, "verification aborted: collaborator unavailable",
			"request_id", requestID,
			"stage", serr.Stage,
			"error", serr.Err,
		)
	} else {
		s.logger.WarnContext(done, "verification cancelled",
			"request_id", requestID,
			"stage", serr.Stage,
		)
	}
	return out, serr
}

// call runs one collaborator operation under the shared concurrency bound
// and the per-call timeout, and maps its failure to a rejection at stage.
// fallback is the reason used for errors that are not timeouts,
// cancellations or unavailability.
func (s *Service) call(ctx context.Context, stage Stage, op string, fallback Reason, fn func(context.Context) error) *StageError {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
	defer cancel()

	if err := s.calls.Acquire(cctx, 1); err != nil {
		return s.classify(ctx, cctx, stage, fallback, err)
	}
	defer s.calls.Release(1)

	cctx, span := s.tracer.Start(cctx, "verification."+op)
	defer span.End()

	began := s.now()
	err := fn(cctx)
	s.metrics.ObserveCallLatency(op, s.now().Sub(began))
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	return s.classify(ctx, cctx, stage, fallback, err)
}

func (s *Service) classify(parent, cctx context.Context, stage Stage, fallback Reason, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case parent.Err() != nil:
		return reject(stage, ReasonRequestCancelled, parent.Err())
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded):
		return reject(stage, ReasonStageTimeout, err)
	case errors.Is(err, sentinel.ErrUnavailable):
		return reject(stage, ReasonCollaboratorUnavailable, err)
	default:
		return reject(stage, fallback, err)
	}
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, out *Outcome, stage, reason string) {
	if s.auditor == nil {
		return
	}
	event := audit.Event{
		Category:      action.Category(),
		Timestamp:     s.now(),
		RequestID:     out.RequestID,
		Action:        string(action),
		Stage:         stage,
		Decision:      string(out.Status),
		Reason:        reason,
		SubjectIDHash: out.SubjectID,
	}
	if action == audit.EventArtifactRetained {
		event.Detail = s.cfg.RetainFusedPolicy
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"request_id", out.RequestID,
			"action", string(action),
			"error", err,
		)
	}
}
