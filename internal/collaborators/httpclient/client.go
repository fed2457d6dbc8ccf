// Package httpclient talks JSON over HTTP to the model sidecars that back
// the verification ports: document reading, face detection, liveness,
// reconstruction, registration, fusion and embedding.
//
// Every endpoint has its own circuit breaker, so one failing model does not
// trip calls to the others.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"veriface/pkg/platform/circuit"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = 64 << 20
)

// Client is safe for concurrent use.
type Client struct {
	base             *url.URL
	http             *http.Client
	logger           *slog.Logger
	metrics          *Metrics
	breakerOpts      []circuit.Option
	maxResponseBytes int64

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithBreaker sets the options every per-endpoint breaker is built with.
func WithBreaker(opts ...circuit.Option) Option {
	return func(c *Client) {
		c.breakerOpts = opts
	}
}

// WithMaxResponseBytes caps how much of a response body is read.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResponseBytes = n
		}
	}
}

// New creates a client for the sidecar at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("base url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", u.Scheme)
	}
	c := &Client{
		base:             u,
		http:             &http.Client{Timeout: defaultTimeout},
		logger:           slog.Default(),
		maxResponseBytes: defaultMaxResponseBytes,
		breakers:         make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Breaker returns the breaker guarding op, creating it on first use.
func (c *Client) Breaker(op string) *circuit.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[op]
	if !ok {
		b = circuit.New(op, c.breakerOpts...)
		c.breakers[op] = b
	}
	return b
}

// errorBody is what sidecars return on failure.
type errorBody struct {
	Error string `json:"error"`
}

// post sends in as JSON to path and decodes a 2xx response into out.
func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	breaker := c.Breaker(op)
	if !breaker.Allow() {
		c.metrics.IncCall(op, string(ErrorCircuitOpen))
		return newCallError(ErrorCircuitOpen, op, 0, "circuit open", nil)
	}

	err := c.roundTrip(ctx, op, path, in, out)
	c.record(breaker, op, err)
	if err != nil {
		c.metrics.IncCall(op, string(CategoryOf(err)))
		return err
	}
	c.metrics.IncCall(op, "ok")
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return newCallError(ErrorInternal, op, 0, "encode request", err)
	}
	endpoint := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return newCallError(ErrorInternal, op, 0, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return newCallError(ErrorTimeout, op, 0, "", ctxErr)
			}
			return ctxErr
		}
		return newCallError(ErrorOutage, op, 0, "transport", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.maxResponseBytes)
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return newCallError(ErrorOutage, op, resp.StatusCode, readError(limited), nil)
	case resp.StatusCode >= 400:
		return newCallError(ErrorRejected, op, resp.StatusCode, readError(limited), nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return newCallError(ErrorBadData, op, resp.StatusCode, "unexpected status", nil)
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return newCallError(ErrorBadData, op, resp.StatusCode, "decode response", err)
	}
	return nil
}

// record feeds the breaker. Only outages count against the sidecar; a
// rejected input or our own timeout says nothing about its health.
func (c *Client) record(b *circuit.Breaker, op string, err error) {
	if err != nil && CategoryOf(err) == ErrorOutage {
		if _, change := b.RecordFailure(); change.Opened {
			c.metrics.SetBreakerOpen(op, true)
			c.logger.Error("collaborator circuit opened", "operation", op, "error", err)
		}
		return
	}
	if err != nil && CategoryOf(err) != ErrorRejected {
		return
	}
	if _, change := b.RecordSuccess(); change.Closed {
		c.metrics.SetBreakerOpen(op, false)
		c.logger.Info("collaborator circuit closed", "operation", op)
	}
}

func readError(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

// Metrics counts sidecar calls by result and tracks breaker state.
type Metrics struct {
	Calls        *prometheus.CounterVec
	BreakerState *prometheus.GaugeVec
}

// NewMetrics registers the client metrics with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veriface_collaborator_calls_total",
			Help: "Sidecar calls by operation and result",
		}, []string{"operation", "result"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "veriface_collaborator_circuit_breaker_state",
			Help: "Circuit breaker state per operation (0=closed, 1=open)",
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncCall(op, result string) {
	if m != nil {
		m.Calls.WithLabelValues(op, result).Inc()
	}
}

func (m *Metrics) SetBreakerOpen(op string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.BreakerState.WithLabelValues(op).Set(v)
}
