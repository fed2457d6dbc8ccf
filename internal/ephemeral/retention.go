package ephemeral

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// policySep separates a file stem from its retention policy name.
const policySep = "__"

var (
	ErrUnknownPolicy = errors.New("ephemeral: unknown retention policy")
	ErrInvalidPolicy = errors.New("ephemeral: invalid retention policy")

	policyName = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
)

// Policy is a named time-to-live for tagged artifacts.
type Policy struct {
	Name string
	TTL  time.Duration
}

// Registry tags artifacts with retention policies and purges the ones whose
// policy TTL has elapsed. It is shared by all requests and by the background
// sweeper.
//
// A file is never purged before its own TTL has run out. Age is measured
// from the later of the file's modification time and the moment it was
// tagged, and a purge scan ignores anything tagged or modified at or after
// the instant the scan began.
type Registry struct {
	mu       sync.Mutex
	policies map[string]time.Duration
	tagged   map[string]time.Time

	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithRegistryMetrics sets the metrics collector.
func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry validates the policies and builds a registry.
func NewRegistry(policies []Policy, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		policies: make(map[string]time.Duration, len(policies)),
		tagged:   make(map[string]time.Time),
		now:      time.Now,
	}
	for _, p := range policies {
		if !policyName.MatchString(p.Name) || strings.Contains(p.Name, policySep) {
			return nil, fmt.Errorf("%w: name %q", ErrInvalidPolicy, p.Name)
		}
		if p.TTL <= 0 {
			return nil, fmt.Errorf("%w: %q needs a positive ttl", ErrInvalidPolicy, p.Name)
		}
		if _, dup := r.policies[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate %q", ErrInvalidPolicy, p.Name)
		}
		r.policies[p.Name] = p.TTL
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// TTL returns the time-to-live of a policy.
func (r *Registry) TTL(policy string) (time.Duration, bool) {
	ttl, ok := r.policies[policy]
	return ttl, ok
}

// Tag renames path to carry the policy suffix ({stem}__{policy}{ext}) and
// starts its retention clock now. Re-tagging replaces an earlier policy.
func (r *Registry) Tag(path, policy string) (string, error) {
	if _, ok := r.policies[policy]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
	tagged := TaggedName(path, policy)

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if tagged != path {
		if err := os.Rename(path, tagged); err != nil {
			return "", fmt.Errorf("tag artifact: %w", err)
		}
	}
	if err := os.Chtimes(tagged, now, now); err != nil {
		return "", fmt.Errorf("stamp artifact: %w", err)
	}
	delete(r.tagged, path)
	r.tagged[tagged] = now
	return tagged, nil
}

// Purge removes tagged files in dir whose policy TTL has elapsed and
// returns how many were removed. Untagged files, unknown policies and
// subdirectories are left alone. Purge is idempotent and safe to run
// concurrently with Tag.
func (r *Registry) Purge(dir string) (int, error) {
	scanStart := r.now()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan artifact dir: %w", err)
	}

	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		policy, ok := PolicyOf(e.Name())
		if !ok {
			continue
		}
		ttl, known := r.policies[policy]
		if !known {
			continue
		}
		path := filepath.Join(dir, e.Name())
		ok, err := r.purgeOne(path, ttl, scanStart)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
			r.metrics.IncPurged(policy)
		}
	}
	if r.logger != nil && removed > 0 {
		r.logger.Info("retention purge removed artifacts",
			"dir", dir,
			"removed", removed,
		)
	}
	return removed, errors.Join(errs...)
}

func (r *Registry) purgeOne(path string, ttl time.Duration, scanStart time.Time) (bool, error) {
	// Holding the lock across the age check and the removal keeps a
	// concurrent Tag from re-stamping the file in between.
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		delete(r.tagged, path)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	stamp := info.ModTime()
	if t, ok := r.tagged[path]; ok && t.After(stamp) {
		stamp = t
	}
	if !stamp.Before(scanStart) {
		return false, nil
	}
	if scanStart.Sub(stamp) <= ttl {
		return false, nil
	}
	if err := wipeFile(path, rand.Reader); err != nil {
		return false, fmt.Errorf("purge %s: %w", filepath.Base(path), err)
	}
	delete(r.tagged, path)
	return true, nil
}

// TaggedName returns the name path would have under policy.
func TaggedName(path, policy string) string {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if i := strings.LastIndex(stem, policySep); i >= 0 {
		stem = stem[:i]
	}
	return filepath.Join(dir, stem+policySep+policy+ext)
}

// PolicyOf extracts the policy name from a tagged file name.
func PolicyOf(name string) (string, bool) {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	i := strings.LastIndex(stem, policySep)
	if i < 0 || i+len(policySep) >= len(stem) {
		return "", false
	}
	return stem[i+len(policySep):], true
}

// Sweeper runs Purge over a set of directories on a fixed interval.
type Sweeper struct {
	registry *Registry
	dirs     []string
	interval time.Duration
	logger   *slog.Logger
	onPurge  func(dir string, n int)
}

// NewSweeper builds a sweeper. A non-positive interval defaults to a minute.
func NewSweeper(registry *Registry, interval time.Duration, logger *slog.Logger, dirs ...string) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{registry: registry, dirs: dirs, interval: interval, logger: logger}
}

// SetPurgeHook registers fn to be called after a sweep removed n > 0 files
// from dir. Call it before Run.
func (s *Sweeper) SetPurgeHook(fn func(dir string, n int)) {
	s.onPurge = fn
}

// Run purges until ctx is done. It returns ctx.Err().
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.SweepOnce()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SweepOnce purges every directory once.
func (s *Sweeper) SweepOnce() int {
	var total int
	for _, dir := range s.dirs {
		n, err := s.registry.Purge(dir)
		total += n
		if n > 0 && s.onPurge != nil {
			s.onPurge(dir, n)
		}
		if err != nil && s.logger != nil {
			s.logger.Error("retention purge failed",
				"dir", dir,
				"error", err,
			)
		}
	}
	return total
}
