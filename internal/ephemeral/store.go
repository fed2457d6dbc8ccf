// Package ephemeral manages the lifetime of biometric artifacts: scoped
// temporary files that are wiped on release, per-request workspaces, retention
// tagging with age-based purge, identifier hashing, and an encrypted file
// variant.
//
// Wiping is best-effort. Files are overwritten with random bytes, then zero
// bytes, synced and unlinked. On SSDs with wear levelling, on copy-on-write or
// journaling filesystems, and under snapshots, earlier copies of the data can
// survive. Callers that need stronger guarantees must keep artifacts on
// encrypted storage (see EncryptedFileManager) and treat wiping as hygiene,
// not as a forensic control.
//
// In-memory plaintext gets the same treatment. Buffer and EncryptedScopedFile
// zero every backing array they outgrow and everything they hold on release,
// but formatting and I/O layers such as fmt and bufio keep short-lived
// copies of their own, and the garbage collector may have moved or copied
// memory before it is cleared.
package ephemeral

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const (
	tokenBytes      = 16
	maxAcquireTries = 8
	wipeChunk       = 64 * 1024
)

var (
	ErrReleased  = errors.New("ephemeral: handle already released")
	ErrCollision = errors.New("ephemeral: could not allocate a unique file name")
)

// Store hands out scoped files and tracks every live handle and workspace so
// none can collide or be forgotten at shutdown.
type Store struct {
	mu         sync.Mutex
	live       map[string]*ScopedFile
	workspaces map[string]*Workspace

	random  io.Reader
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for wipe failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithRandom replaces the token and overwrite source. Tests use it to force
// name collisions.
func WithRandom(r io.Reader) Option {
	return func(s *Store) {
		s.random = r
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		live:       make(map[string]*ScopedFile),
		workspaces: make(map[string]*Workspace),
		random:     rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AcquireScopedFile creates a new empty file named {prefix}{token}{suffix}
// in dir. The name never collides with a live handle or an existing file.
func (s *Store) AcquireScopedFile(dir, prefix, suffix string) (*ScopedFile, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	for range maxAcquireTries {
		token, err := s.token()
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, prefix+token+suffix)

		s.mu.Lock()
		if _, taken := s.live[path]; taken {
			s.mu.Unlock()
			continue
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, os.ErrExist) {
			s.mu.Unlock()
			continue
		}
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("create scoped file: %w", err)
		}
		sf := &ScopedFile{path: path, file: f, store: s}
		s.live[path] = sf
		s.mu.Unlock()

		s.metrics.SetLiveHandles(s.LiveCount())
		return sf, nil
	}
	return nil, ErrCollision
}

// LiveCount returns the number of unreleased scoped files.
func (s *Store) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Close releases every live workspace and scoped file.
func (s *Store) Close() error {
	s.mu.Lock()
	workspaces := make([]*Workspace, 0, len(s.workspaces))
	for _, w := range s.workspaces {
		workspaces = append(workspaces, w)
	}
	files := make([]*ScopedFile, 0, len(s.live))
	for _, f := range s.live {
		files = append(files, f)
	}
	s.mu.Unlock()

	var errs []error
	for _, w := range workspaces {
		errs = append(errs, w.Release())
	}
	for _, f := range files {
		if err := f.Release(); err != nil && !errors.Is(err, ErrReleased) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) token() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("generate file token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (s *Store) forget(path string) {
	s.mu.Lock()
	delete(s.live, path)
	n := len(s.live)
	s.mu.Unlock()
	s.metrics.SetLiveHandles(n)
}

// ScopedFile is a temporary artifact that is wiped when released.
type ScopedFile struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	store    *Store
	released bool
}

// Path returns the file's location on disk.
func (f *ScopedFile) Path() string { return f.path }

// Write appends p to the file.
func (f *ScopedFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return 0, ErrReleased
	}
	return f.file.Write(p)
}

// WriteAll replaces the file contents with data.
func (f *ScopedFile) WriteAll(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return ErrReleased
	}
	if err := f.file.Truncate(0); err != nil {
		return err
	}
	if _, err := f.file.WriteAt(data, 0); err != nil {
		return err
	}
	_, err := f.file.Seek(int64(len(data)), io.SeekStart)
	return err
}

// ReadAll returns the current file contents.
func (f *ScopedFile) ReadAll() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return nil, ErrReleased
	}
	return os.ReadFile(f.path)
}

// Detach hands the file over to the caller: it is closed and removed from
// the store's live set without being wiped. Used when an artifact outlives
// its request under a retention policy.
func (f *ScopedFile) Detach() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return "", ErrReleased
	}
	f.released = true
	err := f.file.Close()
	f.store.forget(f.path)
	return f.path, err
}

// Release overwrites the file with random bytes, then zeros, and deletes
// it. Calling Release more than once returns ErrReleased.
func (f *ScopedFile) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return ErrReleased
	}
	f.released = true
	_ = f.file.Close()
	err := wipeFile(f.path, f.store.random)
	f.store.forget(f.path)

	if err != nil {
		f.store.metrics.IncWipeFailures()
		if f.store.logger != nil {
			f.store.logger.Warn("scoped file wipe failed",
				"path", f.path,
				"error", err,
			)
		}
		return err
	}
	f.store.metrics.IncFilesWiped()
	return nil
}

// Wipe overwrites and removes a file that is not held by a ScopedFile, such
// as a detached artifact that could not be tagged.
func Wipe(path string) error {
	return wipeFile(path, rand.Reader)
}

// wipeFile overwrites path with random bytes and then zero bytes before
// unlinking it. A missing file is not an error.
func wipeFile(path string, random io.Reader) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	size := info.Size()
	if size > 0 {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return fmt.Errorf("open for wipe: %w", err)
		}
		werr := overwrite(f, size, random)
		if werr == nil {
			werr = overwrite(f, size, nil)
		}
		cerr := f.Close()
		if werr != nil {
			return werr
		}
		if cerr != nil {
			return cerr
		}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove wiped file: %w", err)
	}
	return nil
}

// overwrite writes size bytes from src (zeros when src is nil) at offset 0
// and syncs.
func overwrite(f *os.File, size int64, src io.Reader) error {
	buf := make([]byte, wipeChunk)
	var off int64
	for off < size {
		n := int64(len(buf))
		if size-off < n {
			n = size - off
		}
		chunk := buf[:n]
		if src != nil {
			if _, err := io.ReadFull(src, chunk); err != nil {
				return fmt.Errorf("read wipe bytes: %w", err)
			}
		} else {
			clear(chunk)
		}
		if _, err := f.WriteAt(chunk, off); err != nil {
			return fmt.Errorf("overwrite: %w", err)
		}
		off += n
	}
	return f.Sync()
}
