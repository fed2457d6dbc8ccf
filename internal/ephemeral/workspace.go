package ephemeral

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Releaser is anything a workspace can release at scope exit.
type Releaser interface {
	Release() error
}

// Workspace is the per-request arena. Every byte buffer and file created
// while serving one request is owned here and destroyed by Release,
// whichever way the request ends.
type Workspace struct {
	id    string
	key   string
	dir   string
	store *Store

	mu       sync.Mutex
	buffers  [][]byte
	owned    []Releaser
	released bool
}

// Workspace opens a fresh arena for requestID. Files go to
// dir/{requestID}.{token}, so callers that reuse a request id still get
// separate arenas.
func (s *Store) Workspace(requestID, dir string) (*Workspace, error) {
	if requestID == "" {
		return nil, errors.New("ephemeral: request id is required")
	}
	if filepath.Base(requestID) != requestID {
		return nil, fmt.Errorf("ephemeral: invalid request id %q", requestID)
	}
	for range maxAcquireTries {
		token, err := s.token()
		if err != nil {
			return nil, err
		}
		key := requestID + "." + token
		s.mu.Lock()
		if _, taken := s.workspaces[key]; taken {
			s.mu.Unlock()
			continue
		}
		w := &Workspace{
			id:    requestID,
			key:   key,
			dir:   filepath.Join(dir, key),
			store: s,
		}
		s.workspaces[key] = w
		s.mu.Unlock()
		return w, nil
	}
	return nil, fmt.Errorf("workspace for request %q: %w", requestID, ErrCollision)
}

// ID returns the request id the workspace belongs to.
func (w *Workspace) ID() string { return w.id }

// Dir returns the directory scoped files are created in.
func (w *Workspace) Dir() string { return w.dir }

// Buffer copies data into a workspace-owned slice. The copy is zeroed on
// Release, so callers must not retain it past the request.
func (w *Workspace) Buffer(data []byte) []byte {
	buf := append([]byte(nil), data...)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		clear(buf)
		return buf
	}
	w.buffers = append(w.buffers, buf)
	return buf
}

// Writer returns a workspace-owned Buffer with room for sizeHint bytes. It
// is zeroed on Release.
func (w *Workspace) Writer(sizeHint int) *Buffer {
	b := NewBuffer(sizeHint)
	w.Track(b)
	return b
}

// Acquire creates a scoped file owned by this workspace.
func (w *Workspace) Acquire(prefix, suffix string) (*ScopedFile, error) {
	w.mu.Lock()
	released := w.released
	w.mu.Unlock()
	if released {
		return nil, ErrReleased
	}
	f, err := w.store.AcquireScopedFile(w.dir, prefix, suffix)
	if err != nil {
		return nil, err
	}
	w.Track(f)
	return f, nil
}

// Track hands r to the workspace. If the workspace is already released, r is
// released immediately.
func (w *Workspace) Track(r Releaser) {
	w.mu.Lock()
	if !w.released {
		w.owned = append(w.owned, r)
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	_ = r.Release()
}

// Release zeroes every buffer and releases every owned artifact. Artifacts
// that were detached or already released are skipped. It is safe to call
// more than once.
func (w *Workspace) Release() error {
	w.mu.Lock()
	if w.released {
		w.mu.Unlock()
		return nil
	}
	w.released = true
	buffers, owned := w.buffers, w.owned
	w.buffers, w.owned = nil, nil
	w.mu.Unlock()

	for _, b := range buffers {
		clear(b)
	}
	var errs []error
	for _, r := range owned {
		if err := r.Release(); err != nil && !errors.Is(err, ErrReleased) {
			errs = append(errs, err)
		}
	}

	// Only succeeds when empty; anything left behind is reported above.
	_ = os.Remove(w.dir)

	w.store.mu.Lock()
	delete(w.store.workspaces, w.key)
	w.store.mu.Unlock()
	return errors.Join(errs...)
}
