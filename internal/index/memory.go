package index

import (
	"context"
	"errors"
	"sync"

	"veriface/internal/verification/ports"
)

// Memory is an exact flat index held in process memory. Inserting a subject
// that already exists replaces its vector.
type Memory struct {
	mu      sync.RWMutex
	dim     int
	entries []entry
	pos     map[string]int
}

// NewMemory creates an empty index for vectors of length dim.
func NewMemory(dim int) (*Memory, error) {
	if dim <= 0 {
		return nil, errors.New("index dimension must be positive")
	}
	return &Memory{dim: dim, pos: make(map[string]int)}, nil
}

// Dimension returns the vector length the index accepts.
func (m *Memory) Dimension() int { return m.dim }

// Len returns the number of stored subjects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Insert(ctx context.Context, vec []float32, subjectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkInsert(m.dim, vec, subjectID); err != nil {
		return err
	}
	e, err := newEntry(subjectID, vec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.pos[subjectID]; ok {
		m.entries[i] = e
		return nil
	}
	m.pos[subjectID] = len(m.entries)
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) Query(ctx context.Context, vec []float32, k int) ([]ports.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkDim(m.dim, vec); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return rank(vec, m.entries, k)
}
