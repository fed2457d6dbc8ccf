// Package index stores subject embeddings and answers exact cosine
// nearest-neighbour queries. Memory keeps vectors in process; Redis keeps
// them in a single hash so several verifiers can share one index.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"veriface/internal/verification/ports"
)

var (
	ErrDimensionMismatch = errors.New("index: embedding dimension mismatch")
	ErrZeroVector        = errors.New("index: embedding has zero norm")
	ErrEmptySubject      = errors.New("index: subject id is required")
	ErrInvalidK          = errors.New("index: k must be positive")
)

var (
	_ ports.Index = (*Memory)(nil)
	_ ports.Index = (*Redis)(nil)
)

// entry is a stored vector with its norm precomputed.
type entry struct {
	subject string
	vec     []float32
	norm    float64
}

func newEntry(subject string, vec []float32) (entry, error) {
	n := norm(vec)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return entry{}, ErrZeroVector
	}
	return entry{subject: subject, vec: append([]float32(nil), vec...), norm: n}, nil
}

func checkInsert(dim int, vec []float32, subjectID string) error {
	if subjectID == "" {
		return ErrEmptySubject
	}
	return checkDim(dim, vec)
}

func checkDim(dim int, vec []float32) error {
	if len(vec) != dim {
		return fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, dim, len(vec))
	}
	return nil
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(q []float32, qnorm float64, e entry) float64 {
	var dot float64
	for i, x := range q {
		dot += float64(x) * float64(e.vec[i])
	}
	return dot / (qnorm * e.norm)
}

// rank scores every entry against q and returns the top k, most similar
// first with ties broken by subject id.
func rank(q []float32, entries []entry, k int) ([]ports.Match, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	qn := norm(q)
	if qn == 0 || math.IsNaN(qn) || math.IsInf(qn, 0) {
		return nil, ErrZeroVector
	}
	matches := make([]ports.Match, 0, len(entries))
	for _, e := range entries {
		matches = append(matches, ports.Match{SubjectID: e.subject, Similarity: cosine(q, qn, e)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].SubjectID < matches[j].SubjectID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
