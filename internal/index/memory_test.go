package index

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type MemorySuite struct {
	suite.Suite
	index *Memory
}

func TestMemorySuite(t *testing.T) {
	suite.Run(t, new(MemorySuite))
}

func (s *MemorySuite) SetupTest() {
	idx, err := NewMemory(3)
	s.Require().NoError(err)
	s.index = idx
}

func (s *MemorySuite) TestNewMemory() {
	_, err := NewMemory(0)
	s.Error(err)
}

func (s *MemorySuite) TestQueryOrdering() {
	ctx := context.Background()
	s.Require().NoError(s.index.Insert(ctx, []float32{1, 0, 0}, "alice"))
	s.Require().NoError(s.index.Insert(ctx, []float32{0, 1, 0}, "bob"))
	s.Require().NoError(s.index.Insert(ctx, []float32{1, 1, 0}, "carol"))

	s.Run("most similar first", func() {
		got, err := s.index.Query(ctx, []float32{2, 0, 0}, 3)
		s.Require().NoError(err)
		s.Require().Len(got, 3)
		s.Equal("alice", got[0].SubjectID)
		s.InDelta(1.0, got[0].Similarity, 1e-9)
		s.Equal("carol", got[1].SubjectID)
		s.Equal("bob", got[2].SubjectID)
		s.InDelta(0.0, got[2].Similarity, 1e-9)
	})

	s.Run("k truncates", func() {
		got, err := s.index.Query(ctx, []float32{0, 1, 0}, 1)
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal("bob", got[0].SubjectID)
	})

	s.Run("ties are broken by subject id", func() {
		s.Require().NoError(s.index.Insert(ctx, []float32{0, 0, 5}, "zed"))
		s.Require().NoError(s.index.Insert(ctx, []float32{0, 0, 1}, "amy"))
		got, err := s.index.Query(ctx, []float32{0, 0, 1}, 2)
		s.Require().NoError(err)
		s.Equal([]string{"amy", "zed"}, []string{got[0].SubjectID, got[1].SubjectID})
	})
}

func (s *MemorySuite) TestInsert() {
	ctx := context.Background()

	s.Run("re-inserting a subject replaces its vector", func() {
		s.Require().NoError(s.index.Insert(ctx, []float32{1, 0, 0}, "dave"))
		s.Require().NoError(s.index.Insert(ctx, []float32{0, 1, 0}, "dave"))
		s.Equal(1, s.index.Len())

		got, err := s.index.Query(ctx, []float32{0, 1, 0}, 1)
		s.Require().NoError(err)
		s.InDelta(1.0, got[0].Similarity, 1e-9)
	})

	s.Run("caller's slice is copied", func() {
		vec := []float32{0, 0, 1}
		s.Require().NoError(s.index.Insert(ctx, vec, "erin"))
		vec[2] = -1
		got, err := s.index.Query(ctx, []float32{0, 0, 1}, 1)
		s.Require().NoError(err)
		s.Equal("erin", got[0].SubjectID)
	})

	s.Run("invalid input is rejected", func() {
		s.ErrorIs(s.index.Insert(ctx, []float32{1, 0}, "x"), ErrDimensionMismatch)
		s.ErrorIs(s.index.Insert(ctx, []float32{0, 0, 0}, "x"), ErrZeroVector)
		s.ErrorIs(s.index.Insert(ctx, []float32{1, 0, 0}, ""), ErrEmptySubject)

		_, err := s.index.Query(ctx, []float32{1}, 1)
		s.ErrorIs(err, ErrDimensionMismatch)
		_, err = s.index.Query(ctx, []float32{1, 0, 0}, 0)
		s.ErrorIs(err, ErrInvalidK)
	})

	s.Run("cancelled context", func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		s.ErrorIs(s.index.Insert(cctx, []float32{1, 0, 0}, "y"), context.Canceled)
	})
}

func (s *MemorySuite) TestEmptyIndex() {
	got, err := s.index.Query(context.Background(), []float32{1, 0, 0}, 5)
	s.NoError(err)
	s.Empty(got)
}

func (s *MemorySuite) TestConcurrentAccess() {
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.NoError(s.index.Insert(ctx, []float32{float32(i + 1), 1, 0}, fmt.Sprintf("s%02d", i)))
		}()
		go func() {
			defer wg.Done()
			_, err := s.index.Query(ctx, []float32{1, 1, 1}, 3)
			s.NoError(err)
		}()
	}
	wg.Wait()
	s.Equal(20, s.index.Len())
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(in) != fmt.Sprint(out) {
		t.Fatalf("got %v, want %v", out, in)
	}
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected misaligned payload to fail")
	}
}
