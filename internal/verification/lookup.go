package verification

import (
	"context"
	"errors"
	"image"

	"veriface/internal/geometry"
	"veriface/internal/render"
	"veriface/internal/verification/ports"
)

// ErrInvalidLookup is returned for lookups with nothing to search for.
var ErrInvalidLookup = errors.New("invalid lookup")

// Lookup embeds an already rendered canonical image and returns the k most
// similar enrolled subjects. Failures are returned as *StageError with
// reason enrollment_failed, stage_timeout or collaborator_unavailable.
func (s *Service) Lookup(ctx context.Context, canonical image.Image, k int) ([]ports.Match, error) {
	if canonical == nil || canonical.Bounds().Empty() {
		return nil, ErrInvalidLookup
	}
	if k <= 0 {
		k = s.cfg.DuplicateTopK
	}
	ctx, span := s.tracer.Start(ctx, "verification.Lookup")
	defer span.End()

	var vec []float32
	if serr := s.call(ctx, StageFused, "embed", ReasonEnrollmentFailed, func(ctx context.Context) error {
		var err error
		vec, err = s.collab.Embedder.Embed(ctx, canonical)
		return err
	}); serr != nil {
		return nil, serr
	}

	var matches []ports.Match
	if serr := s.call(ctx, StageFused, "index_query", ReasonEnrollmentFailed, func(ctx context.Context) error {
		var err error
		matches, err = s.collab.Index.Query(ctx, vec, k)
		return err
	}); serr != nil {
		return nil, serr
	}
	return matches, nil
}

// LookupMesh renders mesh canonically, then runs Lookup.
func (s *Service) LookupMesh(ctx context.Context, mesh *geometry.Mesh, k int) ([]ports.Match, error) {
	if err := mesh.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidLookup, err)
	}
	canonical, err := render.Depth(mesh, s.cfg.RenderSize)
	if err != nil {
		return nil, errors.Join(ErrInvalidLookup, err)
	}
	defer clear(canonical.Pix)
	return s.Lookup(ctx, canonical, k)
}
