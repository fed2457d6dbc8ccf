package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Adapters and stores return these
// (optionally wrapped) so the pipeline can classify failures without knowing
// which backend produced them.
//
//   - ErrUnavailable: a collaborator, store or encryption backend cannot be
//     reached or refuses service; callers must not treat it as a rejection.
//   - ErrInvalidData: a backend answered, but with data that fails
//     validation (malformed mesh, missing score).
var (
	ErrUnavailable = errors.New("unavailable")
	ErrInvalidData = errors.New("invalid data")
)
