package verification

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentUnreadable      = errors.New("document unreadable")
	ErrFaceNotDetected         = errors.New("face not detected")
	ErrLivenessFailed          = errors.New("liveness check failed")
	ErrReconstructionFailed    = errors.New("reconstruction failed")
	ErrRegistrationFailed      = errors.New("registration failed")
	ErrFaceMismatch            = errors.New("face mismatch")
	ErrFusionFailed            = errors.New("fusion failed")
	ErrEnrollmentFailed        = errors.New("enrollment failed")
	ErrStageTimeout            = errors.New("stage timed out")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrRequestCancelled        = errors.New("request cancelled")
)

var reasonErrors = map[Reason]error{
	ReasonDocumentUnreadable:      ErrDocumentUnreadable,
	ReasonFaceNotDetected:         ErrFaceNotDetected,
	ReasonLivenessFailed:          ErrLivenessFailed,
	ReasonReconstructionFailed:    ErrReconstructionFailed,
	ReasonRegistrationFailed:      ErrRegistrationFailed,
	ReasonFaceMismatch:            ErrFaceMismatch,
	ReasonFusionFailed:            ErrFusionFailed,
	ReasonEnrollmentFailed:        ErrEnrollmentFailed,
	ReasonStageTimeout:            ErrStageTimeout,
	ReasonCollaboratorUnavailable: ErrCollaboratorUnavailable,
	ReasonRequestCancelled:        ErrRequestCancelled,
}

// Err returns the sentinel for the reason, or nil for ReasonNone.
func (r Reason) Err() error {
	return reasonErrors[r]
}

// StageError is a rejection at a stage. It matches both the reason's
// sentinel and the underlying cause with errors.Is.
type StageError struct {
	Stage  Stage
	Reason Reason
	Err    error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s at %s", e.Reason, e.Stage)
	}
	return fmt.Sprintf("%s at %s: %v", e.Reason, e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Reason.Err(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Loud reports whether the rejection must surface as an error from Verify
// rather than as a routine outcome.
func (e *StageError) Loud() bool {
	return e.Reason == ReasonCollaboratorUnavailable || e.Reason == ReasonRequestCancelled
}

func reject(stage Stage, reason Reason, err error) *StageError {
	return &StageError{Stage: stage, Reason: reason, Err: err}
}

// ReasonOf extracts the rejection reason from an error returned by Verify.
func ReasonOf(err error) (Reason, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Reason, true
	}
	return ReasonNone, false
}
