package audit

import (
	"context"
	"time"
)

// EventCategory decides where an event is routed and how long it is kept.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance:
	// verification decisions, enrollments, retained biometric artifacts.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to fraud monitoring, such as a
	// new enrollment resembling an existing subject.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers pipeline progress useful for debugging.
	// These can be sampled or aggregated with shorter retention.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the verification pipeline to capture key actions.
// It never carries raw biometric data or document fields; subjects are
// referenced by their hashed identifier only.
type Event struct {
	ID        string
	Category  EventCategory
	Timestamp time.Time
	RequestID string
	Action    string
	// Stage is the pipeline stage the event was raised at.
	Stage    string
	Decision string
	Reason   string
	// SubjectIDHash is the keyed hash of the document identifier.
	SubjectIDHash string
	// Detail is a short free-form annotation, e.g. a retention policy name.
	Detail string
}

type AuditEvent string

const (
	EventStageEntered          AuditEvent = "stage_entered"
	EventVerificationCompleted AuditEvent = "verification_completed"
	EventVerificationRejected  AuditEvent = "verification_rejected"
	EventSubjectEnrolled       AuditEvent = "subject_enrolled"
	EventDuplicateDetected     AuditEvent = "duplicate_detected"
	EventArtifactRetained      AuditEvent = "artifact_retained"
	EventArtifactsPurged       AuditEvent = "artifacts_purged"
	EventCollaboratorFailed    AuditEvent = "collaborator_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventVerificationCompleted: CategoryCompliance,
	EventVerificationRejected:  CategoryCompliance,
	EventSubjectEnrolled:       CategoryCompliance,
	EventArtifactRetained:      CategoryCompliance,
	EventArtifactsPurged:       CategoryCompliance,

	EventDuplicateDetected:  CategorySecurity,
	EventCollaboratorFailed: CategorySecurity,

	EventStageEntered: CategoryOperations,
}

// Category looks the event up; anything unlisted is operations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister is implemented by stores that can be queried.
type Lister interface {
	ListByRequest(ctx context.Context, requestID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Emitter is what domain code depends on to record events.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}
