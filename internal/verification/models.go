package verification

import (
	"time"

	"veriface/internal/geometry"
	"veriface/internal/verification/ports"
)

// Status is the terminal state of a verification.
type Status string

const (
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// Stage names are stable: they appear in audit events, spans and outcomes.
type Stage string

const (
	StageReceived       Stage = "received"
	StageFieldsParsed   Stage = "fields_parsed"
	StageLivenessPassed Stage = "liveness_passed"
	StageReconstructed  Stage = "reconstructed"
	StageAligned        Stage = "aligned"
	StageMatched        Stage = "matched"
	StageFused          Stage = "fused"
	StageVerified       Stage = "verified"
)

// Reason explains a rejection. Values are stable.
type Reason string

const (
	ReasonNone                    Reason = ""
	ReasonDocumentUnreadable      Reason = "document_unreadable"
	ReasonFaceNotDetected         Reason = "face_not_detected"
	ReasonLivenessFailed          Reason = "liveness_failed"
	ReasonReconstructionFailed    Reason = "reconstruction_failed"
	ReasonRegistrationFailed      Reason = "registration_failed"
	ReasonFaceMismatch            Reason = "face_mismatch"
	ReasonFusionFailed            Reason = "fusion_failed"
	ReasonEnrollmentFailed        Reason = "enrollment_failed"
	ReasonStageTimeout            Reason = "stage_timeout"
	ReasonCollaboratorUnavailable Reason = "collaborator_unavailable"
	ReasonRequestCancelled        Reason = "request_cancelled"
)

// Request is one verification attempt. The service copies both images into
// the request workspace; the caller's slices are never retained.
type Request struct {
	IDImage     []byte
	SelfieImage []byte
	// RequestID correlates logs and audit events. When empty the id carried
	// by ctx is used, or a fresh one is generated.
	RequestID string
}

// AlignmentResult is the rigid transform taking selfie points into the ID
// mesh frame.
type AlignmentResult struct {
	Transform geometry.Transform `json:"transform"`
	Quality   float64            `json:"quality"`
}

// MatchDecision compares the ID mesh (A) with the aligned selfie mesh (B).
// Only MeanDistanceBToA decides; the other distances are reported.
type MatchDecision struct {
	Verified         bool    `json:"verified"`
	MeanDistanceAToB float64 `json:"mean_distance_a_to_b"`
	MeanDistanceBToA float64 `json:"mean_distance_b_to_a"`
	MaxDistance      float64 `json:"max_distance"`
	Threshold        float64 `json:"threshold"`
}

// StageRecord notes when the pipeline entered a stage.
type StageRecord struct {
	Stage   Stage         `json:"stage"`
	At      time.Time     `json:"at"`
	Elapsed time.Duration `json:"elapsed"`
}

// Outcome is the result of Verify. Rejected outcomes carry a Reason; the
// Match and Alignment are filled in as far as the pipeline got.
type Outcome struct {
	Status     Status            `json:"status"`
	Reason     Reason            `json:"reason,omitempty"`
	RequestID  string            `json:"request_id"`
	SubjectID  string            `json:"subject_id,omitempty"`
	Fields     map[string]string `json:"-"`
	Match      *MatchDecision    `json:"match,omitempty"`
	Alignment  *AlignmentResult  `json:"alignment,omitempty"`
	Duplicates []ports.Match     `json:"duplicates,omitempty"`
	Stages     []StageRecord     `json:"stages"`
	// RetainedArtifact is the tagged path of the fused mesh when retention
	// is enabled.
	RetainedArtifact string `json:"retained_artifact,omitempty"`
}

// Hausdorff returns the symmetric Hausdorff distance between the ID mesh and
// the aligned selfie mesh, or zero if matching never ran.
func (o *Outcome) Hausdorff() float64 {
	if o == nil || o.Match == nil {
		return 0
	}
	return o.Match.MaxDistance
}

// LastStage returns the furthest stage reached.
func (o *Outcome) LastStage() Stage {
	if o == nil || len(o.Stages) == 0 {
		return ""
	}
	return o.Stages[len(o.Stages)-1].Stage
}

// Collaborators bundles the external ports. Detector is optional.
type Collaborators struct {
	Reader        ports.DocumentReader
	Detector      ports.FaceDetector
	Liveness      ports.LivenessGate
	Reconstructor ports.Reconstructor
	Registrar     ports.Registrar
	Fuser         ports.Fuser
	Embedder      ports.Embedder
	Index         ports.Index
}

// Config holds the pipeline's tunables. It is built once at startup.
type Config struct {
	// LivenessThreshold is the minimum accepted liveness score in [0, 1].
	LivenessThreshold float64
	// MatchThreshold is the maximum mean selfie-to-ID surface distance, in
	// the reconstructor's units. See DESIGN.md for calibration.
	MatchThreshold float64
	// RegistrationThreshold is passed through to the registration engine.
	RegistrationThreshold float64
	FusionDepth           int
	// StageTimeout bounds every individual collaborator call.
	StageTimeout time.Duration
	// MaxConcurrentCalls bounds in-flight collaborator calls across requests.
	MaxConcurrentCalls int64
	DuplicateTopK      int
	// DuplicateThreshold is the cosine similarity at which another subject
	// is reported as a likely duplicate.
	DuplicateThreshold float64
	RenderSize         int

	// WorkDir holds per-request workspaces.
	WorkDir string
	// ArtifactDir receives retained fused meshes.
	ArtifactDir string
	// RetainFusedPolicy, when set, keeps the fused mesh under that
	// retention policy instead of wiping it with the request.
	RetainFusedPolicy string

	HashSalt   string
	HashPepper string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		LivenessThreshold:     0.5,
		MatchThreshold:        1e-3,
		RegistrationThreshold: 0.02,
		FusionDepth:           8,
		StageTimeout:          10 * time.Second,
		MaxConcurrentCalls:    16,
		DuplicateTopK:         5,
		DuplicateThreshold:    0.95,
		RenderSize:            112,
		WorkDir:               "/tmp/veriface/work",
		ArtifactDir:           "/tmp/veriface/artifacts",
	}
}
