package ports

import (
	"context"
	"image"

	"veriface/internal/geometry"
)

// DocumentReader extracts labelled fields from an identity document image.
// An unreadable document yields an empty mapping rather than an error.
type DocumentReader interface {
	ReadFields(ctx context.Context, idImage []byte) (map[string]string, error)
}

// FaceDetector locates the face region in an image. It is optional; without
// one the whole frame is treated as the face crop.
type FaceDetector interface {
	Detect(ctx context.Context, img []byte, source geometry.Source) (geometry.FaceCrop, error)
}

// LivenessGate scores whether a selfie crop shows a live person.
// Scores are in [0, 1]; higher is more likely live.
type LivenessGate interface {
	Score(ctx context.Context, crop geometry.FaceCrop) (float64, error)
}

// Reconstructor builds a 3D face mesh from a single crop.
type Reconstructor interface {
	Reconstruct(ctx context.Context, crop geometry.FaceCrop) (*geometry.Mesh, error)
}

// Registrar computes the rigid transform aligning source onto target.
// Quality is engine specific; it is recorded, not interpreted.
type Registrar interface {
	Register(ctx context.Context, source, target []geometry.Vec3, threshold float64) (geometry.Transform, float64, error)
}

// Fuser merges aligned point sets into a single connected surface.
type Fuser interface {
	Fuse(ctx context.Context, pointSets [][]geometry.Vec3, depth int) (*geometry.Mesh, error)
}

// Embedder maps a canonical rendering to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, canonical image.Image) ([]float32, error)
}

// Index stores subject embeddings and answers nearest-neighbour queries.
type Index interface {
	// Insert stores vec for subjectID, replacing any earlier vector.
	Insert(ctx context.Context, vec []float32, subjectID string) error

	// Query returns at most k matches, most similar first.
	Query(ctx context.Context, vec []float32, k int) ([]Match, error)
}

// Match is one index hit. Similarity is cosine similarity in [-1, 1].
type Match struct {
	SubjectID  string  `json:"subject_id"`
	Similarity float64 `json:"similarity"`
}
