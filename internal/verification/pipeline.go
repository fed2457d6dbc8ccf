package verification

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"veriface/internal/distance"
	"veriface/internal/ephemeral"
	"veriface/internal/geometry"
	"veriface/internal/render"
	"veriface/internal/verification/ports"
	"veriface/pkg/platform/audit"
)

// run carries the state of one Verify call through the stages.
type run struct {
	svc   *Service
	ws    *ephemeral.Workspace
	out   *Outcome
	start time.Time

	// Workspace-owned copies of the request images.
	id   []byte
	self []byte
}

func (r *run) enter(ctx context.Context, stage Stage) {
	now := r.svc.now()
	r.out.Stages = append(r.out.Stages, StageRecord{Stage: stage, At: now, Elapsed: now.Sub(r.start)})
	r.svc.emit(ctx, audit.EventStageEntered, r.out, string(stage), "")
}

// pipeline walks the state machine. Each step either advances to the next
// stage or returns the rejection that ends the request.
func (r *run) pipeline(ctx context.Context) *StageError {
	r.enter(ctx, StageReceived)

	fields, serr := r.readFields(ctx)
	if serr != nil {
		return serr
	}
	r.out.Fields = fields
	r.out.SubjectID = fields.SubjectID(r.svc.cfg.HashSalt, r.svc.cfg.HashPepper)
	r.enter(ctx, StageFieldsParsed)

	idCrop, selfieCrop, serr := r.detect(ctx)
	if serr != nil {
		return serr
	}
	if serr := r.liveness(ctx, selfieCrop); serr != nil {
		return serr
	}
	r.enter(ctx, StageLivenessPassed)

	idMesh, selfieMesh, serr := r.reconstruct(ctx, idCrop, selfieCrop)
	if serr != nil {
		return serr
	}
	r.enter(ctx, StageReconstructed)

	aligned, serr := r.align(ctx, idMesh, selfieMesh)
	if serr != nil {
		return serr
	}
	r.enter(ctx, StageAligned)

	if serr := r.match(idMesh.Vertices, aligned); serr != nil {
		return serr
	}
	r.enter(ctx, StageMatched)

	fused, serr := r.fuse(ctx, idMesh.Vertices, aligned)
	if serr != nil {
		return serr
	}
	r.enter(ctx, StageFused)

	if serr := r.enroll(ctx, fused); serr != nil {
		return serr
	}
	// Only an enrolled subject keeps an artifact past the request.
	r.retain(ctx, fused)
	r.enter(ctx, StageVerified)
	return nil
}

func (r *run) readFields(ctx context.Context) (DocumentFields, *StageError) {
	var raw map[string]string
	serr := r.svc.call(ctx, StageReceived, "read_fields", ReasonDocumentUnreadable, func(ctx context.Context) error {
		var err error
		raw, err = r.svc.collab.Reader.ReadFields(ctx, r.id)
		return err
	})
	if serr != nil {
		return nil, serr
	}
	fields := copyFields(raw)
	if _, ok := fields.DateOfBirth(); !ok {
		return nil, reject(StageReceived, ReasonDocumentUnreadable, errors.New("no date of birth on document"))
	}
	return fields, nil
}

// detect crops the face from both captures. Without a detector the whole
// frame is the crop and Bounds is left empty.
func (r *run) detect(ctx context.Context) (geometry.FaceCrop, geometry.FaceCrop, *StageError) {
	idCrop := geometry.FaceCrop{Image: r.id, Source: geometry.SourceID}
	selfieCrop := geometry.FaceCrop{Image: r.self, Source: geometry.SourceSelfie}
	if r.svc.collab.Detector == nil {
		return idCrop, selfieCrop, nil
	}

	crops := []*geometry.FaceCrop{&idCrop, &selfieCrop}
	for _, c := range crops {
		src := c.Source
		serr := r.svc.call(ctx, StageFieldsParsed, "detect_"+string(src), ReasonFaceNotDetected, func(ctx context.Context) error {
			got, err := r.svc.collab.Detector.Detect(ctx, c.Image, src)
			if err != nil {
				return err
			}
			if len(got.Image) == 0 {
				return fmt.Errorf("empty %s crop", src)
			}
			got.Image = r.ws.Buffer(got.Image)
			got.Source = src
			*c = got
			return nil
		})
		if serr != nil {
			return geometry.FaceCrop{}, geometry.FaceCrop{}, serr
		}
	}
	return idCrop, selfieCrop, nil
}

func (r *run) liveness(ctx context.Context, crop geometry.FaceCrop) *StageError {
	var score float64
	serr := r.svc.call(ctx, StageFieldsParsed, "liveness", ReasonLivenessFailed, func(ctx context.Context) error {
		var err error
		score, err = r.svc.collab.Liveness.Score(ctx, crop)
		return err
	})
	if serr != nil {
		return serr
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return reject(StageFieldsParsed, ReasonLivenessFailed, fmt.Errorf("liveness score %v outside [0, 1]", score))
	}
	if score < r.svc.cfg.LivenessThreshold {
		return reject(StageFieldsParsed, ReasonLivenessFailed, fmt.Errorf("liveness score %.3f below threshold %.3f", score, r.svc.cfg.LivenessThreshold))
	}
	return nil
}

// reconstruct builds both meshes concurrently; the first failure cancels the
// other call.
func (r *run) reconstruct(ctx context.Context, idCrop, selfieCrop geometry.FaceCrop) (*geometry.Mesh, *geometry.Mesh, *StageError) {
	g, gctx := errgroup.WithContext(ctx)
	var idMesh, selfieMesh *geometry.Mesh

	build := func(crop geometry.FaceCrop, dst **geometry.Mesh) func() error {
		return func() error {
			serr := r.svc.call(gctx, StageLivenessPassed, "reconstruct_"+string(crop.Source), ReasonReconstructionFailed, func(ctx context.Context) error {
				m, err := r.svc.collab.Reconstructor.Reconstruct(ctx, crop)
				if err != nil {
					return err
				}
				if m == nil {
					return geometry.ErrEmptyMesh
				}
				if err := m.Validate(); err != nil {
					return fmt.Errorf("%s mesh: %w", crop.Source, err)
				}
				// Take ownership so the reconstructor cannot mutate it later.
				m = m.Clone()
				m.Source = crop.Source
				*dst = m
				return nil
			})
			if serr != nil {
				return serr
			}
			return nil
		}
	}
	g.Go(build(idCrop, &idMesh))
	g.Go(build(selfieCrop, &selfieMesh))

	// Wait reports the first failure; the sibling it cancelled is dropped.
	if err := g.Wait(); err != nil {
		var serr *StageError
		if errors.As(err, &serr) {
			return nil, nil, serr
		}
		return nil, nil, reject(StageLivenessPassed, ReasonReconstructionFailed, err)
	}
	return idMesh, selfieMesh, nil
}

// align registers the selfie mesh onto the ID mesh and returns the selfie
// vertices in the ID frame.
func (r *run) align(ctx context.Context, idMesh, selfieMesh *geometry.Mesh) ([]geometry.Vec3, *StageError) {
	var (
		t       geometry.Transform
		quality float64
	)
	serr := r.svc.call(ctx, StageReconstructed, "register", ReasonRegistrationFailed, func(ctx context.Context) error {
		var err error
		t, quality, err = r.svc.collab.Registrar.Register(ctx, selfieMesh.Vertices, idMesh.Vertices, r.svc.cfg.RegistrationThreshold)
		return err
	})
	if serr != nil {
		return nil, serr
	}
	if !t.IsRigid(geometry.DefaultRigidTolerance) {
		return nil, reject(StageReconstructed, ReasonRegistrationFailed, geometry.ErrTransformNotRigid)
	}
	r.out.Alignment = &AlignmentResult{Transform: t, Quality: quality}
	return t.Apply(selfieMesh.Vertices), nil
}

func (r *run) match(idPoints, aligned []geometry.Vec3) *StageError {
	res, err := distance.Evaluate(idPoints, aligned)
	if err != nil {
		return reject(StageAligned, ReasonReconstructionFailed, err)
	}
	threshold := r.svc.cfg.MatchThreshold
	r.out.Match = &MatchDecision{
		Verified:         res.MeanBToA <= threshold,
		MeanDistanceAToB: res.MeanAToB,
		MeanDistanceBToA: res.MeanBToA,
		MaxDistance:      res.Max,
		Threshold:        threshold,
	}
	if !r.out.Match.Verified {
		return reject(StageAligned, ReasonFaceMismatch,
			fmt.Errorf("mean selfie-to-id distance %g exceeds %g", res.MeanBToA, threshold))
	}
	return nil
}

func (r *run) fuse(ctx context.Context, idPoints, aligned []geometry.Vec3) (*geometry.Mesh, *StageError) {
	var fused *geometry.Mesh
	serr := r.svc.call(ctx, StageMatched, "fuse", ReasonFusionFailed, func(ctx context.Context) error {
		m, err := r.svc.collab.Fuser.Fuse(ctx, [][]geometry.Vec3{idPoints, aligned}, r.svc.cfg.FusionDepth)
		if err != nil {
			return err
		}
		if m == nil {
			return geometry.ErrEmptyMesh
		}
		if err := m.Validate(); err != nil {
			return err
		}
		fused = m.Clone()
		fused.Source = geometry.SourceFused
		return nil
	})
	return fused, serr
}

// retain keeps the fused mesh past the request when a retention policy is
// configured. Failures are logged; they do not change the decision.
func (r *run) retain(ctx context.Context, fused *geometry.Mesh) {
	policy := r.svc.cfg.RetainFusedPolicy
	if policy == "" {
		return
	}
	path, err := r.writeArtifact(fused)
	if err == nil {
		var tagged string
		if tagged, err = r.svc.retention.Tag(path, policy); err != nil {
			_ = ephemeral.Wipe(path)
		}
		path = tagged
	}
	if err != nil {
		r.svc.logger.WarnContext(ctx, "failed to retain fused mesh",
			"request_id", r.out.RequestID,
			"policy", policy,
			"error", err,
		)
		return
	}
	r.out.RetainedArtifact = path
	r.svc.metrics.IncRetained()
	r.svc.emit(ctx, audit.EventArtifactRetained, r.out, string(StageFused), "")
}

// writeArtifact serialises the mesh to a scoped file in the artifact dir and
// detaches it from the workspace. Until it is detached the workspace owns
// it, so a failure part way leaves nothing behind.
func (r *run) writeArtifact(m *geometry.Mesh) (string, error) {
	buf := r.ws.Writer(geometry.PLYSizeHint(m))
	if err := geometry.WritePLY(buf, m); err != nil {
		return "", err
	}
	plain := buf.Bytes()

	if enc := r.svc.encryption; enc != nil {
		f, err := enc.Create(r.svc.cfg.ArtifactDir, "fused_", ".vfe")
		if err != nil {
			return "", err
		}
		r.ws.Track(f)
		f.Grow(len(plain))
		if _, err := f.Write(plain); err != nil {
			return "", err
		}
		if err := f.Seal(); err != nil {
			return "", err
		}
		return f.Detach()
	}

	f, err := r.svc.store.AcquireScopedFile(r.svc.cfg.ArtifactDir, "fused_", ".ply")
	if err != nil {
		return "", err
	}
	r.ws.Track(f)
	if err := f.WriteAll(plain); err != nil {
		return "", err
	}
	return f.Detach()
}

// enroll embeds the canonical rendering of the fused mesh, reports likely
// duplicates and stores the subject's vector.
func (r *run) enroll(ctx context.Context, fused *geometry.Mesh) *StageError {
	canonical, err := render.Depth(fused, r.svc.cfg.RenderSize)
	if err != nil {
		return reject(StageFused, ReasonEnrollmentFailed, err)
	}
	defer clear(canonical.Pix)

	var vec []float32
	serr := r.svc.call(ctx, StageFused, "embed", ReasonEnrollmentFailed, func(ctx context.Context) error {
		var err error
		vec, err = r.svc.collab.Embedder.Embed(ctx, canonical)
		if err == nil && len(vec) == 0 {
			err = errors.New("empty embedding")
		}
		return err
	})
	if serr != nil {
		return serr
	}
	defer clear(vec)

	var matches []ports.Match
	serr = r.svc.call(ctx, StageFused, "index_query", ReasonEnrollmentFailed, func(ctx context.Context) error {
		var err error
		matches, err = r.svc.collab.Index.Query(ctx, vec, r.svc.cfg.DuplicateTopK)
		return err
	})
	if serr != nil {
		return serr
	}
	for _, m := range matches {
		if m.SubjectID != r.out.SubjectID && m.Similarity >= r.svc.cfg.DuplicateThreshold {
			r.out.Duplicates = append(r.out.Duplicates, m)
		}
	}
	if len(r.out.Duplicates) > 0 {
		r.svc.metrics.AddDuplicates(len(r.out.Duplicates))
		r.svc.emit(ctx, audit.EventDuplicateDetected, r.out, string(StageFused), "")
	}

	serr = r.svc.call(ctx, StageFused, "index_insert", ReasonEnrollmentFailed, func(ctx context.Context) error {
		return r.svc.collab.Index.Insert(ctx, vec, r.out.SubjectID)
	})
	if serr != nil {
		return serr
	}
	r.svc.emit(ctx, audit.EventSubjectEnrolled, r.out, string(StageFused), "")
	return nil
}
