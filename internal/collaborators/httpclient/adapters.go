package httpclient

import (
	"bytes"
	"context"
	"image"
	"image/png"

	"veriface/internal/geometry"
	"veriface/internal/verification/ports"
)

var (
	_ ports.DocumentReader = (*Client)(nil)
	_ ports.FaceDetector   = (*Client)(nil)
	_ ports.LivenessGate   = (*Client)(nil)
	_ ports.Reconstructor  = (*Client)(nil)
	_ ports.Registrar      = (*Client)(nil)
	_ ports.Fuser          = (*Client)(nil)
	_ ports.Embedder       = (*Client)(nil)
)

// Operation names double as breaker and metric labels.
const (
	OpReadFields  = "read_fields"
	OpDetect      = "detect"
	OpLiveness    = "liveness"
	OpReconstruct = "reconstruct"
	OpRegister    = "register"
	OpFuse        = "fuse"
	OpEmbed       = "embed"
)

// Images travel as base64 through encoding/json's []byte handling.
type imageRequest struct {
	Image  []byte `json:"image"`
	Source string `json:"source,omitempty"`
}

type fieldsResponse struct {
	Fields map[string]string `json:"fields"`
}

func (c *Client) ReadFields(ctx context.Context, img []byte) (map[string]string, error) {
	var resp fieldsResponse
	if err := c.post(ctx, OpReadFields, "/v1/fields", imageRequest{Image: img}, &resp); err != nil {
		return nil, err
	}
	if resp.Fields == nil {
		return map[string]string{}, nil
	}
	return resp.Fields, nil
}

type bounds struct {
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MaxX int `json:"max_x"`
	MaxY int `json:"max_y"`
}

type detectResponse struct {
	Image  []byte `json:"image"`
	Bounds bounds `json:"bounds"`
}

func (c *Client) Detect(ctx context.Context, img []byte, source geometry.Source) (geometry.FaceCrop, error) {
	var resp detectResponse
	if err := c.post(ctx, OpDetect, "/v1/detect", imageRequest{Image: img, Source: string(source)}, &resp); err != nil {
		return geometry.FaceCrop{}, err
	}
	if len(resp.Image) == 0 {
		return geometry.FaceCrop{}, newCallError(ErrorBadData, OpDetect, 0, "no face crop in response", nil)
	}
	return geometry.FaceCrop{
		Image:  resp.Image,
		Source: source,
		Bounds: image.Rect(resp.Bounds.MinX, resp.Bounds.MinY, resp.Bounds.MaxX, resp.Bounds.MaxY),
	}, nil
}

type livenessResponse struct {
	Score *float64 `json:"score"`
}

func (c *Client) Score(ctx context.Context, crop geometry.FaceCrop) (float64, error) {
	var resp livenessResponse
	if err := c.post(ctx, OpLiveness, "/v1/liveness", imageRequest{Image: crop.Image, Source: string(crop.Source)}, &resp); err != nil {
		return 0, err
	}
	if resp.Score == nil {
		return 0, newCallError(ErrorBadData, OpLiveness, 0, "missing score", nil)
	}
	return *resp.Score, nil
}

// wireMesh is the JSON form of a mesh: vertices as [x, y, z] triples.
type wireMesh struct {
	Vertices [][3]float64 `json:"vertices"`
	Faces    [][3]int     `json:"faces"`
	UV       [][2]float64 `json:"uv,omitempty"`
}

func (w wireMesh) mesh(op string) (*geometry.Mesh, error) {
	m := &geometry.Mesh{
		Vertices: points(w.Vertices),
		Faces:    make([]geometry.Triangle, len(w.Faces)),
	}
	for i, f := range w.Faces {
		m.Faces[i] = geometry.Triangle(f)
	}
	if len(w.UV) > 0 {
		m.UV = make([]geometry.Vec2, len(w.UV))
		for i, uv := range w.UV {
			m.UV[i] = geometry.Vec2{U: uv[0], V: uv[1]}
		}
	}
	if err := m.Validate(); err != nil {
		return nil, newCallError(ErrorBadData, op, 0, "invalid mesh", err)
	}
	return m, nil
}

func points(in [][3]float64) []geometry.Vec3 {
	out := make([]geometry.Vec3, len(in))
	for i, p := range in {
		out[i] = geometry.Vec3{X: p[0], Y: p[1], Z: p[2]}
	}
	return out
}

func triples(in []geometry.Vec3) [][3]float64 {
	out := make([][3]float64, len(in))
	for i, p := range in {
		out[i] = [3]float64{p.X, p.Y, p.Z}
	}
	return out
}

func (c *Client) Reconstruct(ctx context.Context, crop geometry.FaceCrop) (*geometry.Mesh, error) {
	var resp wireMesh
	if err := c.post(ctx, OpReconstruct, "/v1/reconstruct", imageRequest{Image: crop.Image, Source: string(crop.Source)}, &resp); err != nil {
		return nil, err
	}
	m, err := resp.mesh(OpReconstruct)
	if err != nil {
		return nil, err
	}
	m.Source = crop.Source
	return m, nil
}

type registerRequest struct {
	Source    [][3]float64 `json:"source"`
	Target    [][3]float64 `json:"target"`
	Threshold float64      `json:"threshold"`
}

type registerResponse struct {
	Transform geometry.Transform `json:"transform"`
	Quality   float64            `json:"quality"`
}

func (c *Client) Register(ctx context.Context, source, target []geometry.Vec3, threshold float64) (geometry.Transform, float64, error) {
	req := registerRequest{Source: triples(source), Target: triples(target), Threshold: threshold}
	var resp registerResponse
	if err := c.post(ctx, OpRegister, "/v1/register", req, &resp); err != nil {
		return geometry.Transform{}, 0, err
	}
	return resp.Transform, resp.Quality, nil
}

type fuseRequest struct {
	PointSets [][][3]float64 `json:"point_sets"`
	Depth     int            `json:"depth"`
}

func (c *Client) Fuse(ctx context.Context, sets [][]geometry.Vec3, depth int) (*geometry.Mesh, error) {
	req := fuseRequest{PointSets: make([][][3]float64, len(sets)), Depth: depth}
	for i, s := range sets {
		req.PointSets[i] = triples(s)
	}
	var resp wireMesh
	if err := c.post(ctx, OpFuse, "/v1/fuse", req, &resp); err != nil {
		return nil, err
	}
	m, err := resp.mesh(OpFuse)
	if err != nil {
		return nil, err
	}
	m.Source = geometry.SourceFused
	return m, nil
}

type embedResponse struct {
	Vector []float32 `json:"vector"`
}

// Embed sends the canonical image PNG-encoded.
func (c *Client) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, newCallError(ErrorInternal, OpEmbed, 0, "encode png", err)
	}
	defer clear(buf.Bytes())

	var resp embedResponse
	if err := c.post(ctx, OpEmbed, "/v1/embed", imageRequest{Image: buf.Bytes()}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Vector) == 0 {
		return nil, newCallError(ErrorBadData, OpEmbed, 0, "empty vector", nil)
	}
	return resp.Vector, nil
}
