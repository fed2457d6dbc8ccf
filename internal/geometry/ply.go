package geometry

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WritePLY encodes m as ASCII PLY with vertex positions, optional uv and
// triangle faces.
func WritePLY(w io.Writer, m *Mesh) error {
	if err := m.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	hasUV := len(m.UV) == len(m.Vertices)

	fmt.Fprintln(bw, "ply")
	fmt.Fprintln(bw, "format ascii 1.0")
	fmt.Fprintf(bw, "comment source %s\n", m.Source)
	fmt.Fprintf(bw, "element vertex %d\n", len(m.Vertices))
	fmt.Fprintln(bw, "property double x")
	fmt.Fprintln(bw, "property double y")
	fmt.Fprintln(bw, "property double z")
	if hasUV {
		fmt.Fprintln(bw, "property double s")
		fmt.Fprintln(bw, "property double t")
	}
	fmt.Fprintf(bw, "element face %d\n", len(m.Faces))
	fmt.Fprintln(bw, "property list uchar int vertex_indices")
	fmt.Fprintln(bw, "end_header")

	for i, v := range m.Vertices {
		if hasUV {
			uv := m.UV[i]
			fmt.Fprintf(bw, "%s %s %s %s %s\n", ff(v.X), ff(v.Y), ff(v.Z), ff(uv.U), ff(uv.V))
			continue
		}
		fmt.Fprintf(bw, "%s %s %s\n", ff(v.X), ff(v.Y), ff(v.Z))
	}
	for _, f := range m.Faces {
		fmt.Fprintf(bw, "3 %d %d %d\n", f[0], f[1], f[2])
	}
	return bw.Flush()
}

// ReadPLY decodes the subset of ASCII PLY produced by WritePLY.
func ReadPLY(r io.Reader) (*Mesh, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		nVerts, nFaces int
		vertexProps    int
		element        string
		m              = &Mesh{}
	)
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != "ply" {
		return nil, fmt.Errorf("ply: missing magic")
	}
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) < 2 || fields[1] != "ascii" {
				return nil, fmt.Errorf("ply: unsupported format %q", sc.Text())
			}
		case "comment":
			if len(fields) == 3 && fields[1] == "source" {
				m.Source = Source(fields[2])
			}
		case "element":
			if len(fields) != 3 {
				return nil, fmt.Errorf("ply: bad element line %q", sc.Text())
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("ply: bad element count: %w", err)
			}
			element = fields[1]
			switch element {
			case "vertex":
				nVerts = n
			case "face":
				nFaces = n
			}
		case "property":
			if element == "vertex" {
				vertexProps++
			}
		case "end_header":
			return readPLYBody(sc, m, nVerts, nFaces, vertexProps)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("ply: missing end_header")
}

func readPLYBody(sc *bufio.Scanner, m *Mesh, nVerts, nFaces, vertexProps int) (*Mesh, error) {
	m.Vertices = make([]Vec3, 0, nVerts)
	if vertexProps >= 5 {
		m.UV = make([]Vec2, 0, nVerts)
	}
	for len(m.Vertices) < nVerts {
		if !sc.Scan() {
			return nil, fmt.Errorf("ply: truncated vertex list")
		}
		vals, err := parseFloats(strings.Fields(sc.Text()))
		if err != nil {
			return nil, err
		}
		if len(vals) < 3 {
			return nil, fmt.Errorf("ply: short vertex line")
		}
		m.Vertices = append(m.Vertices, Vec3{vals[0], vals[1], vals[2]})
		if m.UV != nil && len(vals) >= 5 {
			m.UV = append(m.UV, Vec2{vals[3], vals[4]})
		}
	}
	m.Faces = make([]Triangle, 0, nFaces)
	for len(m.Faces) < nFaces {
		if !sc.Scan() {
			return nil, fmt.Errorf("ply: truncated face list")
		}
		fields := strings.Fields(sc.Text())
		if len(fields) != 4 || fields[0] != "3" {
			return nil, fmt.Errorf("ply: only triangles are supported")
		}
		var t Triangle
		for i := 0; i < 3; i++ {
			idx, err := strconv.Atoi(fields[i+1])
			if err != nil {
				return nil, fmt.Errorf("ply: bad face index: %w", err)
			}
			t[i] = idx
		}
		m.Faces = append(m.Faces, t)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("ply: bad number %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}

// PLYSizeHint is an upper bound on the size of m written by WritePLY.
func PLYSizeHint(m *Mesh) int {
	const header, number, index = 512, 25, 11
	return header + len(m.Vertices)*5*number + len(m.Faces)*(2+3*index)
}

func ff(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
