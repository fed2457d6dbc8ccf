package geometry

import "math"

// DefaultRigidTolerance bounds the orthonormality error accepted by IsRigid.
const DefaultRigidTolerance = 1e-6

// Transform is a row-major 4x4 homogeneous matrix.
type Transform [4][4]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Translation returns a pure translation by t.
func Translation(t Vec3) Transform {
	m := Identity()
	m[0][3], m[1][3], m[2][3] = t.X, t.Y, t.Z
	return m
}

// RotationZ returns a rotation of theta radians about the z axis.
func RotationZ(theta float64) Transform {
	c, s := math.Cos(theta), math.Sin(theta)
	m := Identity()
	m[0][0], m[0][1] = c, -s
	m[1][0], m[1][1] = s, c
	return m
}

// Mul returns t*o, so the result applies o first and then t.
func (t Transform) Mul(o Transform) Transform {
	var r Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += t[i][k] * o[k][j]
			}
			r[i][j] = sum
		}
	}
	return r
}

// ApplyPoint transforms a single point.
func (t Transform) ApplyPoint(p Vec3) Vec3 {
	return Vec3{
		X: t[0][0]*p.X + t[0][1]*p.Y + t[0][2]*p.Z + t[0][3],
		Y: t[1][0]*p.X + t[1][1]*p.Y + t[1][2]*p.Z + t[1][3],
		Z: t[2][0]*p.X + t[2][1]*p.Y + t[2][2]*p.Z + t[2][3],
	}
}

// Apply transforms pts into a freshly allocated slice. The input is left
// untouched.
func (t Transform) Apply(pts []Vec3) []Vec3 {
	out := make([]Vec3, len(pts))
	for i, p := range pts {
		out[i] = t.ApplyPoint(p)
	}
	return out
}

// TranslationPart returns the translation column.
func (t Transform) TranslationPart() Vec3 {
	return Vec3{t[0][3], t[1][3], t[2][3]}
}

// IsRigid reports whether t is a proper rotation plus translation: the upper
// 3x3 block is orthonormal with determinant +1 and the bottom row is
// (0, 0, 0, 1). Scale, shear, reflection and projective terms all fail.
func (t Transform) IsRigid(tol float64) bool {
	if tol <= 0 {
		tol = DefaultRigidTolerance
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if !finite(t[i][j]) {
				return false
			}
		}
	}
	if math.Abs(t[3][0]) > tol || math.Abs(t[3][1]) > tol || math.Abs(t[3][2]) > tol || math.Abs(t[3][3]-1) > tol {
		return false
	}
	// R * R^T must be the identity.
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dot float64
			for k := 0; k < 3; k++ {
				dot += t[i][k] * t[j][k]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > tol {
				return false
			}
		}
	}
	return math.Abs(t.det3()-1) <= tol
}

func (t Transform) det3() float64 {
	return t[0][0]*(t[1][1]*t[2][2]-t[1][2]*t[2][1]) -
		t[0][1]*(t[1][0]*t[2][2]-t[1][2]*t[2][0]) +
		t[0][2]*(t[1][0]*t[2][1]-t[1][1]*t[2][0])
}
