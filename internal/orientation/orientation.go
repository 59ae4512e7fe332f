package orientation

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/look_at_pose/internal/geometry"
)

// Camera axes in the camera's own frame. The camera looks down its local
// -Z axis with +Y up and +X to the right (OpenGL convention).
var (
	CameraForward = r3.Vector{X: 0, Y: 0, Z: -1}
	CameraUp      = r3.Vector{X: 0, Y: 1, Z: 0}
	CameraRight   = r3.Vector{X: 1, Y: 0, Z: 0}
)

// FromGeometry converts a message quaternion into a gonum quaternion.
func FromGeometry(q geometry.Quaternion) quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

// ToGeometry converts a gonum quaternion into its message form.
func ToGeometry(q quat.Number) geometry.Quaternion {
	return geometry.Quaternion{X: q.Imag, Y: q.Jmag, Z: q.Kmag, W: q.Real}
}

// Normalize scales q to unit length and flips it so that the real part is
// non-negative. A zero quaternion becomes the identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	q = quat.Scale(1/n, q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// Rotate applies the rotation q to v. q is assumed to be a unit quaternion.
func Rotate(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// ForwardAxis is the direction the camera looks along for orientation q.
func ForwardAxis(q geometry.Quaternion) r3.Vector {
	return Rotate(Normalize(FromGeometry(q)), CameraForward)
}

// UpAxis is the camera's up direction for orientation q.
func UpAxis(q geometry.Quaternion) r3.Vector {
	return Rotate(Normalize(FromGeometry(q)), CameraUp)
}

// fromBasis builds the rotation whose matrix has x, y and z as columns.
// The columns must be orthonormal and right handed.
func fromBasis(x, y, z r3.Vector) quat.Number {
	m00, m01, m02 := x.X, y.X, z.X
	m10, m11, m12 := x.Y, y.Y, z.Y
	m20, m21, m22 := x.Z, y.Z, z.Z

	var q quat.Number
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{
			Real: 0.25 / s,
			Imag: (m21 - m12) * s,
			Jmag: (m02 - m20) * s,
			Kmag: (m10 - m01) * s,
		}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{
			Real: (m21 - m12) / s,
			Imag: 0.25 * s,
			Jmag: (m01 + m10) / s,
			Kmag: (m02 + m20) / s,
		}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{
			Real: (m02 - m20) / s,
			Imag: (m01 + m10) / s,
			Jmag: 0.25 * s,
			Kmag: (m12 + m21) / s,
		}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{
			Real: (m10 - m01) / s,
			Imag: (m02 + m20) / s,
			Jmag: (m12 + m21) / s,
			Kmag: 0.25 * s,
		}
	}
	return Normalize(q)
}
