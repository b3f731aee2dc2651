// Package so3 provides small angle rotation helpers used to linearize
// attitude errors: the hat/vee maps between 3 vectors and skew symmetric
// matrices and the first order exponential building incremental rotations
// from rotation vectors.
package so3

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// tol is the angle below which a rotation vector is treated as zero
const tol = 1e-12

// Hat returns the skew symmetric matrix of a 3 vector.
func Hat(v mat.Vector) *mat.Dense {
	x, y, z := v.AtVec(0), v.AtVec(1), v.AtVec(2)

	return mat.NewDense(3, 3, []float64{
		0, -z, y,
		z, 0, -x,
		-y, x, 0,
	})
}

// Vee returns the 3 vector whose hat map matches the skew part of m.
func Vee(m mat.Matrix) *mat.VecDense {
	return mat.NewVecDense(3, []float64{
		m.At(2, 1),
		m.At(0, 2),
		m.At(1, 0),
	})
}

// DeltaRotation builds the unit quaternion rotating by the rotation vector
// delta: the axis is the normalized delta, the angle its norm. A near zero
// delta yields the identity rotation instead of a degenerate normalization.
func DeltaRotation(delta mat.Vector) quat.Number {
	angle := math.Sqrt(delta.AtVec(0)*delta.AtVec(0) +
		delta.AtVec(1)*delta.AtVec(1) +
		delta.AtVec(2)*delta.AtVec(2))
	if angle < tol {
		return quat.Number{Real: 1}
	}

	sin, cos := math.Sincos(angle / 2.0)
	k := sin / angle

	return quat.Number{
		Real: cos,
		Imag: k * delta.AtVec(0),
		Jmag: k * delta.AtVec(1),
		Kmag: k * delta.AtVec(2),
	}
}

// Normalize scales q to unit norm. A near zero q yields identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n < tol {
		return quat.Number{Real: 1}
	}

	return quat.Scale(1.0/n, q)
}

// ToMatrix converts a unit quaternion to a rotation matrix.
func ToMatrix(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y + z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x + z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x + y*y),
	})
}

// FromMatrix converts a rotation matrix to a unit quaternion.
func FromMatrix(m mat.Matrix) quat.Number {
	var q quat.Number

	t := m.At(0, 0) + m.At(1, 1) + m.At(2, 2)
	switch {
	case t > 0:
		s := 0.5 / math.Sqrt(t+1)
		q = quat.Number{
			Real: 0.25 / s,
			Imag: (m.At(2, 1) - m.At(1, 2)) * s,
			Jmag: (m.At(0, 2) - m.At(2, 0)) * s,
			Kmag: (m.At(1, 0) - m.At(0, 1)) * s,
		}
	case m.At(0, 0) > m.At(1, 1) && m.At(0, 0) > m.At(2, 2):
		s := 2 * math.Sqrt(1+m.At(0, 0)-m.At(1, 1)-m.At(2, 2))
		q = quat.Number{
			Real: (m.At(2, 1) - m.At(1, 2)) / s,
			Imag: 0.25 * s,
			Jmag: (m.At(0, 1) + m.At(1, 0)) / s,
			Kmag: (m.At(0, 2) + m.At(2, 0)) / s,
		}
	case m.At(1, 1) > m.At(2, 2):
		s := 2 * math.Sqrt(1+m.At(1, 1)-m.At(0, 0)-m.At(2, 2))
		q = quat.Number{
			Real: (m.At(0, 2) - m.At(2, 0)) / s,
			Imag: (m.At(0, 1) + m.At(1, 0)) / s,
			Jmag: 0.25 * s,
			Kmag: (m.At(1, 2) + m.At(2, 1)) / s,
		}
	default:
		s := 2 * math.Sqrt(1+m.At(2, 2)-m.At(0, 0)-m.At(1, 1))
		q = quat.Number{
			Real: (m.At(1, 0) - m.At(0, 1)) / s,
			Imag: (m.At(0, 2) + m.At(2, 0)) / s,
			Jmag: (m.At(1, 2) + m.At(2, 1)) / s,
			Kmag: 0.25 * s,
		}
	}

	return Normalize(q)
}
