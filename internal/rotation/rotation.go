// Package rotation converts between the rotation representations the
// planner predicts: unit quaternions, 6D (first two rotation-matrix
// columns), xyz Euler angles and discretised Euler bins.
//
// Quaternions travel through the rest of the repo as [qx qy qz qw] slices;
// inside this package they are gonum quat.Number values (Real is w).
// Euler angles use the extrinsic x-then-y-then-z convention, so
// R = Rz·Ry·Rx.
package rotation

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrZeroNorm is returned when a quaternion or 6D vector cannot be
// normalised.
var ErrZeroNorm = errors.New("rotation: zero norm")

const degToRad = math.Pi / 180

// FromXYZW reads a quaternion stored as [qx qy qz qw].
func FromXYZW(v []float64) quat.Number {
	return quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2], Real: v[3]}
}

// ToXYZW writes q as [qx qy qz qw].
func ToXYZW(q quat.Number) []float64 {
	return []float64{q.Imag, q.Jmag, q.Kmag, q.Real}
}

// Normalize scales q to unit length.
func Normalize(q quat.Number) (quat.Number, error) {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return quat.Number{}, ErrZeroNorm
	}
	return quat.Scale(1/n, q), nil
}

// AngleBetween returns the rotation angle in radians separating two unit
// quaternions, treating q and -q as the same rotation. The angle is read
// off the relative rotation with atan2, which stays accurate near zero.
func AngleBetween(a, b quat.Number) float64 {
	d := quat.Mul(quat.Conj(a), b)
	v := math.Sqrt(d.Imag*d.Imag + d.Jmag*d.Jmag + d.Kmag*d.Kmag)
	return 2 * math.Atan2(v, math.Abs(d.Real))
}

// ToMatrix returns the rotation matrix of q, normalising it first.
func ToMatrix(q quat.Number) (*r3.Mat, error) {
	q, err := Normalize(q)
	if err != nil {
		return nil, err
	}
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return r3.NewMat([]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	}), nil
}

// FromMatrix converts a rotation matrix to a unit quaternion with a
// non-negative real part.
func FromMatrix(m *r3.Mat) quat.Number {
	m00, m01, m02 := m.At(0, 0), m.At(0, 1), m.At(0, 2)
	m10, m11, m12 := m.At(1, 0), m.At(1, 1), m.At(1, 2)
	m20, m21, m22 := m.At(2, 0), m.At(2, 1), m.At(2, 2)

	var q quat.Number
	switch tr := m00 + m11 + m22; {
	case tr > 0:
		s := 2 * math.Sqrt(tr+1)
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	q, _ = Normalize(q)
	return q
}

// MatrixFromOrtho6D rebuilds a rotation matrix from its first two columns
// by Gram-Schmidt: v[0:3] is the raw first column, v[3:6] the raw second.
func MatrixFromOrtho6D(v []float64) (*r3.Mat, error) {
	a := r3.Vec{X: v[0], Y: v[1], Z: v[2]}
	b := r3.Vec{X: v[3], Y: v[4], Z: v[5]}
	if r3.Norm(a) == 0 {
		return nil, ErrZeroNorm
	}
	x := r3.Unit(a)
	z := r3.Cross(x, b)
	if r3.Norm(z) == 0 {
		return nil, ErrZeroNorm
	}
	z = r3.Unit(z)
	y := r3.Cross(z, x)
	return r3.NewMat([]float64{
		x.X, y.X, z.X,
		x.Y, y.Y, z.Y,
		x.Z, y.Z, z.Z,
	}), nil
}

// Ortho6DFromMatrix returns the first two columns of m, column-major.
func Ortho6DFromMatrix(m *r3.Mat) []float64 {
	c0, c1 := m.VecCol(0), m.VecCol(1)
	return []float64{c0.X, c0.Y, c0.Z, c1.X, c1.Y, c1.Z}
}

// EulerToQuat converts xyz Euler angles in degrees to a unit quaternion.
func EulerToQuat(deg [3]float64) quat.Number {
	var rx, ry, rz quat.Number
	rx.Imag, rx.Real = math.Sincos(deg[0] * degToRad / 2)
	ry.Jmag, ry.Real = math.Sincos(deg[1] * degToRad / 2)
	rz.Kmag, rz.Real = math.Sincos(deg[2] * degToRad / 2)
	return quat.Mul(rz, quat.Mul(ry, rx))
}

// QuatToEuler converts a quaternion to xyz Euler angles in degrees, each in
// [-180, 180].
func QuatToEuler(q quat.Number) ([3]float64, error) {
	m, err := ToMatrix(q)
	if err != nil {
		return [3]float64{}, err
	}
	sy := -m.At(2, 0)
	sy = math.Max(-1, math.Min(1, sy))
	var a, b, c float64
	b = math.Asin(sy)
	if math.Abs(sy) < 1-1e-9 {
		a = math.Atan2(m.At(2, 1), m.At(2, 2))
		c = math.Atan2(m.At(1, 0), m.At(0, 0))
	} else {
		// gimbal lock: fold the x rotation into z
		a = 0
		c = math.Atan2(-m.At(0, 1), m.At(1, 1))
	}
	return [3]float64{a / degToRad, b / degToRad, c / degToRad}, nil
}

// EulerBins returns the number of bins per axis for a resolution in
// degrees.
func EulerBins(resolution int) int {
	return 360 / resolution
}

// DiscreteEulerToQuat maps per-axis bin indices to a quaternion: bin k of
// an axis is the angle k·resolution - 180 degrees.
func DiscreteEulerToQuat(bins [3]int, resolution int) quat.Number {
	var deg [3]float64
	for i, b := range bins {
		deg[i] = float64(b*resolution) - 180
	}
	return EulerToQuat(deg)
}

// QuatToDiscreteEuler is the inverse of DiscreteEulerToQuat up to the
// bin resolution. The bin at +180 degrees wraps to bin 0.
func QuatToDiscreteEuler(q quat.Number, resolution int) ([3]int, error) {
	deg, err := QuatToEuler(q)
	if err != nil {
		return [3]int{}, err
	}
	n := EulerBins(resolution)
	var out [3]int
	for i, d := range deg {
		b := int(math.Round((d + 180) / float64(resolution)))
		if b >= n {
			b -= n
		}
		out[i] = b
	}
	return out, nil
}
