package imu

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Sample is a single inertial measurement.
type Sample struct {
	// Time is the measurement timestamp in seconds
	Time float64
	// AngularVelocity is body frame angular rate in rad/s
	AngularVelocity [3]float64
	// LinearAcceleration is body frame specific force in m/s^2
	LinearAcceleration [3]float64
	// Orientation is an optional externally supplied attitude.
	// When present it is preferred over the integrated attitude
	// for linearizing the error dynamics.
	Orientation *quat.Number
}

// RateVec returns the angular velocity as a new vector.
func (s Sample) RateVec() *mat.VecDense {
	return mat.NewVecDense(3, []float64{
		s.AngularVelocity[0],
		s.AngularVelocity[1],
		s.AngularVelocity[2],
	})
}

// ForceVec returns the specific force as a new vector.
func (s Sample) ForceVec() *mat.VecDense {
	return mat.NewVecDense(3, []float64{
		s.LinearAcceleration[0],
		s.LinearAcceleration[1],
		s.LinearAcceleration[2],
	})
}

// Buffer holds the most recent IMU samples needed for trapezoidal
// integration. Samples are kept in strictly increasing time order.
type Buffer struct {
	samples []Sample
}

// NewBuffer creates new empty Buffer and returns it.
func NewBuffer() *Buffer {
	return &Buffer{
		samples: make([]Sample, 0, 2),
	}
}

// Reset drops all buffered samples and seeds the buffer with s.
func (b *Buffer) Reset(s Sample) {
	b.samples = b.samples[:0]
	b.samples = append(b.samples, s)
}

// Push appends s to the buffer.
// It returns false if s does not advance the buffer time.
func (b *Buffer) Push(s Sample) bool {
	if n := len(b.samples); n > 0 && s.Time <= b.samples[n-1].Time {
		return false
	}
	b.samples = append(b.samples, s)

	return true
}

// PopFront drops the oldest buffered sample.
func (b *Buffer) PopFront() {
	if len(b.samples) == 0 {
		return
	}
	b.samples = append(b.samples[:0], b.samples[1:]...)
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Pair returns the two most recent samples in time order.
// It returns false if fewer than two samples are buffered.
func (b *Buffer) Pair() (prev, curr Sample, ok bool) {
	n := len(b.samples)
	if n < 2 {
		return Sample{}, Sample{}, false
	}

	return b.samples[n-2], b.samples[n-1], true
}

// Last returns the most recent buffered sample.
// It returns false if the buffer is empty.
func (b *Buffer) Last() (Sample, bool) {
	n := len(b.samples)
	if n == 0 {
		return Sample{}, false
	}

	return b.samples[n-1], true
}
