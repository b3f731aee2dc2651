// Package sim provides synthetic trajectories with consistent IMU output
// and pose observations for exercising the odometry filter, and plotting of
// the resulting tracks.
package sim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	odometry "github.com/go-inertial/go-eskf"
	"github.com/go-inertial/go-eskf/imu"
	"github.com/go-inertial/go-eskf/noise"
	"github.com/go-inertial/go-eskf/so3"
)

// Step is one instant of ground truth: the IMU sample the platform would
// measure plus the true pose and velocity at the sample time.
type Step struct {
	Sample   imu.Sample
	Pose     odometry.Pose
	Velocity *mat.VecDense
}

// Circle generates a constant rate circular trajectory in the horizontal
// plane. The platform heading stays tangent to the circle so the body rate
// is a pure yaw rate.
type Circle struct {
	// Radius is the circle radius in m
	Radius float64
	// Omega is the yaw rate in rad/s
	Omega float64
	// Rate is the IMU rate in Hz
	Rate float64
	// Gravity is local gravity in m/s^2
	Gravity float64
}

// Steps generates n ground truth steps starting at time zero.
// It returns error if the trajectory parameters are not positive.
func (c Circle) Steps(n int) ([]Step, error) {
	if c.Radius <= 0 || c.Rate <= 0 || c.Gravity <= 0 {
		return nil, fmt.Errorf("invalid trajectory parameters: %+v", c)
	}

	steps := make([]Step, n)
	for i := 0; i < n; i++ {
		t := float64(i) / c.Rate
		theta := c.Omega * t
		// heading tangent to the circle
		psi := theta + math.Pi/2

		sin, cos := math.Sincos(theta)
		pos := mat.NewVecDense(3, []float64{c.Radius * cos, c.Radius * sin, 0})
		vel := mat.NewVecDense(3, []float64{-c.Radius * c.Omega * sin, c.Radius * c.Omega * cos, 0})
		acc := mat.NewVecDense(3, []float64{-c.Radius * c.Omega * c.Omega * cos, -c.Radius * c.Omega * c.Omega * sin, 0})

		rot := yawMatrix(psi)

		// specific force in the body frame: f_b = C_bn*(a + g)
		fn := mat.NewVecDense(3, nil)
		fn.AddVec(acc, mat.NewVecDense(3, []float64{0, 0, c.Gravity}))
		fb := mat.NewVecDense(3, nil)
		fb.MulVec(rot.T(), fn)

		q := yawQuaternion(psi)
		pose, err := odometry.NewPose(pos, rot)
		if err != nil {
			return nil, err
		}

		steps[i] = Step{
			Sample: imu.Sample{
				Time:               t,
				AngularVelocity:    [3]float64{0, 0, c.Omega},
				LinearAcceleration: [3]float64{fb.AtVec(0), fb.AtVec(1), fb.AtVec(2)},
				Orientation:        &q,
			},
			Pose:     pose,
			Velocity: vel,
		}
	}

	return steps, nil
}

// Static generates a motionless platform at the origin with identity
// attitude: the IMU measures pure gravity reaction and zero body rate.
type Static struct {
	// Rate is the IMU rate in Hz
	Rate float64
	// Gravity is local gravity in m/s^2
	Gravity float64
}

// Steps generates n ground truth steps starting at time zero.
// It returns error if the parameters are not positive.
func (s Static) Steps(n int) ([]Step, error) {
	if s.Rate <= 0 || s.Gravity <= 0 {
		return nil, fmt.Errorf("invalid trajectory parameters: %+v", s)
	}

	steps := make([]Step, n)
	for i := 0; i < n; i++ {
		q := quat.Number{Real: 1}
		steps[i] = Step{
			Sample: imu.Sample{
				Time:               float64(i) / s.Rate,
				LinearAcceleration: [3]float64{0, 0, s.Gravity},
				Orientation:        &q,
			},
			Pose:     odometry.IdentityPose(),
			Velocity: mat.NewVecDense(3, nil),
		}
	}

	return steps, nil
}

// Observe perturbs a ground truth pose into a registration style
// observation: the position is offset by a posNoise sample and the attitude
// is right-multiplied by the incremental rotation of a rotNoise sample.
// It returns error if either noise sample has the wrong dimension.
func Observe(pose odometry.Pose, posNoise, rotNoise *noise.Gaussian) (odometry.Pose, error) {
	if posNoise.Dim() != 3 || rotNoise.Dim() != 3 {
		return odometry.Pose{}, fmt.Errorf("invalid observation noise dimensions: [%d, %d]", posNoise.Dim(), rotNoise.Dim())
	}

	dp := posNoise.Sample()
	pos := mat.NewVecDense(3, nil)
	pos.AddVec(pose.Position(), mat.NewVecDense(3, dp))

	dtheta := mat.NewVecDense(3, rotNoise.Sample())
	dr := so3.ToMatrix(so3.DeltaRotation(dtheta))
	rot := mat.NewDense(3, 3, nil)
	rot.Mul(pose.Rotation(), dr)

	return odometry.NewPose(pos, rot)
}

// yawMatrix returns the rotation about the navigation z axis by psi.
func yawMatrix(psi float64) *mat.Dense {
	sin, cos := math.Sincos(psi)

	return mat.NewDense(3, 3, []float64{
		cos, -sin, 0,
		sin, cos, 0,
		0, 0, 1,
	})
}

// yawQuaternion returns the quaternion rotating about the navigation z axis
// by psi.
func yawQuaternion(psi float64) quat.Number {
	sin, cos := math.Sincos(psi / 2.0)

	return quat.Number{Real: cos, Kmag: sin}
}
