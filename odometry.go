package odometry

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/go-inertial/go-eskf/imu"
)

// Filter is an inertial odometry filter. It dead-reckons a nominal pose and
// velocity from body-frame IMU measurements and corrects them with pose
// observations produced by an external registration front end.
type Filter interface {
	// Init seeds the nominal state and establishes the filter time from s
	Init(pose Pose, vel mat.Vector, s imu.Sample)
	// Update folds one IMU sample into the filter.
	// It returns false if the sample is stale.
	Update(s imu.Sample) bool
	// Correct fuses a pose observation taken at time t.
	// It returns false if the observation is stale.
	Correct(s imu.Sample, t float64, obs Pose) (bool, error)
	// Odometry returns the error-compensated nominal pose and velocity
	Odometry() (Pose, mat.Vector)
}

// Pose is a rigid body pose in the navigation frame.
type Pose struct {
	// position is pose translation
	position *mat.VecDense
	// rotation is pose attitude
	rotation *mat.Dense
}

// NewPose creates new Pose from the given position and rotation and returns it.
// It returns error if position is not a 3 vector or rotation is not a 3x3 matrix.
func NewPose(position mat.Vector, rotation mat.Matrix) (Pose, error) {
	if position == nil || position.Len() != 3 {
		return Pose{}, fmt.Errorf("invalid position: %v", position)
	}

	if rotation == nil {
		return Pose{}, fmt.Errorf("invalid rotation: %v", rotation)
	}

	if r, c := rotation.Dims(); r != 3 || c != 3 {
		return Pose{}, fmt.Errorf("invalid rotation dimensions: [%d x %d]", r, c)
	}

	p := mat.NewVecDense(3, nil)
	p.CloneFromVec(position)

	m := mat.NewDense(3, 3, nil)
	m.Copy(rotation)

	return Pose{
		position: p,
		rotation: m,
	}, nil
}

// IdentityPose returns the origin pose with identity attitude.
func IdentityPose() Pose {
	return Pose{
		position: mat.NewVecDense(3, nil),
		rotation: mat.NewDense(3, 3, []float64{
			1, 0, 0,
			0, 1, 0,
			0, 0, 1,
		}),
	}
}

// Position returns a copy of the pose translation.
func (p Pose) Position() mat.Vector {
	position := mat.NewVecDense(3, nil)
	position.CloneFromVec(p.position)

	return position
}

// Rotation returns a copy of the pose attitude.
func (p Pose) Rotation() mat.Matrix {
	rotation := mat.NewDense(3, 3, nil)
	rotation.Copy(p.rotation)

	return rotation
}
