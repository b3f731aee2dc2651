package eskf

import (
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	odometry "github.com/go-inertial/go-eskf"
	"github.com/go-inertial/go-eskf/config"
	"github.com/go-inertial/go-eskf/imu"
)

var (
	prm *config.Params
)

func setup() {
	prm = config.Default()
}

func TestMain(m *testing.M) {
	// set up tests
	setup()
	// run the tests
	retCode := m.Run()
	// call with result of m.Run()
	os.Exit(retCode)
}

// staticSample is what a motionless, bias free IMU measures at time t.
func staticSample(t float64) imu.Sample {
	q := quat.Number{Real: 1}

	return imu.Sample{
		Time:               t,
		LinearAcceleration: [3]float64{0, 0, prm.Earth.GravityMagnitude},
		Orientation:        &q,
	}
}

func initStatic(f *ESKF) {
	f.Init(odometry.IdentityPose(), mat.NewVecDense(3, nil), staticSample(0))
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	f, err := New(prm)
	assert.NoError(err)
	assert.NotNil(f)

	// nil params
	f, err = New(nil)
	assert.Nil(f)
	assert.Error(err)

	// invalid params
	bad := config.Default()
	bad.Covariance.Process.Gyro = -1.0
	f, err = New(bad)
	assert.Nil(f)
	assert.Error(err)
}

func TestStaticNoDrift(t *testing.T) {
	assert := assert.New(t)

	f, err := New(prm)
	assert.NoError(err)
	initStatic(f)

	for i := 1; i <= 200; i++ {
		assert.True(f.Update(staticSample(float64(i) * 0.01)))
	}

	pose, vel := f.Odometry()
	pos := pose.Position()
	for i := 0; i < 3; i++ {
		assert.InDelta(0.0, pos.AtVec(i), 1e-9)
		assert.InDelta(0.0, vel.AtVec(i), 1e-9)
	}

	// zero angular delta must leave the attitude at identity
	rot := pose.Rotation()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			assert.InDelta(want, rot.At(i, j), 1e-9)
			assert.False(math.IsNaN(rot.At(i, j)))
		}
	}
}

func TestUpdateStale(t *testing.T) {
	assert := assert.New(t)

	f, err := New(prm)
	assert.NoError(err)

	// update before init
	assert.False(f.Update(staticSample(0.01)))

	initStatic(f)
	assert.True(f.Update(staticSample(0.01)))

	// non-increasing timestamps
	assert.False(f.Update(staticSample(0.01)))
	assert.False(f.Update(staticSample(0.005)))
	assert.InDelta(0.01, f.Time(), 1e-12)
}

func TestCovarianceInvariants(t *testing.T) {
	assert := assert.New(t)

	f, err := New(prm)
	assert.NoError(err)
	initStatic(f)

	s := imu.Sample{
		AngularVelocity:    [3]float64{0.1, -0.2, 0.3},
		LinearAcceleration: [3]float64{0.3, 0.1, prm.Earth.GravityMagnitude},
	}

	for i := 1; i <= 100; i++ {
		s.Time = float64(i) * 0.01
		assert.True(f.Update(s))

		cov := f.Cov()
		n := cov.SymmetricDim()
		for r := 0; r < n; r++ {
			assert.False(math.IsNaN(cov.At(r, r)))
			assert.True(cov.At(r, r) >= 0)
			for c := 0; c < n; c++ {
				assert.InDelta(cov.At(r, c), cov.At(c, r), 1e-12)
			}
		}
	}
}

func TestCorrectPullsTowardObservation(t *testing.T) {
	assert := assert.New(t)

	cfg := config.Default()
	cfg.Covariance.Prior.Pos = 1.0
	f, err := New(cfg)
	assert.NoError(err)

	offset := mat.NewVecDense(3, []float64{1.0, 2.0, 3.0})
	pose, err := odometry.NewPose(offset, mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}))
	assert.NoError(err)

	f.Init(pose, mat.NewVecDense(3, nil), staticSample(0))

	ok, err := f.Correct(staticSample(0.01), 0.01, odometry.IdentityPose())
	assert.NoError(err)
	assert.True(ok)

	est, _ := f.Odometry()
	assert.Less(mat.Norm(est.Position(), 2), mat.Norm(offset, 2))
}

func TestCorrectStaleNoOp(t *testing.T) {
	assert := assert.New(t)

	f, err := New(prm)
	assert.NoError(err)
	initStatic(f)
	assert.True(f.Update(staticSample(0.01)))

	cov := f.Cov()
	x := f.State()
	pose, vel := f.Odometry()

	// observation time equals filter time: nothing may change
	ok, err := f.Correct(staticSample(0.01), 0.01, odometry.IdentityPose())
	assert.NoError(err)
	assert.False(ok)

	assert.True(mat.Equal(cov, f.Cov()))
	assert.True(mat.Equal(x, f.State()))

	poseAfter, velAfter := f.Odometry()
	assert.True(mat.Equal(pose.Position(), poseAfter.Position()))
	assert.True(mat.Equal(pose.Rotation(), poseAfter.Rotation()))
	assert.True(mat.Equal(vel, velAfter))
	assert.InDelta(0.01, f.Time(), 1e-12)
}

func TestCorrectResetsErrorState(t *testing.T) {
	assert := assert.New(t)

	cfg := config.Default()
	cfg.Covariance.Prior.Pos = 1.0
	cfg.Covariance.Prior.Orientation = 1e-2
	f, err := New(cfg)
	assert.NoError(err)

	offset := mat.NewVecDense(3, []float64{0.5, -0.3, 0.1})
	pose, err := odometry.NewPose(offset, mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}))
	assert.NoError(err)
	f.Init(pose, mat.NewVecDense(3, nil), staticSample(0))

	ok, err := f.Correct(staticSample(0.01), 0.01, odometry.IdentityPose())
	assert.NoError(err)
	assert.True(ok)

	x := f.State()
	for i := 0; i < 9; i++ {
		assert.Equal(0.0, x.AtVec(i))
	}
	for i := 9; i < 15; i++ {
		assert.False(math.IsNaN(x.AtVec(i)))
	}
}

func TestOdometryPure(t *testing.T) {
	assert := assert.New(t)

	cfg := config.Default()
	cfg.Covariance.Prior.Pos = 1.0
	cfg.Covariance.Prior.Orientation = 1e-2
	cfg.Covariance.Prior.Epsilon = 1e-2
	f, err := New(cfg)
	assert.NoError(err)

	offset := mat.NewVecDense(3, []float64{1.0, 0.0, 0.0})
	pose, err := odometry.NewPose(offset, mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}))
	assert.NoError(err)
	f.Init(pose, mat.NewVecDense(3, nil), staticSample(0))

	// two corrections with a propagation in between build up
	// cross-covariance so the bias estimate picks up non-zero values
	ok, err := f.Correct(staticSample(0.01), 0.01, odometry.IdentityPose())
	assert.NoError(err)
	assert.True(ok)
	assert.True(f.Update(staticSample(0.02)))
	ok, err = f.Correct(staticSample(0.03), 0.03, odometry.IdentityPose())
	assert.NoError(err)
	assert.True(ok)

	// propagate so the error state picks up non-zero components
	assert.True(f.Update(staticSample(0.04)))

	x := f.State()
	cov := f.Cov()

	p1, v1 := f.Odometry()
	p2, v2 := f.Odometry()

	assert.True(mat.Equal(p1.Position(), p2.Position()))
	assert.True(mat.Equal(p1.Rotation(), p2.Rotation()))
	assert.True(mat.Equal(v1, v2))

	// reading odometry must not commit the attitude correction
	assert.True(mat.Equal(x, f.State()))
	assert.True(mat.Equal(cov, f.Cov()))
}

func TestJosephFormCorrect(t *testing.T) {
	assert := assert.New(t)

	cfg := config.Default()
	cfg.Covariance.Prior.Pos = 1.0
	cfg.Symmetrize = true
	f, err := New(cfg)
	assert.NoError(err)

	offset := mat.NewVecDense(3, []float64{1.0, 2.0, 3.0})
	pose, err := odometry.NewPose(offset, mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}))
	assert.NoError(err)
	f.Init(pose, mat.NewVecDense(3, nil), staticSample(0))

	ok, err := f.Correct(staticSample(0.01), 0.01, odometry.IdentityPose())
	assert.NoError(err)
	assert.True(ok)

	cov := f.Cov()
	for i := 0; i < cov.SymmetricDim(); i++ {
		assert.True(cov.At(i, i) >= 0)
	}

	est, _ := f.Odometry()
	assert.Less(mat.Norm(est.Position(), 2), mat.Norm(offset, 2))
}

func TestGyroBiasConvergence(t *testing.T) {
	assert := assert.New(t)

	cfg := config.Default()
	cfg.Covariance.Prior.Orientation = 1e-2
	cfg.Covariance.Prior.Epsilon = 1e-2
	cfg.Covariance.Process.Gyro = 1e-6
	cfg.Covariance.Process.Accel = 1e-6
	cfg.Covariance.Measurement.Pos = 1e-6
	cfg.Covariance.Measurement.Orientation = 1e-6

	f, err := New(cfg)
	assert.NoError(err)
	initStatic(f)

	const (
		bias = 0.02
		dt   = 0.01
	)

	q := quat.Number{Real: 1}
	for i := 1; i <= 5000; i++ {
		s := imu.Sample{
			Time:               float64(i) * dt,
			AngularVelocity:    [3]float64{0, 0, bias},
			LinearAcceleration: [3]float64{0, 0, prm.Earth.GravityMagnitude},
			Orientation:        &q,
		}
		assert.True(f.Update(s))

		if i%10 == 0 {
			ok, err := f.Correct(s, s.Time+1e-4, odometry.IdentityPose())
			assert.NoError(err)
			assert.True(ok)
		}
	}

	gb := f.GyroBias()
	assert.Greater(gb.AtVec(2), 0.0)
	assert.Less(math.Abs(gb.AtVec(2)-bias), bias)

	// the estimated attitude must be held near identity by the corrections
	pose, _ := f.Odometry()
	rot := pose.Rotation()
	for i := 0; i < 3; i++ {
		assert.InDelta(1.0, rot.At(i, i), 0.05)
	}
}

func TestCovGainAccessors(t *testing.T) {
	assert := assert.New(t)

	f, err := New(prm)
	assert.NoError(err)

	cov := f.Cov()
	assert.NotNil(cov)

	err = f.SetCov(nil)
	assert.Error(err)

	err = f.SetCov(mat.NewSymDense(30, nil))
	assert.Error(err)

	err = f.SetCov(mat.NewSymDense(stateDim, nil))
	assert.NoError(err)

	gain := f.Gain()
	assert.NotNil(gain)
}
