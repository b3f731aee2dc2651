// Package eskf implements an error-state Kalman filter for inertial
// odometry. A nominal pose and velocity are dead-reckoned by strapdown
// integration of IMU samples while a 15 dimensional error state (position,
// velocity, attitude, gyro bias, accel bias) is propagated at the IMU rate
// and corrected with relative pose observations from an external
// registration front end.
package eskf

import (
	"fmt"
	"math"

	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	odometry "github.com/go-inertial/go-eskf"
	"github.com/go-inertial/go-eskf/config"
	"github.com/go-inertial/go-eskf/imu"
	"github.com/go-inertial/go-eskf/so3"
)

// error state vector block offsets
const (
	statePos = 0
	stateVel = 3
	stateOri = 6
	stateGyr = 9
	stateAcc = 12
)

// filter dimensions
const (
	// stateDim is the error state dimension
	stateDim = 15
	// noiseDim is the raw process noise dimension
	noiseDim = 6
	// measDim is the pose observation dimension
	measDim = 6
)

// ESKF is an error-state Kalman filter.
type ESKF struct {
	// symmetrize selects the Joseph form covariance correction
	symmetrize bool
	// inited reports whether Init has been called
	inited bool
	// time is the filter time
	time float64

	// g is gravity in the navigation frame
	g *mat.VecDense
	// w is earth rotation in the navigation frame
	w *mat.VecDense

	// pos, vel and rot are the nominal state. rot is C_nb, the body to
	// navigation frame attitude.
	pos *mat.VecDense
	vel *mat.VecDense
	rot *mat.Dense

	// buf holds the two most recent IMU samples
	buf *imu.Buffer

	// x is the error state
	x *mat.VecDense
	// p is the error state covariance
	p *mat.SymDense
	// q is the raw process noise covariance
	q *mat.SymDense
	// r is the observation noise covariance
	r *mat.SymDense

	// f is the continuous time process Jacobian
	f *mat.Dense
	// b is the continuous time noise input map
	b *mat.Dense
	// h is the observation Jacobian
	h *mat.Dense
	// cn is the raw observation noise map
	cn *mat.Dense
	// k is the Kalman gain
	k *mat.Dense
	// eye is the state sized identity
	eye *mat.Dense

	// discretization and propagation scratch space
	fd  *mat.Dense
	bd  *mat.Dense
	fp  *mat.Dense
	fpf *mat.Dense
	bq  *mat.Dense
	bqb *mat.Dense
	xp  *mat.VecDense
}

// New creates new ESKF from the given params and returns it.
// It returns error if prm is nil or fails validation.
func New(prm *config.Params) (*ESKF, error) {
	if prm == nil {
		return nil, fmt.Errorf("invalid params: %v", prm)
	}

	if err := prm.Validate(); err != nil {
		return nil, err
	}

	lat := prm.LatitudeRadians()
	g := mat.NewVecDense(3, []float64{0, 0, prm.Earth.GravityMagnitude})
	w := mat.NewVecDense(3, []float64{
		0,
		prm.Earth.RotationSpeed * math.Cos(lat),
		prm.Earth.RotationSpeed * math.Sin(lat),
	})

	// prior error state covariance
	p := mat.NewSymDense(stateDim, nil)
	setDiagBlock(p, statePos, prm.Covariance.Prior.Pos)
	setDiagBlock(p, stateVel, prm.Covariance.Prior.Vel)
	setDiagBlock(p, stateOri, prm.Covariance.Prior.Orientation)
	setDiagBlock(p, stateGyr, prm.Covariance.Prior.Epsilon)
	setDiagBlock(p, stateAcc, prm.Covariance.Prior.Delta)

	// process noise
	q := mat.NewSymDense(noiseDim, nil)
	setDiagBlock(q, 0, prm.Covariance.Process.Gyro)
	setDiagBlock(q, 3, prm.Covariance.Process.Accel)

	// observation noise
	r := mat.NewSymDense(measDim, nil)
	setDiagBlock(r, 0, prm.Covariance.Measurement.Pos)
	setDiagBlock(r, 3, prm.Covariance.Measurement.Orientation)

	// process equation: position error is driven by velocity error and
	// attitude error couples through the earth rotation rate. The earth
	// rate block omits transport rate effects.
	f := mat.NewDense(stateDim, stateDim, nil)
	i3, err := matrix.NewDenseValIdentity(3, 1.0)
	if err != nil {
		return nil, err
	}
	setBlock(f, statePos, stateVel, i3)
	negW := mat.NewVecDense(3, nil)
	negW.ScaleVec(-1, w)
	setBlock(f, stateOri, stateOri, so3.Hat(negW))

	b := mat.NewDense(stateDim, noiseDim, nil)

	// observation equation selects the position and attitude error blocks
	h := mat.NewDense(measDim, stateDim, nil)
	setBlock(h, 0, statePos, i3)
	setBlock(h, 3, stateOri, i3)

	cn, err := matrix.NewDenseValIdentity(measDim, 1.0)
	if err != nil {
		return nil, err
	}

	eye, err := matrix.NewDenseValIdentity(stateDim, 1.0)
	if err != nil {
		return nil, err
	}

	rot := mat.NewDense(3, 3, nil)
	rot.Copy(i3)

	return &ESKF{
		symmetrize: prm.Symmetrize,
		g:          g,
		w:          w,
		pos:        mat.NewVecDense(3, nil),
		vel:        mat.NewVecDense(3, nil),
		rot:        rot,
		buf:        imu.NewBuffer(),
		x:          mat.NewVecDense(stateDim, nil),
		p:          p,
		q:          q,
		r:          r,
		f:          f,
		b:          b,
		h:          h,
		cn:         cn,
		k:          mat.NewDense(stateDim, measDim, nil),
		eye:        eye,
		fd:         mat.NewDense(stateDim, stateDim, nil),
		bd:         mat.NewDense(stateDim, noiseDim, nil),
		fp:         mat.NewDense(stateDim, stateDim, nil),
		fpf:        mat.NewDense(stateDim, stateDim, nil),
		bq:         mat.NewDense(stateDim, noiseDim, nil),
		bqb:        mat.NewDense(stateDim, stateDim, nil),
		xp:         mat.NewVecDense(stateDim, nil),
	}, nil
}

// Init seeds the nominal state from pose and vel, buffers the first IMU
// sample and establishes the filter time.
func (k *ESKF) Init(pose odometry.Pose, vel mat.Vector, s imu.Sample) {
	k.pos.CloneFromVec(pose.Position())
	k.rot.Copy(pose.Rotation())
	k.vel.CloneFromVec(vel)

	k.buf.Reset(s)
	k.time = s.Time

	// set the process model in case a correction arrives before the
	// next IMU update
	cnb, fn := k.processInput(s)
	k.setProcessModel(cnb, fn)

	k.inited = true
}

// Update folds one IMU sample into the filter: the nominal state is advanced
// by strapdown integration and the error state covariance is propagated.
// It returns false if the filter is not initialized or s is stale.
func (k *ESKF) Update(s imu.Sample) bool {
	if !k.inited || s.Time <= k.time {
		return false
	}

	if !k.buf.Push(s) {
		return false
	}

	if !k.integrate() {
		return false
	}
	k.buf.PopFront()

	// propagate the error estimation
	cnb, fn := k.processInput(s)
	k.setProcessModel(cnb, fn)
	k.propagate(s.Time - k.time)

	k.time = s.Time

	return true
}

// Correct fuses a pose observation taken at time t into the filter. The IMU
// sample s must be contemporaneous with the observation: it refreshes the
// process model before the correction's own prediction step.
// It returns false if the observation is stale, leaving the filter
// untouched, and error if the innovation covariance is singular, which
// indicates misconfigured noise parameters.
func (k *ESKF) Correct(s imu.Sample, t float64, obs odometry.Pose) (bool, error) {
	if !k.inited || t <= k.time {
		return false, nil
	}

	// fold the time update into the correction
	cnb, fn := k.processInput(s)
	k.setProcessModel(cnb, fn)
	k.propagate(t - k.time)

	// observation residual: position difference and the first order
	// small angle residual of the attitude difference
	obsPos := obs.Position()
	y := mat.NewVecDense(measDim, nil)
	for i := 0; i < 3; i++ {
		y.SetVec(i, k.pos.AtVec(i)-obsPos.AtVec(i))
	}

	cnn := mat.NewDense(3, 3, nil)
	cnn.Mul(k.rot, obs.Rotation().T())
	res := mat.NewDense(3, 3, nil)
	res.Sub(eye3(), cnn)
	rotRes := so3.Vee(res)
	for i := 0; i < 3; i++ {
		y.SetVec(3+i, rotRes.AtVec(i))
	}

	// innovation covariance S = H*P*H' + Cn*R*Cn'
	pht := mat.NewDense(stateDim, measDim, nil)
	pht.Mul(k.p, k.h.T())
	s6 := mat.NewDense(measDim, measDim, nil)
	s6.Mul(k.h, pht)

	crc := mat.NewDense(measDim, measDim, nil)
	crc.Mul(k.cn, k.r)
	crc.Mul(crc, k.cn.T())
	s6.Add(s6, crc)

	sInv := mat.NewDense(measDim, measDim, nil)
	if err := sInv.Inverse(s6); err != nil {
		return false, fmt.Errorf("singular innovation covariance: %v", err)
	}

	// Kalman gain K = P*H'*S^-1
	k.k.Mul(pht, sInv)

	// covariance update
	kh := mat.NewDense(stateDim, stateDim, nil)
	kh.Mul(k.k, k.h)
	ikh := mat.NewDense(stateDim, stateDim, nil)
	ikh.Sub(k.eye, kh)

	pNext := mat.NewDense(stateDim, stateDim, nil)
	pNext.Mul(ikh, k.p)
	if k.symmetrize {
		// Joseph form: (I-KH)*P*(I-KH)' + K*Cn*R*Cn'*K'
		pNext.Mul(pNext, ikh.T())
		krk := mat.NewDense(stateDim, measDim, nil)
		krk.Mul(k.k, crc)
		krkt := mat.NewDense(stateDim, stateDim, nil)
		krkt.Mul(krk, k.k.T())
		pNext.Add(pNext, krkt)
	}
	copySym(k.p, pNext)

	// state update X = X + K*(Y - H*X)
	hx := mat.NewVecDense(measDim, nil)
	hx.MulVec(k.h, k.x)
	inn := mat.NewVecDense(measDim, nil)
	inn.SubVec(y, hx)
	kx := mat.NewVecDense(stateDim, nil)
	kx.MulVec(k.k, inn)
	k.x.AddVec(k.x, kx)

	// eliminate the estimated error from the nominal state
	for i := 0; i < 3; i++ {
		k.pos.SetVec(i, k.pos.AtVec(i)-k.x.AtVec(statePos+i))
		k.vel.SetVec(i, k.vel.AtVec(i)-k.x.AtVec(stateVel+i))
	}

	corr := mat.NewDense(3, 3, nil)
	corr.Sub(eye3(), so3.Hat(k.errBlock(stateOri)))
	rot := mat.NewDense(3, 3, nil)
	rot.Mul(corr.T(), k.rot)
	k.rot.Copy(so3.ToMatrix(so3.FromMatrix(rot)))

	// reset the error state; bias components carry the running estimate
	// across corrections and are kept
	for i := statePos; i < stateGyr; i++ {
		k.x.SetVec(i, 0)
	}

	return true, nil
}

// Odometry returns the error-compensated nominal pose and velocity. The
// read is pure: the compensation is composed into copies and the filter
// state is left untouched.
func (k *ESKF) Odometry() (odometry.Pose, mat.Vector) {
	pos := mat.NewVecDense(3, nil)
	vel := mat.NewVecDense(3, nil)
	for i := 0; i < 3; i++ {
		pos.SetVec(i, k.pos.AtVec(i)-k.x.AtVec(statePos+i))
		vel.SetVec(i, k.vel.AtVec(i)-k.x.AtVec(stateVel+i))
	}

	corr := mat.NewDense(3, 3, nil)
	corr.Sub(eye3(), so3.Hat(k.errBlock(stateOri)))
	rot := mat.NewDense(3, 3, nil)
	rot.Mul(corr.T(), k.rot)
	rot.Copy(so3.ToMatrix(so3.FromMatrix(rot)))

	pose, _ := odometry.NewPose(pos, rot)

	return pose, vel
}

// Time returns the filter time.
func (k *ESKF) Time() float64 {
	return k.time
}

// State returns a copy of the error state.
func (k *ESKF) State() mat.Vector {
	x := mat.NewVecDense(stateDim, nil)
	x.CloneFromVec(k.x)

	return x
}

// GyroBias returns a copy of the gyro bias estimate.
func (k *ESKF) GyroBias() mat.Vector {
	return k.errBlock(stateGyr)
}

// AccelBias returns a copy of the accel bias estimate.
func (k *ESKF) AccelBias() mat.Vector {
	return k.errBlock(stateAcc)
}

// Cov returns the error state covariance.
func (k *ESKF) Cov() mat.Symmetric {
	cov := mat.NewSymDense(k.p.SymmetricDim(), nil)
	cov.CopySym(k.p)

	return cov
}

// SetCov sets the error state covariance to cov.
// It returns error if cov is nil or has wrong dimensions.
func (k *ESKF) SetCov(cov mat.Symmetric) error {
	if cov == nil {
		return fmt.Errorf("invalid covariance matrix: %v", cov)
	}

	if cov.SymmetricDim() != k.p.SymmetricDim() {
		return fmt.Errorf("invalid covariance matrix dims: [%d x %d]", cov.SymmetricDim(), cov.SymmetricDim())
	}

	k.p.CopySym(cov)

	return nil
}

// Gain returns the Kalman gain.
func (k *ESKF) Gain() mat.Matrix {
	gain := &mat.Dense{}
	gain.CloneFrom(k.k)

	return gain
}

// integrate dead-reckons the nominal state from the two buffered samples.
// It returns false if fewer than two samples are buffered.
func (k *ESKF) integrate() bool {
	prev, curr, ok := k.buf.Pair()
	if !ok {
		return false
	}

	dt := curr.Time - prev.Time

	// trapezoidal angular delta from bias compensated rates
	wCurr := k.unbiasedRate(curr)
	wPrev := k.unbiasedRate(prev)
	delta := mat.NewVecDense(3, nil)
	delta.AddVec(wCurr, wPrev)
	delta.ScaleVec(0.5*dt, delta)

	rCurr, rPrev := k.advanceOrientation(delta)

	// trapezoidal velocity delta from bias and gravity compensated
	// specific force in the navigation frame
	aCurr := k.unbiasedForce(curr, rCurr)
	aPrev := k.unbiasedForce(prev, rPrev)
	dv := mat.NewVecDense(3, nil)
	dv.AddVec(aCurr, aPrev)
	dv.ScaleVec(0.5*dt, dv)

	for i := 0; i < 3; i++ {
		k.pos.SetVec(i, k.pos.AtVec(i)+dt*k.vel.AtVec(i)+0.5*dt*dv.AtVec(i))
		k.vel.SetVec(i, k.vel.AtVec(i)+dv.AtVec(i))
	}

	return true
}

// advanceOrientation right-multiplies the nominal attitude by the
// incremental rotation of delta and renormalizes. It returns the attitudes
// after and before the update, both needed for trapezoidal force rotation.
func (k *ESKF) advanceOrientation(delta mat.Vector) (rCurr, rPrev *mat.Dense) {
	rPrev = mat.DenseCopyOf(k.rot)

	dq := so3.DeltaRotation(delta)
	q := so3.FromMatrix(k.rot)
	q = so3.Normalize(quat.Mul(q, dq))
	k.rot.Copy(so3.ToMatrix(q))

	rCurr = mat.DenseCopyOf(k.rot)

	return rCurr, rPrev
}

// unbiasedRate subtracts the current gyro bias estimate from the sampled
// body rate.
func (k *ESKF) unbiasedRate(s imu.Sample) *mat.VecDense {
	w := s.RateVec()
	w.SubVec(w, k.errBlock(stateGyr))

	return w
}

// unbiasedForce rotates the sampled specific force into the navigation
// frame with rot, removing the accel bias estimate and gravity.
func (k *ESKF) unbiasedForce(s imu.Sample, rot mat.Matrix) *mat.VecDense {
	fb := s.ForceVec()
	fb.SubVec(fb, k.errBlock(stateAcc))

	fn := mat.NewVecDense(3, nil)
	fn.MulVec(rot, fb)
	fn.SubVec(fn, k.g)

	return fn
}

// processInput derives the attitude and navigation frame specific force
// which linearize the error dynamics. The sample attitude is preferred when
// present, otherwise the integrated nominal attitude is used.
func (k *ESKF) processInput(s imu.Sample) (cnb *mat.Dense, fn *mat.VecDense) {
	if s.Orientation != nil {
		cnb = so3.ToMatrix(so3.Normalize(*s.Orientation))
	} else {
		cnb = mat.DenseCopyOf(k.rot)
	}

	fn = mat.NewVecDense(3, nil)
	fn.MulVec(cnb, s.ForceVec())

	return cnb, fn
}

// setProcessModel rebuilds the attitude dependent blocks of the process
// Jacobian and the noise input map.
func (k *ESKF) setProcessModel(cnb *mat.Dense, fn mat.Vector) {
	negC := mat.NewDense(3, 3, nil)
	negC.Scale(-1, cnb)

	setBlock(k.f, stateVel, stateOri, so3.Hat(fn))
	setBlock(k.f, stateVel, stateAcc, cnb)
	setBlock(k.f, stateOri, stateGyr, negC)

	setBlock(k.b, stateVel, 3, cnb)
	setBlock(k.b, stateOri, 0, negC)
}

// propagate discretizes the process model with first order Euler over dt
// and advances the error state and its covariance:
//
//	F_d = I + dt*F, B_d = dt*B
//	X = F_d*X
//	P = F_d*P*F_d' + B_d*Q*B_d'
func (k *ESKF) propagate(dt float64) {
	k.fd.Scale(dt, k.f)
	k.fd.Add(k.fd, k.eye)
	k.bd.Scale(dt, k.b)

	k.xp.MulVec(k.fd, k.x)
	k.x.CopyVec(k.xp)

	k.fp.Mul(k.fd, k.p)
	k.fpf.Mul(k.fp, k.fd.T())
	k.bq.Mul(k.bd, k.q)
	k.bqb.Mul(k.bq, k.bd.T())
	k.fpf.Add(k.fpf, k.bqb)

	copySym(k.p, k.fpf)
}

// errBlock returns a copy of the 3 element error state block at off.
func (k *ESKF) errBlock(off int) *mat.VecDense {
	return mat.NewVecDense(3, []float64{
		k.x.AtVec(off),
		k.x.AtVec(off + 1),
		k.x.AtVec(off + 2),
	})
}

// setBlock copies src into dst starting at row i, column j.
func setBlock(dst *mat.Dense, i, j int, src mat.Matrix) {
	r, c := src.Dims()
	dst.Slice(i, i+r, j, j+c).(*mat.Dense).Copy(src)
}

// setDiagBlock sets a 3 element isotropic diagonal block of dst at off.
func setDiagBlock(dst *mat.SymDense, off int, val float64) {
	for i := 0; i < 3; i++ {
		dst.SetSym(off+i, off+i, val)
	}
}

// copySym stores src into dst averaging the off diagonal pairs so the
// result stays exactly symmetric.
func copySym(dst *mat.SymDense, src mat.Matrix) {
	n := dst.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst.SetSym(i, j, 0.5*(src.At(i, j)+src.At(j, i)))
		}
	}
}

func eye3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
}
