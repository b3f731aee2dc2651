// Package noise provides the zero mean Gaussian noise models used by the
// simulation bench and the filter tests.
package noise

import (
	"fmt"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Gaussian is zero mean white noise with a fixed covariance.
type Gaussian struct {
	// dist is a multivariate normal distribution
	dist *distmv.Normal
	// cov is the noise covariance
	cov *mat.SymDense
}

// NewGaussian creates new Gaussian noise with the given covariance, seeding
// its sampler with seed so simulations stay reproducible.
// It returns error if cov is nil or not positive definite.
func NewGaussian(cov mat.Symmetric, seed uint64) (*Gaussian, error) {
	if cov == nil {
		return nil, fmt.Errorf("invalid noise covariance: %v", cov)
	}

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	src := rand.New(rand.NewSource(seed))
	dist, ok := distmv.NewNormal(make([]float64, c.SymmetricDim()), c, src)
	if !ok {
		return nil, fmt.Errorf("failed to create Gaussian noise")
	}

	return &Gaussian{
		dist: dist,
		cov:  c,
	}, nil
}

// NewIsotropic creates new Gaussian noise with variance*I covariance.
// It returns error if dim or variance is not positive.
func NewIsotropic(dim int, variance float64, seed uint64) (*Gaussian, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid noise dimension: %d", dim)
	}

	if variance <= 0 {
		return nil, fmt.Errorf("invalid noise variance: %f", variance)
	}

	cov := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		cov.SetSym(i, i, variance)
	}

	return NewGaussian(cov, seed)
}

// Sample draws one sample of the noise.
func (g *Gaussian) Sample() []float64 {
	return g.dist.Rand(nil)
}

// Cov returns the noise covariance.
func (g *Gaussian) Cov() mat.Symmetric {
	cov := mat.NewSymDense(g.cov.SymmetricDim(), nil)
	cov.CopySym(g.cov)

	return cov
}

// Dim returns the noise dimension.
func (g *Gaussian) Dim() int {
	return g.cov.SymmetricDim()
}

// String implements the Stringer interface.
func (g *Gaussian) String() string {
	return fmt.Sprintf("Gaussian{\nCov=%v\n}", mat.Formatted(g.cov, mat.Prefix("    "), mat.Squeeze()))
}
