package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Earth holds the local navigation frame constants.
type Earth struct {
	// GravityMagnitude is local gravity in m/s^2
	GravityMagnitude float64 `yaml:"gravity_magnitude"`
	// RotationSpeed is earth rotation rate in rad/s
	RotationSpeed float64 `yaml:"rotation_speed"`
	// Latitude is geographic latitude in degrees
	Latitude float64 `yaml:"latitude"`
}

// Prior holds the initial error state covariance scalars.
// Each scalar seeds an isotropic 3x3 covariance block.
type Prior struct {
	Pos         float64 `yaml:"pos"`
	Vel         float64 `yaml:"vel"`
	Orientation float64 `yaml:"orientation"`
	// Epsilon is the gyro bias prior
	Epsilon float64 `yaml:"epsilon"`
	// Delta is the accel bias prior
	Delta float64 `yaml:"delta"`
}

// Process holds the process noise densities.
type Process struct {
	Gyro  float64 `yaml:"gyro"`
	Accel float64 `yaml:"accel"`
}

// Measurement holds the pose observation noise scalars.
type Measurement struct {
	Pos         float64 `yaml:"pos"`
	Orientation float64 `yaml:"orientation"`
}

// Covariance groups the filter covariance priors and noise scalars.
type Covariance struct {
	Prior       Prior       `yaml:"prior"`
	Process     Process     `yaml:"process"`
	Measurement Measurement `yaml:"measurement"`
}

// Params are the filter construction parameters.
type Params struct {
	Earth      Earth      `yaml:"earth"`
	Covariance Covariance `yaml:"covariance"`
	// Symmetrize selects the Joseph form covariance update in the
	// correction step instead of the plain (I-KG)P update.
	Symmetrize bool `yaml:"symmetrize"`
}

// Default returns filter parameters with commonly used values.
func Default() *Params {
	return &Params{
		Earth: Earth{
			GravityMagnitude: 9.80665,
			RotationSpeed:    7.292115e-5,
			Latitude:         45.0,
		},
		Covariance: Covariance{
			Prior: Prior{
				Pos:         1.0e-6,
				Vel:         1.0e-6,
				Orientation: 1.0e-6,
				Epsilon:     1.0e-6,
				Delta:       1.0e-6,
			},
			Process: Process{
				Gyro:  1.0e-4,
				Accel: 2.5e-3,
			},
			Measurement: Measurement{
				Pos:         1.0e-4,
				Orientation: 1.0e-4,
			},
		},
	}
}

// Parse unmarshals params from a YAML document and validates them.
// It returns error if the document is malformed or the params are invalid.
func Parse(data []byte) (*Params, error) {
	p := new(Params)
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse params: %v", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}

// Load reads params from a YAML file at path and validates them.
// It returns error if the file can not be read or the params are invalid.
func Load(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read params: %v", err)
	}

	return Parse(data)
}

// Validate checks the params for values which would break the filter.
// It returns error if either of the following conditions is met:
// - gravity magnitude is not positive or earth rotation speed is negative
// - latitude is outside [-90, 90] degrees
// - either covariance prior or noise scalar is not positive
func (p *Params) Validate() error {
	if p.Earth.GravityMagnitude <= 0 {
		return fmt.Errorf("invalid gravity magnitude: %f", p.Earth.GravityMagnitude)
	}

	if p.Earth.RotationSpeed < 0 {
		return fmt.Errorf("invalid earth rotation speed: %f", p.Earth.RotationSpeed)
	}

	if math.Abs(p.Earth.Latitude) > 90 {
		return fmt.Errorf("invalid latitude: %f", p.Earth.Latitude)
	}

	scalars := map[string]float64{
		"prior pos":               p.Covariance.Prior.Pos,
		"prior vel":               p.Covariance.Prior.Vel,
		"prior orientation":       p.Covariance.Prior.Orientation,
		"prior epsilon":           p.Covariance.Prior.Epsilon,
		"prior delta":             p.Covariance.Prior.Delta,
		"process gyro":            p.Covariance.Process.Gyro,
		"process accel":           p.Covariance.Process.Accel,
		"measurement pos":         p.Covariance.Measurement.Pos,
		"measurement orientation": p.Covariance.Measurement.Orientation,
	}

	for name, val := range scalars {
		if val <= 0 {
			return fmt.Errorf("invalid %s covariance: %f", name, val)
		}
	}

	return nil
}

// LatitudeRadians returns the configured latitude converted to radians.
func (p *Params) LatitudeRadians() float64 {
	return p.Earth.Latitude * math.Pi / 180.0
}
