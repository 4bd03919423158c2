package geometry

import "math"

// Beam is an angular transmission function normalised so that its
// integral over the sphere is SolidAngle.
type Beam interface {
	Transmission(theta, phi float64) float64
	SolidAngle() float64
}

// GaussianBeam is an azimuthally symmetric Gaussian beam. A backward beam
// looks down the -z axis, as the secondary beam seen from the focal plane.
type GaussianBeam struct {
	FWHM     float64 // rad
	Backward bool
}

// NewGaussianBeam returns a Gaussian beam whose width, given at 150 GHz,
// is scaled to frequency nu. nu == 0 keeps the width unscaled.
func NewGaussianBeam(fwhm150, nu float64, backward bool) GaussianBeam {
	fwhm := fwhm150
	if nu > 0 {
		fwhm *= 150e9 / nu
	}
	return GaussianBeam{FWHM: fwhm, Backward: backward}
}

func (b GaussianBeam) sigma() float64 {
	return b.FWHM / math.Sqrt(8*math.Ln2)
}

// Transmission returns exp(-θ²/2σ²), measured from +z or from -z for a
// backward beam. A backward beam does not see the forward hemisphere.
func (b GaussianBeam) Transmission(theta, _ float64) float64 {
	if b.Backward {
		if theta < math.Pi/2 {
			return 0
		}
		theta = math.Pi - theta
	}
	s := b.sigma()
	return math.Exp(-0.5 * theta * theta / (s * s))
}

// SolidAngle returns 2πσ².
func (b GaussianBeam) SolidAngle() float64 {
	s := b.sigma()
	return 2 * math.Pi * s * s
}
