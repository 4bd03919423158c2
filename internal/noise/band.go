package noise

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

// Physical constants (SI).
const (
	Planck          = 6.62607015e-34
	Boltzmann       = 1.380649e-23
	StefanBoltzmann = 5.670374419e-8
	SpeedOfLight    = 299792458.0
)

// DefaultNuUp is the upper integration bound of the photon-occupation
// integrals in the single-moded band. It stands for the physical upper
// edge of the 150 GHz bandpass and does not follow the sub-band centre.
const DefaultNuUp = 168e9

// Band centres.
const (
	Nu150 = 150e9
	Nu220 = 220e9
)

// Band selects the formula family of the chain.
type Band int

const (
	// BandIntegral is the single-moded 150 GHz band: horns and the cold
	// optics use photon-occupation integrals up to NuUp.
	BandIntegral Band = iota + 1
	// BandDirect is the 220 GHz band: every stage uses the
	// single-frequency photon-counting formula.
	BandDirect
)

func (b Band) String() string {
	switch b {
	case BandIntegral:
		return "150GHz"
	case BandDirect:
		return "220GHz"
	default:
		return "unknown"
	}
}

// ArrayConfig is the focal-plane configuration. The full instrument (FI)
// splits the beam with a dichroic; the technological demonstrator (TD)
// has no dichroic and observes at 150 GHz only.
type ArrayConfig string

const (
	ConfigFI ArrayConfig = "FI"
	ConfigTD ArrayConfig = "TD"
)

var (
	ErrBandOutOfRange    = errors.New("noise: frequency outside the supported bands")
	ErrConfigUnsupported = errors.New("noise: array configuration does not support this band")
)

// BandEdges returns the edges of the band centred on centre for a
// relative bandwidth frbw.
func BandEdges(centre, frbw float64) (lo, hi float64) {
	return centre * (1 - frbw/1.9), centre * (1 + frbw/1.9)
}

// SelectBand returns the band holding nu and its centre frequency.
func SelectBand(nu, frbw float64) (Band, float64, error) {
	if lo, hi := BandEdges(Nu150, frbw); nu >= lo && nu <= hi {
		return BandIntegral, Nu150, nil
	}
	if lo, hi := BandEdges(Nu220, frbw); nu >= lo && nu <= hi {
		return BandDirect, Nu220, nil
	}
	return 0, 0, fmt.Errorf("%w: %.4g Hz with relative bandwidth %g", ErrBandOutOfRange, nu, frbw)
}

// Occupation holds the photon-occupation integrals over [0, b]:
// I1 = ∫x⁴/(eˣ-1), I2 = ∫x⁴/(eˣ-1)², K1 = ∫x³/(eˣ-1).
type Occupation struct {
	I1, I2, K1 float64
}

// Beyond this bound the integrands are below 1e-25 of their peak.
const occupationCutoff = 80

const occupationNodes = 128

// OccupationIntegrals evaluates the integrals with Gauss-Legendre
// quadrature. b = +Inf is allowed.
func OccupationIntegrals(b float64) Occupation {
	if !(b > 0) {
		return Occupation{}
	}
	hi := math.Min(b, occupationCutoff)
	f := func(p float64, n int) func(float64) float64 {
		return func(x float64) float64 {
			d := math.Expm1(x)
			return math.Pow(x, p) / math.Pow(d, float64(n))
		}
	}
	var gl quad.Legendre
	return Occupation{
		I1: quad.Fixed(f(4, 1), 0, hi, occupationNodes, gl, 0),
		I2: quad.Fixed(f(4, 2), 0, hi, occupationNodes, gl, 0),
		K1: quad.Fixed(f(3, 1), 0, hi, occupationNodes, gl, 0),
	}
}
