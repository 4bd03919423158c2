package synthbeam

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/large-farva/bolometric-engine/internal/geometry"
)

// Sentinel direction for peak slots that carry no energy. θ = π/2 keeps
// the polarisation basis well defined downstream.
const (
	SentinelTheta = math.Pi / 2
	SentinelPhi   = 0.0
)

// ErrInvalidFraction is returned when the energy fraction is outside (0, 1].
var ErrInvalidFraction = errors.New("synthbeam: energy fraction must be in (0, 1]")

// PeakSet holds the retained peaks of every detector. All detectors share
// NPeaks slots; the slices are row-major, detector d owning
// [d*NPeaks, (d+1)*NPeaks).
type PeakSet struct {
	NDetectors int       `json:"ndetectors"`
	NPeaks     int       `json:"npeaks"`
	Theta      []float64 `json:"theta"`
	Phi        []float64 `json:"phi"`
	Value      []float64 `json:"value"`

	// Required is the number of slots each detector needed to reach the
	// energy fraction. Slots past it hold the sentinel with zero value.
	Required []int `json:"required"`
}

// Peak is one retained peak of one detector.
type Peak struct {
	Theta float64 `json:"theta"`
	Phi   float64 `json:"phi"`
	Value float64 `json:"value"`
}

// Detector returns the retained peaks of detector d in descending order.
func (s PeakSet) Detector(d int) []Peak {
	out := make([]Peak, s.NPeaks)
	base := d * s.NPeaks
	for k := range out {
		out[k] = Peak{Theta: s.Theta[base+k], Phi: s.Phi[base+k], Value: s.Value[base+k]}
	}
	return out
}

// Total returns the summed retained intensity of detector d.
func (s PeakSet) Total(d int) float64 {
	return floats.Sum(s.Value[d*s.NPeaks : (d+1)*s.NPeaks])
}

// Select weights every candidate peak by the primary beam, sorts each
// detector's peaks by decreasing weight and keeps the shortest prefix
// holding at least fraction of the detector's total. All detectors are
// truncated to the longest such prefix. Retained weights are multiplied
// by scale.
func Select(theta, phi [][]float64, primary geometry.Beam, fraction, scale float64) (PeakSet, error) {
	if !(fraction > 0 && fraction <= 1) {
		return PeakSet{}, fmt.Errorf("%w (got %v)", ErrInvalidFraction, fraction)
	}
	if len(theta) != len(phi) {
		return PeakSet{}, fmt.Errorf("synthbeam: %d theta rows but %d phi rows", len(theta), len(phi))
	}
	ndet := len(theta)

	type sorted struct {
		theta, phi, val []float64
	}
	rows := make([]sorted, ndet)
	required := make([]int, ndet)
	imax := 0

	for d := range theta {
		ncand := len(theta[d])
		if len(phi[d]) != ncand {
			return PeakSet{}, fmt.Errorf("synthbeam: detector %d has %d theta but %d phi", d, ncand, len(phi[d]))
		}
		val := make([]float64, ncand)
		for k := range val {
			v := primary.Transmission(theta[d][k], phi[d][k])
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			val[k] = v
		}

		order := make([]int, ncand)
		for k := range order {
			order[k] = k
		}
		slices.SortStableFunc(order, func(a, b int) int {
			return cmp.Compare(val[b], val[a])
		})

		r := sorted{
			theta: make([]float64, ncand),
			phi:   make([]float64, ncand),
			val:   make([]float64, ncand),
		}
		for i, k := range order {
			r.theta[i], r.phi[i], r.val[i] = theta[d][k], phi[d][k], val[k]
		}
		rows[d] = r

		cum := floats.CumSum(make([]float64, ncand), r.val)
		need := 0
		if ncand > 0 {
			target := fraction * cum[ncand-1]
			for need < ncand-1 && cum[need] < target {
				need++
			}
			need++
		}
		required[d] = need
		imax = max(imax, need)
	}

	set := PeakSet{
		NDetectors: ndet,
		NPeaks:     imax,
		Theta:      make([]float64, ndet*imax),
		Phi:        make([]float64, ndet*imax),
		Value:      make([]float64, ndet*imax),
		Required:   required,
	}
	for d, r := range rows {
		base := d * imax
		for k := 0; k < imax; k++ {
			i := base + k
			if k >= required[d] || !finite(r.theta[k]) || !finite(r.phi[k]) {
				set.Theta[i], set.Phi[i], set.Value[i] = SentinelTheta, SentinelPhi, 0
				continue
			}
			set.Theta[i], set.Phi[i], set.Value[i] = r.theta[k], r.phi[k], r.val[k]*scale
		}
	}
	return set, nil
}

// Scale returns the factor converting primary-beam weights into pixel
// intensities: the solid angle of one peak at nu, relative to the pixel
// solid angle, times the number of open horns.
func Scale(peak150SolidAngle, nu, pixelSolidAngle float64, nOpen int) float64 {
	return peak150SolidAngle * (150e9 / nu) * (150e9 / nu) / pixelSolidAngle * float64(nOpen)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
