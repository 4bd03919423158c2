// Package response holds the unit operators that surround the projection
// in the acquisition model: they turn sky flux density into power on the
// bolometers and shape the resulting timelines.
package response

import (
	"errors"
	"fmt"
	"math"

	"github.com/large-farva/bolometric-engine/internal/geometry"
	"github.com/large-farva/bolometric-engine/internal/noise"
)

// ApertureIntegration converts W/m²/Hz into W/Hz through the open horns:
// N_open·π·r_eff².
func ApertureIntegration(h *geometry.HornArray) float64 {
	return float64(h.NumOpen()) * math.Pi * h.RadiusEff * h.RadiusEff
}

// DetectorIntegration returns, per detector, the detector solid angle
// relative to the secondary beam, weighted by the secondary beam
// transmission in the detector direction.
func DetectorIntegration(dets *geometry.DetectorArray, secondary geometry.Beam) []float64 {
	out := make([]float64, dets.Len())
	sr := secondary.SolidAngle()
	for i, d := range dets.Detectors {
		out[i] = d.SolidAngle() / sr * secondary.Transmission(d.Theta(), d.Phi())
	}
	return out
}

// FilterBandwidth converts W/Hz into W. A zero bandwidth leaves the signal
// unchanged.
func FilterBandwidth(nu, relbw float64) float64 {
	bw := nu * relbw
	if bw == 0 {
		return 1
	}
	return bw
}

// Transmission returns the cumulative transmission of the optical train
// times each detector efficiency.
func Transmission(comps []noise.Component, efficiency []float64) []float64 {
	tr := 1.0
	for _, c := range comps {
		tr *= c.Transmission
	}
	out := make([]float64, len(efficiency))
	for i, e := range efficiency {
		out[i] = tr * e
	}
	return out
}

// TOD is a block of timelines laid out detector-major: sample t of
// detector d starts at (d·NSamples+t)·NComp.
type TOD struct {
	NDetectors int
	NSamples   int
	NComp      int
	Data       []float64
}

// NewTOD allocates zeroed timelines.
func NewTOD(ndet, nsamples, ncomp int) TOD {
	return TOD{NDetectors: ndet, NSamples: nsamples, NComp: ncomp, Data: make([]float64, ndet*nsamples*ncomp)}
}

func (t TOD) check() error {
	if t.NComp < 1 || len(t.Data) != t.NDetectors*t.NSamples*t.NComp {
		return fmt.Errorf("response: timeline holds %d values, want %d×%d×%d", len(t.Data), t.NDetectors, t.NSamples, t.NComp)
	}
	return nil
}

// Sample returns the components of detector d at sample s.
func (t TOD) Sample(d, s int) []float64 {
	i := (d*t.NSamples + s) * t.NComp
	return t.Data[i : i+t.NComp]
}

var ErrPolarizerRequired = errors.New("response: polarized input requires the polarizer grid")
