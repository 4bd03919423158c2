package response

import (
	"fmt"
	"math"

	"github.com/large-farva/bolometric-engine/internal/scene"
)

// HWP is the rotating half-wave plate.
type HWP struct {
	Angles []float64 // deg, per sample
}

// Apply rotates the linear polarization of every sample by -4 times the
// plate angle, in place. Intensity timelines are left alone.
func (h HWP) Apply(kind scene.Kind, tod TOD) error {
	if err := tod.check(); err != nil {
		return err
	}
	if tod.NComp != kind.Components() {
		return fmt.Errorf("response: %s timeline with %d components", kind, tod.NComp)
	}
	if !kind.Polarized() {
		return nil
	}
	if len(h.Angles) != tod.NSamples {
		return fmt.Errorf("response: %d HWP angles for %d samples", len(h.Angles), tod.NSamples)
	}
	off := 0
	if kind == scene.KindIQU {
		off = 1
	}
	for s, a := range h.Angles {
		sin, cos := math.Sincos(-4 * a * math.Pi / 180)
		for d := 0; d < tod.NDetectors; d++ {
			v := tod.Sample(d, s)
			q, u := v[off], v[off+1]
			v[off] = cos*q - sin*u
			v[off+1] = sin*q + cos*u
		}
	}
	return nil
}

// Polarizer is the grid that splits the beam between the two focal planes.
type Polarizer struct {
	Present bool
	Grid    []int // 0 or 1, per detector
}

// Apply reduces the timelines to the power seen by each bolometer.
//
// Without the grid only the first focal plane is illuminated. With it the
// intensity is halved and Q enters with opposite signs on the two planes.
func (p Polarizer) Apply(kind scene.Kind, tod TOD) (TOD, error) {
	if err := tod.check(); err != nil {
		return TOD{}, err
	}
	if tod.NComp != kind.Components() {
		return TOD{}, fmt.Errorf("response: %s timeline with %d components", kind, tod.NComp)
	}
	if len(p.Grid) != tod.NDetectors {
		return TOD{}, fmt.Errorf("response: %d grid entries for %d detectors", len(p.Grid), tod.NDetectors)
	}
	if kind.Polarized() && !p.Present {
		return TOD{}, ErrPolarizerRequired
	}

	out := NewTOD(tod.NDetectors, tod.NSamples, 1)
	for d := 0; d < tod.NDetectors; d++ {
		g := float64(p.Grid[d])
		for s := 0; s < tod.NSamples; s++ {
			v := tod.Sample(d, s)
			var w float64
			switch kind {
			case scene.KindI:
				if p.Present {
					w = v[0] / 2
				} else {
					w = (1 - g) * v[0]
				}
			case scene.KindQU:
				w = (0.5 - g) * v[0]
			case scene.KindIQU:
				w = 0.5*v[0] + (0.5-g)*v[1]
			}
			out.Data[d*tod.NSamples+s] = w
		}
	}
	return out, nil
}
