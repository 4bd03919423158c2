// Package geometry describes the physical layout of the instrument: the
// horn array that samples the incoming sky, the focal-plane detector array
// and the angular beams that weight them.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// SpeedOfLight in m/s.
const SpeedOfLight = 299792458.0

// Horn is a single back-to-back horn aperture.
type Horn struct {
	Center r3.Vec  `json:"center"`
	Radius float64 `json:"radius"`
	Open   bool    `json:"open"`
}

// HornArray is the ordered set of horns of the beam combiner.
type HornArray struct {
	Horns   []Horn
	Spacing float64 // m, centre to centre
	Angle   float64 // deg, tilt of the lattice in the aperture plane

	// RadiusEff is the radius seen by a single propagating mode. It
	// equals the physical radius until SetEffectiveRadius is called.
	RadiusEff float64
}

// NewHornArray builds an array from parsed horn tables. centers and open
// must have the same length.
func NewHornArray(centers []r3.Vec, radius float64, open []bool, spacing, angleDeg float64) (*HornArray, error) {
	if len(centers) != len(open) {
		return nil, fmt.Errorf("geometry: %d horn centres but %d open flags", len(centers), len(open))
	}
	if radius <= 0 {
		return nil, errors.New("geometry: horn radius must be > 0")
	}
	if spacing <= 0 {
		return nil, errors.New("geometry: horn spacing must be > 0")
	}
	h := &HornArray{
		Horns:     make([]Horn, len(centers)),
		Spacing:   spacing,
		Angle:     angleDeg,
		RadiusEff: radius,
	}
	for i, c := range centers {
		h.Horns[i] = Horn{Center: c, Radius: radius, Open: open[i]}
	}
	return h, nil
}

// SquareHornArray lays out n×n open horns on a square lattice centred on
// the optical axis and rotated by angleDeg.
func SquareHornArray(n int, spacing, radius, angleDeg float64) (*HornArray, error) {
	if n < 1 {
		return nil, errors.New("geometry: horn grid size must be >= 1")
	}
	rot := r3.NewRotation(angleDeg*math.Pi/180, r3.Vec{Z: 1})
	off := float64(n-1) / 2
	centers := make([]r3.Vec, 0, n*n)
	open := make([]bool, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p := r3.Vec{X: (float64(i) - off) * spacing, Y: (float64(j) - off) * spacing}
			centers = append(centers, rot.Rotate(p))
			open = append(open, true)
		}
	}
	return NewHornArray(centers, radius, open, spacing, angleDeg)
}

// Radius returns the physical radius shared by the horns.
func (h *HornArray) Radius() float64 {
	if len(h.Horns) == 0 {
		return 0
	}
	return h.Horns[0].Radius
}

// SetEffectiveRadius derives the single-mode radius at frequency nu from
// the primary beam solid angle. Outside a single-moded band the physical
// radius is kept. The effective radius never exceeds the physical one.
func (h *HornArray) SetEffectiveRadius(nu, primarySolidAngle float64, singleModed bool) {
	r := h.Radius()
	h.RadiusEff = r
	if !singleModed {
		return
	}
	kappa := math.Pi * r * r * primarySolidAngle * nu * nu / (SpeedOfLight * SpeedOfLight)
	if kappa > 1 {
		h.RadiusEff = r / math.Sqrt(kappa)
	}
}

// Len returns the number of horns, open or not.
func (h *HornArray) Len() int { return len(h.Horns) }

// NumOpen returns the number of open horns.
func (h *HornArray) NumOpen() int {
	n := 0
	for _, hr := range h.Horns {
		if hr.Open {
			n++
		}
	}
	return n
}

// Close shuts the horns at the given indices.
func (h *HornArray) Close(indices ...int) error {
	for _, i := range indices {
		if i < 0 || i >= len(h.Horns) {
			return fmt.Errorf("geometry: horn index %d out of range [0, %d)", i, len(h.Horns))
		}
		h.Horns[i].Open = false
	}
	return nil
}

// CloseAll shuts every horn.
func (h *HornArray) CloseAll() {
	for i := range h.Horns {
		h.Horns[i].Open = false
	}
}
