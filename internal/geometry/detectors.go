package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Detector is a bolometer on the focal plane.
type Detector struct {
	Index      int     `json:"index"`
	Center     r3.Vec  `json:"center"`
	Area       float64 `json:"area"`
	Quadrant   int     `json:"quadrant"` // 1-4 on the first grid, 5-8 on the second
	Efficiency float64 `json:"efficiency"`
}

// Theta is the zenith angle of the detector seen from the array origin.
func (d Detector) Theta() float64 {
	return math.Atan2(math.Hypot(d.Center.X, d.Center.Y), d.Center.Z)
}

// Phi is the azimuth of the detector seen from the array origin.
func (d Detector) Phi() float64 {
	return math.Atan2(d.Center.Y, d.Center.X)
}

// Grid returns the polarisation grid (0 or 1) the detector belongs to.
func (d Detector) Grid() int {
	return (d.Quadrant - 1) / 4
}

// SolidAngle is the solid angle the detector subtends at the origin.
// Detectors sit behind the origin (z < 0), so cos³θ is negative and the
// leading minus keeps the result positive.
func (d Detector) SolidAngle() float64 {
	c := math.Cos(d.Theta())
	return -d.Area / (d.Center.Z * d.Center.Z) * c * c * c
}

// DetectorArray is the ordered detector list. Detector i always has Index i.
type DetectorArray struct {
	Detectors []Detector
	NGrids    int
}

// NewDetectorArray validates that indices are bijective with positions and
// that the quadrant numbering fits the number of grids.
func NewDetectorArray(dets []Detector, ngrids int) (*DetectorArray, error) {
	if ngrids != 1 && ngrids != 2 {
		return nil, fmt.Errorf("geometry: detector ngrids must be 1 or 2, got %d", ngrids)
	}
	for i, d := range dets {
		if d.Index != i {
			return nil, fmt.Errorf("geometry: detector %d carries index %d", i, d.Index)
		}
		if d.Quadrant < 1 || d.Quadrant > 4*ngrids {
			return nil, fmt.Errorf("geometry: detector %d has quadrant %d outside [1, %d]", i, d.Quadrant, 4*ngrids)
		}
		if d.Area <= 0 {
			return nil, fmt.Errorf("geometry: detector %d has non-positive area", i)
		}
	}
	return &DetectorArray{Detectors: dets, NGrids: ngrids}, nil
}

// SquareDetectorArray lays out four n×n quadrants of square detectors of
// side pitch at z = -focalLength. With ngrids = 2 the layout is repeated
// for the second polarisation grid and its quadrants are numbered 5-8.
func SquareDetectorArray(n int, pitch, focalLength, efficiency float64, ngrids int) (*DetectorArray, error) {
	if n < 1 {
		return nil, errors.New("geometry: detector grid size must be >= 1")
	}
	if pitch <= 0 || focalLength <= 0 {
		return nil, errors.New("geometry: detector pitch and focal length must be > 0")
	}
	// quadrant signs counter-clockwise from +x+y
	signs := [4][2]float64{{1, 1}, {-1, 1}, {-1, -1}, {1, -1}}

	dets := make([]Detector, 0, 4*n*n*ngrids)
	for g := 0; g < ngrids; g++ {
		for q, s := range signs {
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					dets = append(dets, Detector{
						Index: len(dets),
						Center: r3.Vec{
							X: s[0] * (float64(i) + 0.5) * pitch,
							Y: s[1] * (float64(j) + 0.5) * pitch,
							Z: -focalLength,
						},
						Area:       pitch * pitch,
						Quadrant:   g*4 + q + 1,
						Efficiency: efficiency,
					})
				}
			}
		}
	}
	return NewDetectorArray(dets, ngrids)
}

// Len returns the number of detectors.
func (a *DetectorArray) Len() int { return len(a.Detectors) }

// Positions returns the detector centres in index order.
func (a *DetectorArray) Positions() []r3.Vec {
	out := make([]r3.Vec, len(a.Detectors))
	for i, d := range a.Detectors {
		out[i] = d.Center
	}
	return out
}

// Efficiencies returns the quantum efficiency of every detector.
func (a *DetectorArray) Efficiencies() []float64 {
	out := make([]float64, len(a.Detectors))
	for i, d := range a.Detectors {
		out[i] = d.Efficiency
	}
	return out
}

// Grids returns the grid id of every detector.
func (a *DetectorArray) Grids() []int {
	out := make([]int, len(a.Detectors))
	for i, d := range a.Detectors {
		out[i] = d.Grid()
	}
	return out
}
