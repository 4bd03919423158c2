// Package synthbeam models the synthetic beam of each detector as a
// discrete set of interference peaks and keeps the ones carrying most of
// the energy seen through the primary beam. Field evaluates the full
// horn-sum beam the peak model approximates.
package synthbeam

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/large-farva/bolometric-engine/internal/geometry"
)

// NumCandidates returns the number of diffraction orders considered per
// detector for a given cutoff, (2·kmax+1)².
func NumCandidates(kmax int) int {
	n := 2*kmax + 1
	return n * n
}

// PeakAngles returns, for each detector position, the zenith and azimuth
// of the (2·kmax+1)² interference peaks in the instrument frame. Orders
// are enumerated kx-major. Orders pointing below the horizon of the
// aperture plane get a NaN zenith.
func PeakAngles(kmax int, spacing, angleDeg, nu float64, positions []r3.Vec) (theta, phi [][]float64) {
	lambda := geometry.SpeedOfLight / nu
	sin, cos := math.Sincos(angleDeg * math.Pi / 180)

	ncand := NumCandidates(kmax)
	kx := make([]float64, 0, ncand)
	ky := make([]float64, 0, ncand)
	for i := -kmax; i <= kmax; i++ {
		for j := -kmax; j <= kmax; j++ {
			x, y := float64(i), float64(j)
			kx = append(kx, x*cos-y*sin)
			ky = append(ky, x*sin+y*cos)
		}
	}

	theta = make([][]float64, len(positions))
	phi = make([][]float64, len(positions))
	for d, p := range positions {
		n := r3.Scale(-1/r3.Norm(p), p)
		th := make([]float64, ncand)
		ph := make([]float64, ncand)
		for k := range kx {
			nx := n.X - lambda*kx[k]/spacing
			ny := n.Y - lambda*ky[k]/spacing
			s := math.Hypot(nx, ny)
			if s > 1 {
				th[k] = math.NaN()
			} else {
				th[k] = math.Asin(s)
			}
			ph[k] = math.Atan2(ny, nx)
		}
		theta[d] = th
		phi[d] = ph
	}
	return theta, phi
}
