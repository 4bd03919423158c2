// Package healpix implements the subset of the HEALPix RING scheme the
// forward model needs: mapping directions to equal-area cells and back.
package healpix

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MaxNside is the largest resolution whose pixel count still fits in an int64.
const MaxNside = 1 << 29

// WideIndexNside is the largest resolution whose pixel indices fit in int32.
const WideIndexNside = 8192

// ErrInvalidNside is returned for resolutions that are not a power of two
// in [1, MaxNside].
var ErrInvalidNside = errors.New("healpix: nside must be a power of two in [1, 2^29]")

// Validate checks that nside is a legal resolution.
func Validate(nside int) error {
	if nside < 1 || nside > MaxNside || nside&(nside-1) != 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidNside, nside)
	}
	return nil
}

// NPix returns the number of pixels on the sphere, 12·nside².
func NPix(nside int) int64 {
	n := int64(nside)
	return 12 * n * n
}

// PixelSolidAngle returns the solid angle of a single pixel in steradians.
func PixelSolidAngle(nside int) float64 {
	return 4 * math.Pi / float64(NPix(nside))
}

// RequiresWideIndex reports whether pixel indices at this resolution need
// 64-bit storage.
func RequiresWideIndex(nside int) bool {
	return nside > WideIndexNside
}

// Ang2Pix returns the RING pixel containing the direction with zenith angle
// theta and azimuth phi (radians).
func Ang2Pix(nside int, theta, phi float64) int64 {
	sth, z := math.Sincos(theta)
	return zphi2pix(nside, z, math.Abs(sth), phi)
}

// Vec2Pix returns the RING pixel containing direction v. v need not be
// normalised.
func Vec2Pix(nside int, v r3.Vec) int64 {
	norm := r3.Norm(v)
	return zphi2pix(nside, v.Z/norm, math.Hypot(v.X, v.Y)/norm, math.Atan2(v.Y, v.X))
}

// zphi2pix locates (z, phi). sth is sin θ, computed by the caller from
// the components that carry the precision: near the poles 1-|z| rounds
// away long before the ring spacing does.
func zphi2pix(nside int, z, sth, phi float64) int64 {
	ns := int64(nside)
	za := math.Abs(z)
	tt := math.Mod(phi*2/math.Pi, 4)
	if tt < 0 {
		tt += 4
	}

	if za <= 2.0/3.0 {
		// Equatorial belt.
		nl4 := 4 * ns
		temp1 := float64(ns) * (0.5 + tt)
		temp2 := float64(ns) * z * 0.75
		jp := int64(temp1 - temp2)
		jm := int64(temp1 + temp2)
		ir := ns + 1 + jp - jm
		kshift := 1 - (ir & 1)
		ip := (jp + jm - ns + kshift + 1) / 2
		ip %= nl4
		if ip < 0 {
			ip += nl4
		}
		ncap := 2 * ns * (ns - 1)
		return ncap + (ir-1)*nl4 + ip
	}

	// Polar caps. sqrt(3(1-|z|)) == sin θ / sqrt((1+|z|)/3).
	tp := tt - math.Floor(tt)
	tmp := float64(ns) * sth / math.Sqrt((1+za)/3)
	jp := int64(tp * tmp)
	jm := int64((1 - tp) * tmp)
	ir := jp + jm + 1
	if ir > ns {
		ir = ns
	}
	ip := int64(tt * float64(ir))
	ip %= 4 * ir
	if z > 0 {
		return 2*ir*(ir-1) + ip
	}
	return NPix(nside) - 2*ir*(ir+1) + ip
}

// Pix2Ang returns the zenith angle and azimuth of the centre of pixel p.
func Pix2Ang(nside int, p int64) (theta, phi float64) {
	z, sth, phi := pix2zphi(nside, p)
	return math.Atan2(sth, z), phi
}

// Pix2Vec returns the unit vector pointing at the centre of pixel p.
func Pix2Vec(nside int, p int64) r3.Vec {
	z, sth, phi := pix2zphi(nside, p)
	sp, cp := math.Sincos(phi)
	return r3.Vec{X: sth * cp, Y: sth * sp, Z: z}
}

// pix2zphi returns cos θ, sin θ and φ of the centre of pixel p. In the
// caps sin θ comes from the ring offset directly so it keeps full
// precision where z rounds to ±1.
func pix2zphi(nside int, p int64) (z, sth, phi float64) {
	ns := int64(nside)
	npix := NPix(nside)
	ncap := 2 * ns * (ns - 1)
	fact2 := 4.0 / float64(npix)

	switch {
	case p < ncap:
		iring := (1 + isqrt(1+2*p)) >> 1
		iphi := p + 1 - 2*iring*(iring-1)
		tmp := float64(iring*iring) * fact2
		z = 1 - tmp
		sth = math.Sqrt(tmp * (2 - tmp))
		phi = (float64(iphi) - 0.5) * math.Pi / (2 * float64(iring))
	case p < npix-ncap:
		ip := p - ncap
		nl4 := 4 * ns
		iring := ip/nl4 + ns
		iphi := ip%nl4 + 1
		fodd := 0.5
		if (iring+ns)&1 == 1 {
			fodd = 1
		}
		z = float64(2*ns-iring) * 2 / (3 * float64(ns))
		sth = math.Sqrt((1 - z) * (1 + z))
		phi = (float64(iphi) - fodd) * math.Pi / (2 * float64(ns))
	default:
		ip := npix - p
		iring := (1 + isqrt(2*ip-1)) >> 1
		iphi := 4*iring + 1 - (ip - 2*iring*(iring-1))
		tmp := float64(iring*iring) * fact2
		z = tmp - 1
		sth = math.Sqrt(tmp * (2 - tmp))
		phi = (float64(iphi) - 0.5) * math.Pi / (2 * float64(iring))
	}
	return z, sth, phi
}

// isqrt returns floor(sqrt(v)) exactly for the ranges used by pix2zphi.
func isqrt(v int64) int64 {
	r := int64(math.Sqrt(float64(v) + 0.5))
	for r*r > v {
		r--
	}
	for (r+1)*(r+1) <= v {
		r++
	}
	return r
}
