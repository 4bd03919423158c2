// Package scene describes the sky the instrument observes: its
// pixelization, which Stokes parameters are modelled, an optional patch
// restricting the pixels and the emitting environment in front of the
// instrument.
package scene

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/large-farva/bolometric-engine/internal/healpix"
)

// Kind is the set of Stokes parameters carried by each pixel.
type Kind string

const (
	KindI   Kind = "I"
	KindQU  Kind = "QU"
	KindIQU Kind = "IQU"
)

// ErrInvalidKind is returned for an unknown polarisation tag.
var ErrInvalidKind = errors.New("scene: kind must be one of I, QU, IQU")

// ParseKind is case-insensitive.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindI, KindQU, KindIQU:
		return k, nil
	default:
		return "", fmt.Errorf("%w (got %q)", ErrInvalidKind, s)
	}
}

// Components returns the number of Stokes parameters per pixel.
func (k Kind) Components() int {
	switch k {
	case KindQU:
		return 2
	case KindIQU:
		return 3
	default:
		return 1
	}
}

// Polarized reports whether the kind carries Q and U.
func (k Kind) Polarized() bool { return k == KindQU || k == KindIQU }

// Atmosphere is the emitting layer between the sky and the instrument.
type Atmosphere struct {
	Temperature  float64 `json:"temperature"`
	Transmission float64 `json:"transmission"`
	Emissivity   float64 `json:"emissivity"`
}

// Environment holds the temperatures of what the instrument looks
// through. A CMB temperature above 100 K stands for a room-temperature
// load in front of the window, in which case the atmosphere does not emit.
type Environment struct {
	CMBTemperature float64    `json:"cmb_temperature"`
	Atmosphere     Atmosphere `json:"atmosphere"`
}

// AtmosphereEmissivity returns the emissivity to use for the atmosphere.
func (e Environment) AtmosphereEmissivity() float64 {
	if e.CMBTemperature > 100 {
		return 0
	}
	return e.Atmosphere.Emissivity
}

// Patch is a disc on the sky. Pixels whose centre lies inside belong to it.
type Patch struct {
	Theta  float64 `json:"theta"`  // rad
	Phi    float64 `json:"phi"`    // rad
	Radius float64 `json:"radius"` // rad
}

// Scene is immutable once built and safe for concurrent reads.
type Scene struct {
	Kind        Kind
	Nside       int
	Environment Environment

	patch  *Patch
	pixels []int64 // sorted full-sky indices of the patch
}

// New builds a full-sky scene.
func New(nside int, kind Kind, env Environment) (*Scene, error) {
	if err := healpix.Validate(nside); err != nil {
		return nil, err
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	return &Scene{Kind: kind, Nside: nside, Environment: env}, nil
}

// WithPatch returns a copy of s restricted to the pixels inside p.
func (s *Scene) WithPatch(p Patch) (*Scene, error) {
	if !(p.Radius > 0) {
		return nil, errors.New("scene: patch radius must be > 0")
	}
	center := r3.Vec{
		X: math.Sin(p.Theta) * math.Cos(p.Phi),
		Y: math.Sin(p.Theta) * math.Sin(p.Phi),
		Z: math.Cos(p.Theta),
	}
	cosr := math.Cos(p.Radius)
	npix := healpix.NPix(s.Nside)
	var pixels []int64
	for i := int64(0); i < npix; i++ {
		if r3.Dot(healpix.Pix2Vec(s.Nside, i), center) >= cosr {
			pixels = append(pixels, i)
		}
	}
	if len(pixels) == 0 {
		return nil, fmt.Errorf("scene: patch of radius %g rad holds no pixel at nside %d", p.Radius, s.Nside)
	}
	out := *s
	out.patch = &p
	out.pixels = pixels
	return &out, nil
}

// Patch returns the patch the scene is restricted to, if any.
func (s *Scene) Patch() (Patch, bool) {
	if s.patch == nil {
		return Patch{}, false
	}
	return *s.patch, true
}

// Len returns the number of pixels the scene is made of.
func (s *Scene) Len() int64 {
	if s.patch != nil {
		return int64(len(s.pixels))
	}
	return healpix.NPix(s.Nside)
}

// SolidAngle returns the solid angle of one pixel.
func (s *Scene) SolidAngle() float64 {
	return healpix.PixelSolidAngle(s.Nside)
}

// RequiresWideIndex reports whether column indices need 64 bits.
func (s *Scene) RequiresWideIndex() bool {
	return healpix.RequiresWideIndex(s.Nside)
}

// FullSky maps column i back to its full-sky pixel.
func (s *Scene) FullSky(i int64) int64 {
	if s.patch == nil {
		return i
	}
	return s.pixels[i]
}

// Local maps a full-sky pixel to the scene's column index, or -1 when
// the pixel lies outside the patch.
func (s *Scene) Local(pix int64) int64 {
	if s.patch == nil {
		return pix
	}
	i, ok := slices.BinarySearch(s.pixels, pix)
	if !ok {
		return -1
	}
	return int64(i)
}

// Pixel returns the column index of direction v (any norm).
func (s *Scene) Pixel(v r3.Vec) int64 {
	return s.Local(healpix.Vec2Pix(s.Nside, v))
}
