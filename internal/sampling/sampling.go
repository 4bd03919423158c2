// Package sampling generates the time-ordered sequence of telescope
// orientations a projection operator is built for.
//
// Frames follow the usual right-handed conventions. The horizontal frame
// has x towards North, y towards West and z towards the zenith; azimuth is
// counted from North towards East. The instrument frame has its z axis on
// the boresight.
package sampling

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/akhenakh/sgp4"
	"gonum.org/v1/gonum/spatial/r3"
)

// Frame is the sky frame the scene is expressed in.
type Frame string

const (
	// FrameHorizontal keeps the scene fixed to the ground.
	FrameHorizontal Frame = "horizontal"
	FrameEquatorial Frame = "equatorial"
	FrameGalactic   Frame = "galactic"
)

// ParseFrame is case-insensitive.
func ParseFrame(s string) (Frame, error) {
	switch f := Frame(strings.ToLower(strings.TrimSpace(s))); f {
	case FrameHorizontal, FrameEquatorial, FrameGalactic:
		return f, nil
	default:
		return "", fmt.Errorf("sampling: unknown frame %q", s)
	}
}

// Orientation is the pointing of one time sample. Rotation maps scene
// coordinates onto instrument coordinates.
type Orientation struct {
	Time      float64 `json:"time"` // s since start
	Azimuth   float64 `json:"azimuth"`
	Elevation float64 `json:"elevation"`
	Pitch     float64 `json:"pitch"`
	HWPAngle  float64 `json:"hwp_angle"`
	Rotation  *r3.Mat `json:"-"`
}

// Params describes a constant-elevation azimuth sweep.
type Params struct {
	NSamples int
	Period   float64 // s

	AzimuthCenter float64 // deg
	AzimuthSpan   float64 // deg, full width of the sweep
	AzimuthSpeed  float64 // deg/s
	Elevation     float64 // deg

	// Pitch starts at PitchStart and advances by PitchStep at the end of
	// every back-and-forth sweep.
	PitchStart float64
	PitchStep  float64

	// HWPAngles are cycled through, advancing every HWPStep samples.
	HWPAngles []float64
	HWPStep   int

	Frame Frame
	Site  sgp4.Location
	Start time.Time
}

// Sampling is a generated pointing sequence.
type Sampling struct {
	Orientations []Orientation
	Period       float64
}

// Len returns the number of samples.
func (s *Sampling) Len() int { return len(s.Orientations) }

// HWPAngles returns the half-wave-plate angle of every sample in degrees.
func (s *Sampling) HWPAngles() []float64 {
	out := make([]float64, len(s.Orientations))
	for i, o := range s.Orientations {
		out[i] = o.HWPAngle
	}
	return out
}

// Generate builds the sweep. The output depends only on p.
func Generate(p Params) (*Sampling, error) {
	if p.NSamples < 1 {
		return nil, errors.New("sampling: nsamples must be >= 1")
	}
	if p.Period < 0 {
		return nil, errors.New("sampling: period must be >= 0")
	}
	if p.Elevation < 0 || p.Elevation > 90 {
		return nil, errors.New("sampling: elevation must be between 0 and 90")
	}
	frame := p.Frame
	if frame == "" {
		frame = FrameHorizontal
	}
	if _, err := ParseFrame(string(frame)); err != nil {
		return nil, err
	}

	hwp := p.HWPAngles
	if len(hwp) == 0 {
		hwp = []float64{0}
	}
	hwpStep := max(p.HWPStep, 1)

	s := &Sampling{Orientations: make([]Orientation, p.NSamples), Period: p.Period}
	for i := range s.Orientations {
		t := float64(i) * p.Period
		az, sweep := sweepAzimuth(p, t)
		o := Orientation{
			Time:      t,
			Azimuth:   az,
			Elevation: p.Elevation,
			Pitch:     p.PitchStart + float64(sweep)*p.PitchStep,
			HWPAngle:  hwp[(i/hwpStep)%len(hwp)],
		}
		i2h := instrumentToHorizontal(o.Azimuth, o.Elevation, o.Pitch)
		var i2s *r3.Mat
		switch frame {
		case FrameHorizontal:
			i2s = i2h
		case FrameEquatorial, FrameGalactic:
			when := p.Start.Add(time.Duration(t * float64(time.Second)))
			i2s = mul(horizontalToEquatorial(p.Site, when), i2h)
			if frame == FrameGalactic {
				i2s = mul(equatorialToGalactic(), i2s)
			}
		}
		o.Rotation = transpose(i2s)
		s.Orientations[i] = o
	}
	return s, nil
}

// sweepAzimuth returns the azimuth at time t and the index of the
// back-and-forth sweep t falls in.
func sweepAzimuth(p Params, t float64) (float64, int) {
	if p.AzimuthSpan <= 0 || p.AzimuthSpeed <= 0 {
		return p.AzimuthCenter, 0
	}
	cycle := 2 * p.AzimuthSpan / p.AzimuthSpeed
	n := math.Floor(t / cycle)
	x := (t - n*cycle) * p.AzimuthSpeed // distance travelled in this cycle
	if x > p.AzimuthSpan {
		x = 2*p.AzimuthSpan - x
	}
	return p.AzimuthCenter - p.AzimuthSpan/2 + x, int(n)
}

// LocalSiderealTime returns the local mean sidereal time in radians.
func LocalSiderealTime(site sgp4.Location, when time.Time) float64 {
	eci := sgp4.Eci{DateTime: when.UTC()}
	lst := math.Mod(eci.GreenwichSiderealTime()+site.Longitude*math.Pi/180, 2*math.Pi)
	if lst < 0 {
		lst += 2 * math.Pi
	}
	return lst
}

func instrumentToHorizontal(azDeg, elDeg, pitchDeg float64) *r3.Mat {
	const deg = math.Pi / 180
	return mul(mul(rotZ(-azDeg*deg), rotY(math.Pi/2-elDeg*deg)), rotZ(pitchDeg*deg))
}

func horizontalToEquatorial(site sgp4.Location, when time.Time) *r3.Mat {
	sl, cl := math.Sincos(site.Latitude * math.Pi / 180)
	m := r3.NewMat([]float64{
		-sl, 0, cl,
		0, -1, 0,
		cl, 0, sl,
	})
	return mul(rotZ(LocalSiderealTime(site, when)), m)
}

// equatorialToGalactic is the J2000 to galactic rotation.
func equatorialToGalactic() *r3.Mat {
	return r3.NewMat([]float64{
		-0.0548755604, -0.8734370902, -0.4838350155,
		0.4941094279, -0.4448296300, 0.7469822445,
		-0.8676661490, -0.1980763734, 0.4559837762,
	})
}

func rotZ(a float64) *r3.Mat {
	s, c := math.Sincos(a)
	return r3.NewMat([]float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

func rotY(a float64) *r3.Mat {
	s, c := math.Sincos(a)
	return r3.NewMat([]float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

func mul(a, b *r3.Mat) *r3.Mat {
	m := r3.NewMat(nil)
	m.Mul(a, b)
	return m
}

func transpose(a *r3.Mat) *r3.Mat {
	m := r3.NewMat(nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, a.At(j, i))
		}
	}
	return m
}
