package sampling

import (
	"math"
	"testing"
	"time"

	"github.com/akhenakh/sgp4"
	"gonum.org/v1/gonum/spatial/r3"
)

const tol = 1e-9

func boresight(o Orientation) r3.Vec {
	return o.Rotation.MulVecTrans(r3.Vec{Z: 1})
}

func TestHorizontalBoresight(t *testing.T) {
	s, err := Generate(Params{
		NSamples:      1,
		AzimuthCenter: 30,
		Elevation:     50,
		PitchStart:    12,
	})
	if err != nil {
		t.Fatal(err)
	}
	const deg = math.Pi / 180
	want := r3.Vec{
		X: math.Cos(50*deg) * math.Cos(30*deg),
		Y: -math.Cos(50*deg) * math.Sin(30*deg),
		Z: math.Sin(50 * deg),
	}
	if got := boresight(s.Orientations[0]); r3.Norm(r3.Sub(got, want)) > tol {
		t.Fatalf("boresight = %v, want %v", got, want)
	}
}

func TestRotationsAreOrthonormal(t *testing.T) {
	for _, frame := range []Frame{FrameHorizontal, FrameEquatorial, FrameGalactic} {
		s, err := Generate(Params{
			NSamples:      20,
			Period:        0.5,
			AzimuthCenter: 0,
			AzimuthSpan:   40,
			AzimuthSpeed:  2,
			Elevation:     45,
			PitchStep:     5,
			Frame:         frame,
			Site:          sgp4.Location{Latitude: -24.19, Longitude: -66.47},
			Start:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatal(err)
		}
		for i, o := range s.Orientations {
			for _, v := range []r3.Vec{{X: 1}, {Y: 1}, {Z: 1}, {X: 0.3, Y: -0.2, Z: 0.9}} {
				w := o.Rotation.MulVec(v)
				// the galactic matrix is only given to 10 decimals
				if math.Abs(r3.Norm(w)-r3.Norm(v)) > 1e-8 {
					t.Fatalf("%s sample %d: rotation does not preserve norm", frame, i)
				}
			}
			if math.Abs(o.Rotation.Det()-1) > 1e-8 {
				t.Fatalf("%s sample %d: det = %v", frame, i, o.Rotation.Det())
			}
		}
	}
}

func TestSweepStaysInRange(t *testing.T) {
	p := Params{NSamples: 200, Period: 0.3, AzimuthCenter: 10, AzimuthSpan: 20, AzimuthSpeed: 3, Elevation: 50, PitchStep: 1}
	s, err := Generate(p)
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range s.Orientations {
		if o.Azimuth < 0-tol || o.Azimuth > 20+tol {
			t.Fatalf("azimuth %v outside [0, 20]", o.Azimuth)
		}
	}
	// a full cycle is 2·20/3 s; the last sample is in cycle 4
	if last := s.Orientations[len(s.Orientations)-1]; last.Pitch != 4 {
		t.Fatalf("pitch after 4 cycles = %v", last.Pitch)
	}
}

func TestHWPCycling(t *testing.T) {
	s, err := Generate(Params{NSamples: 7, Elevation: 50, HWPAngles: []float64{0, 15, 30}, HWPStep: 2})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0, 0, 15, 15, 30, 30, 0}
	for i, a := range s.HWPAngles() {
		if a != want[i] {
			t.Fatalf("hwp[%d] = %v, want %v", i, a, want[i])
		}
	}
}

func TestZenithPointsAtLocalSiderealTime(t *testing.T) {
	site := sgp4.Location{Latitude: 45, Longitude: 7}
	start := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	s, err := Generate(Params{NSamples: 1, Elevation: 90, Frame: FrameEquatorial, Site: site, Start: start})
	if err != nil {
		t.Fatal(err)
	}
	lst := LocalSiderealTime(site, start)
	if lst < 0 || lst >= 2*math.Pi {
		t.Fatalf("lst = %v", lst)
	}
	got := boresight(s.Orientations[0])
	if dec := math.Asin(got.Z) * 180 / math.Pi; math.Abs(dec-45) > 1e-6 {
		t.Fatalf("declination of zenith = %v, want site latitude", dec)
	}
	ra := math.Mod(math.Atan2(got.Y, got.X)+2*math.Pi, 2*math.Pi)
	if d := math.Abs(ra - lst); d > 1e-6 && math.Abs(d-2*math.Pi) > 1e-6 {
		t.Fatalf("right ascension of zenith = %v, want lst %v", ra, lst)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	p := Params{NSamples: 50, Period: 1, AzimuthSpan: 30, AzimuthSpeed: 1, Elevation: 40, Frame: FrameGalactic,
		Site: sgp4.Location{Latitude: 10}, Start: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	a, _ := Generate(p)
	b, _ := Generate(p)
	for i := range a.Orientations {
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				if a.Orientations[i].Rotation.At(r, c) != b.Orientations[i].Rotation.At(r, c) {
					t.Fatalf("sample %d differs", i)
				}
			}
		}
	}
}

func TestGenerateValidation(t *testing.T) {
	bad := []Params{
		{NSamples: 0, Elevation: 10},
		{NSamples: 1, Elevation: 95},
		{NSamples: 1, Elevation: 10, Period: -1},
		{NSamples: 1, Elevation: 10, Frame: "ecliptic"},
	}
	for i, p := range bad {
		if _, err := Generate(p); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}
