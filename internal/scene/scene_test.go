package scene

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/large-farva/bolometric-engine/internal/healpix"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in    string
		want  Kind
		comps int
	}{
		{"i", KindI, 1},
		{"QU", KindQU, 2},
		{" iqu ", KindIQU, 3},
	}
	for _, tc := range tests {
		k, err := ParseKind(tc.in)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", tc.in, err)
		}
		if k != tc.want || k.Components() != tc.comps {
			t.Fatalf("ParseKind(%q) = %s/%d", tc.in, k, k.Components())
		}
	}
	if _, err := ParseKind("V"); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewRejectsBadNside(t *testing.T) {
	if _, err := New(12, KindI, Environment{}); !errors.Is(err, healpix.ErrInvalidNside) {
		t.Fatalf("err = %v", err)
	}
}

func TestFullSkyLocalIsIdentity(t *testing.T) {
	s, err := New(8, KindIQU, Environment{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != healpix.NPix(8) {
		t.Fatalf("Len = %d", s.Len())
	}
	for _, p := range []int64{0, 17, healpix.NPix(8) - 1} {
		if s.Local(p) != p {
			t.Fatalf("Local(%d) = %d", p, s.Local(p))
		}
	}
}

func TestPatch(t *testing.T) {
	full, _ := New(16, KindI, Environment{})
	s, err := full.WithPatch(Patch{Theta: math.Pi / 2, Phi: 0, Radius: 10 * math.Pi / 180})
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() <= 0 || s.Len() >= full.Len() {
		t.Fatalf("patch holds %d of %d pixels", s.Len(), full.Len())
	}
	if got := s.Pixel(r3.Vec{X: 1}); got < 0 || got >= s.Len() {
		t.Fatalf("patch centre maps to %d", got)
	}
	if got := s.Pixel(r3.Vec{X: -1}); got != -1 {
		t.Fatalf("antipode maps to %d, want -1", got)
	}
	if _, ok := full.Patch(); ok {
		t.Fatal("WithPatch modified the receiver")
	}
	if _, err := full.WithPatch(Patch{Radius: 0}); err == nil {
		t.Fatal("expected error for zero radius")
	}
}

func TestAtmosphereEmissivity(t *testing.T) {
	env := Environment{CMBTemperature: 2.725, Atmosphere: Atmosphere{Temperature: 270, Transmission: 1, Emissivity: 0.01}}
	if env.AtmosphereEmissivity() != 0.01 {
		t.Fatal("sky observation lost atmospheric emission")
	}
	env.CMBTemperature = 300
	if env.AtmosphereEmissivity() != 0 {
		t.Fatal("room-temperature load keeps atmospheric emission")
	}
}
