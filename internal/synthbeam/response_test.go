package synthbeam

import (
	"context"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/large-farva/bolometric-engine/internal/geometry"
	"github.com/large-farva/bolometric-engine/internal/healpix"
	"github.com/large-farva/bolometric-engine/internal/scene"
)

const (
	fieldNu      = 150e9
	fieldSpacing = 0.014
	fieldAngle   = 45.0
)

func testField(t *testing.T) Field {
	t.Helper()
	horns, err := geometry.SquareHornArray(8, fieldSpacing, 0.005, fieldAngle)
	if err != nil {
		t.Fatal(err)
	}
	return Field{
		Horns:     horns,
		Primary:   geometry.NewGaussianBeam(13*math.Pi/180, fieldNu, false),
		Secondary: geometry.NewGaussianBeam(13*math.Pi/180, fieldNu, true),
		Nu:        fieldNu,
		Bandwidth: 0.25 * fieldNu,
	}
}

func unitVec(theta, phi float64) r3.Vec {
	st, ct := math.Sincos(theta)
	sp, cp := math.Sincos(phi)
	return r3.Vec{X: st * cp, Y: st * sp, Z: ct}
}

func angleDeg(a, b r3.Vec) float64 {
	return math.Acos(math.Max(-1, math.Min(1, r3.Dot(r3.Unit(a), r3.Unit(b))))) * 180 / math.Pi
}

// The interference maxima of the direct horn sum sit on the diffraction
// orders the peak model uses.
func TestResponseMaximaAtPeakAngles(t *testing.T) {
	const nside = 128
	f := testField(t)
	sc, err := scene.New(nside, scene.KindI, scene.Environment{})
	if err != nil {
		t.Fatal(err)
	}
	det := geometry.Detector{Center: r3.Vec{X: 0.004, Y: -0.002, Z: -0.3}, Area: 9e-6, Efficiency: 1, Quadrant: 1}

	rows, err := f.Response(context.Background(), sc, []geometry.Detector{det})
	if err != nil {
		t.Fatal(err)
	}
	row := rows[0]
	if int64(len(row)) != sc.Len() {
		t.Fatalf("row has %d columns, want %d", len(row), sc.Len())
	}

	theta, phi := PeakAngles(1, fieldSpacing, fieldAngle, fieldNu, []r3.Vec{det.Center})

	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	central := unitVec(theta[0][4], phi[0][4])
	if d := angleDeg(healpix.Pix2Vec(nside, int64(best)), central); d > 0.6 {
		t.Errorf("global maximum %.3f° away from the central order", d)
	}

	for k := range theta[0] {
		peak := unitVec(theta[0][k], phi[0][k])
		local, lv := -1, 0.0
		for i, v := range row {
			if v > lv && angleDeg(healpix.Pix2Vec(nside, int64(i)), peak) < 3 {
				local, lv = i, v
			}
		}
		if local < 0 {
			t.Fatalf("order %d: no response within 3°", k)
		}
		if d := angleDeg(healpix.Pix2Vec(nside, int64(local)), peak); d > 0.6 {
			t.Errorf("order %d: local maximum %.3f° from the peak direction", k, d)
		}
	}

	// half way between two orders the horn fields cancel
	mid := r3.Add(central, unitVec(theta[0][7], phi[0][7]))
	atPeak := row[healpix.Vec2Pix(nside, central)]
	between := row[healpix.Vec2Pix(nside, mid)]
	if !(atPeak > 100*between) {
		t.Errorf("peak %g vs midpoint %g", atPeak, between)
	}
}

func TestResponseBoundsAndPatch(t *testing.T) {
	f := testField(t)
	full, err := scene.New(32, scene.KindI, scene.Environment{})
	if err != nil {
		t.Fatal(err)
	}
	patch, err := full.WithPatch(scene.Patch{Radius: 0.3})
	if err != nil {
		t.Fatal(err)
	}
	dets, err := geometry.SquareDetectorArray(2, 0.003, 0.3, 1, 1)
	if err != nil {
		t.Fatal(err)
	}

	fullRows, err := f.Response(context.Background(), full, dets.Detectors)
	if err != nil {
		t.Fatal(err)
	}
	patchRows, err := f.Response(context.Background(), patch, dets.Detectors)
	if err != nil {
		t.Fatal(err)
	}
	for d := range dets.Detectors {
		for i, v := range patchRows[d] {
			if want := fullRows[d][patch.FullSky(int64(i))]; v != want {
				t.Fatalf("detector %d column %d: patch %g, full sky %g", d, i, v, want)
			}
		}
		// nothing past ThetaMax
		for p, v := range fullRows[d] {
			if v != 0 && healpix.Pix2Vec(32, int64(p)).Z < math.Cos(DefaultThetaMax) {
				t.Fatalf("detector %d pixel %d beyond ThetaMax has %g", d, p, v)
			}
		}
	}

	double := f
	double.Bandwidth *= 2
	rows, err := double.Response(context.Background(), patch, dets.Detectors[:1])
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range rows[0] {
		if math.Abs(v-2*patchRows[0][i]) > 1e-12*math.Abs(v) {
			t.Fatalf("column %d does not scale with the bandwidth: %g vs %g", i, v, patchRows[0][i])
		}
	}
}

func TestResponseErrors(t *testing.T) {
	f := testField(t)
	sc, err := scene.New(8, scene.KindI, scene.Environment{})
	if err != nil {
		t.Fatal(err)
	}
	dets := []geometry.Detector{{Center: r3.Vec{Z: -0.3}, Area: 9e-6}}

	closed := testField(t)
	closed.Horns.CloseAll()
	if _, err := closed.Response(context.Background(), sc, dets); !errors.Is(err, ErrNoOpenHorn) {
		t.Errorf("closed horns: err = %v", err)
	}

	bad := f
	bad.Bandwidth = 0
	if _, err := bad.Response(context.Background(), sc, dets); err == nil {
		t.Error("zero bandwidth accepted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Response(ctx, sc, dets); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: err = %v", err)
	}
}
