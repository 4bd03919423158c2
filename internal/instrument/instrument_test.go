package instrument

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/large-farva/bolometric-engine/internal/config"
	"github.com/large-farva/bolometric-engine/internal/noise"
	"github.com/large-farva/bolometric-engine/internal/observability"
	"github.com/large-farva/bolometric-engine/internal/response"
	"github.com/large-farva/bolometric-engine/internal/sparse"
)

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.Horns.Grid = 6
	cfg.Detectors.Grid = 2
	cfg.Detectors.Tau = 0
	cfg.Synthbeam.KMax = 2
	cfg.Scene.Nside = 16
	cfg.Scene.Kind = "I"
	cfg.Sampling.NSamples = 20
	cfg.Sampling.HWPStep = 5
	cfg.Instrument.Polarizer = false
	return cfg
}

func newInstrument(t *testing.T, cfg config.Config, opts ...Option) *Instrument {
	t.Helper()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("config: %v", err)
	}
	in, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return in
}

func TestNewDefault(t *testing.T) {
	in := newInstrument(t, config.Default())
	if in.Band != noise.BandIntegral {
		t.Errorf("band = %s", in.Band)
	}
	if in.Horns.NumOpen() != 64 || in.Horns.RadiusEff > in.Horns.Radius() {
		t.Errorf("horns: %d open, r_eff %g, r %g", in.Horns.NumOpen(), in.Horns.RadiusEff, in.Horns.Radius())
	}
	if in.Peaks.NDetectors != in.Detectors.Len() || in.Peaks.NPeaks < 1 {
		t.Errorf("peaks %d×%d for %d detectors", in.Peaks.NDetectors, in.Peaks.NPeaks, in.Detectors.Len())
	}
	if in.Precision != (sparse.Precision{Index: sparse.IndexAuto, Value: sparse.Float32}) {
		t.Errorf("precision = %s", in.Precision)
	}
}

func TestNewRejectsUnsupportedSetups(t *testing.T) {
	cfg := smallConfig()
	cfg.Instrument.Nu = 185e9
	if _, err := New(cfg); !errors.Is(err, noise.ErrBandOutOfRange) {
		t.Errorf("185 GHz: err = %v", err)
	}

	cfg = smallConfig()
	cfg.Instrument.Nu = 220e9
	cfg.Instrument.Config = "TD"
	if _, err := New(cfg); !errors.Is(err, noise.ErrConfigUnsupported) {
		t.Errorf("TD at 220 GHz: err = %v", err)
	}

	cfg = smallConfig()
	cfg.Instrument.Config = "TD"
	if _, err := New(cfg); !errors.Is(err, noise.ErrStageOrder) {
		t.Errorf("TD with a dichroic in the train: err = %v", err)
	}

	cfg = smallConfig()
	cfg.Scene.Kind = "IQU"
	cfg.Projection.IndexType = "int32"
	cfg.Projection.ValueType = "float64"
	if _, err := New(cfg); !errors.Is(err, sparse.ErrUnsupportedPrecision) {
		t.Errorf("IQU with int32/float64: err = %v", err)
	}

	cfg = smallConfig()
	cfg.Scene.Kind = "IQU"
	cfg.Scene.Nside = 16384
	_, err := New(cfg)
	if !errors.Is(err, sparse.ErrUnsupportedPrecision) || !strings.Contains(err.Error(), `value_type = "float64"`) {
		t.Errorf("wide IQU with float32 values: err = %v", err)
	}
}

func TestBuildProjectionRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	in := newInstrument(t, smallConfig(), WithMetrics(m))
	s, err := in.Sampling()
	if err != nil {
		t.Fatal(err)
	}

	var calls int
	op, err := in.BuildProjection(context.Background(), s, func(done, total int) { calls++ })
	if err != nil {
		t.Fatal(err)
	}
	st := op.Stats()
	if st.Rows != in.Detectors.Len()*s.Len() || st.Precision != "int32/float32" {
		t.Errorf("stats = %+v", st)
	}
	if calls == 0 {
		t.Error("progress never reported")
	}
	if est, err := in.ProjectionBytes(s.Len()); err != nil || est != st.Bytes {
		t.Errorf("ProjectionBytes = %d, %v; built storage %d", est, err, st.Bytes)
	}
	if got := testutil.ToFloat64(m.ProjectionBuilds.WithLabelValues("I", "ok")); got != 1 {
		t.Errorf("ok builds = %v", got)
	}
	if got := testutil.ToFloat64(m.ProjectionNonZero); got != float64(st.NonZero) {
		t.Errorf("nonzero gauge = %v, want %d", got, st.NonZero)
	}
}

func TestBuildProjectionPrecisionError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	cfg := smallConfig()
	cfg.Scene.Kind = "IQU"
	in := newInstrument(t, cfg, WithMetrics(m))
	in.Precision = sparse.Precision{Index: sparse.Int32, Value: sparse.Float64}
	s, err := in.Sampling()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := in.BuildProjection(context.Background(), s, nil); !errors.Is(err, sparse.ErrUnsupportedPrecision) {
		t.Fatalf("err = %v", err)
	}
	if got := testutil.ToFloat64(m.ProjectionBuilds.WithLabelValues("IQU", "error")); got != 1 {
		t.Errorf("failed builds = %v", got)
	}
}

func TestComputeNEP(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	in := newInstrument(t, smallConfig(), WithMetrics(m))

	brief, err := in.ComputeNEP(context.Background(), false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if brief.NEP != nil || brief.Stages != nil {
		t.Error("summary carries detail")
	}
	if !(brief.Min > 0 && brief.Min <= brief.Mean && brief.Mean <= brief.Max) {
		t.Errorf("min/mean/max = %g/%g/%g", brief.Min, brief.Mean, brief.Max)
	}

	var seen int
	full, err := in.ComputeNEP(context.Background(), true, func(noise.StageResult) { seen++ })
	if err != nil {
		t.Fatal(err)
	}
	if len(full.NEP) != in.Detectors.Len() || len(full.Stages) == 0 || seen != len(full.Stages)+1 {
		t.Errorf("detail: %d NEP, %d stages, %d callbacks", len(full.NEP), len(full.Stages), seen)
	}
	if full.Mean != brief.Mean {
		t.Errorf("diagnostics changed the mean: %g vs %g", full.Mean, brief.Mean)
	}
	if full.DetectorNEP != in.Config.Detectors.NEP || !(full.TotalMean > full.Mean && full.TotalMean > full.DetectorNEP) {
		t.Errorf("detector %g, photon %g, total %g", full.DetectorNEP, full.Mean, full.TotalMean)
	}
	if got := testutil.ToFloat64(m.NEPEvaluations.WithLabelValues("150GHz")); got != 2 {
		t.Errorf("evaluations = %v", got)
	}
}

func TestOperators(t *testing.T) {
	cfg := smallConfig()
	cfg.Horns.Closed = []int{0, 1, 2}
	in := newInstrument(t, cfg)
	ops := in.Operators()
	if ops.NOpenHorns != 33 {
		t.Errorf("open horns = %d", ops.NOpenHorns)
	}
	want := 33 * math.Pi * in.Horns.RadiusEff * in.Horns.RadiusEff
	if math.Abs(ops.ApertureScale-want) > 1e-15 {
		t.Errorf("aperture = %g, want %g", ops.ApertureScale, want)
	}
	if ops.FilterScale != 150e9*0.25 {
		t.Errorf("filter = %g", ops.FilterScale)
	}
	if len(ops.DetectorWeights) != in.Detectors.Len() || len(ops.Transmission) != in.Detectors.Len() {
		t.Errorf("per-detector operators sized %d/%d", len(ops.DetectorWeights), len(ops.Transmission))
	}
}

func TestAcquireUniformSky(t *testing.T) {
	in := newInstrument(t, smallConfig())
	s, err := in.Sampling()
	if err != nil {
		t.Fatal(err)
	}
	op, err := in.BuildProjection(context.Background(), s, nil)
	if err != nil {
		t.Fatal(err)
	}
	sky := make([]float64, op.Cols())
	for i := range sky {
		sky[i] = 1
	}
	tod, err := in.Acquire(op, s, sky)
	if err != nil {
		t.Fatal(err)
	}
	ops := in.Operators()
	for _, d := range []int{0, in.Detectors.Len() - 1} {
		want := in.Peaks.Total(d) * ops.ApertureScale * ops.FilterScale * ops.DetectorWeights[d] * ops.Transmission[d]
		for t0 := 0; t0 < s.Len(); t0++ {
			got := tod.Data[d*s.Len()+t0]
			if math.Abs(got-want) > 1e-5*want {
				t.Fatalf("detector %d sample %d: %g, want %g", d, t0, got, want)
			}
		}
	}
}

func TestAcquirePolarizedNeedsPolarizer(t *testing.T) {
	cfg := smallConfig()
	cfg.Scene.Kind = "QU"
	in := newInstrument(t, cfg)
	s, err := in.Sampling()
	if err != nil {
		t.Fatal(err)
	}
	op, err := in.BuildProjection(context.Background(), s, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = in.Acquire(op, s, make([]float64, 2*op.Cols()))
	if !errors.Is(err, response.ErrPolarizerRequired) {
		t.Fatalf("err = %v", err)
	}
}

func TestSyntheticBeam(t *testing.T) {
	in := newInstrument(t, smallConfig())
	row, err := in.SyntheticBeam(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(row)) != in.Scene.Len() {
		t.Fatalf("len = %d, want %d", len(row), in.Scene.Len())
	}
	var sum float64
	for _, v := range row {
		sum += v
	}
	p := in.Peaks.Detector(0)[0]
	st, ct := math.Sincos(p.Theta)
	sp, cp := math.Sincos(p.Phi)
	pix := in.Scene.Pixel(r3.Vec{X: st * cp, Y: st * sp, Z: ct})
	if pix < 0 {
		t.Fatal("brightest peak outside the scene")
	}
	if mean := sum / float64(len(row)); !(row[pix] > mean) {
		t.Errorf("beam at brightest peak %g, mean %g", row[pix], mean)
	}

	if _, err := in.SyntheticBeam(context.Background(), in.Detectors.Len()); err == nil {
		t.Error("out-of-range detector accepted")
	}
}

func TestNoise(t *testing.T) {
	cfg := smallConfig()
	cfg.Sampling.NSamples = 4000
	cfg.Sampling.Period = 0.1
	in := newInstrument(t, cfg)
	s, err := in.Sampling()
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	det, err := in.Noise(ctx, s, 7, false)
	if err != nil {
		t.Fatal(err)
	}
	if det.NDetectors != in.Detectors.Len() || det.NSamples != s.Len() || det.NComp != 1 {
		t.Fatalf("shape %d×%d×%d", det.NDetectors, det.NSamples, det.NComp)
	}
	sigma := in.DetectorNoise.Sigma(s.Period)
	for d := 0; d < det.NDetectors; d++ {
		var v float64
		for _, x := range det.Data[d*det.NSamples : (d+1)*det.NSamples] {
			v += x * x
		}
		if r := v / float64(det.NSamples) / (sigma * sigma); math.Abs(r-1) > 0.1 {
			t.Errorf("detector %d: variance ratio %.3f", d, r)
		}
	}
	if det.Data[0] == det.Data[det.NSamples] {
		t.Error("detectors 0 and 1 share a stream")
	}

	again, err := in.Noise(ctx, s, 7, false)
	if err != nil {
		t.Fatal(err)
	}
	for i := range det.Data {
		if det.Data[i] != again.Data[i] {
			t.Fatalf("sample %d differs for the same seed", i)
		}
	}

	both, err := in.Noise(ctx, s, 7, true)
	if err != nil {
		t.Fatal(err)
	}
	rep, err := in.ComputeNEP(ctx, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	var v float64
	row := both.Data[:both.NSamples]
	for _, x := range row {
		v += x * x
	}
	want := noise.WhiteSigma(math.Hypot(rep.NEP[0], in.DetectorNoise.NEP), s.Period)
	if r := v / float64(len(row)) / (want * want); math.Abs(r-1) > 0.1 {
		t.Errorf("detector and photon variance ratio %.3f", r)
	}

	s.Period = 0
	if _, err := in.Noise(ctx, s, 7, false); err == nil {
		t.Error("zero period accepted")
	}
}
