// Package instrument assembles the forward model from the configuration:
// the horn and detector arrays, the beams, the synthetic-beam peaks, the
// scene and the noise chain. It is the entry point the daemon uses.
package instrument

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/akhenakh/sgp4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/floats"

	"github.com/large-farva/bolometric-engine/internal/config"
	"github.com/large-farva/bolometric-engine/internal/geometry"
	"github.com/large-farva/bolometric-engine/internal/noise"
	"github.com/large-farva/bolometric-engine/internal/observability"
	"github.com/large-farva/bolometric-engine/internal/projection"
	"github.com/large-farva/bolometric-engine/internal/response"
	"github.com/large-farva/bolometric-engine/internal/sampling"
	"github.com/large-farva/bolometric-engine/internal/scene"
	"github.com/large-farva/bolometric-engine/internal/sparse"
	"github.com/large-farva/bolometric-engine/internal/synthbeam"
)

const deg = math.Pi / 180

// Instrument is immutable after New and safe for concurrent use.
type Instrument struct {
	Config config.Config

	Band       noise.Band
	Horns      *geometry.HornArray
	Detectors  *geometry.DetectorArray
	Primary    geometry.GaussianBeam
	Secondary  geometry.GaussianBeam
	Peak150    geometry.GaussianBeam
	Scene      *scene.Scene
	Components []noise.Component
	Precision  sparse.Precision
	Peaks      synthbeam.PeakSet

	DetectorNoise noise.DetectorNoise

	setup   noise.Setup
	chain   *noise.Chain
	metrics *observability.Collector
	tracer  trace.Tracer
}

// Option customises New.
type Option func(*Instrument)

// WithMetrics records builds and noise evaluations on c.
func WithMetrics(c *observability.Collector) Option {
	return func(in *Instrument) { in.metrics = c }
}

// WithTracer overrides the global engine tracer.
func WithTracer(t trace.Tracer) Option {
	return func(in *Instrument) { in.tracer = t }
}

// New builds the instrument described by cfg. cfg is assumed to have
// passed config.Validate.
func New(cfg config.Config, opts ...Option) (*Instrument, error) {
	in := &Instrument{Config: cfg, tracer: observability.Tracer()}
	for _, o := range opts {
		o(in)
	}
	ic := cfg.Instrument
	nu := ic.Nu

	band, _, err := noise.SelectBand(nu, ic.RelativeBandwidth)
	if err != nil {
		return nil, err
	}
	in.Band = band

	in.Primary = geometry.NewGaussianBeam(cfg.Beams.PrimaryFWHM*deg, nu, false)
	in.Secondary = geometry.NewGaussianBeam(cfg.Beams.SecondaryFWHM*deg, nu, true)
	in.Peak150 = geometry.NewGaussianBeam(cfg.Beams.Peak150FWHM*deg, 0, false)

	h := cfg.Horns
	in.Horns, err = geometry.SquareHornArray(h.Grid, h.Spacing, h.Radius, h.Angle)
	if err != nil {
		return nil, err
	}
	if err := in.Horns.Close(h.Closed...); err != nil {
		return nil, err
	}
	in.Horns.SetEffectiveRadius(nu, in.Primary.SolidAngle(), band == noise.BandIntegral)

	d := cfg.Detectors
	in.Detectors, err = geometry.SquareDetectorArray(d.Grid, d.Pitch, ic.FocalLength, d.Efficiency, d.NGrids)
	if err != nil {
		return nil, err
	}
	in.DetectorNoise = noise.DetectorNoise{NEP: d.NEP, FKnee: d.FKnee, FSlope: d.FSlope}
	if err := in.DetectorNoise.Validate(); err != nil {
		return nil, err
	}

	in.Scene, err = newScene(cfg.Scene)
	if err != nil {
		return nil, err
	}

	in.Precision, err = cfg.Precision()
	if err != nil {
		return nil, err
	}

	theta, phi := synthbeam.PeakAngles(cfg.Synthbeam.KMax, in.Horns.Spacing, in.Horns.Angle, nu, in.Detectors.Positions())
	scale := synthbeam.Scale(in.Peak150.SolidAngle(), nu, in.Scene.SolidAngle(), in.Horns.NumOpen())
	in.Peaks, err = synthbeam.Select(theta, phi, in.Primary, cfg.Synthbeam.Fraction, scale)
	if err != nil {
		return nil, err
	}

	in.Components = make([]noise.Component, len(cfg.Optics.Components))
	for i, c := range cfg.Optics.Components {
		in.Components[i] = noise.Component{
			Name:         c.Name,
			Role:         noise.Role(c.Role),
			Temperature:  c.Temperature,
			Transmission: c.Transmission,
			Emissivity:   c.Emissivity,
			NStatesPol:   c.NStatesPol,
		}
	}
	in.setup = noise.Setup{
		Nu:          nu,
		FRBW:        ic.RelativeBandwidth,
		Config:      noise.ArrayConfig(ic.Config),
		NuUp:        cfg.Noise.NuUp,
		Components:  in.Components,
		Horns:       in.Horns,
		Detectors:   in.Detectors,
		FocalLength: ic.FocalLength,
		Secondary:   in.Secondary,
	}
	in.chain, err = noise.NewChain(in.setup)
	if err != nil {
		return nil, err
	}
	return in, nil
}

func newScene(sc config.SceneConfig) (*scene.Scene, error) {
	kind, err := scene.ParseKind(sc.Kind)
	if err != nil {
		return nil, err
	}
	env := scene.Environment{
		CMBTemperature: sc.CMBTemperature,
		Atmosphere: scene.Atmosphere{
			Temperature:  sc.AtmTemperature,
			Transmission: sc.AtmTransmission,
			Emissivity:   sc.AtmEmissivity,
		},
	}
	s, err := scene.New(sc.Nside, kind, env)
	if err != nil {
		return nil, err
	}
	if sc.PatchRadius > 0 {
		return s.WithPatch(scene.Patch{Theta: sc.PatchTheta * deg, Phi: sc.PatchPhi * deg, Radius: sc.PatchRadius * deg})
	}
	return s, nil
}

// Sampling generates the configured pointing sequence.
func (in *Instrument) Sampling() (*sampling.Sampling, error) {
	sc := in.Config.Sampling
	frame, err := sampling.ParseFrame(sc.Frame)
	if err != nil {
		return nil, err
	}
	var start time.Time
	if sc.Start != "" {
		if start, err = time.Parse(time.RFC3339, sc.Start); err != nil {
			return nil, fmt.Errorf("sampling.start: %w", err)
		}
	}
	return sampling.Generate(sampling.Params{
		NSamples:      sc.NSamples,
		Period:        sc.Period,
		AzimuthCenter: sc.AzimuthCenter,
		AzimuthSpan:   sc.AzimuthSpan,
		AzimuthSpeed:  sc.AzimuthSpeed,
		Elevation:     sc.Elevation,
		PitchStart:    sc.PitchStart,
		PitchStep:     sc.PitchStep,
		HWPAngles:     sc.HWPAngles,
		HWPStep:       sc.HWPStep,
		Frame:         frame,
		Site:          sgp4.Location{Latitude: sc.Latitude, Longitude: sc.Longitude, Altitude: sc.Altitude},
		Start:         start,
	})
}

// ProjectionBytes returns the storage a projection over nsamples
// pointings will take, before building it.
func (in *Instrument) ProjectionBytes(nsamples int) (int64, error) {
	prec, err := in.Precision.Resolve(in.Scene.RequiresWideIndex())
	if err != nil {
		return 0, err
	}
	rows := in.Detectors.Len() * nsamples
	return prec.MatrixBytes(rows, in.Peaks.NPeaks, in.Scene.Kind.Components()), nil
}

// BuildProjection builds the pointing operator of the configured scene
// for s. progress may be nil.
func (in *Instrument) BuildProjection(ctx context.Context, s *sampling.Sampling, progress func(done, total int)) (projection.Operator, error) {
	ctx, span := in.tracer.Start(ctx, "projection.Build", trace.WithAttributes(
		attribute.String("scene.kind", string(in.Scene.Kind)),
		attribute.Int("scene.nside", in.Scene.Nside),
		attribute.Int("detectors", in.Detectors.Len()),
		attribute.Int("samples", s.Len()),
		attribute.Int("peaks", in.Peaks.NPeaks),
	))
	defer span.End()
	if n, err := in.ProjectionBytes(s.Len()); err == nil {
		span.SetAttributes(attribute.Int64("bytes.estimate", n))
	}

	start := time.Now()
	op, err := projection.Build(ctx, projection.Request{
		Orientations: s.Orientations,
		Peaks:        in.Peaks,
		Scene:        in.Scene,
		Precision:    in.Precision,
		Workers:      in.Config.Projection.Workers,
		Progress:     progress,
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		in.metrics.ObserveBuild(string(in.Scene.Kind), elapsed, 0, err)
		return nil, err
	}
	st := op.Stats()
	span.SetAttributes(attribute.Int("nonzero", st.NonZero), attribute.String("precision", st.Precision))
	in.metrics.ObserveBuild(string(in.Scene.Kind), elapsed, st.NonZero, nil)
	return op, nil
}

// NEPReport summarises one photon noise evaluation.
type NEPReport struct {
	Band       string              `json:"band"`
	NDetectors int                 `json:"ndetectors"`
	Min        float64             `json:"min"`  // W/√Hz
	Mean       float64             `json:"mean"` // W/√Hz
	Max        float64             `json:"max"`  // W/√Hz
	PowerMean  float64             `json:"power_mean"`
	EnvPower   float64             `json:"env_power_mean"`

	// intrinsic detector NEP and its quadrature sum with the photon mean
	DetectorNEP float64 `json:"detector_nep"`
	TotalMean   float64 `json:"total_mean"`

	NEP        []float64           `json:"nep,omitempty"`
	Stages     []noise.StageResult `json:"stages,omitempty"`
}

// ComputeNEP evaluates the photon noise of every detector in the scene
// environment. With detail the per-detector values and the per-stage
// breakdown are kept. diag, when set, sees every stage as it is computed.
func (in *Instrument) ComputeNEP(ctx context.Context, detail bool, diag func(noise.StageResult)) (*NEPReport, error) {
	_, span := in.tracer.Start(ctx, "noise.Compute", trace.WithAttributes(
		attribute.String("band", in.Band.String()),
		attribute.Int("components", len(in.Components)),
	))
	defer span.End()

	chain := in.chain
	if diag != nil {
		s := in.setup
		s.Diagnostics = diag
		var err error
		if chain, err = noise.NewChain(s); err != nil {
			return nil, err
		}
	}
	res, err := chain.Compute(in.Scene.Environment)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	n := float64(len(res.NEP))
	rep := &NEPReport{
		Band:       res.Band.String(),
		NDetectors: len(res.NEP),
		Min:        floats.Min(res.NEP),
		Mean:       floats.Sum(res.NEP) / n,
		Max:        floats.Max(res.NEP),
		PowerMean:  floats.Sum(res.Power) / n,
		EnvPower:   floats.Sum(res.EnvPower) / n,
	}
	rep.DetectorNEP = in.DetectorNoise.NEP
	rep.TotalMean = math.Hypot(rep.Mean, rep.DetectorNEP)
	if detail {
		rep.NEP = res.NEP
		rep.Stages = res.Stages
	}
	span.SetAttributes(attribute.Float64("nep.mean", rep.Mean))
	in.metrics.ObserveNEP(rep.Band, rep.Min, rep.Mean, rep.Max)
	return rep, nil
}

// Operators summarises the scalar and diagonal unit operators.
type Operators struct {
	NOpenHorns      int       `json:"nopen_horns"`
	RadiusEff       float64   `json:"radius_eff"`
	ApertureScale   float64   `json:"aperture_scale"` // m²
	FilterScale     float64   `json:"filter_scale"`   // Hz
	DetectorWeights []float64 `json:"detector_weights"`
	Transmission    []float64 `json:"transmission"`
	PeakScale       float64   `json:"peak_scale"`
}

// Operators returns the unit operators surrounding the projection.
func (in *Instrument) Operators() Operators {
	return Operators{
		NOpenHorns:      in.Horns.NumOpen(),
		RadiusEff:       in.Horns.RadiusEff,
		ApertureScale:   response.ApertureIntegration(in.Horns),
		FilterScale:     response.FilterBandwidth(in.Config.Instrument.Nu, in.Config.Instrument.RelativeBandwidth),
		DetectorWeights: response.DetectorIntegration(in.Detectors, in.Secondary),
		Transmission:    response.Transmission(in.Components, in.Detectors.Efficiencies()),
		PeakScale:       synthbeam.Scale(in.Peak150.SolidAngle(), in.Config.Instrument.Nu, in.Scene.SolidAngle(), in.Horns.NumOpen()),
	}
}

// SyntheticBeam evaluates the direct horn-sum beam of detector d on every
// column of the scene. It is far slower than the peak model and is meant
// for checking it.
func (in *Instrument) SyntheticBeam(ctx context.Context, d int) ([]float64, error) {
	if d < 0 || d >= in.Detectors.Len() {
		return nil, fmt.Errorf("detector %d out of range [0, %d)", d, in.Detectors.Len())
	}
	ctx, span := in.tracer.Start(ctx, "synthbeam.Response", trace.WithAttributes(
		attribute.Int("detector", d),
		attribute.Int("horns.open", in.Horns.NumOpen()),
		attribute.Int64("columns", in.Scene.Len()),
	))
	defer span.End()

	ic := in.Config.Instrument
	f := synthbeam.Field{
		Horns:     in.Horns,
		Primary:   in.Primary,
		Secondary: in.Secondary,
		Nu:        ic.Nu,
		Bandwidth: response.FilterBandwidth(ic.Nu, ic.RelativeBandwidth),
		Workers:   in.Config.Projection.Workers,
	}
	rows, err := f.Response(ctx, in.Scene, in.Detectors.Detectors[d:d+1])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return rows[0], nil
}
