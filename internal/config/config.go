// Package config handles loading, defaulting, and validation of the
// Bolometric Engine TOML configuration file. Every section maps to a typed
// struct so the rest of the codebase gets strong typing without manual key
// lookups.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/large-farva/bolometric-engine/internal/healpix"
	"github.com/large-farva/bolometric-engine/internal/sampling"
	"github.com/large-farva/bolometric-engine/internal/scene"
	"github.com/large-farva/bolometric-engine/internal/sparse"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Logging    LoggingConfig    `toml:"logging"    json:"logging"`
	Server     ServerConfig     `toml:"server"     json:"server"`
	Instrument InstrumentConfig `toml:"instrument" json:"instrument"`
	Horns      HornsConfig      `toml:"horns"      json:"horns"`
	Detectors  DetectorsConfig  `toml:"detectors"  json:"detectors"`
	Beams      BeamsConfig      `toml:"beams"      json:"beams"`
	Synthbeam  SynthbeamConfig  `toml:"synthbeam"  json:"synthbeam"`
	Scene      SceneConfig      `toml:"scene"      json:"scene"`
	Sampling   SamplingConfig   `toml:"sampling"   json:"sampling"`
	Projection ProjectionConfig `toml:"projection" json:"projection"`
	Noise      NoiseConfig      `toml:"noise"      json:"noise"`
	Optics     OpticsConfig     `toml:"optics"     json:"optics"`
	Tracing    TracingConfig    `toml:"tracing"    json:"tracing"`
	Metrics    MetricsConfig    `toml:"metrics"    json:"metrics"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

type ServerConfig struct {
	Bind string `toml:"bind" json:"bind"`
}

// InstrumentConfig selects the observing band and the focal-plane layout.
type InstrumentConfig struct {
	Nu                float64 `toml:"nu"                 json:"nu"` // Hz
	RelativeBandwidth float64 `toml:"relative_bandwidth" json:"relative_bandwidth"`
	Config            string  `toml:"config"             json:"config"` // FI | TD
	FocalLength       float64 `toml:"focal_length"       json:"focal_length"`
	Polarizer         bool    `toml:"polarizer"          json:"polarizer"`
}

type HornsConfig struct {
	Grid    int     `toml:"grid"    json:"grid"`
	Spacing float64 `toml:"spacing" json:"spacing"`
	Radius  float64 `toml:"radius"  json:"radius"`
	Angle   float64 `toml:"angle"   json:"angle"`
	Closed  []int   `toml:"closed"  json:"closed"`
}

type DetectorsConfig struct {
	Grid       int     `toml:"grid"       json:"grid"`
	Pitch      float64 `toml:"pitch"      json:"pitch"`
	Efficiency float64 `toml:"efficiency" json:"efficiency"`
	NGrids     int     `toml:"ngrids"     json:"ngrids"`
	Tau        float64 `toml:"tau"        json:"tau"`

	// intrinsic bolometer noise
	NEP    float64 `toml:"nep"    json:"nep"`    // W/√Hz
	FKnee  float64 `toml:"fknee"  json:"fknee"`  // Hz
	FSlope float64 `toml:"fslope" json:"fslope"`
}

// BeamsConfig holds FWHMs in degrees at 150 GHz.
type BeamsConfig struct {
	PrimaryFWHM   float64 `toml:"primary_fwhm"   json:"primary_fwhm"`
	SecondaryFWHM float64 `toml:"secondary_fwhm" json:"secondary_fwhm"`
	Peak150FWHM   float64 `toml:"peak150_fwhm"   json:"peak150_fwhm"`
}

type SynthbeamConfig struct {
	KMax     int     `toml:"kmax"     json:"kmax"`
	Fraction float64 `toml:"fraction" json:"fraction"`
}

type SceneConfig struct {
	Nside           int     `toml:"nside"            json:"nside"`
	Kind            string  `toml:"kind"             json:"kind"`
	CMBTemperature  float64 `toml:"cmb_temperature"  json:"cmb_temperature"`
	AtmTemperature  float64 `toml:"atm_temperature"  json:"atm_temperature"`
	AtmTransmission float64 `toml:"atm_transmission" json:"atm_transmission"`
	AtmEmissivity   float64 `toml:"atm_emissivity"   json:"atm_emissivity"`

	// A patch radius of 0 keeps the full sky.
	PatchTheta  float64 `toml:"patch_theta"  json:"patch_theta"`
	PatchPhi    float64 `toml:"patch_phi"    json:"patch_phi"`
	PatchRadius float64 `toml:"patch_radius" json:"patch_radius"`
}

type SamplingConfig struct {
	NSamples      int       `toml:"nsamples"       json:"nsamples"`
	Period        float64   `toml:"period"         json:"period"`
	AzimuthCenter float64   `toml:"azimuth_center" json:"azimuth_center"`
	AzimuthSpan   float64   `toml:"azimuth_span"   json:"azimuth_span"`
	AzimuthSpeed  float64   `toml:"azimuth_speed"  json:"azimuth_speed"`
	Elevation     float64   `toml:"elevation"      json:"elevation"`
	PitchStart    float64   `toml:"pitch_start"    json:"pitch_start"`
	PitchStep     float64   `toml:"pitch_step"     json:"pitch_step"`
	HWPAngles     []float64 `toml:"hwp_angles"     json:"hwp_angles"`
	HWPStep       int       `toml:"hwp_step"       json:"hwp_step"`
	Frame         string    `toml:"frame"          json:"frame"`
	Latitude      float64   `toml:"latitude"       json:"latitude"`
	Longitude     float64   `toml:"longitude"      json:"longitude"`
	Altitude      float64   `toml:"altitude"       json:"altitude"`
	Start         string    `toml:"start"          json:"start"` // RFC 3339
}

type ProjectionConfig struct {
	IndexType string `toml:"index_type" json:"index_type"`
	ValueType string `toml:"value_type" json:"value_type"`
	Workers   int    `toml:"workers"    json:"workers"` // 0 means GOMAXPROCS
}

type NoiseConfig struct {
	NuUp float64 `toml:"nu_up" json:"nu_up"` // Hz
}

type OpticsConfig struct {
	Components []ComponentConfig `toml:"components" json:"components"`
}

// ComponentConfig is one element of the optical train, sky side first.
// Role may be left empty to infer it from the name.
type ComponentConfig struct {
	Name         string  `toml:"name"         json:"name"`
	Role         string  `toml:"role"         json:"role,omitempty"`
	Temperature  float64 `toml:"temperature"  json:"temperature"`
	Transmission float64 `toml:"transmission" json:"transmission"`
	Emissivity   float64 `toml:"emissivity"   json:"emissivity"`
	NStatesPol   int     `toml:"nstates_pol"  json:"nstates_pol"`
}

type TracingConfig struct {
	Enabled     bool    `toml:"enabled"      json:"enabled"`
	ServiceName string  `toml:"service_name" json:"service_name"`
	Exporter    string  `toml:"exporter"     json:"exporter"`
	Endpoint    string  `toml:"endpoint"     json:"endpoint"`
	SampleRatio float64 `toml:"sample_ratio" json:"sample_ratio"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
}

// Default returns a Config populated with sane defaults: a full-instrument
// focal plane observing at 150 GHz behind the canonical optical train.
// Values here are used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Bind: "0.0.0.0:8080",
		},
		Instrument: InstrumentConfig{
			Nu:                150e9,
			RelativeBandwidth: 0.25,
			Config:            "FI",
			FocalLength:       0.3,
			Polarizer:         true,
		},
		Horns: HornsConfig{
			Grid:    8,
			Spacing: 0.014,
			Radius:  0.00517,
			Angle:   45,
		},
		Detectors: DetectorsConfig{
			Grid:       8,
			Pitch:      0.003,
			Efficiency: 0.8,
			NGrids:     1,
			Tau:        0.01,
			NEP:        4.7e-17,
			FKnee:      0,
			FSlope:     1,
		},
		Beams: BeamsConfig{
			PrimaryFWHM:   13,
			SecondaryFWHM: 13,
			Peak150FWHM:   0.39268176,
		},
		Synthbeam: SynthbeamConfig{
			KMax:     8,
			Fraction: 0.99,
		},
		Scene: SceneConfig{
			Nside:           256,
			Kind:            "IQU",
			CMBTemperature:  2.7255,
			AtmTemperature:  270,
			AtmTransmission: 1,
			AtmEmissivity:   0.081,
		},
		Sampling: SamplingConfig{
			NSamples:     1000,
			Period:       1,
			AzimuthSpan:  30,
			AzimuthSpeed: 1,
			Elevation:    50,
			HWPAngles:    []float64{0, 15, 30, 45, 60, 75},
			HWPStep:      100,
			Frame:        "horizontal",
			Latitude:     -24.1833,
			Longitude:    -66.4667,
			Altitude:     4869,
			Start:        "2026-01-01T00:00:00Z",
		},
		Projection: ProjectionConfig{
			IndexType: "auto",
			ValueType: "float32",
		},
		Noise: NoiseConfig{
			NuUp: 168e9,
		},
		Optics: OpticsConfig{
			Components: DefaultComponents(),
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "bolod",
			Exporter:    "stdout",
			SampleRatio: 1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// DefaultComponents is the optical train of the full instrument, from the
// window to the last low-pass edge.
func DefaultComponents() []ComponentConfig {
	c := func(name string, t, tr, em float64, pol int) ComponentConfig {
		return ComponentConfig{Name: name, Temperature: t, Transmission: tr, Emissivity: em, NStatesPol: pol}
	}
	return []ComponentConfig{
		c("winb1", 250, 0.98, 0.02, 2),
		c("block1", 250, 0.95, 0.01, 2),
		c("block2", 200, 0.95, 0.01, 2),
		c("block3", 100, 0.95, 0.01, 2),
		c("block4", 60, 0.95, 0.01, 2),
		c("block5", 40, 0.95, 0.01, 2),
		c("block6", 12, 0.95, 0.01, 2),
		c("12cmed", 4, 0.95, 0.01, 2),
		c("hwp", 6, 0.95, 0.01, 2),
		c("polgr", 6, 0.99, 0.01, 1),
		c("ba2ba", 6, 0.95, 0.01, 1),
		c("combin", 1, 0.98, 0.02, 1),
		c("cslpe", 1, 0.95, 0.01, 1),
		c("dichro", 1, 0.9, 0.01, 1),
		c("ndf", 0.3, 0.1, 0, 1),
		c("7cmlpe", 0.3, 0.95, 0.01, 1),
		c("6.2cmlpe", 0.3, 0.95, 0.01, 1),
		c("5.6cmlpe", 0.3, 0.95, 0.01, 1),
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks every constraint that can be decided without building
// the instrument.
func Validate(cfg Config) error {
	in := cfg.Instrument
	if in.Nu <= 0 {
		return errors.New("instrument.nu must be > 0")
	}
	if in.RelativeBandwidth <= 0 || in.RelativeBandwidth >= 1 {
		return errors.New("instrument.relative_bandwidth must be between 0 and 1")
	}
	if in.Config != "FI" && in.Config != "TD" {
		return errors.New("instrument.config must be FI or TD")
	}
	if in.FocalLength <= 0 {
		return errors.New("instrument.focal_length must be > 0")
	}

	if cfg.Horns.Grid < 1 {
		return errors.New("horns.grid must be >= 1")
	}
	if cfg.Horns.Spacing <= 0 || cfg.Horns.Radius <= 0 {
		return errors.New("horns.spacing and horns.radius must be > 0")
	}
	for _, i := range cfg.Horns.Closed {
		if i < 0 || i >= cfg.Horns.Grid*cfg.Horns.Grid {
			return fmt.Errorf("horns.closed index %d out of range", i)
		}
	}

	if cfg.Detectors.Grid < 1 {
		return errors.New("detectors.grid must be >= 1")
	}
	if cfg.Detectors.Pitch <= 0 {
		return errors.New("detectors.pitch must be > 0")
	}
	if cfg.Detectors.Efficiency <= 0 || cfg.Detectors.Efficiency > 1 {
		return errors.New("detectors.efficiency must be in (0, 1]")
	}
	if cfg.Detectors.NGrids != 1 && cfg.Detectors.NGrids != 2 {
		return errors.New("detectors.ngrids must be 1 or 2")
	}
	if cfg.Detectors.Tau < 0 {
		return errors.New("detectors.tau must be >= 0")
	}
	if cfg.Detectors.NEP < 0 {
		return errors.New("detectors.nep must be >= 0")
	}
	if cfg.Detectors.FKnee < 0 {
		return errors.New("detectors.fknee must be >= 0")
	}
	if cfg.Detectors.FKnee > 0 && cfg.Detectors.FSlope <= 0 {
		return errors.New("detectors.fslope must be > 0 when detectors.fknee is set")
	}

	if cfg.Beams.PrimaryFWHM <= 0 || cfg.Beams.SecondaryFWHM <= 0 || cfg.Beams.Peak150FWHM <= 0 {
		return errors.New("beams fwhm values must be > 0")
	}

	if cfg.Synthbeam.KMax < 0 {
		return errors.New("synthbeam.kmax must be >= 0")
	}
	if cfg.Synthbeam.Fraction <= 0 || cfg.Synthbeam.Fraction > 1 {
		return errors.New("synthbeam.fraction must be in (0, 1]")
	}

	if err := healpix.Validate(cfg.Scene.Nside); err != nil {
		return fmt.Errorf("scene.nside: %w", err)
	}
	if _, err := scene.ParseKind(cfg.Scene.Kind); err != nil {
		return fmt.Errorf("scene.kind: %w", err)
	}
	if cfg.Scene.CMBTemperature <= 0 || cfg.Scene.AtmTemperature <= 0 {
		return errors.New("scene temperatures must be > 0")
	}
	if cfg.Scene.PatchRadius < 0 || cfg.Scene.PatchRadius > 180 {
		return errors.New("scene.patch_radius must be between 0 and 180")
	}

	s := cfg.Sampling
	if s.NSamples < 1 {
		return errors.New("sampling.nsamples must be >= 1")
	}
	if s.Period < 0 {
		return errors.New("sampling.period must be >= 0")
	}
	if s.Elevation < 0 || s.Elevation > 90 {
		return errors.New("sampling.elevation must be between 0 and 90")
	}
	if _, err := sampling.ParseFrame(s.Frame); err != nil {
		return fmt.Errorf("sampling.frame: %w", err)
	}
	if s.Start != "" {
		if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
			return fmt.Errorf("sampling.start: %w", err)
		}
	}

	if _, err := cfg.Precision(); err != nil {
		return err
	}
	if cfg.Projection.Workers < 0 {
		return errors.New("projection.workers must be >= 0")
	}

	if cfg.Noise.NuUp < 0 {
		return errors.New("noise.nu_up must be >= 0")
	}
	if len(cfg.Optics.Components) == 0 {
		return errors.New("optics.components must not be empty")
	}
	for i, c := range cfg.Optics.Components {
		if c.Temperature <= 0 {
			return fmt.Errorf("optics.components[%d].temperature must be > 0", i)
		}
		if c.Transmission < 0 || c.Transmission > 1 || c.Emissivity < 0 || c.Emissivity > 1 {
			return fmt.Errorf("optics.components[%d] transmission and emissivity must be in [0, 1]", i)
		}
	}

	switch cfg.Tracing.Exporter {
	case "stdout", "otlp", "otlpgrpc", "":
	default:
		return errors.New("tracing.exporter must be stdout or otlp")
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return errors.New("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}

// Precision returns the declared storage precision of the projection
// operator after checking it against the scene it will index: the index
// width must hold every pixel of scene.nside, and polarized scenes need
// index and value storage of the same width. The declared index type is
// returned unresolved.
func (c Config) Precision() (sparse.Precision, error) {
	idx, err := sparse.ParseIndexType(c.Projection.IndexType)
	if err != nil {
		return sparse.Precision{}, fmt.Errorf("projection.index_type: %w", err)
	}
	val, err := sparse.ParseValueType(c.Projection.ValueType)
	if err != nil {
		return sparse.Precision{}, fmt.Errorf("projection.value_type: %w", err)
	}
	p := sparse.Precision{Index: idx, Value: val}

	resolved, err := p.Resolve(healpix.RequiresWideIndex(c.Scene.Nside))
	if err != nil {
		return p, fmt.Errorf("projection.index_type: %w (scene.nside = %d needs int64 indices)", err, c.Scene.Nside)
	}
	kind, err := scene.ParseKind(c.Scene.Kind)
	if err != nil {
		return p, fmt.Errorf("scene.kind: %w", err)
	}
	if kind.Polarized() {
		if err := resolved.CheckBlocked(); err != nil {
			hint := `set projection.value_type = "float64"`
			if resolved.Index == sparse.Int32 {
				hint = `set projection.value_type = "float32" or projection.index_type = "int64"`
			}
			return p, fmt.Errorf("projection: %w for a %s scene; %s", err, kind, hint)
		}
	}
	return p, nil
}
