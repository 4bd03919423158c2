package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config: %v", err)
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bolod.toml")
	body := `
[instrument]
nu = 220e9

[scene]
nside = 128
kind = "QU"

[[optics.components]]
name = "ba2ba"
temperature = 6
transmission = 0.95
emissivity = 0.01
nstates_pol = 1
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Instrument.Nu != 220e9 || cfg.Scene.Nside != 128 || cfg.Scene.Kind != "QU" {
		t.Errorf("file values not applied: %+v %+v", cfg.Instrument, cfg.Scene)
	}
	if cfg.Horns.Grid != Default().Horns.Grid || cfg.Server.Bind != "0.0.0.0:8080" {
		t.Error("defaults lost for omitted sections")
	}
	if len(cfg.Optics.Components) != 1 {
		t.Errorf("components = %d, want the file's 1", len(cfg.Optics.Components))
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file accepted")
	}
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[scene\nnside = 3"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed TOML accepted")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"band", func(c *Config) { c.Instrument.RelativeBandwidth = 0 }, "instrument.relative_bandwidth"},
		{"config", func(c *Config) { c.Instrument.Config = "XX" }, "instrument.config"},
		{"closed horn", func(c *Config) { c.Horns.Closed = []int{64} }, "horns.closed"},
		{"ngrids", func(c *Config) { c.Detectors.NGrids = 3 }, "detectors.ngrids"},
		{"detector nep", func(c *Config) { c.Detectors.NEP = -1 }, "detectors.nep"},
		{"knee", func(c *Config) { c.Detectors.FKnee = -0.1 }, "detectors.fknee"},
		{"slope", func(c *Config) {
			c.Detectors.FKnee = 1
			c.Detectors.FSlope = 0
		}, "detectors.fslope"},
		{"fraction", func(c *Config) { c.Synthbeam.Fraction = 1.5 }, "synthbeam.fraction"},
		{"nside", func(c *Config) { c.Scene.Nside = 100 }, "scene.nside"},
		{"kind", func(c *Config) { c.Scene.Kind = "V" }, "scene.kind"},
		{"frame", func(c *Config) { c.Sampling.Frame = "ecliptic" }, "sampling.frame"},
		{"start", func(c *Config) { c.Sampling.Start = "yesterday" }, "sampling.start"},
		{"index", func(c *Config) { c.Projection.IndexType = "int16" }, "projection.index_type"},
		{"value", func(c *Config) { c.Projection.ValueType = "float16" }, "projection.value_type"},
		{"blocked int32/float64", func(c *Config) {
			c.Projection.IndexType = "int32"
			c.Projection.ValueType = "float64"
		}, `projection.index_type = "int64"`},
		{"wide float32", func(c *Config) { c.Scene.Nside = 16384 }, `projection.value_type = "float64"`},
		{"wide int32", func(c *Config) {
			c.Scene.Nside = 16384
			c.Projection.IndexType = "int32"
		}, "projection.index_type"},
		{"components", func(c *Config) { c.Optics.Components = nil }, "optics.components"},
		{"emissivity", func(c *Config) { c.Optics.Components[0].Emissivity = 2 }, "optics.components[0]"},
		{"exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }, "tracing.exporter"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestPrecision(t *testing.T) {
	cases := []struct {
		kind, index, value string
		nside              int
		ok                 bool
	}{
		{"IQU", "auto", "float32", 256, true},
		{"IQU", "auto", "float64", 16384, true},
		{"QU", "int32", "float64", 256, false},
		{"IQU", "auto", "float32", 16384, false},
		{"I", "int32", "float64", 256, true},
		{"I", "auto", "float32", 16384, true},
		{"I", "int32", "float32", 16384, false},
	}
	for _, tc := range cases {
		cfg := Default()
		cfg.Scene.Kind = tc.kind
		cfg.Scene.Nside = tc.nside
		cfg.Projection.IndexType = tc.index
		cfg.Projection.ValueType = tc.value
		p, err := cfg.Precision()
		if (err == nil) != tc.ok {
			t.Errorf("%s nside %d %s/%s: err = %v", tc.kind, tc.nside, tc.index, tc.value, err)
			continue
		}
		if tc.ok && string(p.Index) != tc.index {
			t.Errorf("%s nside %d: index resolved early to %s", tc.kind, tc.nside, p.Index)
		}
	}
}
