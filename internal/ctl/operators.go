package ctl

import (
	"fmt"
	"math"
	"strings"
)

// Operators prints the unit operators around the projection: the aperture
// and filter scalings and the per-detector weights.
func Operators(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var ops struct {
		NOpenHorns      int       `json:"nopen_horns"`
		RadiusEff       float64   `json:"radius_eff"`
		ApertureScale   float64   `json:"aperture_scale"`
		FilterScale     float64   `json:"filter_scale"`
		DetectorWeights []float64 `json:"detector_weights"`
		Transmission    []float64 `json:"transmission"`
		PeakScale       float64   `json:"peak_scale"`
	}
	if err := getJSON(baseURL, "/api/operators", &ops); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(ops)
	}

	fmt.Println()
	fmt.Println(header("  UNIT OPERATORS"))
	fmt.Println(rule(44))
	fmt.Printf("  %-14s %d (r_eff %.3f mm)\n", colorize(dim, "Open horns:"), ops.NOpenHorns, ops.RadiusEff*1e3)
	fmt.Printf("  %-14s %s\n", colorize(dim, "Aperture:"), formatSci(ops.ApertureScale, "m²"))
	fmt.Printf("  %-14s %s\n", colorize(dim, "Filter:"), formatSci(ops.FilterScale, "Hz"))
	fmt.Printf("  %-14s %.6g\n", colorize(dim, "Peak scale:"), ops.PeakScale)
	fmt.Printf("  %-14s %s\n", colorize(dim, "Detector:"), spread(ops.DetectorWeights))
	fmt.Printf("  %-14s %s\n", colorize(dim, "Transmission:"), spread(ops.Transmission))
	fmt.Println()

	return nil
}

// spread renders min / mean / max of v.
func spread(v []float64) string {
	if len(v) == 0 {
		return "-"
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range v {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return fmt.Sprintf("%.4e / %.4e / %.4e  (min/mean/max over %d)", lo, mean(v), hi, len(v))
}
