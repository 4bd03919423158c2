package ctl

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PeaksOptions controls the peaks command.
type PeaksOptions struct {
	Detector int
	All      bool // include the zero-valued padding slots
	Direct   bool // also evaluate the horn-sum beam on the daemon
	JSON     bool
}

// Peaks lists the synthetic-beam peaks the daemon retained for one
// detector.
func Peaks(baseURL string, opts PeaksOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var sb struct {
		Detector int        `json:"detector"`
		Center   [3]float64 `json:"center"`
		NPeaks   int        `json:"npeaks"`
		Required int        `json:"required"`
		Total    float64    `json:"total"`
		Peaks    []struct {
			Theta float64 `json:"theta"`
			Phi   float64 `json:"phi"`
			Value float64 `json:"value"`
		} `json:"peaks"`
		Direct      []float64 `json:"direct"`
		DirectMax   float64   `json:"direct_max"`
		DirectTotal float64   `json:"direct_total"`
	}
	path := "/api/synthbeam?detector=" + strconv.Itoa(opts.Detector)
	if opts.Direct {
		path += "&direct=true"
	}
	if err := getJSON(baseURL, path, &sb); err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(sb)
	}

	const rad = 180 / math.Pi
	fmt.Println()
	fmt.Println(header(fmt.Sprintf("  SYNTHETIC BEAM  detector %d", sb.Detector)))
	fmt.Println(rule(44))
	fmt.Printf("  %-12s (%.4f, %.4f, %.4f) m\n", colorize(dim, "Center:"), sb.Center[0], sb.Center[1], sb.Center[2])
	fmt.Printf("  %-12s %d of %d slots\n", colorize(dim, "Required:"), sb.Required, sb.NPeaks)
	fmt.Printf("  %-12s %.6g\n", colorize(dim, "Total:"), sb.Total)
	direct := len(sb.Direct) == len(sb.Peaks) && len(sb.Direct) > 0
	if direct {
		fmt.Printf("  %-12s max %.5e, sum %.5e\n", colorize(dim, "Horn sum:"), sb.DirectMax, sb.DirectTotal)
	}
	fmt.Println()
	cols := fmt.Sprintf("%-4s %10s %10s %12s %7s", "#", "θ [deg]", "φ [deg]", "value", "cum")
	if direct {
		cols += fmt.Sprintf(" %12s", "horn sum")
	}
	fmt.Printf("  %s\n", colorize(dim, cols))

	var cum float64
	for k, p := range sb.Peaks {
		if k >= sb.Required && !opts.All {
			break
		}
		cum += p.Value
		frac := 0.0
		if sb.Total > 0 {
			frac = 100 * cum / sb.Total
		}
		fmt.Printf("  %-4d %10.4f %10.4f %12.5e %6.2f%%", k, p.Theta*rad, p.Phi*rad, p.Value, frac)
		if direct {
			fmt.Printf(" %12.5e", sb.Direct[k])
		}
		fmt.Println()
	}
	fmt.Println()

	return nil
}
