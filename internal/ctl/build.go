package ctl

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type projectionStats struct {
	Kind       string `json:"kind"`
	Precision  string `json:"precision"`
	Rows       int    `json:"rows"`
	Cols       int64  `json:"cols"`
	NColMax    int    `json:"ncolmax"`
	NDetectors int    `json:"ndetectors"`
	NSamples   int    `json:"nsamples"`
	NonZero    int    `json:"nonzero"`
	Bytes      int64  `json:"bytes"`
}

// Build asks the daemon to build the pointing operator of its configured
// sampling and waits for the stats. Use watch in another terminal to
// follow the progress.
func Build(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var result commandResult
	if err := runJob(http.MethodPost, baseURL, "/api/projection", &result); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(result)
	}
	if !result.OK {
		fmt.Printf("\n  %s  %s\n\n", colorize(red, "ERROR"), result.Error)
		return nil
	}

	var st projectionStats
	if err := json.Unmarshal(result.Data, &st); err != nil {
		return err
	}
	fill := 0.0
	if st.Rows > 0 && st.NColMax > 0 {
		fill = 100 * float64(st.NonZero) / float64(st.Rows*st.NColMax)
	}

	fmt.Println()
	fmt.Println(header("  PROJECTION OPERATOR"))
	fmt.Println(rule(44))
	fmt.Printf("  %-12s %s (%s)\n", colorize(dim, "Scene:"), st.Kind, st.Precision)
	fmt.Printf("  %-12s %d detectors × %d samples = %d\n", colorize(dim, "Rows:"), st.NDetectors, st.NSamples, st.Rows)
	fmt.Printf("  %-12s %d pixels, %d per row\n", colorize(dim, "Columns:"), st.Cols, st.NColMax)
	fmt.Printf("  %-12s %d (%.1f%%)\n", colorize(dim, "Non-zero:"), st.NonZero, fill)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Storage:"), formatBytes(st.Bytes))
	fmt.Printf("  %s\n", colorize(green, result.Message))
	fmt.Println()

	return nil
}
