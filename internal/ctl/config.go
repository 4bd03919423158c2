package ctl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// configSections is the display order of the TOML sections.
var configSections = []string{
	"logging", "server", "instrument", "horns", "detectors", "beams",
	"synthbeam", "scene", "sampling", "projection", "noise", "tracing", "metrics",
}

// Config fetches and displays the daemon's running configuration.
func Config(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var resp struct {
		Path   string                     `json:"path"`
		Config map[string]json.RawMessage `json:"config"`
	}
	if err := getJSON(baseURL, "/api/config", &resp); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Println()
	fmt.Println(header("  DAEMON CONFIGURATION"))
	fmt.Println(rule(50))
	if resp.Path != "" {
		fmt.Printf("  %s %s\n", colorize(dim, "file:"), resp.Path)
	}

	for _, name := range configSections {
		raw, ok := resp.Config[name]
		if !ok {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return fmt.Errorf("section %s: %w", name, err)
		}
		fmt.Printf("\n  %s\n", colorize(bold, "["+name+"]"))
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("    %-22s %v\n", colorize(dim, k+":"), fields[k])
		}
	}

	if raw, ok := resp.Config["optics"]; ok {
		var optics struct {
			Components []struct {
				Name         string  `json:"name"`
				Temperature  float64 `json:"temperature"`
				Transmission float64 `json:"transmission"`
				Emissivity   float64 `json:"emissivity"`
				NStatesPol   int     `json:"nstates_pol"`
			} `json:"components"`
		}
		if err := json.Unmarshal(raw, &optics); err != nil {
			return fmt.Errorf("section optics: %w", err)
		}
		fmt.Printf("\n  %s\n", colorize(bold, "[[optics.components]]"))
		fmt.Printf("    %s\n", colorize(dim, fmt.Sprintf("%-3s %-10s %8s %8s %8s %4s", "#", "name", "T [K]", "trans", "emis", "pol")))
		for i, c := range optics.Components {
			fmt.Printf("    %-3d %-10s %8.2f %8.3f %8.3f %4d\n", i, c.Name, c.Temperature, c.Transmission, c.Emissivity, c.NStatesPol)
		}
	}

	fmt.Println()

	return nil
}
