package ctl

import (
	"fmt"
	"strings"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string  `json:"name"`
	State         string  `json:"state"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Band          string  `json:"band"`
	Config        string  `json:"config"`
	Nu            float64 `json:"nu"`
	Scene         string  `json:"scene"`
	Nside         int     `json:"nside"`
	HornsOpen     int     `json:"horns_open"`
	Detectors     int     `json:"detectors"`
	Peaks         int     `json:"peaks"`
	Precision     string  `json:"precision"`
	Paused        bool    `json:"paused"`
	Job           string  `json:"job"`
	WSClients     int     `json:"ws_clients"`
	ProjBytes     int64   `json:"projection_bytes"`

	LastBuild *struct {
		Rows    int    `json:"rows"`
		NonZero int    `json:"nonzero"`
		Bytes   int64  `json:"bytes"`
		Prec    string `json:"precision"`
	} `json:"last_build"`
	LastNEP *struct {
		Band string  `json:"band"`
		Mean float64 `json:"mean"`
	} `json:"last_nep"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)
	state := s.State
	if s.Paused && state == "IDLE" {
		state = "PAUSED"
	}
	stateStr := colorize(stateColor(state), state)
	if s.Job != "" {
		stateStr += colorize(dim, " ("+s.Job+")")
	}

	fmt.Println()
	fmt.Println(header("  BOLOMETRIC ENGINE STATUS"))
	fmt.Println(rule(38))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Daemon:"), s.Name)
	fmt.Printf("  %-12s %s\n", colorize(dim, "State:"), stateStr)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Printf("  %-12s %s %s (%.0f GHz)\n", colorize(dim, "Band:"), s.Config, s.Band, s.Nu/1e9)
	fmt.Printf("  %-12s %d open horns, %d detectors, %d peaks\n", colorize(dim, "Array:"), s.HornsOpen, s.Detectors, s.Peaks)
	fmt.Printf("  %-12s %s nside %d, %s\n", colorize(dim, "Scene:"), s.Scene, s.Nside, s.Precision)
	if s.LastBuild == nil && s.ProjBytes > 0 {
		fmt.Printf("  %-12s not built, needs %s\n", colorize(dim, "Projection:"), formatBytes(s.ProjBytes))
	}
	if s.LastBuild != nil {
		fmt.Printf("  %-12s %d rows, %d nonzero, %s\n", colorize(dim, "Projection:"),
			s.LastBuild.Rows, s.LastBuild.NonZero, formatBytes(s.LastBuild.Bytes))
	}
	if s.LastNEP != nil {
		fmt.Printf("  %-12s %s mean %s\n", colorize(dim, "NEP:"), s.LastNEP.Band, formatSci(s.LastNEP.Mean, "W/√Hz"))
	}
	fmt.Printf("  %-12s %d\n", colorize(dim, "Watchers:"), s.WSClients)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Host:"), baseURL)
	fmt.Println()

	return nil
}
