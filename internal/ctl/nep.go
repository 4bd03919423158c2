package ctl

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// NEPOptions controls the nep command.
type NEPOptions struct {
	Detail bool // per-stage breakdown
	JSON   bool
}

type nepReport struct {
	Band       string    `json:"band"`
	NDetectors int       `json:"ndetectors"`
	Min        float64   `json:"min"`
	Mean       float64   `json:"mean"`
	Max        float64   `json:"max"`
	PowerMean  float64   `json:"power_mean"`
	EnvPower   float64   `json:"env_power_mean"`
	DetNEP     float64   `json:"detector_nep"`
	TotalMean  float64   `json:"total_mean"`
	NEP        []float64 `json:"nep"`
	Stages     []struct {
		Index   int       `json:"index"`
		Name    string    `json:"name"`
		Stage   string    `json:"stage"`
		Formula string    `json:"formula"`
		Power   []float64 `json:"power"`
		NEP2    []float64 `json:"nep2"`
	} `json:"stages"`
}

// NEP asks the daemon for a photon noise evaluation and prints the
// detector statistics and, with Detail, the contribution of every emitter.
func NEP(baseURL string, opts NEPOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")
	path := "/api/nep"
	if opts.Detail {
		path += "?detail=true"
	}

	var result commandResult
	if err := runJob(http.MethodGet, baseURL, path, &result); err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(result)
	}
	if !result.OK {
		fmt.Printf("\n  %s  %s\n\n", colorize(red, "ERROR"), result.Error)
		return nil
	}

	var rep nepReport
	if err := json.Unmarshal(result.Data, &rep); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(header("  PHOTON NOISE  " + rep.Band))
	fmt.Println(rule(50))
	fmt.Printf("  %-14s %d\n", colorize(dim, "Detectors:"), rep.NDetectors)
	fmt.Printf("  %-14s %s\n", colorize(dim, "NEP min:"), formatSci(rep.Min, "W/√Hz"))
	fmt.Printf("  %-14s %s\n", colorize(dim, "NEP mean:"), colorize(bold, formatSci(rep.Mean, "W/√Hz")))
	fmt.Printf("  %-14s %s\n", colorize(dim, "NEP max:"), formatSci(rep.Max, "W/√Hz"))
	fmt.Printf("  %-14s %s\n", colorize(dim, "Power:"), formatSci(rep.PowerMean, "W"))
	fmt.Printf("  %-14s %s\n", colorize(dim, "Environment:"), formatSci(rep.EnvPower, "W"))
	fmt.Printf("  %-14s %s\n", colorize(dim, "Detector NEP:"), formatSci(rep.DetNEP, "W/√Hz"))
	fmt.Printf("  %-14s %s\n", colorize(dim, "Total mean:"), formatSci(rep.TotalMean, "W/√Hz"))

	if len(rep.Stages) > 0 {
		var total float64
		for _, s := range rep.Stages {
			total += mean(s.NEP2)
		}
		fmt.Println()
		fmt.Printf("  %s\n", colorize(dim, fmt.Sprintf("%-3s %-10s %-12s %-16s %12s %12s %6s",
			"#", "name", "stage", "formula", "P [W]", "NEP² [W²/Hz]", "share")))
		for _, s := range rep.Stages {
			n2 := mean(s.NEP2)
			share := 0.0
			if total > 0 {
				share = 100 * n2 / total
			}
			fmt.Printf("  %-3d %-10s %-12s %-16s %12.3e %12.3e %5.1f%%\n",
				s.Index, s.Name, s.Stage, s.Formula, mean(s.Power), n2, share)
		}
	}
	fmt.Println()

	return nil
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Sum(v) / float64(len(v))
}
