package ctl

import (
	"fmt"
	"strings"
)

// Health checks daemon liveness via GET /healthz.
func Health(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	status, _, err := getRaw(baseURL, "/healthz")
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	healthy := status == 200

	var st struct {
		State string `json:"state"`
	}
	if healthy {
		_ = getJSON(baseURL, "/api/status", &st)
	}

	if jsonOutput {
		return printJSON(map[string]any{"healthy": healthy, "url": baseURL, "state": st.State})
	}

	fmt.Println()
	if healthy {
		fmt.Printf("  %s  bolod is reachable at %s", colorize(green, "HEALTHY"), colorize(dim, baseURL))
		if st.State != "" {
			fmt.Printf("  %s", colorize(stateColor(st.State), st.State))
		}
		fmt.Println()
	} else {
		fmt.Printf("  %s  bolod returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), status, colorize(dim, baseURL))
	}
	fmt.Println()

	return nil
}
