package ctl

import (
	"fmt"
	"strings"
)

// Pause makes the daemon refuse new jobs.
func Pause(baseURL string, jsonOutput bool) error {
	return schedulerControl(baseURL, "/api/scheduler/pause", "PAUSED", jsonOutput)
}

// Resume lets the daemon accept jobs again.
func Resume(baseURL string, jsonOutput bool) error {
	return schedulerControl(baseURL, "/api/scheduler/resume", "RESUMED", jsonOutput)
}

// Cancel aborts the running build or noise evaluation.
func Cancel(baseURL string, jsonOutput bool) error {
	return schedulerControl(baseURL, "/api/scheduler/cancel", "CANCELLED", jsonOutput)
}

func schedulerControl(baseURL, path, label string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var result commandResult
	err := postJSON(baseURL, path, nil, &result)
	if err != nil && result.Error == "" {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}

	if result.OK {
		fmt.Printf("\n  %s  %s\n\n", colorize(green, label), result.Message)
	} else {
		fmt.Printf("\n  %s  %s\n\n", colorize(red, "ERROR"), result.Error)
	}
	return nil
}
