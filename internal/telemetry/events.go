// Package telemetry defines the typed events that flow over the WebSocket
// connection between bolod and its clients. The app and the scheduler
// broadcast these structs directly.
package telemetry

import "time"

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	EventHeartbeat  EventType = "heartbeat"
	EventState      EventType = "state"
	EventProgress   EventType = "progress"
	EventLog        EventType = "log"
	EventBuildDone  EventType = "build_done"
	EventNEPStage   EventType = "nep_stage"
	EventNEPSummary EventType = "nep_summary"
)

// Event is the base envelope shared by every event type.
type Event struct {
	Type      EventType `json:"type"`
	TS        string    `json:"ts"`
	Component string    `json:"component,omitempty"`
}

// NewEvent stamps an envelope with the current time.
func NewEvent(t EventType, component string) Event {
	return Event{Type: t, TS: NowTS(), Component: component}
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching the
// timestamp format used across all events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Heartbeat is sent periodically so clients can detect connectivity and
// monitor daemon uptime.
type Heartbeat struct {
	Event
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StateTransition is emitted whenever the daemon moves between operating
// states (e.g. IDLE -> BUILDING).
type StateTransition struct {
	Event
	From string `json:"from"`
	To   string `json:"to"`
}

// Progress reports incremental completion of a long-running job like a
// projection build.
type Progress struct {
	Event
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Detail  string  `json:"detail"`
}

// LogLine carries a human-readable log message at a severity level.
type LogLine struct {
	Event
	Level   string `json:"level"`
	Message string `json:"message"`
}

// BuildDone closes a projection build. Stats is the operator summary and is
// absent when the build failed.
type BuildDone struct {
	Event
	DurationMS int64  `json:"duration_ms"`
	Stats      any    `json:"stats,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NEPStage carries the detector-averaged contribution of one emitter of
// the noise chain.
type NEPStage struct {
	Event
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	Stage     string  `json:"stage"`
	Formula   string  `json:"formula"`
	PowerMean float64 `json:"power_mean"` // W
	NEP2Mean  float64 `json:"nep2_mean"`  // W²/Hz
}

// NEPSummary closes a noise evaluation.
type NEPSummary struct {
	Event
	Band string  `json:"band"`
	Min  float64 `json:"min"`
	Mean float64 `json:"mean"`
	Max  float64 `json:"max"`
}
