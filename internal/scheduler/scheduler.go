// Package scheduler runs the daemon's long jobs one at a time: projection
// builds and photon noise evaluations. Jobs arrive as commands from the HTTP
// handlers, stream their progress over the hub and reply once finished.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/large-farva/bolometric-engine/internal/instrument"
	"github.com/large-farva/bolometric-engine/internal/noise"
	"github.com/large-farva/bolometric-engine/internal/projection"
	"github.com/large-farva/bolometric-engine/internal/sampling"
	"github.com/large-farva/bolometric-engine/internal/telemetry"
)

// Daemon states reported through the setState callback.
const (
	StateIdle          = "IDLE"
	StateBuilding      = "BUILDING"
	StateComputingNEP  = "COMPUTING_NEP"
	componentScheduler = "scheduler"
)

// ErrNoJob is returned by Cancel when nothing is running.
var ErrNoJob = errors.New("no job in progress")

// Engine is the part of the instrument the runner drives.
type Engine interface {
	Sampling() (*sampling.Sampling, error)
	BuildProjection(ctx context.Context, s *sampling.Sampling, progress func(done, total int)) (projection.Operator, error)
	ComputeNEP(ctx context.Context, detail bool, diag func(noise.StageResult)) (*instrument.NEPReport, error)
}

// Broadcaster fans events out to clients. *ws.Hub satisfies it.
type Broadcaster interface {
	BroadcastJSON(v any)
}

// Command represents an external command sent to the scheduler via its
// Commands channel. The Reply channel receives exactly one result.
type Command struct {
	Type    string
	Payload json.RawMessage
	Reply   chan<- CommandResult
}

// CommandResult is the response sent back through a Command's Reply channel.
type CommandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Runner owns the job loop.
type Runner struct {
	Hub    Broadcaster
	Engine Engine
	Log    *log.Logger

	// Verbose also logs every noise stage.
	Verbose bool

	// Commands receives external commands from HTTP handlers. It is only
	// read between jobs; use Cancel to stop a running one.
	Commands chan Command

	paused atomic.Bool

	jobMu     sync.Mutex
	jobCancel context.CancelFunc
	jobName   string

	lastMu    sync.Mutex
	lastBuild *projection.Stats
	lastNEP   *instrument.NEPReport
	op        projection.Operator
}

// New creates a runner for engine.
func New(hub Broadcaster, engine Engine, logger *log.Logger) *Runner {
	return &Runner{
		Hub:      hub,
		Engine:   engine,
		Log:      logger,
		Commands: make(chan Command, 4),
	}
}

// IsPaused reports whether new jobs are refused.
func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

// Current returns the name of the running job, or "".
func (r *Runner) Current() string {
	r.jobMu.Lock()
	defer r.jobMu.Unlock()
	return r.jobName
}

// LastBuild returns the stats of the last successful build.
func (r *Runner) LastBuild() *projection.Stats {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	return r.lastBuild
}

// LastNEP returns the last noise report.
func (r *Runner) LastNEP() *instrument.NEPReport {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	return r.lastNEP
}

// Operator returns the last built pointing operator, or nil.
func (r *Runner) Operator() projection.Operator {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	return r.op
}

// Run is the job loop. It blocks until ctx is cancelled, handling one
// command at a time.
func (r *Runner) Run(ctx context.Context, setState func(string)) {
	r.logLine("info", "scheduler started")
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.Commands:
			r.handleCommand(ctx, cmd, setState)
		}
	}
}

// Cancel aborts the running job.
func (r *Runner) Cancel() error {
	r.jobMu.Lock()
	cancel, name := r.jobCancel, r.jobName
	r.jobMu.Unlock()
	if cancel == nil {
		return ErrNoJob
	}
	cancel()
	r.logLine("info", name+" cancelled by user")
	return nil
}

// handleCommand dispatches an incoming command to the appropriate handler.
func (r *Runner) handleCommand(ctx context.Context, cmd Command, setState func(string)) {
	switch cmd.Type {
	case "build":
		r.handleBuildCommand(ctx, cmd, setState)
	case "nep":
		r.handleNEPCommand(ctx, cmd, setState)
	case "pause":
		r.handlePauseCommand(cmd)
	case "resume":
		r.handleResumeCommand(cmd)
	default:
		cmd.Reply <- CommandResult{OK: false, Error: "unknown command: " + cmd.Type}
	}
}

// handleBuildCommand replies once the daemon is back to IDLE.
func (r *Runner) handleBuildCommand(ctx context.Context, cmd Command, setState func(string)) {
	if r.paused.Load() {
		cmd.Reply <- CommandResult{OK: false, Error: "scheduler paused"}
		return
	}
	s, err := r.Engine.Sampling()
	if err != nil {
		cmd.Reply <- CommandResult{OK: false, Error: "sampling failed: " + err.Error()}
		return
	}
	cmd.Reply <- r.build(ctx, s, setState)
}

func (r *Runner) build(ctx context.Context, s *sampling.Sampling, setState func(string)) CommandResult {
	jobCtx, done := r.startJob(ctx, "build")
	defer done()
	setState(StateBuilding)
	defer setState(StateIdle)

	r.logLine("info", fmt.Sprintf("building projection for %d samples", s.Len()))
	start := time.Now()
	op, err := r.Engine.BuildProjection(jobCtx, s, r.buildProgress())
	elapsed := time.Since(start)

	ev := telemetry.BuildDone{
		Event:      telemetry.NewEvent(telemetry.EventBuildDone, componentScheduler),
		DurationMS: elapsed.Milliseconds(),
	}
	if err != nil {
		ev.Error = err.Error()
		r.Hub.BroadcastJSON(ev)
		r.logLine("error", "projection build failed: "+err.Error())
		return CommandResult{OK: false, Error: "projection build failed: " + err.Error()}
	}
	st := op.Stats()
	ev.Stats = st
	r.Hub.BroadcastJSON(ev)

	r.lastMu.Lock()
	r.lastBuild = &st
	r.op = op
	r.lastMu.Unlock()

	msg := fmt.Sprintf("projection built: %d×%d %s, %d nonzero in %s",
		st.Rows, st.NColMax, st.Precision, st.NonZero, elapsed.Truncate(time.Millisecond))
	r.logLine("info", msg)
	return CommandResult{OK: true, Message: msg, Data: st}
}

// buildProgress throttles the builder's per-detector callback to one event
// per whole percent.
func (r *Runner) buildProgress() func(done, total int) {
	var last atomic.Int64
	last.Store(-1)
	return func(done, total int) {
		pct := int64(100 * done / total)
		prev := last.Load()
		if pct <= prev || !last.CompareAndSwap(prev, pct) {
			return
		}
		r.Hub.BroadcastJSON(telemetry.Progress{
			Event:   telemetry.NewEvent(telemetry.EventProgress, componentScheduler),
			Stage:   "projection",
			Percent: float64(pct),
			Detail:  fmt.Sprintf("%d/%d detectors", done, total),
		})
	}
}

func (r *Runner) handleNEPCommand(ctx context.Context, cmd Command, setState func(string)) {
	if r.paused.Load() {
		cmd.Reply <- CommandResult{OK: false, Error: "scheduler paused"}
		return
	}
	var payload struct {
		Detail bool `json:"detail"`
	}
	if len(cmd.Payload) > 0 {
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			cmd.Reply <- CommandResult{OK: false, Error: "invalid payload: " + err.Error()}
			return
		}
	}

	cmd.Reply <- r.nep(ctx, payload.Detail, setState)
}

func (r *Runner) nep(ctx context.Context, detail bool, setState func(string)) CommandResult {
	jobCtx, done := r.startJob(ctx, "nep")
	defer done()
	setState(StateComputingNEP)
	defer setState(StateIdle)

	rep, err := r.Engine.ComputeNEP(jobCtx, detail, r.nepStage)
	if err != nil {
		r.logLine("error", "noise evaluation failed: "+err.Error())
		return CommandResult{OK: false, Error: "noise evaluation failed: " + err.Error()}
	}
	r.Hub.BroadcastJSON(telemetry.NEPSummary{
		Event: telemetry.NewEvent(telemetry.EventNEPSummary, componentScheduler),
		Band:  rep.Band,
		Min:   rep.Min,
		Mean:  rep.Mean,
		Max:   rep.Max,
	})

	r.lastMu.Lock()
	r.lastNEP = rep
	r.lastMu.Unlock()

	msg := fmt.Sprintf("%s NEP over %d detectors: mean %.3e W/√Hz", rep.Band, rep.NDetectors, rep.Mean)
	r.logLine("info", msg)
	return CommandResult{OK: true, Message: msg, Data: rep}
}

func (r *Runner) nepStage(sr noise.StageResult) {
	ev := telemetry.NEPStage{
		Event:   telemetry.NewEvent(telemetry.EventNEPStage, componentScheduler),
		Index:   sr.Index,
		Name:    sr.Name,
		Stage:   sr.Stage,
		Formula: sr.Formula,
	}
	if n := len(sr.Power); n > 0 {
		ev.PowerMean = floats.Sum(sr.Power) / float64(n)
	}
	if n := len(sr.NEP2); n > 0 {
		ev.NEP2Mean = floats.Sum(sr.NEP2) / float64(n)
	}
	if r.Verbose && r.Log != nil {
		r.Log.Printf("scheduler: stage %d %s (%s, %s): P=%.3e W NEP²=%.3e W²/Hz",
			sr.Index, sr.Name, sr.Stage, sr.Formula, ev.PowerMean, ev.NEP2Mean)
	}
	r.Hub.BroadcastJSON(ev)
}

func (r *Runner) handlePauseCommand(cmd Command) {
	if r.paused.Load() {
		cmd.Reply <- CommandResult{OK: true, Message: "scheduler already paused"}
		return
	}
	r.paused.Store(true)
	r.logLine("info", "scheduler paused by user")
	cmd.Reply <- CommandResult{OK: true, Message: "scheduler paused"}
}

func (r *Runner) handleResumeCommand(cmd Command) {
	if !r.paused.Load() {
		cmd.Reply <- CommandResult{OK: true, Message: "scheduler already running"}
		return
	}
	r.paused.Store(false)
	r.logLine("info", "scheduler resumed by user")
	cmd.Reply <- CommandResult{OK: true, Message: "scheduler resumed"}
}

// startJob registers a cancellable child context for the named job. The
// returned func releases it.
func (r *Runner) startJob(ctx context.Context, name string) (context.Context, func()) {
	jobCtx, cancel := context.WithCancel(ctx)
	r.jobMu.Lock()
	r.jobCancel = cancel
	r.jobName = name
	r.jobMu.Unlock()
	return jobCtx, func() {
		cancel()
		r.jobMu.Lock()
		r.jobCancel = nil
		r.jobName = ""
		r.jobMu.Unlock()
	}
}

// logLine writes to the logger and broadcasts the same line.
func (r *Runner) logLine(level, msg string) {
	if r.Log != nil {
		r.Log.Printf("scheduler: %s", msg)
	}
	r.Hub.BroadcastJSON(telemetry.LogLine{
		Event:   telemetry.NewEvent(telemetry.EventLog, componentScheduler),
		Level:   level,
		Message: msg,
	})
}
