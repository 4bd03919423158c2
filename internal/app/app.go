// Package app wires together the HTTP server, the WebSocket hub, the
// instrument model and the job scheduler. It owns the daemon's lifecycle
// and is the single source of truth for the current operating state.
package app

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/large-farva/bolometric-engine/internal/config"
	"github.com/large-farva/bolometric-engine/internal/instrument"
	"github.com/large-farva/bolometric-engine/internal/observability"
	"github.com/large-farva/bolometric-engine/internal/scheduler"
	"github.com/large-farva/bolometric-engine/internal/telemetry"
	"github.com/large-farva/bolometric-engine/internal/ws"
)

const component = "bolod"

// Options holds everything the App needs from the caller.
type Options struct {
	Logger     *log.Logger
	Cfg        config.Config
	ConfigPath string
	Bind       string

	// Registry receives the daemon metrics. Nil uses a fresh registry.
	Registry *prometheus.Registry
}

// App is the top-level daemon process. It manages the HTTP server, the
// WebSocket event hub, and the job scheduler driving the instrument.
type App struct {
	log        *log.Logger
	cfg        config.Config
	configPath string
	bind       string
	server     *http.Server

	startedAt time.Time
	state     atomic.Value // current state string (BOOTING, IDLE, etc.)

	wsHub      *ws.Hub
	instrument *instrument.Instrument
	scheduler  *scheduler.Runner
	metrics    *observability.Collector
}

// New builds the instrument described by opts.Cfg and returns an App in
// the BOOTING state. Call Run to start serving.
func New(opts Options) (*App, error) {
	a := &App{
		log:        opts.Logger,
		cfg:        opts.Cfg,
		configPath: opts.ConfigPath,
		bind:       opts.Bind,
		startedAt:  time.Now(),
		wsHub:      ws.NewHubSize(1024),
	}
	a.state.Store("BOOTING")

	var instOpts []instrument.Option
	if a.cfg.Metrics.Enabled {
		reg := opts.Registry
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		m, err := observability.NewCollector(reg)
		if err != nil {
			return nil, err
		}
		a.metrics = m
		instOpts = append(instOpts, instrument.WithMetrics(m))
	}

	in, err := instrument.New(a.cfg, instOpts...)
	if err != nil {
		return nil, err
	}
	a.instrument = in
	a.scheduler = scheduler.New(a.wsHub, in, a.log)
	a.scheduler.Verbose = a.cfg.Logging.Level == "debug"

	a.log.Printf("instrument ready: %s %s, %d horns open, %d detectors, %d peaks each",
		a.cfg.Instrument.Config, in.Band, in.Horns.NumOpen(), in.Detectors.Len(), in.Peaks.NPeaks)
	return a, nil
}

// Run starts tracing, the HTTP server, the WebSocket hub, the heartbeat
// ticker and the scheduler. It blocks until the context is cancelled or
// the server returns an error.
func (a *App) Run(ctx context.Context) error {
	bind := a.bind
	if bind == "" && a.cfg.Server.Bind != "" {
		bind = a.cfg.Server.Bind
	}
	if bind == "" {
		bind = "0.0.0.0:8080"
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     a.cfg.Tracing.Enabled,
		ServiceName: a.cfg.Tracing.ServiceName,
		Exporter:    a.cfg.Tracing.Exporter,
		Endpoint:    a.cfg.Tracing.Endpoint,
		SampleRatio: a.cfg.Tracing.SampleRatio,
	}, a.log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, a.log)

	a.server = &http.Server{
		Addr:              bind,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}

	a.log.Printf("listening on http://%s", bind)

	go a.wsHub.Run(ctx)
	a.transition(scheduler.StateIdle)
	go a.heartbeatLoop(ctx)
	go a.scheduler.Run(ctx, a.setStateFromScheduler)

	go func() {
		<-ctx.Done()
		a.log.Printf("shutdown requested")
		_ = a.server.Shutdown(context.Background())
	}()

	return a.server.Serve(ln)
}

// routes builds the HTTP mux. Split from Run so tests can drive it with
// httptest.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/version", a.handleVersion)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/nep", a.handleNEP)
	mux.HandleFunc("/api/projection", a.handleProjection)
	mux.HandleFunc("/api/synthbeam", a.handleSynthbeam)
	mux.HandleFunc("/api/operators", a.handleOperators)
	mux.HandleFunc("/api/scheduler/pause", a.handlePause)
	mux.HandleFunc("/api/scheduler/resume", a.handleResume)
	mux.HandleFunc("/api/scheduler/cancel", a.handleCancel)
	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics.Handler())
	}
	mux.Handle("/ws", a.wsHub.Handler())
	return mux
}

// transition atomically updates the daemon state and broadcasts the change
// to all connected WebSocket clients.
func (a *App) transition(newState string) {
	old := a.state.Load().(string)
	if old == newState {
		return
	}
	a.state.Store(newState)

	a.wsHub.BroadcastJSON(telemetry.StateTransition{
		Event: telemetry.NewEvent(telemetry.EventState, component),
		From:  old,
		To:    newState,
	})
}

// heartbeatLoop sends a periodic heartbeat event so clients can detect
// connectivity and track uptime without polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.wsHub.BroadcastJSON(telemetry.Heartbeat{
				Event:         telemetry.NewEvent(telemetry.EventHeartbeat, component),
				State:         a.state.Load().(string),
				UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
			})
		}
	}
}

func (a *App) setStateFromScheduler(newState string) {
	a.transition(newState)
}

// emit pushes a log line from the daemon itself to every connected
// WebSocket client.
func (a *App) emit(level, message string) {
	a.wsHub.BroadcastJSON(telemetry.LogLine{
		Event:   telemetry.NewEvent(telemetry.EventLog, component),
		Level:   level,
		Message: message,
	})
}
