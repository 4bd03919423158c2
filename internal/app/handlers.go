package app

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/large-farva/bolometric-engine/internal/scheduler"
	"github.com/large-farva/bolometric-engine/internal/synthbeam"
)

func (a *App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	in := a.instrument
	resp := map[string]any{
		"name":           "bolometric-engine",
		"state":          a.state.Load().(string),
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"band":           in.Band.String(),
		"config":         a.cfg.Instrument.Config,
		"nu":             a.cfg.Instrument.Nu,
		"scene":          string(in.Scene.Kind),
		"nside":          in.Scene.Nside,
		"horns_open":     in.Horns.NumOpen(),
		"detectors":      in.Detectors.Len(),
		"peaks":          in.Peaks.NPeaks,
		"precision":      in.Precision.String(),
		"paused":         a.scheduler.IsPaused(),
		"job":            a.scheduler.Current(),
		"ws_clients":     a.wsHub.Clients(),
		"ws_dropped":     a.wsHub.Dropped(),
	}
	if n, err := in.ProjectionBytes(a.cfg.Sampling.NSamples); err == nil {
		resp["projection_bytes"] = n
	}
	if st := a.scheduler.LastBuild(); st != nil {
		resp["last_build"] = st
	}
	if rep := a.scheduler.LastNEP(); rep != nil {
		resp["last_nep"] = map[string]any{
			"band": rep.Band,
			"min":  rep.Min,
			"mean": rep.Mean,
			"max":  rep.Max,
		}
	}
	writeJSON(w, resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"version":    Version,
		"go_version": GoVersion,
		"built_at":   BuiltAt,
		"runtime":    runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	})
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"path":   a.configPath,
		"config": a.cfg,
	})
}

// handleNEP runs a noise evaluation. ?detail=true keeps the per-detector
// values and the stage breakdown.
func (a *App) handleNEP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	detail, _ := strconv.ParseBool(r.URL.Query().Get("detail"))
	payload, _ := json.Marshal(map[string]bool{"detail": detail})
	result, err := a.sendSchedulerCommand(r.Context(), "nep", payload)
	if err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeCommandResult(w, result)
}

// handleProjection builds the pointing operator on POST and returns the
// stats of the last build on GET.
func (a *App) handleProjection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		st := a.scheduler.LastBuild()
		if st == nil {
			jsonError(w, "no projection built yet", http.StatusNotFound)
			return
		}
		writeJSON(w, st)
	case http.MethodPost:
		a.emit("info", "projection requested by "+r.RemoteAddr)
		result, err := a.sendSchedulerCommand(r.Context(), "build", nil)
		if err != nil {
			jsonError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeCommandResult(w, result)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type synthbeamJSON struct {
	Detector int              `json:"detector"`
	Center   [3]float64       `json:"center"`
	NPeaks   int              `json:"npeaks"`
	Required int              `json:"required"`
	Total    float64          `json:"total"`
	Peaks    []synthbeam.Peak `json:"peaks"`

	// set with ?direct=true
	Direct      []float64 `json:"direct,omitempty"` // horn-sum beam at each peak pixel
	DirectMax   float64   `json:"direct_max,omitempty"`
	DirectTotal float64   `json:"direct_total,omitempty"`
}

// handleSynthbeam lists the retained peaks of one detector. With
// direct=true the horn-sum beam is also evaluated on the scene and sampled
// at each peak; peaks outside the scene read 0.
func (a *App) handleSynthbeam(w http.ResponseWriter, r *http.Request) {
	ps := a.instrument.Peaks
	d := 0
	if s := r.URL.Query().Get("detector"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n >= ps.NDetectors {
			jsonError(w, "detector must be an index in [0, "+strconv.Itoa(ps.NDetectors)+")", http.StatusBadRequest)
			return
		}
		d = n
	}
	c := a.instrument.Detectors.Detectors[d].Center
	resp := synthbeamJSON{
		Detector: d,
		Center:   [3]float64{c.X, c.Y, c.Z},
		NPeaks:   ps.NPeaks,
		Required: ps.Required[d],
		Total:    ps.Total(d),
		Peaks:    ps.Detector(d),
	}
	if direct, _ := strconv.ParseBool(r.URL.Query().Get("direct")); direct {
		row, err := a.instrument.SyntheticBeam(r.Context(), d)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.Direct = make([]float64, len(resp.Peaks))
		for k, p := range resp.Peaks {
			if pix := a.instrument.Scene.Pixel(peakDirection(p)); pix >= 0 {
				resp.Direct[k] = row[pix]
			}
		}
		resp.DirectMax = floats.Max(row)
		resp.DirectTotal = floats.Sum(row)
	}
	writeJSON(w, resp)
}

func peakDirection(p synthbeam.Peak) r3.Vec {
	st, ct := math.Sincos(p.Theta)
	sp, cp := math.Sincos(p.Phi)
	return r3.Vec{X: st * cp, Y: st * sp, Z: ct}
}

func (a *App) handleOperators(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, a.instrument.Operators())
}

func (a *App) handlePause(w http.ResponseWriter, r *http.Request) {
	a.schedulerControl(w, r, "pause")
}

func (a *App) handleResume(w http.ResponseWriter, r *http.Request) {
	a.schedulerControl(w, r, "resume")
}

func (a *App) schedulerControl(w http.ResponseWriter, r *http.Request, cmd string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := a.sendSchedulerCommand(r.Context(), cmd, nil)
	if err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeCommandResult(w, result)
}

// handleCancel bypasses the command channel, which is not read while a job
// runs.
func (a *App) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := a.scheduler.Cancel(); err != nil {
		if errors.Is(err, scheduler.ErrNoJob) {
			jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, scheduler.CommandResult{OK: true, Message: "job cancelled"})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// sendSchedulerCommand sends a command to the scheduler and waits for the
// reply or for the request to go away. The reply channel is buffered so the
// scheduler never blocks on an abandoned request.
func (a *App) sendSchedulerCommand(ctx context.Context, cmdType string, payload json.RawMessage) (scheduler.CommandResult, error) {
	reply := make(chan scheduler.CommandResult, 1)
	select {
	case a.scheduler.Commands <- scheduler.Command{Type: cmdType, Payload: payload, Reply: reply}:
	case <-ctx.Done():
		return scheduler.CommandResult{}, errors.New("scheduler busy")
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return scheduler.CommandResult{}, ctx.Err()
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":    false,
		"error": msg,
	})
}

// writeCommandResult writes a scheduler.CommandResult as JSON.
func writeCommandResult(w http.ResponseWriter, result scheduler.CommandResult) {
	w.Header().Set("Content-Type", "application/json")
	if !result.OK {
		w.WriteHeader(http.StatusInternalServerError)
	}
	_ = json.NewEncoder(w).Encode(result)
}
