package app

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/large-farva/bolometric-engine/internal/config"
	"github.com/large-farva/bolometric-engine/internal/scheduler"
	"github.com/large-farva/bolometric-engine/internal/telemetry"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Horns.Grid = 6
	cfg.Detectors.Grid = 2
	cfg.Synthbeam.KMax = 2
	cfg.Scene.Nside = 16
	cfg.Scene.Kind = "I"
	cfg.Sampling.NSamples = 10
	cfg.Instrument.Polarizer = false
	return cfg
}

func newTestApp(t *testing.T) (*App, *httptest.Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	a, err := New(Options{
		Logger:   log.New(io.Discard, "", 0),
		Cfg:      testConfig(),
		Registry: reg,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.wsHub.Run(ctx)
	go a.scheduler.Run(ctx, a.setStateFromScheduler)
	a.transition(scheduler.StateIdle)

	srv := httptest.NewServer(a.routes())
	t.Cleanup(srv.Close)
	return a, srv, reg
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealthzAndStatus(t *testing.T) {
	_, srv, _ := newTestApp(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Errorf("healthz: %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	var st map[string]any
	decode(t, resp, &st)
	if st["state"] != "IDLE" || st["band"] != "150GHz" || st["detectors"] != float64(4) {
		t.Errorf("status = %v", st)
	}
	if b, _ := st["projection_bytes"].(float64); b <= 0 {
		t.Errorf("projection_bytes = %v", st["projection_bytes"])
	}
}

func TestProjectionEndpoint(t *testing.T) {
	_, srv, reg := newTestApp(t)

	resp, err := http.Get(srv.URL + "/api/projection")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET before build: %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/projection", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	var res struct {
		OK   bool `json:"ok"`
		Data struct {
			Rows    int `json:"rows"`
			NonZero int `json:"nonzero"`
		} `json:"data"`
	}
	decode(t, resp, &res)
	if !res.OK || res.Data.Rows != 4*10 || res.Data.NonZero == 0 {
		t.Errorf("build result = %+v", res)
	}

	resp, err = http.Get(srv.URL + "/api/projection")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET after build: %d", resp.StatusCode)
	}

	n, err := testutil.GatherAndCount(reg, "projection_builds_total")
	if err != nil || n != 1 {
		t.Errorf("builds series = %d, %v", n, err)
	}
}

func TestNEPEndpoint(t *testing.T) {
	_, srv, _ := newTestApp(t)

	resp, err := http.Get(srv.URL + "/api/nep?detail=true")
	if err != nil {
		t.Fatal(err)
	}
	var res struct {
		OK   bool `json:"ok"`
		Data struct {
			Band   string    `json:"band"`
			Mean   float64   `json:"mean"`
			NEP    []float64 `json:"nep"`
			Stages []any     `json:"stages"`
		} `json:"data"`
	}
	decode(t, resp, &res)
	if !res.OK || res.Data.Band != "150GHz" || res.Data.Mean <= 0 || len(res.Data.NEP) != 4 || len(res.Data.Stages) == 0 {
		t.Errorf("nep = %+v", res)
	}
}

func TestSynthbeamEndpoint(t *testing.T) {
	a, srv, _ := newTestApp(t)

	resp, err := http.Get(srv.URL + "/api/synthbeam?detector=3")
	if err != nil {
		t.Fatal(err)
	}
	var sb synthbeamJSON
	decode(t, resp, &sb)
	if sb.Detector != 3 || len(sb.Peaks) != a.instrument.Peaks.NPeaks || sb.Total <= 0 {
		t.Errorf("synthbeam = %+v", sb)
	}
	if sb.Direct != nil {
		t.Errorf("direct beam evaluated without being asked: %v", sb.Direct)
	}

	resp, err = http.Get(srv.URL + "/api/synthbeam?detector=3&direct=true")
	if err != nil {
		t.Fatal(err)
	}
	var direct synthbeamJSON
	decode(t, resp, &direct)
	if len(direct.Direct) != len(direct.Peaks) || direct.DirectMax <= 0 || direct.DirectTotal < direct.DirectMax {
		t.Fatalf("direct = %+v", direct)
	}
	if direct.Direct[0] <= 0 {
		t.Errorf("direct beam at the brightest peak = %g", direct.Direct[0])
	}

	for _, q := range []string{"4", "-1", "x"} {
		resp, err := http.Get(srv.URL + "/api/synthbeam?detector=" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("detector=%s: %d", q, resp.StatusCode)
		}
	}
}

func TestSchedulerControls(t *testing.T) {
	_, srv, _ := newTestApp(t)

	post := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Post(srv.URL+path, "application/json", nil)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	resp := post("/api/scheduler/cancel")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("cancel while idle: %d", resp.StatusCode)
	}

	resp = post("/api/scheduler/pause")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("pause: %d", resp.StatusCode)
	}
	resp = post("/api/projection")
	var res scheduler.CommandResult
	decode(t, resp, &res)
	if res.OK || !strings.Contains(res.Error, "paused") {
		t.Errorf("build while paused = %+v", res)
	}
	resp = post("/api/scheduler/resume")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("resume: %d", resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/api/scheduler/pause")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET pause: %d", resp.StatusCode)
	}
}

func TestOperatorsVersionConfigMetrics(t *testing.T) {
	_, srv, _ := newTestApp(t)

	for _, path := range []string{"/api/operators", "/api/version", "/api/config"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		var v map[string]any
		decode(t, resp, &v)
		if len(v) == 0 {
			t.Errorf("%s: empty body", path)
		}
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "projection_build_duration_seconds") {
		t.Errorf("metrics: %d", resp.StatusCode)
	}
}

func TestNewRejectsBadInstrument(t *testing.T) {
	cfg := testConfig()
	cfg.Instrument.Nu = 185e9
	if _, err := New(Options{Logger: log.New(io.Discard, "", 0), Cfg: cfg}); err == nil {
		t.Error("185 GHz accepted")
	}
}

func TestProjectionRequestIsLogged(t *testing.T) {
	a, srv, _ := newTestApp(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for a.wsHub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(srv.URL+"/api/projection", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("no log event from the daemon: %v", err)
		}
		var ev telemetry.LogLine
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Type != telemetry.EventLog || ev.Component != component {
			continue
		}
		if ev.Level != "info" || !strings.Contains(ev.Message, "projection requested") || ev.TS == "" {
			t.Fatalf("log event = %+v", ev)
		}
		return
	}
}
