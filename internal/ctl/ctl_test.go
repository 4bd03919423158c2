package ctl

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{2*time.Minute + 3*time.Second, "2m 3s"},
		{2*time.Hour + 14*time.Minute + 8*time.Second, "2h 14m 8s"},
	}
	for _, tc := range cases {
		if got := formatDuration(tc.d); got != tc.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestFormatBytesAndSci(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{formatBytes(512), "512 B"},
		{formatBytes(3 << 20), "3.0 MB"},
		{formatBytes(5 << 30), "5.00 GB"},
		{formatSci(0, "W"), "0 W"},
		{formatSci(4.12e-17, "W/√Hz"), "4.120e-17 W/√Hz"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("got %q, want %q", tc.got, tc.want)
		}
	}
}

func TestSpreadAndMean(t *testing.T) {
	if got := mean([]float64{1, 2, 3}); got != 2 {
		t.Errorf("mean = %g", got)
	}
	if mean(nil) != 0 || spread(nil) != "-" {
		t.Error("empty input")
	}
	if got := spread([]float64{1, 3}); !strings.Contains(got, "1.0000e+00 / 2.0000e+00 / 3.0000e+00") {
		t.Errorf("spread = %q", got)
	}
}

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "message": r.Method})
		case "/fail":
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "scheduler paused"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var res commandResult
	if err := postJSON(srv.URL+"/", "/ok", map[string]int{"x": 1}, &res); err != nil || res.Message != "POST" {
		t.Errorf("post: %+v, %v", res, err)
	}

	res = commandResult{}
	if err := runJob(http.MethodPost, srv.URL, "/fail", &res); err != nil {
		t.Errorf("failed job should decode, got %v", err)
	}
	if res.OK || res.Error != "scheduler paused" {
		t.Errorf("res = %+v", res)
	}

	res = commandResult{}
	if err := runJob(http.MethodGet, srv.URL, "/missing", &res); err == nil {
		t.Error("404 without a JSON error accepted")
	}

	code, body, err := getRaw(srv.URL, "/ok")
	if err != nil || code != http.StatusOK || !strings.Contains(string(body), "GET") {
		t.Errorf("getRaw: %d %q %v", code, body, err)
	}
}
