package telemetry

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNowTSIsRFC3339UTC(t *testing.T) {
	ts, err := time.Parse(time.RFC3339Nano, NowTS())
	if err != nil {
		t.Fatal(err)
	}
	if ts.Location() != time.UTC {
		t.Errorf("location = %v", ts.Location())
	}
	if d := time.Since(ts); d < 0 || d > time.Minute {
		t.Errorf("timestamp %v is off by %v", ts, d)
	}
}

func TestEnvelopeIsFlattened(t *testing.T) {
	b, err := json.Marshal(Progress{
		Event:   NewEvent(EventProgress, "scheduler"),
		Stage:   "projection",
		Percent: 50,
	})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"type", "ts", "component", "stage", "percent"} {
		if _, ok := m[k]; !ok {
			t.Errorf("missing %q in %s", k, b)
		}
	}
	if m["type"] != "progress" || m["component"] != "scheduler" {
		t.Errorf("envelope = %s", b)
	}
}

func TestBuildDoneOmitsEmptyFields(t *testing.T) {
	b, err := json.Marshal(BuildDone{Event: NewEvent(EventBuildDone, "")})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"stats", "error", "component"} {
		if _, ok := m[k]; ok {
			t.Errorf("%q present in %s", k, b)
		}
	}
}
