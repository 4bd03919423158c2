package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveBuild(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.ObserveBuild("IQU", 0.2, 1234, nil)
	c.ObserveBuild("IQU", 0.1, 0, errors.New("boom"))

	if got := testutil.ToFloat64(c.ProjectionBuilds.WithLabelValues("IQU", "ok")); got != 1 {
		t.Fatalf("ok builds = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ProjectionBuilds.WithLabelValues("IQU", "error")); got != 1 {
		t.Fatalf("failed builds = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ProjectionNonZero); got != 1234 {
		t.Fatalf("nonzero = %v, want 1234", got)
	}

	var m dto.Metric
	if err := c.ProjectionDuration.Write(&m); err != nil {
		t.Fatal(err)
	}
	h := m.GetHistogram()
	if h.GetSampleCount() != 1 || h.GetSampleSum() != 0.2 {
		t.Fatalf("duration histogram: count %d sum %v, want only the successful build", h.GetSampleCount(), h.GetSampleSum())
	}
}

func TestObserveNEP(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	c.ObserveNEP("150GHz", 1e-17, 2e-17, 3e-17)
	c.ObserveNEP("150GHz", 1e-17, 2e-17, 4e-17)

	if got := testutil.ToFloat64(c.NEPEvaluations.WithLabelValues("150GHz")); got != 2 {
		t.Fatalf("evaluations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.NEPTotal.WithLabelValues("max")); got != 4e-17 {
		t.Fatalf("max = %v", got)
	}
}

func TestRegisterTwiceReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	a.NEPEvaluations.WithLabelValues("220GHz").Inc()
	if got := testutil.ToFloat64(b.NEPEvaluations.WithLabelValues("220GHz")); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	c.ObserveBuild("I", 0.5, 10, nil)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`projection_builds_total{kind="I",result="ok"} 1`,
		"projection_build_duration_seconds_count 1",
		"projection_nonzero_entries 10",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveBuild("I", 1, 1, nil)
	c.ObserveNEP("150GHz", 1, 1, 1)
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, span := Tracer().Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("disabled tracing produced a recording span")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestInitTracingUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil)
	if err == nil || !strings.Contains(err.Error(), "zipkin") {
		t.Fatalf("err = %v", err)
	}
}
