// Package observability exposes Prometheus metrics and OpenTelemetry
// tracing for the forward model.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the engine's Prometheus metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	ProjectionBuilds   *prometheus.CounterVec
	ProjectionDuration prometheus.Histogram
	ProjectionNonZero  prometheus.Gauge
	NEPEvaluations     *prometheus.CounterVec
	NEPTotal           *prometheus.GaugeVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice against the same registry returns
// the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	builds, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "projection_builds_total",
		Help: "Projection operator builds, labeled by scene kind and result.",
	}, []string{"kind", "result"}), "projection_builds_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "projection_build_duration_seconds",
		Help:    "Wall time of projection operator builds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}), "projection_build_duration_seconds")
	if err != nil {
		return nil, err
	}

	nnz, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "projection_nonzero_entries",
		Help: "Non-zero entries of the last projection operator built.",
	}), "projection_nonzero_entries")
	if err != nil {
		return nil, err
	}

	evals, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nep_evaluations_total",
		Help: "Photon noise evaluations, labeled by band.",
	}, []string{"band"}), "nep_evaluations_total")
	if err != nil {
		return nil, err
	}

	total, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nep_total_watts",
		Help: "Total photon NEP across detectors of the last evaluation, in W/sqrt(Hz).",
	}, []string{"stat"}), "nep_total_watts")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:           gatherer,
		ProjectionBuilds:   builds,
		ProjectionDuration: duration,
		ProjectionNonZero:  nnz,
		NEPEvaluations:     evals,
		NEPTotal:           total,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveBuild records one projection build. nonZero is ignored when err
// is set.
func (c *Collector) ObserveBuild(kind string, seconds float64, nonZero int, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.ProjectionBuilds.WithLabelValues(kind, result).Inc()
	if err != nil {
		return
	}
	c.ProjectionDuration.Observe(seconds)
	c.ProjectionNonZero.Set(float64(nonZero))
}

// ObserveNEP records one noise evaluation and its min/mean/max NEP.
func (c *Collector) ObserveNEP(band string, lo, mean, hi float64) {
	if c == nil {
		return
	}
	c.NEPEvaluations.WithLabelValues(band).Inc()
	c.NEPTotal.WithLabelValues("min").Set(lo)
	c.NEPTotal.WithLabelValues("mean").Set(mean)
	c.NEPTotal.WithLabelValues("max").Set(hi)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
