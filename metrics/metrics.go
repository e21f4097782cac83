// Package metrics exposes call metrics in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels used on the calls counter.
const (
	OutcomeOK        = "ok"
	OutcomeCancelled = "cancelled"
	OutcomeDeadline  = "deadline_exceeded"
	OutcomeTransport = "transport_error"
)

type Metrics struct {
	Calls    *prometheus.CounterVec   // grpcbridge_<subsystem>_calls_total{method,outcome}
	Latency  *prometheus.HistogramVec // grpcbridge_<subsystem>_call_seconds{method}
	InFlight prometheus.Gauge         // grpcbridge_<subsystem>_calls_in_flight

	gatherer prometheus.Gatherer
}

// Subsystems label the side of the call being measured.
const (
	SubsystemClient = "client"
	SubsystemServer = "server"
)

// New registers client collectors on a fresh registry.
func New() *Metrics {
	return newFresh(SubsystemClient)
}

// NewServer registers server collectors on a fresh registry.
func NewServer() *Metrics {
	return newFresh(SubsystemServer)
}

func newFresh(subsystem string) *Metrics {
	reg := prometheus.NewRegistry()
	m, err := NewSubsystem(reg, reg, subsystem)
	if err != nil {
		// a fresh registry cannot hold duplicates
		panic(err)
	}
	return m
}

// NewWith registers client collectors on reg and serves them from g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) (*Metrics, error) {
	return NewSubsystem(reg, g, SubsystemClient)
}

func NewSubsystem(reg prometheus.Registerer, g prometheus.Gatherer, subsystem string) (*Metrics, error) {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grpcbridge",
			Subsystem: subsystem,
			Name:      "calls_total",
			Help:      "Completed calls by method and outcome.",
		}, []string{"method", "outcome"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "grpcbridge",
			Subsystem: subsystem,
			Name:      "call_seconds",
			Help:      "Call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "grpcbridge",
			Subsystem: subsystem,
			Name:      "calls_in_flight",
			Help:      "Calls currently in flight.",
		}),
		gatherer: g,
	}
	for _, c := range []prometheus.Collector{m.Calls, m.Latency, m.InFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registered collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
