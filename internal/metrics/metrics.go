// Package metrics exposes provisioning counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/user-provisioner/internal/model"
)

// Recorder is what the orchestrator reports to.
type Recorder interface {
	RecordRun(p model.Provider, mode model.Mode, result string)
	RecordOutcome(p model.Provider, action model.Action)
	ObserveProviderCall(p model.Provider, d time.Duration)
}

// Run results.
const (
	ResultDelivered      = "delivered"
	ResultConfigError    = "configuration_error"
	ResultValidation     = "validation_error"
	ResultAuthentication = "authentication_error"
	ResultDeliveryError  = "delivery_error"
	ResultInterrupted    = "interrupted"
)

type Collector struct {
	runs     *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewCollector registers the provisioning metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provisioner_runs_total",
			Help: "Provisioning runs by provider, mode and result.",
		}, []string{"provider", "mode", "result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provisioner_outcomes_total",
			Help: "Per-user outcomes by provider and action.",
		}, []string{"provider", "action"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provisioner_provider_call_seconds",
			Help:    "Latency of create-or-detect calls against a provider.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	reg.MustRegister(c.runs, c.outcomes, c.latency)
	return c
}

func (c *Collector) RecordRun(p model.Provider, mode model.Mode, result string) {
	c.runs.WithLabelValues(string(p), string(mode), result).Inc()
}

func (c *Collector) RecordOutcome(p model.Provider, action model.Action) {
	c.outcomes.WithLabelValues(string(p), string(action)).Inc()
}

func (c *Collector) ObserveProviderCall(p model.Provider, d time.Duration) {
	c.latency.WithLabelValues(string(p)).Observe(d.Seconds())
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordRun(model.Provider, model.Mode, string)      {}
func (Nop) RecordOutcome(model.Provider, model.Action)        {}
func (Nop) ObserveProviderCall(model.Provider, time.Duration) {}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
