package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for list item extraction.
type Metrics struct {
	Registry             *prometheus.Registry
	PagesProcessedTotal  prometheus.Counter
	ResourcesParsedTotal prometheus.Counter
	FaultsTotal          *prometheus.CounterVec
	DegradationsTotal    *prometheus.CounterVec
	RetriesTotal         *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spiget_pages_processed_total",
			Help: "Total listing pages whose fragments were extracted.",
		},
	)
	parsed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spiget_resources_parsed_total",
			Help: "Total list items extracted into records.",
		},
	)
	faults := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spiget_extraction_faults_total",
			Help: "Total list items that could not be extracted, by fault type.",
		},
		[]string{"fault"},
	)
	degradations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spiget_extraction_degradations_total",
			Help: "Total fields replaced by a default value, by field.",
		},
		[]string{"field"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spiget_retries_total",
			Help: "Total retry tasks scheduled, by task type.",
		},
		[]string{"task_type"},
	)

	registry.MustRegister(pages, parsed, faults, degradations, retries)

	return &Metrics{
		Registry:             registry,
		PagesProcessedTotal:  pages,
		ResourcesParsedTotal: parsed,
		FaultsTotal:          faults,
		DegradationsTotal:    degradations,
		RetriesTotal:         retries,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesProcessedTotal.Inc()
}

func (m *Metrics) IncParsed() {
	if m == nil {
		return
	}
	m.ResourcesParsedTotal.Inc()
}

func (m *Metrics) IncFault(label string) {
	if m == nil {
		return
	}
	m.FaultsTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) IncDegradation(field string) {
	if m == nil {
		return
	}
	m.DegradationsTotal.WithLabelValues(field).Inc()
}

func (m *Metrics) IncRetry(taskType string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(taskType).Inc()
}
