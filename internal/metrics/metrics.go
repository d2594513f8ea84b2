// Package metrics exposes acquisition and graph activity as Prometheus
// collectors. A Metrics value implements the observer interfaces of the
// executor, history and session packages.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vk/scopegrid/internal/executor"
)

const namespace = "scopegrid"

// Metrics holds every collector.
type Metrics struct {
	gatherer prometheus.Gatherer

	Acquisitions  prometheus.Counter
	Captures      prometheus.Counter
	Duplicates    *prometheus.CounterVec
	NodeComputes  *prometheus.CounterVec
	NodeFailures  *prometheus.CounterVec
	NodeLatency   *prometheus.HistogramVec
	Refreshes     prometheus.Counter
	RefreshTime   prometheus.Histogram
	SkippedNodes  prometheus.Counter
	GroupsRemoved prometheus.Counter
	HistoryDepth  prometheus.Gauge
	Armed         prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		Acquisitions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisitions_total",
			Help:      "Downloads that delivered at least one capture.",
		}),
		Captures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Instrument captures downloaded.",
		}),
		Duplicates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_acquisitions_total",
			Help:      "Captures discarded because history already held their timestamp.",
		}, []string{"instrument"}),
		NodeComputes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_computes_total",
			Help:      "Filter compute steps run, by filter type.",
		}, []string{"type"}),
		NodeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_failures_total",
			Help:      "Filter compute steps that returned an error, by filter type.",
		}, []string{"type"}),
		NodeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_compute_seconds",
			Help:      "Duration of one filter compute step.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"type"}),
		Refreshes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Graph refresh passes, full or partial.",
		}),
		RefreshTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_seconds",
			Help:      "Duration of one graph refresh pass.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		SkippedNodes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_nodes_total",
			Help:      "Nodes not computed because an upstream node failed.",
		}),
		GroupsRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_groups_collected_total",
			Help:      "Empty trigger groups garbage-collected.",
		}),
		HistoryDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_records",
			Help:      "Acquisitions currently held in history.",
		}),
		Armed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "armed",
			Help:      "1 while the session trigger is armed.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// NodeComputed implements executor.Observer.
func (m *Metrics) NodeComputed(typ string, took time.Duration, err error) {
	m.NodeComputes.WithLabelValues(typ).Inc()
	m.NodeLatency.WithLabelValues(typ).Observe(took.Seconds())
	if err != nil {
		m.NodeFailures.WithLabelValues(typ).Inc()
	}
}

// PassCompleted implements executor.Observer.
func (m *Metrics) PassCompleted(r executor.Report) {
	m.Refreshes.Inc()
	m.RefreshTime.Observe(r.Duration.Seconds())
	m.SkippedNodes.Add(float64(len(r.Skipped)))
}

// Recorded implements history.Observer.
func (m *Metrics) Recorded(depth int) {
	m.HistoryDepth.Set(float64(depth))
}

// Duplicate implements history.Observer.
func (m *Metrics) Duplicate(instrument string) {
	m.Duplicates.WithLabelValues(instrument).Inc()
}

// Downloaded implements session.Observer.
func (m *Metrics) Downloaded(captures int) {
	if captures == 0 {
		return
	}
	m.Acquisitions.Inc()
	m.Captures.Add(float64(captures))
}

// ArmedChanged implements session.Observer.
func (m *Metrics) ArmedChanged(armed bool) {
	if armed {
		m.Armed.Set(1)
		return
	}
	m.Armed.Set(0)
}

// GroupCollected implements session.Observer.
func (m *Metrics) GroupCollected() {
	m.GroupsRemoved.Inc()
}
