// Package metrics exposes Prometheus collectors for the aggregation engine.
//
// Collectors are registered on a caller-supplied registry so several
// aggregators (or tests) never collide on the global default registry. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/chatstream/core"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "chatstream"

// Metrics bundles the engine collectors.
type Metrics struct {
	// Streaming metrics
	EventsTotal  *prometheus.CounterVec
	TokensTotal  prometheus.Counter
	FlushesTotal prometheus.Counter
	FlushBytes   prometheus.Histogram
	ActiveLanes  prometheus.Gauge

	// Business metrics
	PromotionsTotal  *prometheus.CounterVec
	LaneDuration     prometheus.Histogram
	ToolCallsTotal   *prometheus.CounterVec
	LanesDiscarded   prometheus.Counter
	MessagesAppended *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// New creates and registers the collectors on reg. An empty namespace uses
// DefaultNamespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)

	return &Metrics{
		EventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total stream events handled",
			},
			[]string{"type"},
		),
		TokensTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Total tokens appended to lanes",
			},
		),
		FlushesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flushes_total",
				Help:      "Total coalesced lane flushes",
			},
		),
		FlushBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "flush_bytes",
				Help:      "Bytes delivered per flush",
				Buckets:   []float64{4, 16, 64, 256, 1024, 4096},
			},
		),
		ActiveLanes: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_lanes",
				Help:      "Lanes currently streaming",
			},
		),
		PromotionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "promotions_total",
				Help:      "Total lanes promoted to messages",
			},
			[]string{"outcome"}, // "completed" or "errored"
		),
		LaneDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lane_duration_seconds",
				Help:      "Time from stream start to promotion",
				Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		ToolCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_call_updates_total",
				Help:      "Total tool-call patches applied",
			},
			[]string{"status"},
		),
		LanesDiscarded: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lanes_discarded_total",
				Help:      "Total lanes torn down without promotion",
			},
		),
		MessagesAppended: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_appended_total",
				Help:      "Total messages appended to history",
			},
			[]string{"role"},
		),
		ErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total events rejected at the aggregator boundary",
			},
			[]string{"kind"},
		),
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveEvent counts one handled event.
func (m *Metrics) ObserveEvent(t core.EventType) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(string(t)).Inc()
	if t == core.EventToken {
		m.TokensTotal.Inc()
	}
}

// ObserveFlush records one flush of n bytes.
func (m *Metrics) ObserveFlush(n int) {
	if m == nil {
		return
	}
	m.FlushesTotal.Inc()
	m.FlushBytes.Observe(float64(n))
}

// SetActiveLanes reports the current number of lanes.
func (m *Metrics) SetActiveLanes(n int) {
	if m == nil {
		return
	}
	m.ActiveLanes.Set(float64(n))
}

// ObservePromotion records a promoted lane and how long it streamed.
func (m *Metrics) ObservePromotion(errored bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "completed"
	if errored {
		outcome = "errored"
	}
	m.PromotionsTotal.WithLabelValues(outcome).Inc()
	m.LaneDuration.Observe(d.Seconds())
}

// ObserveToolCall counts an applied tool-call patch by resulting status.
func (m *Metrics) ObserveToolCall(status core.ToolStatus) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(string(status)).Inc()
}

// ObserveDiscard counts n lanes torn down without promotion.
func (m *Metrics) ObserveDiscard(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LanesDiscarded.Add(float64(n))
}

// ObserveMessage counts an appended message by role.
func (m *Metrics) ObserveMessage(role core.Role) {
	if m == nil {
		return
	}
	m.MessagesAppended.WithLabelValues(string(role)).Inc()
}

// ObserveError counts a rejected event by error kind.
func (m *Metrics) ObserveError(kind core.ErrorKind) {
	if m == nil || kind == core.KindNone {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(kind)).Inc()
}
