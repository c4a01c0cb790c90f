// Package metrics defines the engine's prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tradeguard"

type Metrics struct {
	TransactionsScreened prometheus.Counter
	AlertsGenerated      *prometheus.CounterVec
	AlertsDeduplicated   prometheus.Counter
	RulesSkipped         prometheus.Counter
	AlertTransitions     *prometheus.CounterVec
	DisputesCreated      *prometheus.CounterVec
	DisputeTransitions   *prometheus.CounterVec
	ConcurrencyConflicts *prometheus.CounterVec
	NotificationsDropped prometheus.Counter
	SinkFailures         *prometheus.CounterVec
	TradeSyncRepairs     *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TransactionsScreened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "screening", Name: "transactions_total",
			Help: "Transactions evaluated against monitoring rules",
		}),
		AlertsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "screening", Name: "alerts_generated_total",
			Help: "Alerts persisted by rule severity",
		}, []string{"severity"}),
		AlertsDeduplicated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "screening", Name: "alerts_deduplicated_total",
			Help: "Candidate alerts dropped because an open alert already covers them",
		}),
		RulesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "screening", Name: "rules_skipped_total",
			Help: "Malformed rules left out of an evaluation",
		}),
		AlertTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alerts", Name: "transitions_total",
			Help: "Alert status transitions by target status",
		}, []string{"to"}),
		DisputesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "disputes", Name: "created_total",
			Help: "Disputes filed by priority",
		}, []string{"priority"}),
		DisputeTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "disputes", Name: "transitions_total",
			Help: "Dispute status transitions by target status",
		}, []string{"to"}),
		ConcurrencyConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "concurrency_conflicts_total",
			Help: "Writes rejected because the entity changed since it was read",
		}, []string{"entity"}),
		NotificationsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "dropped_total",
			Help: "Notifications dropped because the queue was full",
		}),
		SinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "sink_failures_total",
			Help: "Notification and audit sink errors",
		}, []string{"sink"}),
		TradeSyncRepairs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reconciliation", Name: "trade_sync_total",
			Help: "Trade sync repair attempts by outcome",
		}, []string{"outcome"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) Screened() {
	if m != nil {
		m.TransactionsScreened.Inc()
	}
}

func (m *Metrics) AlertGenerated(severity string) {
	if m != nil {
		m.AlertsGenerated.WithLabelValues(severity).Inc()
	}
}

func (m *Metrics) AlertDeduplicated() {
	if m != nil {
		m.AlertsDeduplicated.Inc()
	}
}

func (m *Metrics) RuleSkipped() {
	if m != nil {
		m.RulesSkipped.Inc()
	}
}

func (m *Metrics) AlertTransition(to string) {
	if m != nil {
		m.AlertTransitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) DisputeCreated(priority string) {
	if m != nil {
		m.DisputesCreated.WithLabelValues(priority).Inc()
	}
}

func (m *Metrics) DisputeTransition(to string) {
	if m != nil {
		m.DisputeTransitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) Conflict(entity string) {
	if m != nil {
		m.ConcurrencyConflicts.WithLabelValues(entity).Inc()
	}
}

func (m *Metrics) NotificationDropped() {
	if m != nil {
		m.NotificationsDropped.Inc()
	}
}

func (m *Metrics) SinkFailure(sink string) {
	if m != nil {
		m.SinkFailures.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) TradeSync(outcome string) {
	if m != nil {
		m.TradeSyncRepairs.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	if m != nil {
		m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(seconds)
	}
}
