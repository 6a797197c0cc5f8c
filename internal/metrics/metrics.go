// Package metrics exposes prometheus counters for store round-trips,
// snapshot memo behaviour, event order contention and event transitions.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	StoreQueries      *prometheus.CounterVec
	EntriesIndexed    prometheus.Counter
	DuplicatesIgnored prometheus.Counter
	MemoLookups       *prometheus.CounterVec
	IDTablesCreated   prometheus.Counter
	OrderRetries      prometheus.Counter
	EventTransitions  *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in binaries and prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StoreQueries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "asof_store_queries_total",
			Help: "Total number of store round-trips by backend and operation",
		}, []string{"backend", "op"}),
		EntriesIndexed: f.NewCounter(prometheus.CounterOpts{
			Name: "asof_history_entries_indexed_total",
			Help: "Total number of audit log entries added to history indexes",
		}),
		DuplicatesIgnored: f.NewCounter(prometheus.CounterOpts{
			Name: "asof_history_duplicates_ignored_total",
			Help: "Total number of exact duplicate entries ignored during loads",
		}),
		MemoLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "asof_snapshot_memo_lookups_total",
			Help: "Total number of snapshot memo lookups by result",
		}, []string{"result"}),
		IDTablesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "asof_store_id_tables_created_total",
			Help: "Total number of temporary id tables created for set joins",
		}),
		OrderRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "asof_event_order_retries_total",
			Help: "Total number of failed compare-and-set attempts on the event order counter",
		}),
		EventTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "asof_event_transitions_total",
			Help: "Total number of business event transitions by kind",
		}, []string{"transition"}),
	}
}

func (m *Metrics) StoreQuery(backend, op string) {
	if m == nil {
		return
	}
	m.StoreQueries.WithLabelValues(backend, op).Inc()
}

func (m *Metrics) EntryIndexed() {
	if m == nil {
		return
	}
	m.EntriesIndexed.Inc()
}

func (m *Metrics) DuplicateIgnored() {
	if m == nil {
		return
	}
	m.DuplicatesIgnored.Inc()
}

// MemoLookup records a snapshot memo hit or miss.
func (m *Metrics) MemoLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.MemoLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) IDTableCreated() {
	if m == nil {
		return
	}
	m.IDTablesCreated.Inc()
}

func (m *Metrics) OrderRetry() {
	if m == nil {
		return
	}
	m.OrderRetries.Inc()
}

// EventTransition records "apply", "rollback" or "reapply".
func (m *Metrics) EventTransition(transition string) {
	if m == nil {
		return
	}
	m.EventTransitions.WithLabelValues(transition).Inc()
}
