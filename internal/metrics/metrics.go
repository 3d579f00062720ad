package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's prometheus collectors. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	RoomsMerged     *prometheus.CounterVec
	MessagesDeduped prometheus.Counter
	EventsApplied   *prometheus.CounterVec
	CacheWrites     *prometheus.CounterVec
	Fetches         *prometheus.CounterVec
	Receipts        *prometheus.CounterVec
	RoomsInStore    prometheus.Gauge
}

// New builds the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RoomsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_rooms_merged_total",
			Help: "Rooms reconciled by MergeRooms, by outcome (inserted, updated, unchanged).",
		}, []string{"outcome"}),
		MessagesDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomsync_messages_deduped_total",
			Help: "AddMessage calls dropped because the message id was already present.",
		}),
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_events_applied_total",
			Help: "Real-time events applied to the state store, by kind and result.",
		}, []string{"kind", "result"}),
		CacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_cache_writes_total",
			Help: "Room snapshot writes to the persistent cache, by outcome.",
		}, []string{"outcome"}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_fetches_total",
			Help: "Transport fetches, by target (rooms, messages) and outcome.",
		}, []string{"target", "outcome"}),
		Receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_read_receipts_total",
			Help: "Read receipts confirmed with the server, by outcome.",
		}, []string{"outcome"}),
		RoomsInStore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomsync_rooms",
			Help: "Rooms currently held by the state store.",
		}),
	}
	m.registry.MustRegister(
		m.RoomsMerged, m.MessagesDeduped, m.EventsApplied,
		m.CacheWrites, m.Fetches, m.Receipts, m.RoomsInStore,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) MergedRoom(outcome string) {
	if m != nil {
		m.RoomsMerged.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) DedupedMessage() {
	if m != nil {
		m.MessagesDeduped.Inc()
	}
}

func (m *Metrics) AppliedEvent(kind, result string) {
	if m != nil {
		m.EventsApplied.WithLabelValues(kind, result).Inc()
	}
}

func (m *Metrics) CacheWrite(err error) {
	if m != nil {
		m.CacheWrites.WithLabelValues(outcome(err)).Inc()
	}
}

func (m *Metrics) Fetch(target string, err error) {
	if m != nil {
		m.Fetches.WithLabelValues(target, outcome(err)).Inc()
	}
}

func (m *Metrics) Receipt(err error) {
	if m != nil {
		m.Receipts.WithLabelValues(outcome(err)).Inc()
	}
}

func (m *Metrics) SetRooms(n int) {
	if m != nil {
		m.RoomsInStore.Set(float64(n))
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
