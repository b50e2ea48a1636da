// Package metrics exposes the collaboration engine's prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	// activeRooms is the number of rooms with at least one participant.
	activeRooms prometheus.Gauge
	// activeParticipants counts participants across rooms, including those in
	// their disconnect grace period.
	activeParticipants prometheus.Gauge
	// broadcastsTotal counts enqueued room events by event name.
	broadcastsTotal *prometheus.CounterVec
	// deliveriesTotal counts per-recipient deliveries by result.
	deliveriesTotal *prometheus.CounterVec
	// rejectionsTotal counts rejected inbound requests by error code.
	rejectionsTotal *prometheus.CounterVec
	// presenceTransitionsTotal counts presence changes by new status.
	presenceTransitionsTotal *prometheus.CounterVec
	// qualityChangesTotal counts connection quality tier changes by new tier.
	qualityChangesTotal *prometheus.CounterVec
	// payloadBytes observes the size of accepted delta payloads.
	payloadBytes prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		activeRooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "collab",
			Subsystem: "rooms",
			Name:      "active",
			Help:      "Number of rooms with at least one participant.",
		}),
		activeParticipants: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "collab",
			Subsystem: "rooms",
			Name:      "participants",
			Help:      "Number of participants across all rooms.",
		}),
		broadcastsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collab",
			Subsystem: "broadcast",
			Name:      "events_total",
			Help:      "Total number of room events enqueued for fan-out.",
		}, []string{"event"}),
		deliveriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collab",
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Total number of per-recipient deliveries.",
		}, []string{"result"}),
		rejectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collab",
			Subsystem: "requests",
			Name:      "rejected_total",
			Help:      "Total number of rejected inbound requests.",
		}, []string{"code"}),
		presenceTransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collab",
			Subsystem: "presence",
			Name:      "transitions_total",
			Help:      "Total number of presence status transitions.",
		}, []string{"status"}),
		qualityChangesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collab",
			Subsystem: "heartbeat",
			Name:      "quality_changes_total",
			Help:      "Total number of connection quality tier changes.",
		}, []string{"quality"}),
		payloadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "collab",
			Subsystem: "broadcast",
			Name:      "payload_bytes",
			Help:      "Serialized size of accepted delta payloads.",
			Buckets:   []float64{32, 64, 128, 200, 256, 512, 1024},
		}),
	}
}

func (m *Metrics) RoomOpened() {
	if m == nil {
		return
	}
	m.activeRooms.Inc()
}

func (m *Metrics) RoomClosed() {
	if m == nil {
		return
	}
	m.activeRooms.Dec()
}

func (m *Metrics) ParticipantAdded() {
	if m == nil {
		return
	}
	m.activeParticipants.Inc()
}

func (m *Metrics) ParticipantRemoved() {
	if m == nil {
		return
	}
	m.activeParticipants.Dec()
}

func (m *Metrics) Broadcast(event string) {
	if m == nil {
		return
	}
	m.broadcastsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) Delivered() {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues("delivered").Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues("dropped").Inc()
}

func (m *Metrics) Rejected(code string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) PresenceTransition(status string) {
	if m == nil {
		return
	}
	m.presenceTransitionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) QualityChanged(quality string) {
	if m == nil {
		return
	}
	m.qualityChangesTotal.WithLabelValues(quality).Inc()
}

func (m *Metrics) PayloadSize(n int) {
	if m == nil {
		return
	}
	m.payloadBytes.Observe(float64(n))
}
