package track

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts routine drops on the media path. Direction violations and
// queue overflow are normal operating conditions on a lossy real-time
// transport, so they are recorded here instead of being surfaced as errors.
type Metrics struct {
	// BadDirection counts media packets dropped for crossing the track
	// against its negotiated direction.
	BadDirection prometheus.Counter
	// QueueFull counts media packets dropped because the receive queue
	// was full.
	QueueFull prometheus.Counter
}

// NewMetrics creates the track counters and registers them with reg when it
// is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BadDirection: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "track_bad_direction_dropped_total",
			Help: "Number of media packets dropped for crossing a track against its negotiated direction.",
		}),
		QueueFull: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "track_recv_queue_full_dropped_total",
			Help: "Number of media packets dropped because a track receive queue was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.BadDirection, m.QueueFull)
	}
	return m
}
