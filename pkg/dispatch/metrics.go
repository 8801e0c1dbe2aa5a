package dispatch

import (
	"github.com/mywio/im-notify/pkg/presence"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the dispatch counters. A nil *Metrics records nothing.
type Metrics struct {
	events     *prometheus.CounterVec
	recipients *prometheus.CounterVec
	duration   prometheus.Histogram
	sessions   *prometheus.GaugeVec
}

// NewMetrics registers the dispatch metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imnotify_events_total",
				Help: "Events evaluated by the rule engine, by result and rejecting criterion.",
			},
			[]string{"result", "criterion"},
		),
		recipients: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imnotify_recipients_total",
				Help: "Resolved recipients by outcome.",
			},
			[]string{"outcome"},
		),
		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "imnotify_dispatch_duration_seconds",
				Help:    "Duration of admitted event dispatches.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		sessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "imnotify_xmpp_session_state",
				Help: "Handshake state of each XMPP session (0 disconnected, 1 connecting, 2 connected, 3 authenticated).",
			},
			[]string{"session"},
		),
	}
}

func (m *Metrics) event(admitted bool, criterion string) {
	if m == nil {
		return
	}
	result := "rejected"
	if admitted {
		result = "admitted"
	}
	m.events.WithLabelValues(result, criterion).Inc()
}

func (m *Metrics) recipient(outcome string) {
	if m == nil {
		return
	}
	m.recipients.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observe(seconds float64) {
	if m == nil {
		return
	}
	m.duration.Observe(seconds)
}

// ObserveSession records a session state change. It has the shape of a
// presence.StateObserver.
func (m *Metrics) ObserveSession(p presence.Params, s presence.SessionState) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(p.String()).Set(float64(s))
}
