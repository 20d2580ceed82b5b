package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the dispatch engine's collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	MessagesTotal       *prometheus.CounterVec
	CampaignTransitions *prometheus.CounterVec
	TicksTotal          *prometheus.CounterVec
	TickDuration        prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_messages_total",
				Help: "Campaign messages resolved by the dispatcher, by outcome",
			},
			[]string{"status"},
		),
		CampaignTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_transitions_total",
				Help: "Campaign lifecycle transitions, by resulting event",
			},
			[]string{"event"},
		),
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_ticks_total",
				Help: "Dispatcher ticks, by result",
			},
			[]string{"result"},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "campaign_tick_duration_seconds",
				Help:    "Wall time of a dispatcher tick",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 20, 30, 60},
			},
		),
	}
	reg.MustRegister(m.MessagesTotal, m.CampaignTransitions, m.TicksTotal, m.TickDuration)
	return m
}

func (m *Metrics) Message(status string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) Transition(event string) {
	if m == nil {
		return
	}
	m.CampaignTransitions.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveTick(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TicksTotal.WithLabelValues(result).Inc()
	m.TickDuration.Observe(elapsed.Seconds())
}
