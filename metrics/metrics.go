// Package metrics exposes the run counters as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of one run. A nil *Metrics records nothing.
type Metrics struct {
	TargetsTotal    *prometheus.CounterVec
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	ChallengesTotal prometheus.Counter
	RotationsTotal  *prometheus.CounterVec
	QueueRemaining  prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TargetsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_targets_total",
				Help: "Targets processed, by final outcome.",
			},
			[]string{"outcome"},
		),
		AttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_attempts_total",
				Help: "Attempts made, by attempt outcome.",
			},
			[]string{"outcome"},
		),
		AttemptDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_attempt_duration_seconds",
				Help:    "Duration of single attempts.",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"outcome"},
		),
		ChallengesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_challenges_total",
				Help: "Rendered pages that matched a challenge signature.",
			},
		),
		RotationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_rotations_total",
				Help: "Session rotations, by trigger.",
			},
			[]string{"reason"},
		),
		QueueRemaining: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_queue_remaining",
				Help: "Targets left in the current run's queue.",
			},
		),
	}
}

func (m *Metrics) ObserveAttempt(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(outcome).Inc()
	m.AttemptDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *Metrics) ObserveTarget(outcome string) {
	if m == nil {
		return
	}
	m.TargetsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveChallenge() {
	if m == nil {
		return
	}
	m.ChallengesTotal.Inc()
}

func (m *Metrics) ObserveRotation(reason string) {
	if m == nil {
		return
	}
	m.RotationsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetQueueRemaining(n int) {
	if m == nil {
		return
	}
	m.QueueRemaining.Set(float64(n))
}
