package metrics

import "github.com/prometheus/client_golang/prometheus"

// IntakeMetrics exposes counters/histograms for consent intake and WhatsApp dispatch.
type IntakeMetrics struct {
	submissionsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	dispatchAttempts   *prometheus.CounterVec
	dispatchLatency    *prometheus.HistogramVec
	storeErrorsTotal   *prometheus.CounterVec
	sweptTotal         prometheus.Counter
}

func NewIntakeMetrics(reg prometheus.Registerer) *IntakeMetrics {
	m := &IntakeMetrics{
		submissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "intake",
			Name:      "submissions_total",
			Help:      "Consent submissions by outcome",
		}, []string{"outcome"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "intake",
			Name:      "notifications_total",
			Help:      "Final notification state recorded per submission",
		}, []string{"state"}),
		dispatchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "dispatch",
			Name:      "attempts_total",
			Help:      "WhatsApp send attempts by result",
		}, []string{"result"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medspa",
			Subsystem: "dispatch",
			Name:      "attempt_latency_seconds",
			Help:      "Latency of individual WhatsApp send attempts",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		storeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "intake",
			Name:      "store_errors_total",
			Help:      "Submission store failures by operation and kind",
		}, []string{"op", "kind"}),
		sweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "intake",
			Name:      "swept_total",
			Help:      "Pending submissions picked up by the sweeper",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.submissionsTotal, m.notificationsTotal, m.dispatchAttempts, m.dispatchLatency, m.storeErrorsTotal, m.sweptTotal)
	return m
}

func (m *IntakeMetrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(outcome).Inc()
}

func (m *IntakeMetrics) ObserveNotification(state string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(state).Inc()
}

func (m *IntakeMetrics) ObserveDispatchAttempt(result string, seconds float64) {
	if m == nil {
		return
	}
	m.dispatchAttempts.WithLabelValues(result).Inc()
	m.dispatchLatency.WithLabelValues(result).Observe(seconds)
}

func (m *IntakeMetrics) ObserveStoreError(op, kind string) {
	if m == nil {
		return
	}
	m.storeErrorsTotal.WithLabelValues(op, kind).Inc()
}

func (m *IntakeMetrics) ObserveSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptTotal.Add(float64(n))
}
