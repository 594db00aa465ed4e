package audit

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	AuditRecorded   prometheus.Counter
	AuditFailures   *prometheus.CounterVec
	AlertsPublished *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		AuditRecorded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "escrow_audit_entries_total",
				Help: "Total audit entries recorded.",
			},
		),
		AuditFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_audit_failures_total",
				Help: "Total audit pipeline failures.",
			},
			[]string{"stage"},
		),
		AlertsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_security_alerts_total",
				Help: "Total security alerts published.",
			},
			[]string{"risk_level"},
		),
	}

	registry.MustRegister(
		m.AuditRecorded,
		m.AuditFailures,
		m.AlertsPublished,
	)
	return m
}

func (m *Metrics) AddAuditRecorded(n int) {
	if m == nil {
		return
	}
	m.AuditRecorded.Add(float64(n))
}

func (m *Metrics) IncAuditFailure(stage string) {
	if m == nil {
		return
	}
	m.AuditFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncAlertPublished(riskLevel string) {
	if m == nil {
		return
	}
	m.AlertsPublished.WithLabelValues(riskLevel).Inc()
}
