package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	TradesInitiated  prometheus.Counter
	TradeTransitions *prometheus.CounterVec
	TradesExpired    prometheus.Counter
	OffersCreated    prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		TradesInitiated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "escrow_trades_initiated_total",
				Help: "Total trades initiated.",
			},
		),
		TradeTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_trade_transitions_total",
				Help: "Total trade status transitions.",
			},
			[]string{"target", "outcome"},
		),
		TradesExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "escrow_trades_expired_total",
				Help: "Total trades expired by the sweep.",
			},
		),
		OffersCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "escrow_offers_created_total",
				Help: "Total offers created.",
			},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "escrow_operation_duration_seconds",
				Help:    "Escrow operation duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.TradesInitiated,
		m.TradeTransitions,
		m.TradesExpired,
		m.OffersCreated,
		m.RequestDuration,
	)
	return m
}

func (m *Metrics) IncTradesInitiated() {
	if m == nil {
		return
	}
	m.TradesInitiated.Inc()
}

func (m *Metrics) IncTradeTransition(target, outcome string) {
	if m == nil {
		return
	}
	m.TradeTransitions.WithLabelValues(target, outcome).Inc()
}

func (m *Metrics) AddTradesExpired(n int) {
	if m == nil {
		return
	}
	m.TradesExpired.Add(float64(n))
}

func (m *Metrics) IncOffersCreated() {
	if m == nil {
		return
	}
	m.OffersCreated.Inc()
}

func (m *Metrics) ObserveDuration(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
