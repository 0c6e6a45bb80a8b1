package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PaymentMetrics holds the payment counters. A nil *PaymentMetrics is valid
// and records nothing.
type PaymentMetrics struct {
	PaymentsCreatedTotal   *prometheus.CounterVec
	CallbacksTotal         *prometheus.CounterVec
	TransitionsTotal       *prometheus.CounterVec
	RefundsTotal           *prometheus.CounterVec
	GatewayRequestDuration *prometheus.HistogramVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	f := promauto.With(reg)
	return &PaymentMetrics{
		PaymentsCreatedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_created_total",
				Help: "Payment attempts created, by method",
			},
			[]string{"method"},
		),
		CallbacksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_callbacks_total",
				Help: "Gateway callbacks by provider, channel and reconciliation result",
			},
			[]string{"provider", "channel", "result"},
		),
		TransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_transitions_total",
				Help: "Applied payment status transitions",
			},
			[]string{"method", "status"},
		),
		RefundsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_refunds_total",
				Help: "Refund requests by method and result",
			},
			[]string{"method", "result"},
		),
		GatewayRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_gateway_request_duration_seconds",
				Help:    "Outbound gateway call latency",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"provider", "operation", "ok"},
		),
	}
}

func (m *PaymentMetrics) RecordCreated(method string) {
	if m == nil {
		return
	}
	m.PaymentsCreatedTotal.WithLabelValues(method).Inc()
}

func (m *PaymentMetrics) RecordCallback(provider, channel, result string) {
	if m == nil {
		return
	}
	m.CallbacksTotal.WithLabelValues(provider, channel, result).Inc()
}

func (m *PaymentMetrics) RecordTransition(method, status string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(method, status).Inc()
}

func (m *PaymentMetrics) RecordRefund(method, result string) {
	if m == nil {
		return
	}
	m.RefundsTotal.WithLabelValues(method, result).Inc()
}

// ObserveGateway records the duration of a gateway call started at start.
func (m *PaymentMetrics) ObserveGateway(provider, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.GatewayRequestDuration.WithLabelValues(provider, operation, strconv.FormatBool(err == nil)).
		Observe(time.Since(start).Seconds())
}
