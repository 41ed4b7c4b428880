package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the fulfillment counters.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeRetry     = "retry"
	OutcomeIgnored   = "ignored"
	OutcomeRecorded  = "recorded"

	ResultSuccess      = "success"
	ResultInsufficient = "insufficient"
	ResultError        = "error"
	ResultReplay       = "replay"
)

// FulfillmentMetrics counts pipeline outcomes. A nil receiver is a no-op so
// services can run without a registry in tests.
type FulfillmentMetrics struct {
	events     *prometheus.CounterVec
	decrements *prometheus.CounterVec
	invoices   *prometheus.CounterVec
	refunds    *prometheus.CounterVec
}

func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_events_total",
		Help:      "Payment events handled, by type and outcome.",
	}, []string{"type", "outcome"})
	decrements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_decrements_total",
		Help:      "Conditional stock decrements, by catalog source and result.",
	}, []string{"source", "result"})
	invoices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invoice_deliveries_total",
		Help:      "Invoice delivery attempts, by result.",
	}, []string{"result"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refunds_total",
		Help:      "Refund requests, by result.",
	}, []string{"result"})
	reg.MustRegister(events, decrements, invoices, refunds)
	return &FulfillmentMetrics{
		events:     events,
		decrements: decrements,
		invoices:   invoices,
		refunds:    refunds,
	}
}

func (m *FulfillmentMetrics) IncEvent(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *FulfillmentMetrics) IncDecrement(source, result string) {
	if m == nil || m.decrements == nil {
		return
	}
	m.decrements.WithLabelValues(normalizeLabel(source), normalizeLabel(result)).Inc()
}

func (m *FulfillmentMetrics) IncInvoice(result string) {
	if m == nil || m.invoices == nil {
		return
	}
	m.invoices.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *FulfillmentMetrics) IncRefund(result string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(result)).Inc()
}
