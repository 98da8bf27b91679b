// Package metrics содержит счётчики Prometheus для движка подписок и платежей.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты операций для меток.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultBusy     = "busy"
	ResultRejected = "rejected"
	ResultPending  = "pending"
)

// Metrics набор счётчиков сервиса.
type Metrics struct {
	Grants            *prometheus.CounterVec
	ReferralCascades  *prometheus.CounterVec
	PromoActivations  *prometheus.CounterVec
	InvoiceConfirms   *prometheus.CounterVec
	DuplicateInvoices prometheus.Counter
	PollerRuns        prometheus.Counter
}

// New регистрирует счётчики в reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Grants: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vpnshop",
			Name:      "grants_total",
			Help:      "Subscription grants by kind and result.",
		}, []string{"kind", "result"}),
		ReferralCascades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vpnshop",
			Name:      "referral_cascades_total",
			Help:      "Referral bonus grants by result.",
		}, []string{"result"}),
		PromoActivations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vpnshop",
			Name:      "promo_activations_total",
			Help:      "Promo code activation attempts by result.",
		}, []string{"result"}),
		InvoiceConfirms: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vpnshop",
			Name:      "invoice_confirmations_total",
			Help:      "Invoice confirmation attempts by result.",
		}, []string{"result"}),
		DuplicateInvoices: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vpnshop",
			Name:      "duplicate_invoices_total",
			Help:      "Paid grants rejected by the invoice idempotency guard.",
		}),
		PollerRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vpnshop",
			Name:      "poller_runs_total",
			Help:      "Completed payment poller iterations.",
		}),
	}
}
