// Package metrics 账本服务的 Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LedgerOperations result 取值 ok / not_found / insufficient_funds / policy_violation / invalid_state / conflict / error
	LedgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_ledger_operations_total",
			Help: "Total number of ledger operations by result",
		},
		[]string{"operation", "result"},
	)

	LedgerOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wallet_ledger_operation_duration_seconds",
			Help:    "Duration of ledger operations",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	OutboxMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_outbox_messages_total",
			Help: "Outbox relay attempts by result (sent, retry, failed)",
		},
		[]string{"result"},
	)

	Payouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_payouts_total",
			Help: "Payout submissions to the payment gateway by result",
		},
		[]string{"gateway", "result"},
	)
)

// Handler /metrics 抓取端点
func Handler() http.Handler {
	return promhttp.Handler()
}
