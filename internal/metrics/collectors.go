// Package metrics exposes Prometheus metrics for the trading bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignalsTotal counts accepted inbound signals by resulting action.
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_signals_total",
		Help: "Inbound signals by ticker and action (entry, close)",
	}, []string{"ticker", "action"})

	// SignalsRejected counts signals that resulted in a no-op.
	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_signals_rejected_total",
		Help: "Signals rejected by reason",
	}, []string{"reason"})

	// OrdersTotal counts orders submitted to the exchange.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_orders_total",
		Help: "Orders placed by ticker, side and type (limit, market)",
	}, []string{"ticker", "side", "type"})

	// FillsTotal counts terminal fills by kind (limit, market).
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_fills_total",
		Help: "Order fills by ticker and kind (limit, market)",
	}, []string{"ticker", "kind"})

	// StopLossTriggers counts trailing-stop activations.
	StopLossTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_stop_loss_triggers_total",
		Help: "Trailing stop-loss triggers by ticker",
	}, []string{"ticker"})

	// ReversalsTotal counts position flips (close of an opposing position).
	ReversalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_reversals_total",
		Help: "Position reversals by ticker",
	}, []string{"ticker"})

	// OpenPosition tracks whether a position is believed open per ticker.
	OpenPosition = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bot_open_position",
		Help: "1 when a position is open for the ticker, 0 otherwise",
	}, []string{"ticker"})

	// OrderLatency observes the wall time of an entry execution loop.
	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bot_order_latency_seconds",
		Help:    "Entry execution latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// BuildInfo carries version metadata as constant labels.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bot_build_info",
		Help: "Build information",
	}, []string{"version", "commit", "build_time"})
)

// buildVersion is kept for the health endpoint. Set once at startup.
var buildVersion string

// SetBuildInfo records build metadata.
func SetBuildInfo(version, commit, buildTime string) {
	buildVersion = version
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
