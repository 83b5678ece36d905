package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crossbook"

// Engine exports order book counters. It satisfies orderbook.Metrics.
type Engine struct {
	Trades          prometheus.Counter
	Volume          prometheus.Counter
	LastPrice       prometheus.Gauge
	MarketRejected  prometheus.Counter
	StopsActivated  prometheus.Counter
	StopsDropped    prometheus.Counter
	PersistFailures *prometheus.CounterVec
}

// New registers the engine collectors on reg.
func New(reg prometheus.Registerer) *Engine {
	f := promauto.With(reg)
	return &Engine{
		Trades: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "trades_total",
			Help: "Matched trade segments.",
		}),
		Volume: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "traded_size_total",
			Help: "Units exchanged across all trades.",
		}),
		LastPrice: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_trade_price",
			Help: "Execution price of the most recent trade.",
		}),
		MarketRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "market_orders_rejected_total",
			Help: "Market orders refused for insufficient liquidity.",
		}),
		StopsActivated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stop_orders_activated_total",
			Help: "Stop orders whose trigger was reached.",
		}),
		StopsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stop_orders_dropped_total",
			Help: "Activated stop orders discarded because they could not fill.",
		}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_write_failures_total",
			Help: "Ledger writes that failed, by operation.",
		}, []string{"op"}),
	}
}

func (e *Engine) TradeExecuted(size, price int64) {
	e.Trades.Inc()
	e.Volume.Add(float64(size))
	e.LastPrice.Set(float64(price))
}

func (e *Engine) MarketOrderRejected() { e.MarketRejected.Inc() }
func (e *Engine) StopActivated()       { e.StopsActivated.Inc() }
func (e *Engine) StopDropped()         { e.StopsDropped.Inc() }

func (e *Engine) PersistFailed(op string) {
	e.PersistFailures.WithLabelValues(op).Inc()
}

// NotifierStats is implemented by jobs/broadcaster.Broadcaster.
type NotifierStats interface {
	Dropped() uint64
	Published() uint64
	Failed() uint64
}

// RegisterNotifier exports the notification queue counters of n.
func RegisterNotifier(reg prometheus.Registerer, n NotifierStats) {
	f := promauto.With(reg)
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Name: "notifications_dropped_total",
		Help: "Notifications discarded because the queue was full.",
	}, func() float64 { return float64(n.Dropped()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Name: "notifications_published_total",
		Help: "Notifications handed to the brokers.",
	}, func() float64 { return float64(n.Published()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Name: "notifications_failed_total",
		Help: "Notifications the brokers refused.",
	}, func() float64 { return float64(n.Failed()) })
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
