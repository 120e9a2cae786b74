package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/irfndi/neurastock/internal/trading"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "neurastock"

// Metrics holds the trading collectors on a private registry. It is a trading.EventSink, so the
// engine feeds decisions, exits and orders into it directly.
type Metrics struct {
	registry *prometheus.Registry

	Decisions     *prometheus.CounterVec
	Exits         *prometheus.CounterVec
	Orders        *prometheus.CounterVec
	Cycles        *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	OpenPositions prometheus.Gauge
	UnrealizedPnL prometheus.Gauge
	RealizedPnL   prometheus.Gauge
	DailyTrades   prometheus.Gauge
	State         *prometheus.GaugeVec
}

var _ trading.EventSink = (*Metrics)(nil)

// NewMetrics registers every collector plus the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Trade decisions by action and signal",
		}, []string{"action", "signal"}),
		Exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exits_total",
			Help:      "Exit triggers by reason and whether an order was placed",
		}, []string{"reason", "executed"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_updates_total",
			Help:      "Order state changes by side and status",
		}, []string{"side", "status"}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_cycles_total",
			Help:      "Orchestrator loop iterations by loop and result",
		}, []string{"loop", "result"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_cycle_duration_seconds",
			Help:      "Duration of orchestrator loop iterations",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"loop"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Positions not yet fully closed",
		}),
		UnrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unrealized_pnl",
			Help:      "Unrealized P&L across open positions",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl",
			Help:      "Realized P&L across all positions",
		}),
		DailyTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_trades",
			Help:      "Entries made since the last daily reset",
		}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orchestrator_state",
			Help:      "1 for the current orchestrator state, 0 otherwise",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Decisions, m.Exits, m.Orders, m.Cycles, m.CycleDuration,
		m.OpenPositions, m.UnrealizedPnL, m.RealizedPnL, m.DailyTrades, m.State,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) DecisionMade(_ context.Context, d trading.TradeDecision) {
	m.Decisions.WithLabelValues(string(d.Action), string(d.Signal.Signal)).Inc()
}

func (m *Metrics) ExitTriggered(_ context.Context, e trading.ExitEvent) {
	executed := "false"
	if e.Executed {
		executed = "true"
	}
	m.Exits.WithLabelValues(string(e.Reason), executed).Inc()
}

func (m *Metrics) OrderUpdated(_ context.Context, o trading.Order) {
	m.Orders.WithLabelValues(string(o.Side), string(o.Status)).Inc()
}

// ObserveCycle records one loop iteration.
func (m *Metrics) ObserveCycle(loop string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Cycles.WithLabelValues(loop, result).Inc()
	m.CycleDuration.WithLabelValues(loop).Observe(took.Seconds())
}

// ObserveLedger copies the position summary into the gauges.
func (m *Metrics) ObserveLedger(s trading.PositionSummary) {
	m.OpenPositions.Set(float64(s.OpenPositions))
	m.UnrealizedPnL.Set(s.TotalUnrealizedPnL.InexactFloat64())
	m.RealizedPnL.Set(s.TotalRealizedPnL.InexactFloat64())
}

// SetState marks current as the only active state among all.
func (m *Metrics) SetState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}
