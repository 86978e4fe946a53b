// Package observability provides Prometheus metrics for the bot.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Copy pipeline
	TradesDetected prometheus.Counter
	Decisions      *prometheus.CounterVec
	PollDuration   prometheus.Histogram
	PollErrors     prometheus.Counter
	TicksSkipped   *prometheus.CounterVec

	// Resolution
	OracleLatency  *prometheus.HistogramVec
	OracleFailures *prometheus.CounterVec
	Verdicts       *prometheus.CounterVec
	Settlements    prometheus.Counter

	// Portfolio
	Cash        prometheus.Gauge
	Equity      prometheus.Gauge
	RealizedPnL prometheus.Gauge
	Positions   prometheus.Gauge

	// Runtime
	Running       prometheus.Gauge
	EventsDropped *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers every metric on reg. A nil reg uses a fresh registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "polycopy"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		TradesDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_detected_total",
			Help:      "New trades of the target wallet surfaced by the poller",
		}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Copy and entry decisions by verdict, reason and source",
		}, []string{"verdict", "reason", "source"}),
		PollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of wallet activity polls",
			Buckets:   prometheus.DefBuckets,
		}),
		PollErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Failed wallet activity polls",
		}),
		TicksSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Ticks skipped because the previous cycle was still running",
		}, []string{"task"}),
		OracleLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_query_seconds",
			Help:      "Latency of oracle source queries",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16},
		}, []string{"source"}),
		OracleFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_failures_total",
			Help:      "Oracle queries that failed or timed out",
		}, []string{"source"}),
		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Aggregated verdicts by resolution state",
		}, []string{"state"}),
		Settlements: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Positions closed at market settlement",
		}),
		Cash: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_cash_usdc",
			Help:      "Ledger cash balance",
		}),
		Equity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_equity_usdc",
			Help:      "Cash plus marked value of open positions",
		}),
		RealizedPnL: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_realized_pnl_usdc",
			Help:      "Realized PnL since start",
		}),
		Positions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_positions",
			Help:      "Open positions",
		}),
		Running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bot_running",
			Help:      "1 while a session is running",
		}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a sink buffer was full",
		}, []string{"sink"}),
		gatherer: reg,
	}
}

// Handler returns the /metrics handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordPoll(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.PollDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.PollErrors.Inc()
	}
}

func (m *Metrics) RecordTradesDetected(n int) {
	if m == nil {
		return
	}
	m.TradesDetected.Add(float64(n))
}

func (m *Metrics) RecordDecision(ev domain.TradeEvent) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(string(ev.Verdict), string(ev.Reason), string(ev.Source)).Inc()
}

func (m *Metrics) RecordTickSkipped(task string) {
	if m == nil {
		return
	}
	m.TicksSkipped.WithLabelValues(task).Inc()
}

// RecordOracle matches resolution.Config.Observe.
func (m *Metrics) RecordOracle(source string, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.OracleLatency.WithLabelValues(source).Observe(elapsed.Seconds())
	if failed {
		m.OracleFailures.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) RecordVerdict(state domain.ResolutionState) {
	if m == nil {
		return
	}
	m.Verdicts.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) RecordSettlements(n int) {
	if m == nil {
		return
	}
	m.Settlements.Add(float64(n))
}

func (m *Metrics) RecordPortfolio(pf domain.PortfolioState) {
	if m == nil {
		return
	}
	m.Cash.Set(pf.Cash)
	m.Equity.Set(pf.Equity)
	m.RealizedPnL.Set(pf.RealizedPnL)
	m.Positions.Set(float64(len(pf.Positions)))
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}

// RecordDrop matches events.Bus.OnDrop.
func (m *Metrics) RecordDrop(sink string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(sink).Inc()
}
