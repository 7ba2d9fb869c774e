package metrics

import (
	"expvar"

	"github.com/prometheus/client_golang/prometheus"
)

// expvar 计数（/debug/vars）
var (
	TicksRun      = expvar.NewInt("ticks_run")
	TicksSkipped  = expvar.NewInt("ticks_skipped")
	MemorySaves   = expvar.NewInt("memory_saves")
	MemoryErrors  = expvar.NewInt("memory_errors")
	JournalWrites = expvar.NewInt("journal_writes")
)

// prometheus 指标（/metrics）
var (
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "venuepilot_trades_total", Help: "Trades by outcome"},
		[]string{"pair", "side", "outcome"},
	)
	ActionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "venuepilot_action_attempts_total", Help: "UI action attempts by result"},
		[]string{"action", "result"},
	)
	SessionBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "venuepilot_session_balance", Help: "Last observed account balance"},
	)
	SessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "venuepilot_session_state", Help: "1 for the current controller state"},
		[]string{"state"},
	)
	MarketFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "venuepilot_market_fallback_total", Help: "Prices served from the static fallback"},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(TradesTotal, ActionAttempts, SessionBalance, SessionState, MarketFallbacks)
}

// SetState 只把当前状态置 1
func SetState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		SessionState.WithLabelValues(s).Set(v)
	}
}
