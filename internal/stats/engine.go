package stats

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/venuepilot/internal/domain"
	"github.com/betbot/venuepilot/internal/risk"
)

// MemorySource 交易记忆快照
type MemorySource interface {
	Snapshot() domain.TradeMemory
}

// TradingMetrics 会话统计（只读派生值）
type TradingMetrics struct {
	SessionStart       *time.Time          `json:"sessionStart,omitempty"`
	SessionDuration    time.Duration       `json:"-"`
	SessionSeconds     float64             `json:"sessionSeconds"`
	TotalTrades        int64               `json:"totalTrades"`
	SuccessfulTrades   int64               `json:"successfulTrades"`
	FailedTrades       int64               `json:"failedTrades"`
	WinRate            float64             `json:"winRate"`
	StartingBalance    decimal.Decimal     `json:"startingBalance"`
	CurrentBalance     decimal.Decimal     `json:"currentBalance"`
	NetProfit          decimal.Decimal     `json:"netProfit"`
	TargetAmount       decimal.Decimal     `json:"targetAmount"`
	HouseCutProjection decimal.Decimal     `json:"houseCutProjection"`
	LastTrade          *time.Time          `json:"lastTrade,omitempty"`
	RecentErrors       []domain.TradeError `json:"recentErrors"`
}

// Engine 从交易记忆和会话开始时间推导统计；GetMetrics 无副作用
type Engine struct {
	memory MemorySource
	limits *risk.Limits
	now    func() time.Time

	mu    sync.RWMutex
	start *time.Time
}

// NewEngine 创建；now 为空时使用 time.Now
func NewEngine(mem MemorySource, limits *risk.Limits, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{memory: mem, limits: limits, now: now}
}

// MarkStart 记录会话开始时间（控制器启动时调用）
func (e *Engine) MarkStart(at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.start = &at
}

// ClearStart 会话重置
func (e *Engine) ClearStart() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.start = nil
}

// GetMetrics 计算当前统计。
// 未达目标时 HouseCutProjection = (target - current) × cut；
// 达到目标后等于实际抽成 (current - starting) × cut。
func (e *Engine) GetMetrics() TradingMetrics {
	mem := e.memory.Snapshot()
	p := e.limits.Params()

	out := TradingMetrics{
		TotalTrades:      mem.TotalTrades,
		SuccessfulTrades: mem.SuccessfulTrades,
		FailedTrades:     mem.FailedTrades,
		StartingBalance:  p.StartingBalance,
		CurrentBalance:   mem.CurrentBalance,
		NetProfit:        mem.CurrentBalance.Sub(p.StartingBalance),
		TargetAmount:     p.TargetAmount,
		LastTrade:        mem.LastTrade,
		RecentErrors:     mem.Errors,
	}
	if out.RecentErrors == nil {
		out.RecentErrors = []domain.TradeError{}
	}

	total := mem.TotalTrades
	if total < 1 {
		total = 1
	}
	out.WinRate = float64(mem.SuccessfulTrades) / float64(total)

	out.HouseCutProjection = e.limits.HouseCutProjection(mem.CurrentBalance)

	e.mu.RLock()
	start := e.start
	e.mu.RUnlock()
	if start != nil {
		s := *start
		out.SessionStart = &s
		if d := e.now().Sub(s); d > 0 {
			out.SessionDuration = d
		}
		out.SessionSeconds = out.SessionDuration.Seconds()
	}
	return out
}
