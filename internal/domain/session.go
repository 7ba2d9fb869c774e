package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// State 交易会话控制器状态
type State string

const (
	StateUninitialized   State = "UNINITIALIZED"
	StateBrowserReady    State = "BROWSER_READY"
	StateAuthenticated   State = "AUTHENTICATED"
	StateTradingActive   State = "TRADING_ACTIVE"
	StateTargetReached   State = "TARGET_REACHED"   // 终态
	StateSafetyStopped   State = "SAFETY_STOPPED"   // 终态
	StateManuallyStopped State = "MANUALLY_STOPPED" // 终态
)

// Terminal 是否终态
func (s State) Terminal() bool {
	switch s {
	case StateTargetReached, StateSafetyStopped, StateManuallyStopped:
		return true
	}
	return false
}

// Active 已启动且未进入终态
func (s State) Active() bool {
	switch s {
	case StateBrowserReady, StateAuthenticated, StateTradingActive:
		return true
	}
	return false
}

// TradingSession 内存中的会话状态，每个控制器一个；只由 tick 修改，重新初始化时重置
type TradingSession struct {
	Balance       decimal.Decimal `json:"balance"`
	TargetAmount  decimal.Decimal `json:"targetAmount"`
	TradeCount    int             `json:"tradeCount"`
	IsActive      bool            `json:"isActive"`
	LastTradeTime time.Time       `json:"lastTradeTime"`
}

// SessionSummary 对外展示的会话摘要
type SessionSummary struct {
	State           State           `json:"state"`
	Balance         decimal.Decimal `json:"balance"`
	StartingBalance decimal.Decimal `json:"startingBalance"`
	TargetAmount    decimal.Decimal `json:"targetAmount"`
	SafetyFloor     decimal.Decimal `json:"safetyFloor"`
	TradeCount      int             `json:"tradeCount"`
	IsActive        bool            `json:"isActive"`
	LastTradeTime   *time.Time      `json:"lastTradeTime,omitempty"`
	HouseCut        decimal.Decimal `json:"houseCut"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	SkippedTicks    int64           `json:"skippedTicks"`
}
