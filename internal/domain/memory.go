package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxErrorLog 错误环形缓冲区容量
const MaxErrorLog = 10

// TradeError 一条失败记录
type TradeError struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// TradeMemory 跨重启持久化的交易累计记录。
//
// 不变量：
// - TotalTrades == SuccessfulTrades + FailedTrades
// - len(Errors) <= MaxErrorLog（最新追加、最旧淘汰）
// - CurrentBalance >= 0
type TradeMemory struct {
	LastTrade        *time.Time      `json:"lastTrade,omitempty"`
	TotalTrades      int64           `json:"totalTrades"`
	SuccessfulTrades int64           `json:"successfulTrades"`
	FailedTrades     int64           `json:"failedTrades"`
	CurrentBalance   decimal.Decimal `json:"currentBalance"`
	Errors           []TradeError    `json:"errors"`
}

// NewTradeMemory 返回默认记录：计数为零，余额为起始余额
func NewTradeMemory(startingBalance decimal.Decimal) TradeMemory {
	if startingBalance.IsNegative() {
		startingBalance = decimal.Zero
	}
	return TradeMemory{
		CurrentBalance: startingBalance,
		Errors:         []TradeError{},
	}
}

// Clone 深拷贝（Errors 切片与 LastTrade 指针不共享）
func (m TradeMemory) Clone() TradeMemory {
	out := m
	if m.LastTrade != nil {
		t := *m.LastTrade
		out.LastTrade = &t
	}
	out.Errors = make([]TradeError, len(m.Errors))
	copy(out.Errors, m.Errors)
	return out
}

// RecordSuccess 记录一次成功尝试
func (m *TradeMemory) RecordSuccess(at time.Time) {
	m.TotalTrades++
	m.SuccessfulTrades++
	m.LastTrade = &at
}

// RecordFailure 记录一次失败尝试，并把 message 追加到错误环形缓冲区
func (m *TradeMemory) RecordFailure(at time.Time, message string) {
	m.TotalTrades++
	m.FailedTrades++
	m.LastTrade = &at
	m.Errors = append(m.Errors, TradeError{Timestamp: at, Message: message})
	if n := len(m.Errors); n > MaxErrorLog {
		trimmed := make([]TradeError, MaxErrorLog)
		copy(trimmed, m.Errors[n-MaxErrorLog:])
		m.Errors = trimmed
	}
}

// SetBalance 更新余额，负数按 0 处理
func (m *TradeMemory) SetBalance(balance decimal.Decimal) {
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	m.CurrentBalance = balance
}

// Normalize 修复从磁盘读回的记录，使其满足不变量
func (m *TradeMemory) Normalize() {
	if m.TotalTrades < 0 {
		m.TotalTrades = 0
	}
	if m.SuccessfulTrades < 0 {
		m.SuccessfulTrades = 0
	}
	if m.FailedTrades < 0 {
		m.FailedTrades = 0
	}
	m.TotalTrades = m.SuccessfulTrades + m.FailedTrades
	if m.CurrentBalance.IsNegative() {
		m.CurrentBalance = decimal.Zero
	}
	if m.Errors == nil {
		m.Errors = []TradeError{}
	}
	if n := len(m.Errors); n > MaxErrorLog {
		m.Errors = append([]TradeError(nil), m.Errors[n-MaxErrorLog:]...)
	}
}
