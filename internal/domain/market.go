package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument 跟踪的品种：Symbol 是行情源的 ID（如 bitcoin），Pair 是交易界面上的交易对（如 BTC-USD）
type Instrument struct {
	Symbol   string          `json:"symbol"`
	Pair     string          `json:"pair"`
	Fallback decimal.Decimal `json:"fallback"` // 行情源不可用时的静态兜底价
}

// MarketSnapshot 行情快照（symbol -> price），从不持久化
type MarketSnapshot struct {
	Prices    map[string]decimal.Decimal `json:"prices"`
	Timestamp time.Time                  `json:"timestamp"`
}
