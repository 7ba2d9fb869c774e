package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade 一次下单请求（瞬时对象，不持久化）
// 与成交回报不同：Trade 只描述“要在界面上提交什么”，是否成交由界面确认信号决定。
type Trade struct {
	ID        string           `json:"id"`
	Pair      string           `json:"pair"`
	Side      Side             `json:"side"`
	Amount    decimal.Decimal  `json:"amount"`
	Price     *decimal.Decimal `json:"price,omitempty"` // 仅限价单使用
	OrderType OrderType        `json:"orderType"`
}

// NewTrade 创建带 ID 的交易请求
func NewTrade(pair string, side Side, amount decimal.Decimal, orderType OrderType) Trade {
	return Trade{
		ID:        uuid.NewString(),
		Pair:      pair,
		Side:      side,
		Amount:    amount,
		OrderType: orderType,
	}
}

// Validate 校验请求是否可以提交到界面
func (t Trade) Validate() error {
	if strings.TrimSpace(t.Pair) == "" {
		return fmt.Errorf("trade: pair is required")
	}
	if t.Side != SideBuy && t.Side != SideSell {
		return fmt.Errorf("trade: invalid side %q", t.Side)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("trade: amount must be positive, got %s", t.Amount)
	}
	switch t.OrderType {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if t.Price == nil || !t.Price.IsPositive() {
			return fmt.Errorf("trade: limit order requires a positive price")
		}
	default:
		return fmt.Errorf("trade: invalid order type %q", t.OrderType)
	}
	return nil
}
