package domain

import (
	"github.com/shopspring/decimal"
)

// Position 界面上展示的持仓（只读抓取结果）
type Position struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
	Value  decimal.Decimal `json:"value"`
}

// AccountInfo 账户信息：余额 + 持仓
type AccountInfo struct {
	Balance   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"available"`
	Positions []Position      `json:"positions"`
}
