package risk

import (
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Params 风控参数
type Params struct {
	StartingBalance decimal.Decimal `json:"startingBalance"`
	SafetyFloor     decimal.Decimal `json:"safetyFloor"`  // 余额 <= 止损线 永久停止
	RiskFraction    decimal.Decimal `json:"riskFraction"` // 单笔 = 余额 × 比例
	TargetAmount    decimal.Decimal `json:"targetAmount"` // 余额 >= 目标 停止
	CutFraction     decimal.Decimal `json:"cutFraction"`  // 抽成比例
}

// DefaultParams 默认参数：起始 150，止损 100，单笔 2%，目标 1000，抽成 10%
func DefaultParams() Params {
	return Params{
		StartingBalance: decimal.NewFromInt(150),
		SafetyFloor:     decimal.NewFromInt(100),
		RiskFraction:    decimal.RequireFromString("0.02"),
		TargetAmount:    decimal.NewFromInt(1000),
		CutFraction:     decimal.RequireFromString("0.10"),
	}
}

// Validate 校验参数
func (p Params) Validate() error {
	one := decimal.NewFromInt(1)
	switch {
	case p.StartingBalance.IsNegative():
		return fmt.Errorf("起始余额不能为负数")
	case p.SafetyFloor.IsNegative():
		return fmt.Errorf("止损线不能为负数")
	case !p.TargetAmount.GreaterThan(p.SafetyFloor):
		return fmt.Errorf("目标金额必须大于止损线")
	case !p.RiskFraction.IsPositive() || p.RiskFraction.GreaterThanOrEqual(one):
		return fmt.Errorf("单笔比例必须在 0 到 1 之间")
	case p.CutFraction.IsNegative() || p.CutFraction.GreaterThanOrEqual(one):
		return fmt.Errorf("抽成比例必须在 0 到 1 之间")
	}
	return nil
}

// Limits 热路径读取无锁，配置热更新整体替换
type Limits struct {
	p atomic.Pointer[Params]
}

// NewLimits 创建风控限制
func NewLimits(p Params) (*Limits, error) {
	l := &Limits{}
	if err := l.Update(p); err != nil {
		return nil, err
	}
	return l, nil
}

// Update 原子替换参数
func (l *Limits) Update(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	l.p.Store(&p)
	return nil
}

// Params 当前参数快照
func (l *Limits) Params() Params {
	return *l.p.Load()
}

// SafetyStop 余额 <= 止损线
func (l *Limits) SafetyStop(balance decimal.Decimal) bool {
	return balance.LessThanOrEqual(l.Params().SafetyFloor)
}

// TargetReached 余额 >= 目标
func (l *Limits) TargetReached(balance decimal.Decimal) bool {
	return balance.GreaterThanOrEqual(l.Params().TargetAmount)
}

// TradeSize 单笔金额 = 余额 × 比例（保留 8 位小数，余额非正时为 0）
func (l *Limits) TradeSize(balance decimal.Decimal) decimal.Decimal {
	if !balance.IsPositive() {
		return decimal.Zero
	}
	return balance.Mul(l.Params().RiskFraction).Truncate(8)
}

// HouseCut 达标抽成 = (余额 - 起始) × 抽成比例，净收益非正时为 0
func (l *Limits) HouseCut(balance decimal.Decimal) decimal.Decimal {
	p := l.Params()
	gain := balance.Sub(p.StartingBalance)
	if !gain.IsPositive() {
		return decimal.Zero
	}
	return gain.Mul(p.CutFraction)
}

// HouseCutProjection 未达目标时为 max(目标 - 当前, 0) × 抽成比例；
// 达到目标后取实际抽成 HouseCut(current)
func (l *Limits) HouseCutProjection(current decimal.Decimal) decimal.Decimal {
	p := l.Params()
	if current.GreaterThanOrEqual(p.TargetAmount) {
		return l.HouseCut(current)
	}
	return Projection(p, current)
}

// Projection 目标缺口 × 抽成比例，不小于 0
func Projection(p Params, current decimal.Decimal) decimal.Decimal {
	gap := p.TargetAmount.Sub(current)
	if gap.IsNegative() {
		return decimal.Zero
	}
	return gap.Mul(p.CutFraction)
}
