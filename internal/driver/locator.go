package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/betbot/venuepilot/internal/domain"
)

// 界面能力名
const (
	CapLoginEmail      = "login.email"
	CapLoginPassword   = "login.password"
	CapLoginSubmit     = "login.submit"
	CapTwoFactor       = "login.two_factor"
	CapTwoFactorSubmit = "login.two_factor_submit"
	CapTradeReady      = "trade.ready"
	CapBuy             = "trade.buy"
	CapSell            = "trade.sell"
	CapMarketOrder     = "trade.market"
	CapLimitOrder      = "trade.limit"
	CapAmount          = "trade.amount"
	CapPrice           = "trade.price"
	CapSubmit          = "trade.submit"
	CapConfirmed       = "trade.confirmed"
	CapBalance         = "account.balance"
	CapAvailable       = "account.available"
	CapPositionRow     = "account.position_row"
)

// ErrElementNotFound 所有候选选择器都没有命中
var ErrElementNotFound = fmt.Errorf("%w: element not found", domain.ErrActionFailed)

// defaultCandidates 各能力的默认候选选择器（按顺序尝试）
var defaultCandidates = map[string][]string{
	CapLoginEmail:      {`input[type="email"]`, `input[name="email"]`, `#email`},
	CapLoginPassword:   {`input[type="password"]`, `input[name="password"]`, `#password`},
	CapLoginSubmit:     {`button[type="submit"]`, `.login-btn`, `.submit-btn`},
	CapTwoFactor:       {`.two-factor-input`, `input[name="code"]`, `input[autocomplete="one-time-code"]`},
	CapTwoFactorSubmit: {`.two-factor-submit`, `button[type="submit"]`},
	CapTradeReady:      {`.trading-panel`, `[data-testid="trade-panel"]`, `.order-form`},
	CapBuy:             {`.buy-button`, `[data-testid="buy"]`, `button[data-side="buy"]`},
	CapSell:            {`.sell-button`, `[data-testid="sell"]`, `button[data-side="sell"]`},
	CapMarketOrder:     {`[data-testid="order-type-market"]`, `.market-order-tab`, `button[data-order-type="market"]`},
	CapLimitOrder:      {`[data-testid="order-type-limit"]`, `.limit-order-tab`, `button[data-order-type="limit"]`},
	CapAmount:          {`.amount-input`, `[data-testid="quantity-input"]`, `input[name="amount"]`, `input[placeholder*="mount"]`},
	CapPrice:           {`.price-input`, `[data-testid="price-input"]`, `input[name="price"]`},
	CapSubmit:          {`.submit-trade`, `[data-testid="submit-order"]`, `button[type="submit"]`},
	CapConfirmed:       {`.trade-confirmation`, `[data-testid="order-confirmation"]`, `.order-success`},
	CapBalance:         {`.total-balance`, `.account-balance`, `.wallet-total`},
	CapAvailable:       {`.available-balance`, `.free-balance`},
	CapPositionRow:     {`.position-row`, `[data-testid="position-row"]`, `.holding-item`},
}

// Matcher 检查某个选择器当前是否命中
type Matcher func(ctx context.Context, selector string) (bool, error)

// Locator 能力名 -> 候选选择器列表
type Locator struct {
	candidates map[string][]string
}

// NewLocator 默认候选 + 覆盖（覆盖项整体替换该能力的候选列表）
func NewLocator(overrides map[string][]string) *Locator {
	l := &Locator{candidates: make(map[string][]string, len(defaultCandidates))}
	for k, v := range defaultCandidates {
		l.candidates[k] = append([]string(nil), v...)
	}
	for k, v := range overrides {
		if len(v) > 0 {
			l.candidates[k] = append([]string(nil), v...)
		}
	}
	return l
}

// Candidates 某能力的候选列表
func (l *Locator) Candidates(name string) []string {
	return l.candidates[name]
}

// Resolve 依次尝试候选，返回第一个命中的选择器。
// match 报错的候选直接跳过；全部未命中返回 ErrElementNotFound。
func (l *Locator) Resolve(ctx context.Context, name string, match Matcher) (string, error) {
	cands := l.candidates[name]
	if len(cands) == 0 {
		return "", fmt.Errorf("%w: no candidates for %s", ErrElementNotFound, name)
	}
	var lastErr error
	for _, sel := range cands {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		ok, err := match(ctx, sel)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return sel, nil
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w: %s (last match error: %v)", ErrElementNotFound, name, lastErr)
	}
	return "", fmt.Errorf("%w: %s", ErrElementNotFound, name)
}

// Await 在 timeout 内轮询 Resolve，直到命中；超时返回 domain.ErrActionTimeout
func (l *Locator) Await(ctx context.Context, name string, match Matcher, timeout, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sel, err := l.Resolve(ctx, name, match)
		if err == nil {
			return sel, nil
		}
		if !errors.Is(err, ErrElementNotFound) && ctx.Err() == nil {
			return "", err
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w: waiting for %s", domain.ErrActionTimeout, name)
		case <-ticker.C:
		}
	}
}
