package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/venuepilot/internal/domain"
)

// MockDriver 可编排的驱动替身：用于测试和 -dry-run。
// ErrorOnNext[name] 让下一次该方法调用返回指定错误。
type MockDriver struct {
	mu sync.Mutex

	Calls       map[string]int
	ErrorOnNext map[string]error

	// AuthResult 登录结果（默认 true）
	AuthResult bool
	// Balance 当前余额；每次确认成交后按 Deltas 依次变化（用完后不再变化）
	Balance decimal.Decimal
	Deltas  []decimal.Decimal
	// ConfirmFailures 接下来 N 次 WaitOrderConfirmed 超时
	ConfirmFailures int
	// ConfirmAlwaysFails 确认信号永远不出现
	ConfirmAlwaysFails bool
	// ExecuteDelay ExecuteTrade 的模拟耗时（可被 ctx 取消）
	ExecuteDelay time.Duration
	// ReadAccountFails 读余额失败
	ReadAccountFails bool

	Trades      []domain.Trade
	Diagnostics []string
	Pair        string

	initialized bool
	loggedIn    bool
	pending     *domain.Trade
	positions   map[string]decimal.Decimal
	active      int
	maxActive   int
}

// NewMockDriver 创建替身
func NewMockDriver(balance decimal.Decimal) *MockDriver {
	return &MockDriver{
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
		AuthResult:  true,
		Balance:     balance,
		positions:   make(map[string]decimal.Decimal),
	}
}

var _ Driver = (*MockDriver)(nil)

func (m *MockDriver) trackCall(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

// CallCount 某方法被调用次数
func (m *MockDriver) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[name]
}

// SetErrorOnNext 并发安全地设置下一次错误
func (m *MockDriver) SetErrorOnNext(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorOnNext[name] = err
}

// SetBalance 并发安全地设置余额
func (m *MockDriver) SetBalance(b decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Balance = b
}

// SetConfirmAlwaysFails 并发安全地设置确认失败
func (m *MockDriver) SetConfirmAlwaysFails(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConfirmAlwaysFails = v
}

// ExpireSession 模拟界面掉线（会话过期被踢回登录页）
func (m *MockDriver) ExpireSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loggedIn = false
}

// MaxConcurrent 观测到的最大并发调用数
func (m *MockDriver) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

// SubmittedTrades 已提交的交易
func (m *MockDriver) SubmittedTrades() []domain.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Trade(nil), m.Trades...)
}

func (m *MockDriver) enter() func() {
	m.mu.Lock()
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}
}

// Initialize 启动
func (m *MockDriver) Initialize(ctx context.Context) error {
	if err := m.trackCall("Initialize"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInitialization, err)
	}
	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

// Authenticate 登录
func (m *MockDriver) Authenticate(ctx context.Context, creds domain.Credentials) (bool, error) {
	if err := m.trackCall("Authenticate"); err != nil {
		return false, err
	}
	if !creds.Complete() {
		return false, domain.ErrMissingCredentials
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return false, domain.ErrNotInitialized
	}
	m.loggedIn = m.AuthResult
	return m.AuthResult, nil
}

// NavigateToTradingSurface 打开交易页
func (m *MockDriver) NavigateToTradingSurface(ctx context.Context, pair string) error {
	if err := m.trackCall("NavigateToTradingSurface"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedIn {
		return fmt.Errorf("%w: not logged in", domain.ErrAuthenticationFailed)
	}
	m.Pair = pair
	return nil
}

// ExecuteTrade 提交
func (m *MockDriver) ExecuteTrade(ctx context.Context, trade domain.Trade) (bool, error) {
	defer m.enter()()
	if err := m.trackCall("ExecuteTrade"); err != nil {
		return false, err
	}
	if err := trade.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrActionFailed, err)
	}
	m.mu.Lock()
	delay := m.ExecuteDelay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Trades = append(m.Trades, trade)
	t := trade
	m.pending = &t
	return true, nil
}

// WaitOrderConfirmed 确认
func (m *MockDriver) WaitOrderConfirmed(ctx context.Context) error {
	if err := m.trackCall("WaitOrderConfirmed"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConfirmAlwaysFails || m.ConfirmFailures > 0 {
		if m.ConfirmFailures > 0 {
			m.ConfirmFailures--
		}
		return fmt.Errorf("%w: waiting for %s", domain.ErrActionTimeout, CapConfirmed)
	}
	if m.pending == nil {
		return fmt.Errorf("%w: no pending order", domain.ErrActionFailed)
	}
	if len(m.Deltas) > 0 {
		m.Balance = m.Balance.Add(m.Deltas[0])
		m.Deltas = m.Deltas[1:]
	}
	if m.Balance.IsNegative() {
		m.Balance = decimal.Zero
	}
	signed := m.pending.Amount
	if m.pending.Side == domain.SideSell {
		signed = signed.Neg()
	}
	m.positions[m.pending.Pair] = m.positions[m.pending.Pair].Add(signed)
	m.pending = nil
	return nil
}

// ReadAccount 账户
func (m *MockDriver) ReadAccount(ctx context.Context) (domain.AccountInfo, error) {
	if err := m.trackCall("ReadAccount"); err != nil {
		return domain.AccountInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadAccountFails {
		return domain.AccountInfo{}, fmt.Errorf("%w: %s", ErrElementNotFound, CapBalance)
	}
	info := domain.AccountInfo{Balance: m.Balance, Available: m.Balance}
	for sym, amt := range m.positions {
		if !amt.IsZero() {
			info.Positions = append(info.Positions, domain.Position{Symbol: sym, Amount: amt})
		}
	}
	return info, nil
}

// CaptureDiagnostic 只记录标签
func (m *MockDriver) CaptureDiagnostic(ctx context.Context, label string) string {
	_ = m.trackCall("CaptureDiagnostic")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Diagnostics = append(m.Diagnostics, label)
	return ""
}

// LoggedIn 登录状态
func (m *MockDriver) LoggedIn(ctx context.Context) (bool, error) {
	if err := m.trackCall("LoggedIn"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedIn, nil
}

// Teardown 关闭
func (m *MockDriver) Teardown() error {
	_ = m.trackCall("Teardown")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	m.loggedIn = false
	m.pending = nil
	return nil
}
