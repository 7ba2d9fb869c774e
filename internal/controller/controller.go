// Package controller 交易会话状态机。
//
// UNINITIALIZED -> BROWSER_READY -> AUTHENTICATED -> TRADING_ACTIVE -> {TARGET_REACHED, SAFETY_STOPPED, MANUALLY_STOPPED}
//
// 控制器独占唯一的 Driver：所有界面操作都先拿到 driverSem（容量 1）。
// 定时 tick 拿不到时直接跳过，不排队。
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/venuepilot/internal/domain"
	"github.com/betbot/venuepilot/internal/driver"
	"github.com/betbot/venuepilot/internal/events"
	"github.com/betbot/venuepilot/internal/executor"
	"github.com/betbot/venuepilot/internal/health"
	"github.com/betbot/venuepilot/internal/memory"
	"github.com/betbot/venuepilot/internal/metrics"
	"github.com/betbot/venuepilot/internal/risk"
	"github.com/betbot/venuepilot/internal/stats"
)

var log = logrus.WithField("component", "controller")

// AllStates 全部状态（用于指标）
var AllStates = []string{
	string(domain.StateUninitialized),
	string(domain.StateBrowserReady),
	string(domain.StateAuthenticated),
	string(domain.StateTradingActive),
	string(domain.StateTargetReached),
	string(domain.StateSafetyStopped),
	string(domain.StateManuallyStopped),
}

// CredentialsFunc 读取场所凭证（配置或密钥库）
type CredentialsFunc func() (domain.Credentials, error)

// PriceSource 行情（永不失败，失败时返回兜底价）
type PriceSource interface {
	GetPairPrices(ctx context.Context) map[string]decimal.Decimal
}

// Config 控制器参数
type Config struct {
	Pair         string
	Side         domain.Side
	OrderType    domain.OrderType
	TickInterval time.Duration
	// DriverWait 手动操作等待驱动空闲的上限
	DriverWait time.Duration
}

// Deps 依赖
type Deps struct {
	Driver      driver.Driver
	Memory      *memory.Store
	Executor    *executor.Executor
	Limits      *risk.Limits
	Stats       *stats.Engine
	Prices      PriceSource
	Events      *events.Hub
	Health      *health.Tracker
	Credentials CredentialsFunc
	Now         func() time.Time
}

// Controller 交易会话控制器
type Controller struct {
	cfg Config

	driver driver.Driver
	memory *memory.Store
	exec   *executor.Executor
	limits *risk.Limits
	stats  *stats.Engine
	prices PriceSource
	hub    *events.Hub
	health *health.Tracker
	creds  CredentialsFunc
	now    func() time.Time

	// driverSem 驱动所有权
	driverSem chan struct{}

	mu         sync.Mutex
	state      domain.State
	session    domain.TradingSession
	startedAt  *time.Time
	houseCut   decimal.Decimal
	runCtx     context.Context
	runCancel  context.CancelFunc
	loopCancel context.CancelFunc

	loopWG  sync.WaitGroup
	skipped atomic.Int64
}

// New 创建控制器
func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Driver == nil || deps.Memory == nil || deps.Executor == nil || deps.Limits == nil {
		return nil, errors.New("controller: driver, memory, executor and limits are required")
	}
	if cfg.Pair == "" {
		return nil, errors.New("controller: trading pair is required")
	}
	if cfg.Side == "" {
		cfg.Side = domain.SideBuy
	}
	if cfg.OrderType == "" {
		cfg.OrderType = domain.OrderTypeMarket
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.DriverWait <= 0 {
		cfg.DriverWait = 30 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Stats == nil {
		deps.Stats = stats.NewEngine(deps.Memory, deps.Limits, deps.Now)
	}

	c := &Controller{
		cfg:       cfg,
		driver:    deps.Driver,
		memory:    deps.Memory,
		exec:      deps.Executor,
		limits:    deps.Limits,
		stats:     deps.Stats,
		prices:    deps.Prices,
		hub:       deps.Events,
		health:    deps.Health,
		creds:     deps.Credentials,
		now:       deps.Now,
		driverSem: make(chan struct{}, 1),
		state:     domain.StateUninitialized,
		houseCut:  decimal.Zero,
	}
	c.session = c.freshSession()
	metrics.SetState(string(c.state), AllStates)
	return c, nil
}

func (c *Controller) freshSession() domain.TradingSession {
	return domain.TradingSession{
		Balance:      c.memory.Snapshot().CurrentBalance,
		TargetAmount: c.limits.Params().TargetAmount,
	}
}

// State 当前状态
func (c *Controller) State() domain.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SkippedTicks 因驱动被占用而跳过的 tick 数
func (c *Controller) SkippedTicks() int64 {
	return c.skipped.Load()
}

// transitionLocked 只在当前状态属于 from 时迁移
func (c *Controller) transitionLocked(to domain.State, from ...domain.State) error {
	cur := c.state
	for _, f := range from {
		if cur == f {
			c.state = to
			c.session.IsActive = to == domain.StateTradingActive
			metrics.SetState(string(to), AllStates)
			c.hub.Publish(events.StateChanged(cur, to, c.session.Balance))
			log.Infof("[controller] 状态 %s -> %s", cur, to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, cur, to)
}

func (c *Controller) requireState(allowed ...domain.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range allowed {
		if c.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: not allowed in %s", domain.ErrInvalidTransition, c.state)
}

// runBound 检查状态并把 ctx 绑到本次运行：Stop/Reset 取消 runCtx 时 ctx 一并取消。
// 返回的 cancel 必须调用。
func (c *Controller) runBound(ctx context.Context, allowed ...domain.State) (context.Context, context.CancelFunc, error) {
	if err := c.requireState(allowed...); err != nil {
		return nil, nil, err
	}
	c.mu.Lock()
	runCtx := c.runCtx
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	if runCtx == nil {
		return ctx, cancel, nil
	}
	stopAfter := context.AfterFunc(runCtx, cancel)
	return ctx, func() {
		stopAfter()
		cancel()
	}, nil
}

// acquire 阻塞等待驱动，最多 wait
func (c *Controller) acquire(ctx context.Context, wait time.Duration) (func(), error) {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case c.driverSem <- struct{}{}:
		return func() { <-c.driverSem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		return nil, domain.ErrDriverBusy
	}
}

// tryAcquire 不等待
func (c *Controller) tryAcquire() (func(), bool) {
	select {
	case c.driverSem <- struct{}{}:
		return func() { <-c.driverSem }, true
	default:
		return nil, false
	}
}

// Start UNINITIALIZED -> BROWSER_READY。初始化失败时状态不变并返回错误。
func (c *Controller) Start(ctx context.Context) error {
	if err := c.requireState(domain.StateUninitialized); err != nil {
		return err
	}
	release, err := c.acquire(ctx, c.cfg.DriverWait)
	if err != nil {
		return err
	}
	defer release()

	if err := c.driver.Initialize(ctx); err != nil {
		c.health.Fail(health.ComponentDriver, err)
		log.Errorf("[controller] 浏览器初始化失败: %v", err)
		return err
	}
	c.health.OK(health.ComponentDriver)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(domain.StateBrowserReady, domain.StateUninitialized); err != nil {
		return err
	}
	now := c.now()
	c.startedAt = &now
	c.session = c.freshSession()
	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	c.stats.MarkStart(now)
	return nil
}

// Authenticate BROWSER_READY -> AUTHENTICATED，凭证来自配置；失败不自动重试
func (c *Controller) Authenticate(ctx context.Context) error {
	if c.creds == nil {
		return domain.ErrMissingCredentials
	}
	creds, err := c.creds()
	if err != nil {
		return err
	}
	_, err = c.authenticate(ctx, creds)
	return err
}

func (c *Controller) authenticate(ctx context.Context, creds domain.Credentials) (bool, error) {
	if err := c.requireState(domain.StateBrowserReady); err != nil {
		return false, err
	}
	if !creds.Complete() {
		return false, domain.ErrMissingCredentials
	}
	release, err := c.acquire(ctx, c.cfg.DriverWait)
	if err != nil {
		return false, err
	}
	defer release()

	ok, err := c.driver.Authenticate(ctx, creds)
	if err != nil {
		log.Errorf("[controller] 登录出错 (%s): %v", creds, err)
		return false, err
	}
	if !ok {
		log.Warnf("[controller] 登录未成功 (%s)", creds)
		return false, domain.ErrAuthenticationFailed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(domain.StateAuthenticated, domain.StateBrowserReady); err != nil {
		return false, err
	}
	return true, nil
}

// BeginTrading AUTHENTICATED -> TRADING_ACTIVE，并启动定时 tick
func (c *Controller) BeginTrading(ctx context.Context) error {
	if err := c.requireState(domain.StateAuthenticated); err != nil {
		return err
	}
	release, err := c.acquire(ctx, c.cfg.DriverWait)
	if err != nil {
		return err
	}
	defer release()

	if err := c.driver.NavigateToTradingSurface(ctx, c.cfg.Pair); err != nil {
		c.health.Fail(health.ComponentDriver, err)
		return err
	}
	// 以界面上的真实余额为准，读不到时沿用记忆中的余额
	if info, err := c.driver.ReadAccount(ctx); err == nil {
		c.syncBalance(info.Balance)
	} else {
		log.Warnf("[controller] 读取初始余额失败，沿用记录值: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(domain.StateTradingActive, domain.StateAuthenticated); err != nil {
		return err
	}
	c.startLoopLocked()
	return nil
}

// StartAutoTrading 从当前状态推进到 TRADING_ACTIVE 并返回会话摘要
func (c *Controller) StartAutoTrading(ctx context.Context) (domain.SessionSummary, error) {
	steps := []struct {
		from domain.State
		run  func(context.Context) error
	}{
		{domain.StateUninitialized, c.Start},
		{domain.StateBrowserReady, c.Authenticate},
		{domain.StateAuthenticated, c.BeginTrading},
	}
	for _, step := range steps {
		if c.State() != step.from {
			continue
		}
		if err := step.run(ctx); err != nil {
			return c.Summary(), err
		}
	}
	if st := c.State(); st != domain.StateTradingActive {
		return c.Summary(), fmt.Errorf("%w: cannot start trading from %s", domain.ErrInvalidTransition, st)
	}
	return c.Summary(), nil
}

// Login 使用给定凭证登录；必要时先启动浏览器。已登录时直接返回 true。
func (c *Controller) Login(ctx context.Context, email, password string) (bool, error) {
	switch c.State() {
	case domain.StateUninitialized:
		if err := c.Start(ctx); err != nil {
			return false, err
		}
	case domain.StateAuthenticated, domain.StateTradingActive:
		return c.checkLoggedIn(ctx)
	}
	creds := domain.Credentials{Email: email, Password: password}
	if c.creds != nil {
		if cfgCreds, err := c.creds(); err == nil && cfgCreds.Email == email {
			creds.TwoFactorCode = cfgCreds.TwoFactorCode
		}
	}
	ok, err := c.authenticate(ctx, creds)
	if errors.Is(err, domain.ErrAuthenticationFailed) {
		return false, nil
	}
	return ok, err
}

// checkLoggedIn 已认证时确认界面仍处于登录态；驱动被占用说明会话正在使用，直接返回 true
func (c *Controller) checkLoggedIn(ctx context.Context) (bool, error) {
	release, ok := c.tryAcquire()
	if !ok {
		return true, nil
	}
	defer release()
	in, err := c.driver.LoggedIn(ctx)
	c.health.Observe(health.ComponentDriver, err)
	if err != nil {
		return false, err
	}
	if !in {
		log.Warnf("[controller] 会话状态为 %s，但界面已不在登录态", c.State())
	}
	return in, nil
}

// Stop 任一活动状态 -> MANUALLY_STOPPED；正在重试的动作会被取消，随后释放驱动
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.Active() {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: stop from %s", domain.ErrInvalidTransition, st)
	}
	_ = c.transitionLocked(domain.StateManuallyStopped, domain.StateBrowserReady, domain.StateAuthenticated, domain.StateTradingActive)
	c.haltLocked()
	balance := c.session.Balance
	c.mu.Unlock()

	c.loopWG.Wait()
	c.hub.Publish(events.Halted(domain.StateManuallyStopped, balance))
	return c.teardown(ctx)
}

// Reset 终态 -> UNINITIALIZED，会话清零（交易记忆保留）
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.Terminal() {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: reset from %s", domain.ErrInvalidTransition, st)
	}
	c.mu.Unlock()

	c.loopWG.Wait()
	if err := c.teardown(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(domain.StateUninitialized, domain.StateTargetReached, domain.StateSafetyStopped, domain.StateManuallyStopped); err != nil {
		return err
	}
	c.session = c.freshSession()
	c.startedAt = nil
	c.houseCut = decimal.Zero
	c.skipped.Store(0)
	c.stats.ClearStart()
	return nil
}

func (c *Controller) teardown(ctx context.Context) error {
	release, err := c.acquire(ctx, c.cfg.DriverWait)
	if err != nil {
		return err
	}
	defer release()
	if err := c.driver.Teardown(); err != nil {
		log.Warnf("[controller] 释放浏览器失败: %v", err)
		return err
	}
	return nil
}

// haltLocked 停止定时器并取消进行中的动作
func (c *Controller) haltLocked() {
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
	if c.runCancel != nil {
		c.runCancel()
	}
	c.session.IsActive = false
}

// ExecuteTrade 手动下单，与 tick 共用驱动锁和执行器
func (c *Controller) ExecuteTrade(ctx context.Context, trade domain.Trade) (bool, error) {
	ctx, cancel, err := c.runBound(ctx, domain.StateAuthenticated, domain.StateTradingActive)
	if err != nil {
		return false, err
	}
	defer cancel()
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	release, err := c.acquire(ctx, c.cfg.DriverWait)
	if err != nil {
		return false, err
	}
	defer release()

	ok, _, err := c.trade(ctx, trade)
	if errors.Is(err, domain.ErrAborted) {
		return false, nil
	}
	return ok, err
}

// trade 执行一笔并应用观测到的余额变化。调用方必须持有驱动。
func (c *Controller) trade(ctx context.Context, trade domain.Trade) (bool, decimal.Decimal, error) {
	before := c.Summary().Balance

	ok, err := c.exec.ExecuteTradeWithSafety(ctx, trade)
	if err != nil {
		if ctx.Err() != nil {
			return false, before, ctx.Err()
		}
		// AbortError 的每次尝试已由执行器记录；其余错误没有进入执行器
		if !errors.Is(err, domain.ErrAborted) {
			if _, merr := c.memory.RecordFailure(fmt.Sprintf("trade %s: %v", trade.Pair, err)); merr != nil {
				log.Warnf("[controller] 交易记忆写入失败: %v", merr)
			}
		}
		metrics.TradesTotal.WithLabelValues(trade.Pair, string(trade.Side), "failure").Inc()
		c.hub.Publish(events.TradeResult(trade, false, before, err))
		log.Warnf("[controller] 交易失败 %s %s %s: %v", trade.Side, trade.Amount, trade.Pair, err)
		return false, before, err
	}

	after := before
	info, rerr := c.driver.ReadAccount(ctx)
	if rerr != nil {
		c.health.Fail(health.ComponentDriver, rerr)
		log.Warnf("[controller] 成交后读取余额失败，按零变化处理: %v", rerr)
	} else {
		after = info.Balance
	}
	c.syncBalance(after)

	c.mu.Lock()
	c.session.TradeCount++
	c.session.LastTradeTime = c.now()
	c.mu.Unlock()

	metrics.TradesTotal.WithLabelValues(trade.Pair, string(trade.Side), "success").Inc()
	c.hub.Publish(events.TradeResult(trade, ok, after, nil))
	log.Infof("[controller] 成交 %s %s %s，余额 %s -> %s", trade.Side, trade.Amount, trade.Pair, before, after)
	return ok, after, nil
}

func (c *Controller) syncBalance(balance decimal.Decimal) {
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	c.mu.Lock()
	c.session.Balance = balance
	c.mu.Unlock()
	metrics.SessionBalance.Set(balance.InexactFloat64())
	if _, err := c.memory.SetBalance(balance); err != nil {
		log.Warnf("[controller] 余额写入交易记忆失败: %v", err)
	}
}

// GetAccountInfo 从界面读取余额与持仓
func (c *Controller) GetAccountInfo(ctx context.Context) (domain.AccountInfo, error) {
	ctx, cancel, err := c.runBound(ctx, domain.StateAuthenticated, domain.StateTradingActive, domain.StateTargetReached, domain.StateSafetyStopped)
	if err != nil {
		return domain.AccountInfo{}, err
	}
	defer cancel()
	release, err := c.acquire(ctx, c.cfg.DriverWait)
	if err != nil {
		return domain.AccountInfo{}, err
	}
	defer release()
	info, err := c.driver.ReadAccount(ctx)
	c.health.Observe(health.ComponentDriver, err)
	return info, err
}

// GetCurrentPrices 交易对 -> 价格；行情源不可用时为兜底价
func (c *Controller) GetCurrentPrices(ctx context.Context) map[string]decimal.Decimal {
	if c.prices == nil {
		return map[string]decimal.Decimal{}
	}
	return c.prices.GetPairPrices(ctx)
}

// Metrics 会话统计
func (c *Controller) Metrics() stats.TradingMetrics {
	return c.stats.GetMetrics()
}

// Summary 会话摘要
func (c *Controller) Summary() domain.SessionSummary {
	p := c.limits.Params()
	c.mu.Lock()
	defer c.mu.Unlock()
	s := domain.SessionSummary{
		State:           c.state,
		Balance:         c.session.Balance,
		StartingBalance: p.StartingBalance,
		TargetAmount:    p.TargetAmount,
		SafetyFloor:     p.SafetyFloor,
		TradeCount:      c.session.TradeCount,
		IsActive:        c.session.IsActive,
		HouseCut:        c.houseCut,
		SkippedTicks:    c.skipped.Load(),
	}
	if !c.session.LastTradeTime.IsZero() {
		t := c.session.LastTradeTime
		s.LastTradeTime = &t
	}
	if c.startedAt != nil {
		t := *c.startedAt
		s.StartedAt = &t
	}
	return s
}

// UpdateLimits 热更新风控参数（配置文件变化时调用）
func (c *Controller) UpdateLimits(p risk.Params) error {
	if err := c.limits.Update(p); err != nil {
		return err
	}
	c.mu.Lock()
	c.session.TargetAmount = p.TargetAmount
	st, bal := c.state, c.session.Balance
	c.mu.Unlock()
	c.hub.Publish(events.New(events.KindLimits, st, bal))
	log.Infof("[controller] 风控参数已更新: floor=%s fraction=%s target=%s cut=%s",
		p.SafetyFloor, p.RiskFraction, p.TargetAmount, p.CutFraction)
	return nil
}
