package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/venuepilot/internal/domain"
	"github.com/betbot/venuepilot/internal/driver"
	"github.com/betbot/venuepilot/internal/health"
	"github.com/betbot/venuepilot/internal/journal"
	"github.com/betbot/venuepilot/internal/memory"
	"github.com/betbot/venuepilot/internal/metrics"
)

var log = logrus.WithField("component", "executor")

// DefaultMaxAttempts 死循环保护默认上限
const DefaultMaxAttempts = 3

// Action 一次界面动作
type Action func(ctx context.Context) error

// Indicator 等待成功信号；超时应返回 domain.ErrActionTimeout
type Indicator func(ctx context.Context) error

// AttemptJournal 尝试流水（可选）
type AttemptJournal interface {
	Append(ctx context.Context, a journal.Attempt) (journal.Attempt, error)
}

// Config 执行器参数
type Config struct {
	MaxAttempts    int
	ConfirmTimeout time.Duration // 等待成功信号的上限
	Backoff        time.Duration // 两次尝试之间的固定退避
}

// Executor 带重试上限、诊断截图和记忆更新的动作执行器
type Executor struct {
	driver  driver.Driver
	memory  *memory.Store
	journal AttemptJournal
	health  *health.Tracker
	cfg     Config

	maxAttempts atomic.Int64
}

// Option 选项
type Option func(*Executor)

// WithJournal 写尝试流水
func WithJournal(j AttemptJournal) Option {
	return func(e *Executor) { e.journal = j }
}

// WithHealth 上报 driver 健康状态
func WithHealth(t *health.Tracker) Option {
	return func(e *Executor) { e.health = t }
}

// New 创建执行器
func New(d driver.Driver, mem *memory.Store, cfg Config, opts ...Option) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 15 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5 * time.Second
	}
	e := &Executor{driver: d, memory: mem, cfg: cfg}
	e.maxAttempts.Store(int64(cfg.MaxAttempts))
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetMaxAttempts 热更新尝试上限
func (e *Executor) SetMaxAttempts(n int) {
	if n > 0 {
		e.maxAttempts.Store(int64(n))
	}
}

// Run 执行 action 并在限定时间内等待 indicator。
// 每次失败都记入交易记忆并退避重试；连续 maxAttempts 次失败返回 *domain.AbortError。
// ctx 取消会在两次尝试之间立即生效，返回 ctx.Err()。
func (e *Executor) Run(ctx context.Context, label string, trade *domain.Trade, action Action, indicator Indicator, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = int(e.maxAttempts.Load())
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.attempt(ctx, action, indicator)
		if err == nil {
			e.record(ctx, label, trade, attempt, journal.OutcomeSuccess, nil)
			e.health.OK(health.ComponentDriver)
			if _, merr := e.memory.RecordSuccess(); merr != nil {
				log.Warnf("[executor] %s 成功但交易记忆写入失败: %v", label, merr)
			}
			metrics.ActionAttempts.WithLabelValues(label, "success").Inc()
			return nil
		}

		if ctx.Err() != nil {
			// 被停止：不计入失败
			log.Infof("[executor] %s 第 %d 次尝试被取消", label, attempt)
			e.record(ctx, label, trade, attempt, journal.OutcomeCancelled, ctx.Err())
			return ctx.Err()
		}

		lastErr = err
		e.health.Fail(health.ComponentDriver, err)
		metrics.ActionAttempts.WithLabelValues(label, "failure").Inc()
		outcome := journal.OutcomeFailure
		if attempt == maxAttempts {
			outcome = journal.OutcomeAborted
		}
		e.record(ctx, label, trade, attempt, outcome, err)
		if _, merr := e.memory.RecordFailure(fmt.Sprintf("%s attempt %d/%d: %v", label, attempt, maxAttempts, err)); merr != nil {
			log.Warnf("[executor] 交易记忆写入失败: %v", merr)
		}
		log.Warnf("[executor] %s 第 %d/%d 次尝试失败: %v", label, attempt, maxAttempts, err)

		if attempt < maxAttempts {
			if err := sleep(ctx, e.cfg.Backoff); err != nil {
				return err
			}
		}
	}

	metrics.ActionAttempts.WithLabelValues(label, "aborted").Inc()
	log.Errorf("[executor] %s 连续 %d 次失败，终止该动作", label, maxAttempts)
	return &domain.AbortError{Action: label, Attempts: maxAttempts, Last: lastErr}
}

func (e *Executor) attempt(ctx context.Context, action Action, indicator Indicator) error {
	if err := action(ctx); err != nil {
		return err
	}
	if indicator == nil {
		return nil
	}
	ictx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()
	err := indicator(ictx)
	if err != nil && errors.Is(ictx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrActionTimeout) {
		return fmt.Errorf("%w: %v", domain.ErrActionTimeout, err)
	}
	return err
}

func (e *Executor) record(ctx context.Context, label string, trade *domain.Trade, attempt int, outcome journal.Outcome, err error) {
	if e.journal == nil {
		return
	}
	a := journal.Attempt{Action: label, AttemptNo: attempt, Outcome: outcome}
	if trade != nil {
		a.TradeID = trade.ID
		a.Pair = trade.Pair
		a.Side = string(trade.Side)
		a.Amount = trade.Amount.String()
	}
	if err != nil {
		msg := err.Error()
		a.Error = &msg
	}
	// 流水写入不受取消影响
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, jerr := e.journal.Append(jctx, a); jerr != nil {
		e.health.Fail(health.ComponentJournal, jerr)
		log.Warnf("[executor] 写流水失败: %v", jerr)
		return
	}
	e.health.OK(health.ComponentJournal)
}

// ExecuteTradeWithSafety 截图 -> 提交并等待确认（带重试上限）-> 成功后再截图
func (e *Executor) ExecuteTradeWithSafety(ctx context.Context, trade domain.Trade) (bool, error) {
	if err := trade.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrActionFailed, err)
	}

	e.driver.CaptureDiagnostic(ctx, "pre-trade-"+trade.Pair)

	action := func(ctx context.Context) error {
		ok, err := e.driver.ExecuteTrade(ctx, trade)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: trade not submitted", domain.ErrActionFailed)
		}
		return nil
	}

	err := e.Run(ctx, "trade", &trade, action, e.driver.WaitOrderConfirmed, 0)
	if err != nil {
		if ctx.Err() == nil {
			e.driver.CaptureDiagnostic(ctx, "trade-failed-"+trade.Pair)
		}
		return false, err
	}
	e.driver.CaptureDiagnostic(ctx, "post-trade-"+trade.Pair)
	return true, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
