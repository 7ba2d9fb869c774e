package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/venuepilot/internal/domain"
	"github.com/betbot/venuepilot/internal/events"
	"github.com/betbot/venuepilot/internal/metrics"
)

// startLoopLocked 固定间隔触发 tick。每次 tick 在独立 goroutine 中运行，
// 上一次尚未结束时新的 tick 拿不到驱动直接跳过。
func (c *Controller) startLoopLocked() {
	loopCtx, cancel := context.WithCancel(c.runCtx)
	c.loopCancel = cancel
	interval := c.cfg.TickInterval

	c.loopWG.Add(1)
	go func() {
		defer c.loopWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				c.loopWG.Add(1)
				go func() {
					defer c.loopWG.Done()
					if err := c.Tick(loopCtx); err != nil && !errors.Is(err, domain.ErrTickSkipped) {
						log.Debugf("[controller] tick: %v", err)
					}
				}()
			}
		}
	}()
}

// Tick 一次交易循环：止损/达标检查 -> 按比例下单 -> 应用观测余额 -> 达标检查。
// 单笔失败只记录，不改变状态；驱动被占用时返回 domain.ErrTickSkipped。
func (c *Controller) Tick(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.StateTradingActive {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: tick in %s", domain.ErrInvalidTransition, st)
	}
	runCtx := c.runCtx
	c.mu.Unlock()

	release, ok := c.tryAcquire()
	if !ok {
		n := c.skipped.Add(1)
		metrics.TicksSkipped.Add(1)
		c.hub.Publish(events.New(events.KindTickSkipped, domain.StateTradingActive, c.Summary().Balance))
		log.Warnf("[controller] 上一次 tick 仍在执行，跳过本次 (累计 %d)", n)
		return domain.ErrTickSkipped
	}
	defer release()
	metrics.TicksRun.Add(1)

	// stop() 取消 runCtx 时立即中断正在进行的重试
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(runCtx, cancel)
	defer stopAfter()

	c.mu.Lock()
	if c.state != domain.StateTradingActive {
		c.mu.Unlock()
		return nil
	}
	balance := c.session.Balance
	if c.limits.SafetyStop(balance) {
		_ = c.transitionLocked(domain.StateSafetyStopped, domain.StateTradingActive)
		c.haltLocked()
		c.mu.Unlock()
		c.hub.Publish(events.Halted(domain.StateSafetyStopped, balance))
		log.Warnf("[controller] 余额 %s 触及止损线 %s，停止交易", balance, c.limits.Params().SafetyFloor)
		return nil
	}
	// 开局或上一笔之后余额已达标：不再下单
	if c.limits.TargetReached(balance) {
		cut := c.reachTargetLocked(balance)
		c.mu.Unlock()
		c.hub.Publish(events.Halted(domain.StateTargetReached, balance))
		log.Infof("[controller] 余额 %s 已达到目标，抽成 %s", balance, cut)
		return nil
	}
	c.mu.Unlock()

	size := c.limits.TradeSize(balance)
	trade := domain.NewTrade(c.cfg.Pair, c.cfg.Side, size, c.cfg.OrderType)
	_, after, err := c.trade(ctx, trade)
	if err != nil {
		// 失败已记录，下一次 tick 照常进行
		return nil
	}

	if c.limits.TargetReached(after) {
		c.mu.Lock()
		if c.state != domain.StateTradingActive {
			c.mu.Unlock()
			return nil
		}
		cut := c.reachTargetLocked(after)
		c.mu.Unlock()
		c.hub.Publish(events.Halted(domain.StateTargetReached, after))
		log.Infof("[controller] 余额 %s 达到目标，抽成 %s", after, cut)
	}
	return nil
}

// reachTargetLocked 记录抽成并进入 TARGET_REACHED，调用方持有 c.mu
func (c *Controller) reachTargetLocked(balance decimal.Decimal) decimal.Decimal {
	c.houseCut = c.limits.HouseCut(balance)
	_ = c.transitionLocked(domain.StateTargetReached, domain.StateTradingActive)
	c.haltLocked()
	return c.houseCut
}
