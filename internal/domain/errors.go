package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInitialization 自动化上下文无法启动（致命，本层不重试）
	ErrInitialization = errors.New("driver initialization failed")
	// ErrAuthenticationFailed 登录失败（上报，不自动重试，避免账户被锁）
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrMissingCredentials 未配置凭证，authenticate 的前置条件
	ErrMissingCredentials = errors.New("missing venue credentials")
	// ErrNotInitialized 驱动尚未初始化
	ErrNotInitialized = errors.New("driver not initialized")

	// ErrActionTimeout 成功信号在限定时间内没有出现
	ErrActionTimeout = errors.New("action timed out")
	// ErrActionFailed 界面动作本身失败
	ErrActionFailed = errors.New("action failed")
	// ErrAborted 死循环保护触发
	ErrAborted = errors.New("action aborted after max attempts")

	// ErrMarketDataUnavailable 行情源不可用；只在内部使用，对外用兜底价替代
	ErrMarketDataUnavailable = errors.New("market data unavailable")

	// ErrInvalidTransition 状态机不允许的迁移
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrTickSkipped 上一次 tick 仍在执行，本次跳过（不排队）
	ErrTickSkipped = errors.New("tick skipped: previous tick still running")
	// ErrDriverBusy 驱动被占用
	ErrDriverBusy = errors.New("driver busy")
)

// AbortError 死循环保护：连续 Attempts 次失败后终止该动作
type AbortError struct {
	Action   string
	Attempts int
	Last     error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%s: aborted after %d attempts: %v", e.Action, e.Attempts, e.Last)
}

// Unwrap 同时暴露 ErrAborted 与最后一次失败原因
func (e *AbortError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrAborted}
	}
	return []error{ErrAborted, e.Last}
}
