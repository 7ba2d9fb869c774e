// Package driver 负责唯一一个与交易场所界面交互的自动化会话。
//
// 控制器只通过执行器调用 Driver；同一时刻只能有一个调用方驱动它。
package driver

import (
	"context"

	"github.com/betbot/venuepilot/internal/domain"
)

// Driver 界面自动化会话
type Driver interface {
	// Initialize 启动自动化上下文；失败返回包装了 domain.ErrInitialization 的错误
	Initialize(ctx context.Context) error
	// Authenticate 登录。结果不明确（包括成功信号超时）时返回 false，而不是可重试的错误
	Authenticate(ctx context.Context, creds domain.Credentials) (bool, error)
	// NavigateToTradingSurface 打开交易对页面并等待就绪标记
	NavigateToTradingSurface(ctx context.Context, pair string) error
	// ExecuteTrade 选择方向、订单类型、填写金额并提交
	ExecuteTrade(ctx context.Context, trade domain.Trade) (bool, error)
	// WaitOrderConfirmed 等待成交确认信号，超时返回 domain.ErrActionTimeout
	WaitOrderConfirmed(ctx context.Context) error
	// ReadAccount 从界面读取余额与持仓
	ReadAccount(ctx context.Context) (domain.AccountInfo, error)
	// CaptureDiagnostic 尽力截图，返回文件路径；从不报错
	CaptureDiagnostic(ctx context.Context, label string) string
	// LoggedIn 根据当前 URL 判断是否已登录
	LoggedIn(ctx context.Context) (bool, error)
	// Teardown 释放上下文，可重复调用
	Teardown() error
}
