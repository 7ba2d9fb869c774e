package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/venuepilot/pkg/logger"
)

// Handler 关闭回调
type Handler func(ctx context.Context)

type entry struct {
	name    string
	handler Handler
}

// Manager 优雅关闭管理器。
// 回调按注册的逆序串行执行：先停调度再关浏览器，最后落盘与关库。
type Manager struct {
	mu      sync.Mutex
	entries []entry
	done    bool
}

// NewManager 创建关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry{name: name, handler: handler})
}

// Shutdown 执行所有关闭回调（阻塞，只生效一次）。
// ctx 应带超时；超时后剩余回调仍会被调用，由回调自行根据 ctx 尽快返回。
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return
	}
	m.done = true
	entries := m.entries
	m.mu.Unlock()

	if len(entries) == 0 {
		logger.Infof("没有注册的关闭回调")
		return
	}

	logger.Infof("开始优雅关闭，共 %d 个回调", len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if ctx.Err() != nil {
			logger.Warnf("关闭超时，仍继续执行: %s", e.name)
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("关闭回调 %s panic: %v", e.name, r)
				}
			}()
			e.handler(ctx)
		}()
		logger.Debugf("关闭回调完成: %s", e.name)
	}
	logger.Infof("所有关闭回调已完成")
}
