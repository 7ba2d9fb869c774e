package memory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/venuepilot/internal/domain"
	"github.com/betbot/venuepilot/internal/metrics"
	"github.com/betbot/venuepilot/pkg/persistence"
)

var log = logrus.WithField("component", "memory")

// Store 交易记忆存储。
// 所有读改写都在同一把锁内完成，进程内只有一个写者，
// 保证 TotalTrades == SuccessfulTrades + FailedTrades 在并发下成立。
type Store struct {
	mu        sync.Mutex
	backend   persistence.Store
	starting  decimal.Decimal
	now       func() time.Time
	current   domain.TradeMemory
	onPersist func(error)
}

// Option 存储选项
type Option func(*Store)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPersistHook 每次落盘后回调（用于健康检查）
func WithPersistHook(fn func(error)) Option {
	return func(s *Store) { s.onPersist = fn }
}

// Open 打开存储并加载已有记录
func Open(backend persistence.Store, startingBalance decimal.Decimal, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		starting: startingBalance,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current = s.Load()
	return s
}

// Load 读取持久化记录；不存在或损坏时返回默认记录
func (s *Store) Load() domain.TradeMemory {
	var rec domain.TradeMemory
	err := s.backend.Load(&rec)
	switch {
	case err == nil:
		rec.Normalize()
		return rec
	case errors.Is(err, persistence.ErrNotExists):
		log.Infof("[memory] 未找到交易记忆，使用默认记录（余额 %s）", s.starting)
	default:
		log.Warnf("[memory] 交易记忆读取失败，使用默认记录: %v", err)
	}
	return domain.NewTradeMemory(s.starting)
}

// Save 整条替换并落盘
func (s *Store) Save(rec domain.TradeMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Normalize()
	s.current = rec.Clone()
	return s.persist()
}

// Snapshot 当前记录的副本
func (s *Store) Snapshot() domain.TradeMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// RecordSuccess 记录一次成功尝试
func (s *Store) RecordSuccess() (domain.TradeMemory, error) {
	return s.update(func(m *domain.TradeMemory) {
		m.RecordSuccess(s.now())
	})
}

// RecordFailure 记录一次失败尝试
func (s *Store) RecordFailure(message string) (domain.TradeMemory, error) {
	return s.update(func(m *domain.TradeMemory) {
		m.RecordFailure(s.now(), message)
	})
}

// SetBalance 更新余额
func (s *Store) SetBalance(balance decimal.Decimal) (domain.TradeMemory, error) {
	return s.update(func(m *domain.TradeMemory) {
		m.SetBalance(balance)
	})
}

// Reset 重置为默认记录
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = domain.NewTradeMemory(s.starting)
	return s.persist()
}

// Close 关闭后端
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}

func (s *Store) update(fn func(m *domain.TradeMemory)) (domain.TradeMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.current)
	err := s.persist()
	return s.current.Clone(), err
}

// persist 调用方持锁。落盘失败时内存记录仍然生效，下一次写入会再次尝试。
func (s *Store) persist() error {
	err := s.backend.Save(s.current)
	if s.onPersist != nil {
		s.onPersist(err)
	}
	if err != nil {
		metrics.MemoryErrors.Add(1)
		log.Warnf("[memory] 交易记忆落盘失败: %v", err)
		return fmt.Errorf("save trade memory: %w", err)
	}
	metrics.MemorySaves.Add(1)
	return nil
}
