package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/venuepilot/internal/domain"
)

var log = logrus.WithField("component", "events")

// Kind 事件类型
type Kind string

const (
	KindStateChanged Kind = "state_changed"
	KindTradeResult  Kind = "trade_result"
	KindTickSkipped  Kind = "tick_skipped"
	KindHalted       Kind = "halted"
	KindLimits       Kind = "limits_updated"
)

// Event 会话事件（推送给 websocket 订阅方）
type Event struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	State     domain.State    `json:"state,omitempty"`
	From      domain.State    `json:"from,omitempty"`
	Trade     *domain.Trade   `json:"trade,omitempty"`
	Success   bool            `json:"success,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	Error     string          `json:"error,omitempty"`
}

// StateChanged 状态迁移事件
func StateChanged(from, to domain.State, balance decimal.Decimal) Event {
	return newEvent(KindStateChanged, func(e *Event) {
		e.From, e.State, e.Balance = from, to, balance
	})
}

// TradeResult 交易结果事件
func TradeResult(trade domain.Trade, success bool, balance decimal.Decimal, err error) Event {
	return newEvent(KindTradeResult, func(e *Event) {
		e.Trade = &trade
		e.Success = success
		e.Balance = balance
		if err != nil {
			e.Error = err.Error()
		}
	})
}

// Halted 止损/达标停止事件
func Halted(state domain.State, balance decimal.Decimal) Event {
	return newEvent(KindHalted, func(e *Event) {
		e.State, e.Balance = state, balance
	})
}

// New 其它事件
func New(kind Kind, state domain.State, balance decimal.Decimal) Event {
	return newEvent(kind, func(e *Event) {
		e.State, e.Balance = state, balance
	})
}

func newEvent(kind Kind, fill func(*Event)) Event {
	e := Event{ID: uuid.NewString(), Kind: kind, Timestamp: time.Now()}
	fill(&e)
	return e
}

// Hub 进程内事件分发。订阅方拿到带缓冲的 channel，消费过慢时丢弃事件，不阻塞交易循环。
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	buffer  int
	dropped int64
}

// NewHub 创建事件中心
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe 订阅；返回的 cancel 会关闭 channel
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish 非阻塞广播
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped++
			log.Debugf("[events] 订阅方 %d 消费过慢，丢弃事件 %s", id, e.Kind)
		}
	}
}

// Count 当前订阅数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped 累计丢弃的事件数
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
