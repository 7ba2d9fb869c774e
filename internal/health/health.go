package health

import (
	"sort"
	"sync"
	"time"
)

// Status 组件健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// 连续失败达到该次数判为 unhealthy
const unhealthyAfter = 3

// 组件名
const (
	ComponentDriver     = "driver"
	ComponentMarketData = "market_data"
	ComponentMemory     = "memory"
	ComponentJournal    = "journal"
)

// ComponentHealth 单个组件健康信息
type ComponentHealth struct {
	Name              string    `json:"name"`
	Status            Status    `json:"status"`
	LastCheck         time.Time `json:"lastCheck"`
	ErrorCount        int64     `json:"errorCount"`
	ConsecutiveErrors int       `json:"consecutiveErrors"`
	LastError         string    `json:"lastError,omitempty"`
}

// Report 汇总
type Report struct {
	Status     Status            `json:"status"`
	Components []ComponentHealth `json:"components"`
}

// Tracker 组件健康跟踪（并发安全）
type Tracker struct {
	mu    sync.RWMutex
	items map[string]*ComponentHealth
	now   func() time.Time
}

// NewTracker 创建跟踪器，names 为预先登记的组件
func NewTracker(names ...string) *Tracker {
	t := &Tracker{items: make(map[string]*ComponentHealth), now: time.Now}
	for _, n := range names {
		t.items[n] = &ComponentHealth{Name: n, Status: StatusHealthy}
	}
	return t
}

func (t *Tracker) get(name string) *ComponentHealth {
	c, ok := t.items[name]
	if !ok {
		c = &ComponentHealth{Name: name, Status: StatusHealthy}
		t.items[name] = c
	}
	return c
}

// OK 记录一次成功
func (t *Tracker) OK(name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.get(name)
	c.LastCheck = t.now()
	c.ConsecutiveErrors = 0
	c.Status = StatusHealthy
}

// Fail 记录一次失败
func (t *Tracker) Fail(name string, err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.get(name)
	c.LastCheck = t.now()
	c.ErrorCount++
	c.ConsecutiveErrors++
	if err != nil {
		c.LastError = err.Error()
	}
	if c.ConsecutiveErrors >= unhealthyAfter {
		c.Status = StatusUnhealthy
	} else {
		c.Status = StatusDegraded
	}
}

// Observe 按 err 是否为空记录
func (t *Tracker) Observe(name string, err error) {
	if err != nil {
		t.Fail(name, err)
		return
	}
	t.OK(name)
}

// Component 单个组件快照
func (t *Tracker) Component(name string) (ComponentHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.items[name]
	if !ok {
		return ComponentHealth{}, false
	}
	return *c, true
}

// Report 汇总：任一 unhealthy 则 unhealthy，任一 degraded 则 degraded
func (t *Tracker) Report() Report {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r := Report{Status: StatusHealthy}
	for _, c := range t.items {
		r.Components = append(r.Components, *c)
		switch c.Status {
		case StatusUnhealthy:
			r.Status = StatusUnhealthy
		case StatusDegraded:
			if r.Status == StatusHealthy {
				r.Status = StatusDegraded
			}
		}
	}
	sort.Slice(r.Components, func(i, j int) bool { return r.Components[i].Name < r.Components[j].Name })
	return r
}
