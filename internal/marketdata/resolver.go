package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/venuepilot/internal/domain"
	"github.com/betbot/venuepilot/internal/health"
	"github.com/betbot/venuepilot/internal/metrics"
	"github.com/betbot/venuepilot/pkg/cache"
)

var log = logrus.WithField("component", "marketdata")

// Resolver 行情解析：主源 -> 缓存 -> 静态兜底价。对外从不返回错误。
type Resolver struct {
	source      Source
	instruments []domain.Instrument
	bySymbol    map[string]domain.Instrument
	prices      *cache.InMemoryCache[string, decimal.Decimal]
	timeout     time.Duration
	health      *health.Tracker
	now         func() time.Time
}

// Option 选项
type Option func(*Resolver)

// WithHealth 上报健康状态
func WithHealth(t *health.Tracker) Option {
	return func(r *Resolver) { r.health = t }
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver 创建解析器；cacheTTL <= 0 表示不缓存
func NewResolver(source Source, instruments []domain.Instrument, cacheTTL, timeout time.Duration, opts ...Option) *Resolver {
	r := &Resolver{
		source:      source,
		instruments: append([]domain.Instrument(nil), instruments...),
		bySymbol:    make(map[string]domain.Instrument, len(instruments)),
		timeout:     timeout,
		now:         time.Now,
	}
	for _, in := range instruments {
		r.bySymbol[in.Symbol] = in
	}
	for _, opt := range opts {
		opt(r)
	}
	if cacheTTL > 0 {
		r.prices = cache.NewInMemoryCache[string, decimal.Decimal](cacheTTL, cache.WithClock(r.now))
	}
	if r.timeout <= 0 {
		r.timeout = 10 * time.Second
	}
	return r
}

// GetPrice 查询价格；主源失败时返回兜底价（未登记的品种兜底为 0），只记 warn
func (r *Resolver) GetPrice(ctx context.Context, symbol string) decimal.Decimal {
	if r.prices != nil {
		if p, ok := r.prices.Get(symbol); ok {
			return p
		}
	}

	price, err := r.fetch(ctx, symbol)
	if err == nil {
		if r.prices != nil {
			r.prices.Set(symbol, price, 0)
		}
		r.health.OK(health.ComponentMarketData)
		return price
	}

	r.health.Fail(health.ComponentMarketData, err)
	metrics.MarketFallbacks.WithLabelValues(symbol).Inc()
	fallback := r.bySymbol[symbol].Fallback
	log.Warnf("[marketdata] %s 行情获取失败，使用兜底价 %s: %v", symbol, fallback, err)
	return fallback
}

func (r *Resolver) fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if r.source == nil {
		return decimal.Zero, domain.ErrMarketDataUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.source.FetchPrice(ctx, symbol)
}

// GetSnapshot 并发解析所有品种，合并成一个带时间戳的快照（单个品种降级不影响其它品种）
func (r *Resolver) GetSnapshot(ctx context.Context) domain.MarketSnapshot {
	snap := domain.MarketSnapshot{
		Prices:    make(map[string]decimal.Decimal, len(r.instruments)),
		Timestamp: r.now(),
	}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, in := range r.instruments {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			p := r.GetPrice(ctx, symbol)
			mu.Lock()
			snap.Prices[symbol] = p
			mu.Unlock()
		}(in.Symbol)
	}
	wg.Wait()
	return snap
}

// GetPairPrices 按交易对返回价格（HTTP 边界使用）
func (r *Resolver) GetPairPrices(ctx context.Context) map[string]decimal.Decimal {
	snap := r.GetSnapshot(ctx)
	out := make(map[string]decimal.Decimal, len(r.instruments))
	for _, in := range r.instruments {
		out[in.Pair] = snap.Prices[in.Symbol]
	}
	return out
}

// Close 释放缓存的后台清理
func (r *Resolver) Close() {
	if r.prices != nil {
		r.prices.Close()
	}
}
