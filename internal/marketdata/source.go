package marketdata

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/betbot/venuepilot/internal/domain"
)

// Source 主行情源
type Source interface {
	Name() string
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// SimplePriceSource CoinGecko 风格的 /simple/price 接口：
// GET {base}/simple/price?ids=bitcoin&vs_currencies=usd -> {"bitcoin":{"usd":43000.12}}
type SimplePriceSource struct {
	client   *resty.Client
	limiter  *rate.Limiter
	currency string
}

// SourceConfig 行情源配置
type SourceConfig struct {
	BaseURL            string
	Timeout            time.Duration
	RateLimitPerMinute int
	Currency           string
}

// NewSimplePriceSource 创建行情源
func NewSimplePriceSource(cfg SourceConfig) *SimplePriceSource {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	limit := rate.Inf
	if cfg.RateLimitPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RateLimitPerMinute) / 60)
	}

	// 不重试：失败直接走兜底价
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "venuepilot/1.0")

	return &SimplePriceSource{
		client:   client,
		limiter:  rate.NewLimiter(limit, 2),
		currency: strings.ToLower(cfg.Currency),
	}
}

// Name 源名称
func (s *SimplePriceSource) Name() string { return "simple_price" }

// FetchPrice 查询单个品种
func (s *SimplePriceSource) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return decimal.Zero, errors.Wrap(domain.ErrMarketDataUnavailable, "rate limiter: "+err.Error())
	}

	var out map[string]map[string]decimal.Decimal
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("ids", symbol).
		SetQueryParam("vs_currencies", s.currency).
		SetResult(&out).
		Get("/simple/price")
	if err != nil {
		return decimal.Zero, errors.Wrapf(domain.ErrMarketDataUnavailable, "request %s: %v", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, errors.Wrapf(domain.ErrMarketDataUnavailable, "status %d for %s", resp.StatusCode(), symbol)
	}
	price, ok := out[symbol][s.currency]
	if !ok || !price.IsPositive() {
		return decimal.Zero, errors.Wrapf(domain.ErrMarketDataUnavailable, "no %s price for %s", s.currency, symbol)
	}
	return price, nil
}
