package main

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/venuepilot/internal/domain"
	"github.com/betbot/venuepilot/internal/stats"
)

// apiClient 交易控制器 HTTP 接口的只读/控制客户端
type apiClient struct {
	http *resty.Client
}

type apiError struct {
	Error string `json:"error"`
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	c := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &apiClient{http: c}
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	var apiErr apiError
	resp, err := c.http.R().SetContext(ctx).SetResult(out).SetError(&apiErr).Get(path)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}
	if resp.IsError() {
		return errors.Errorf("GET %s: %s %s", path, resp.Status(), apiErr.Error)
	}
	return nil
}

func (c *apiClient) post(ctx context.Context, path string, out any) error {
	var apiErr apiError
	resp, err := c.http.R().SetContext(ctx).SetResult(out).SetError(&apiErr).Post(path)
	if err != nil {
		return errors.Wrapf(err, "POST %s", path)
	}
	if resp.IsError() {
		return errors.Errorf("POST %s: %s %s", path, resp.Status(), apiErr.Error)
	}
	return nil
}

// snapshot 一次轮询的全部数据
type snapshot struct {
	Session domain.SessionSummary
	Metrics stats.TradingMetrics
	Prices  map[string]decimal.Decimal
	At      time.Time
}

func (c *apiClient) fetch(ctx context.Context) (snapshot, error) {
	var s snapshot
	if err := c.get(ctx, "/api/session", &s.Session); err != nil {
		return s, err
	}
	if err := c.get(ctx, "/api/metrics", &s.Metrics); err != nil {
		return s, err
	}
	// 行情失败不影响面板
	_ = c.get(ctx, "/api/prices", &s.Prices)
	s.At = time.Now()
	return s, nil
}

func (c *apiClient) control(ctx context.Context, action string) (domain.SessionSummary, error) {
	var out domain.SessionSummary
	err := c.post(ctx, "/api/session/"+action, &out)
	return out, err
}
