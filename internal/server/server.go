// Package server 控制器的 HTTP 边界：薄 gin 路由 + websocket 事件流。
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/venuepilot/internal/domain"
	"github.com/betbot/venuepilot/internal/events"
	"github.com/betbot/venuepilot/internal/health"
	"github.com/betbot/venuepilot/internal/journal"
	"github.com/betbot/venuepilot/internal/stats"
)

var log = logrus.WithField("component", "server")

// Trader 路由依赖的控制器操作
type Trader interface {
	State() domain.State
	Login(ctx context.Context, email, password string) (bool, error)
	ExecuteTrade(ctx context.Context, trade domain.Trade) (bool, error)
	GetAccountInfo(ctx context.Context) (domain.AccountInfo, error)
	GetCurrentPrices(ctx context.Context) map[string]decimal.Decimal
	StartAutoTrading(ctx context.Context) (domain.SessionSummary, error)
	Stop(ctx context.Context) error
	Reset(ctx context.Context) error
	Summary() domain.SessionSummary
	Metrics() stats.TradingMetrics
}

// AttemptLister 交易尝试流水
type AttemptLister interface {
	Recent(ctx context.Context, limit int) ([]journal.Attempt, error)
	ByTrade(ctx context.Context, tradeID string) ([]journal.Attempt, error)
	Ping(ctx context.Context) error
}

// Config 路由参数
type Config struct {
	// RequestTimeout 单个请求（下单、登录）的上限
	RequestTimeout time.Duration
}

// Server HTTP 边界
type Server struct {
	cfg     Config
	trader  Trader
	journal AttemptLister
	health  *health.Tracker
	hub     *events.Hub
	started time.Time
}

// New 创建
func New(cfg Config, trader Trader, j AttemptLister, tracker *health.Tracker, hub *events.Hub) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	return &Server{cfg: cfg, trader: trader, journal: j, health: tracker, hub: hub, started: time.Now()}
}

// Router 路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	api.POST("/login", s.handleLogin)
	api.POST("/trades", s.handleTradeCreate)
	api.GET("/trades", s.handleTradesList)
	api.GET("/account", s.handleAccount)
	api.GET("/prices", s.handlePrices)
	api.GET("/metrics", s.handleMetrics)
	api.GET("/events", s.handleEvents)

	session := api.Group("/session")
	session.GET("", s.handleSession)
	session.POST("/start", s.handleSessionStart)
	session.POST("/stop", s.handleSessionStop)
	session.POST("/reset", s.handleSessionReset)

	return r
}

// ListenAndServe 阻塞运行，ctx 结束时优雅关闭
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	log.Infof("[server] 监听 %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeError(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}

// statusFor 错误 -> HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrDriverBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMissingCredentials), errors.Is(err, domain.ErrActionFailed):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInitialization), errors.Is(err, domain.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
