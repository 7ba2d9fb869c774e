package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/betbot/venuepilot/internal/domain"
	"github.com/betbot/venuepilot/internal/health"
)

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":    "ok",
		"state":     s.trader.State(),
		"uptimeSec": int64(time.Since(s.started).Seconds()),
	}
	if s.journal != nil {
		pctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		err := s.journal.Ping(pctx)
		cancel()
		if s.health != nil {
			s.health.Observe(health.ComponentJournal, err)
		} else if err != nil {
			resp["status"] = health.StatusDegraded
		}
	}
	if s.health != nil {
		report := s.health.Report()
		resp["status"] = report.Status
		resp["components"] = report.Components
	}
	c.JSON(http.StatusOK, resp)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(c, http.StatusBadRequest, "email and password are required")
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	ok, err := s.trader.Login(ctx, req.Email, req.Password)
	if err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": ok})
}

type tradeRequest struct {
	Pair      string           `json:"pair"`
	Side      string           `json:"side"`
	Amount    decimal.Decimal  `json:"amount"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	OrderType string           `json:"orderType"`
}

func (r tradeRequest) toTrade() (domain.Trade, string) {
	side, ok := domain.ParseSide(r.Side)
	if !ok {
		return domain.Trade{}, "side must be buy or sell"
	}
	orderType := domain.OrderTypeMarket
	if r.OrderType != "" {
		if orderType, ok = domain.ParseOrderType(r.OrderType); !ok {
			return domain.Trade{}, "orderType must be market or limit"
		}
	}
	trade := domain.NewTrade(strings.TrimSpace(r.Pair), side, r.Amount, orderType)
	trade.Price = r.Price
	if err := trade.Validate(); err != nil {
		return domain.Trade{}, err.Error()
	}
	return trade, ""
}

func (s *Server) handleTradeCreate(c *gin.Context) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	trade, msg := req.toTrade()
	if msg != "" {
		writeError(c, http.StatusBadRequest, msg)
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	ok, err := s.trader.ExecuteTrade(ctx, trade)
	if err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": ok, "tradeId": trade.ID})
}

func (s *Server) handleTradesList(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusOK, gin.H{"attempts": []any{}})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if id := strings.TrimSpace(c.Query("tradeId")); id != "" {
		rows, err := s.journal.ByTrade(ctx, id)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "journal: "+err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"attempts": rows})
		return
	}

	limit := 50
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	rows, err := s.journal.Recent(ctx, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "journal: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": rows})
}

func (s *Server) handleAccount(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	info, err := s.trader.GetAccountInfo(ctx)
	if err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}
	if info.Positions == nil {
		info.Positions = []domain.Position{}
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handlePrices(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	c.JSON(http.StatusOK, s.trader.GetCurrentPrices(ctx))
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.trader.Metrics())
}

func (s *Server) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.trader.Summary())
}

func (s *Server) handleSessionStart(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	summary, err := s.trader.StartAutoTrading(ctx)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "session": summary})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleSessionStop(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := s.trader.Stop(ctx); err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, s.trader.Summary())
}

func (s *Server) handleSessionReset(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := s.trader.Reset(ctx); err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, s.trader.Summary())
}
