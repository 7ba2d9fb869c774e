package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/venuepilot/internal/domain"
)

func fakeController(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"state":"TRADING_ACTIVE","balance":"151.5","targetAmount":"1000","tradeCount":1,"isActive":true}`))
	})
	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"totalTrades":4,"successfulTrades":3,"failedTrades":1,"winRate":0.75,"netProfit":"1.5","recentErrors":[]}`))
	})
	mux.HandleFunc("/api/prices", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"BTC-USD":"43000"}`))
	})
	mux.HandleFunc("/api/session/stop", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"invalid state transition"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientFetch(t *testing.T) {
	srv := fakeController(t)
	c := newAPIClient(srv.URL, time.Second)

	snap, err := c.fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StateTradingActive, snap.Session.State)
	assert.True(t, snap.Session.Balance.Equal(decimal.RequireFromString("151.5")))
	assert.Equal(t, int64(4), snap.Metrics.TotalTrades)
	assert.InDelta(t, 0.75, snap.Metrics.WinRate, 1e-9)
	assert.True(t, snap.Prices["BTC-USD"].Equal(decimal.NewFromInt(43000)))
}

func TestClientControlError(t *testing.T) {
	srv := fakeController(t)
	c := newAPIClient(srv.URL, time.Second)

	_, err := c.control(context.Background(), "stop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid state transition")
}

func TestModelUpdate(t *testing.T) {
	m := initialModel(newAPIClient("http://127.0.0.1:0", time.Second), time.Second)
	assert.Contains(t, m.View(), "正在连接")

	next, cmd := m.Update(snapshotMsg(snapshot{
		Session: domain.SessionSummary{State: domain.StateTradingActive, Balance: decimal.NewFromInt(150)},
		Prices:  map[string]decimal.Decimal{"BTC-USD": decimal.NewFromInt(43000)},
		At:      time.Now(),
	}))
	require.NotNil(t, cmd)
	m = next.(model)
	view := m.View()
	assert.Contains(t, view, string(domain.StateTradingActive))
	assert.Contains(t, view, "150.00")
	assert.Contains(t, view, "BTC-USD")

	t.Run("控制请求进行中时忽略重复按键", func(t *testing.T) {
		next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
		require.NotNil(t, cmd)
		pending := next.(model)
		assert.True(t, pending.pending)

		_, cmd = pending.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
		assert.Nil(t, cmd)
	})

	t.Run("控制失败显示提示", func(t *testing.T) {
		next, _ := m.Update(controlMsg{action: "stop", err: errors.New("409")})
		assert.Contains(t, next.(model).View(), "stop 失败")
	})

	t.Run("连接异常保留上次数据", func(t *testing.T) {
		next, _ := m.Update(errors.New("connection refused"))
		view := next.(model).View()
		assert.Contains(t, view, "连接异常")
		assert.Contains(t, view, "150.00")
	})
}
