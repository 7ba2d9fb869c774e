package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/venuepilot/internal/controller"
	"github.com/betbot/venuepilot/internal/domain"
	"github.com/betbot/venuepilot/internal/driver"
	"github.com/betbot/venuepilot/internal/events"
	"github.com/betbot/venuepilot/internal/executor"
	"github.com/betbot/venuepilot/internal/health"
	"github.com/betbot/venuepilot/internal/journal"
	"github.com/betbot/venuepilot/internal/memory"
	"github.com/betbot/venuepilot/internal/risk"
	"github.com/betbot/venuepilot/pkg/persistence"
)

type staticPrices map[string]decimal.Decimal

func (s staticPrices) GetPairPrices(ctx context.Context) map[string]decimal.Decimal { return s }

type testEnv struct {
	handler http.Handler
	ctrl    *controller.Controller
	drv     *driver.MockDriver
	hub     *events.Hub
	jrnl    *journal.Journal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	drv := driver.NewMockDriver(decimal.NewFromInt(150))
	mem := memory.Open(persistence.NewJSONFileStore(filepath.Join(t.TempDir(), "trade_memory.json")), decimal.NewFromInt(150))
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	limits, err := risk.NewLimits(risk.DefaultParams())
	require.NoError(t, err)
	tracker := health.NewTracker(health.ComponentDriver, health.ComponentJournal)
	exec := executor.New(drv, mem, executor.Config{MaxAttempts: 3, ConfirmTimeout: 50 * time.Millisecond, Backoff: time.Millisecond},
		executor.WithJournal(j), executor.WithHealth(tracker))
	hub := events.NewHub(64)

	ctrl, err := controller.New(controller.Config{Pair: "BTC-USD", TickInterval: time.Hour, DriverWait: time.Second}, controller.Deps{
		Driver:   drv,
		Memory:   mem,
		Executor: exec,
		Limits:   limits,
		Prices:   staticPrices{"BTC-USD": decimal.NewFromInt(43000)},
		Events:   hub,
		Health:   tracker,
		Credentials: func() (domain.Credentials, error) {
			return domain.Credentials{Email: "bot@venue.test", Password: "secret"}, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if ctrl.State().Active() {
			_ = ctrl.Stop(context.Background())
		}
	})

	srv := New(Config{RequestTimeout: 5 * time.Second}, ctrl, j, tracker, hub)
	return &testEnv{handler: srv.Router(), ctrl: ctrl, drv: drv, hub: hub, jrnl: j}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	code, body := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(domain.StateUninitialized), body["state"])
	assert.Equal(t, "healthy", body["status"])
	assert.Len(t, body["components"], 2)
}

func TestHealthzReportsJournalOutage(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.jrnl.Close())

	code, body := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])
	var journalStatus any
	for _, c := range body["components"].([]any) {
		comp := c.(map[string]any)
		if comp["name"] == health.ComponentJournal {
			journalStatus = comp["status"]
		}
	}
	assert.Equal(t, "degraded", journalStatus)
}

func TestTradeAttemptsByID(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.do(t, http.MethodPost, "/api/login", `{"email":"bot@venue.test","password":"secret"}`)
	require.Equal(t, http.StatusOK, code)

	var ids []string
	for i := 0; i < 2; i++ {
		code, body := env.do(t, http.MethodPost, "/api/trades", `{"pair":"BTC-USD","side":"buy","amount":"1"}`)
		require.Equal(t, http.StatusOK, code)
		ids = append(ids, body["tradeId"].(string))
	}
	require.NotEqual(t, ids[0], ids[1])

	code, body := env.do(t, http.MethodGet, "/api/trades?tradeId="+ids[1], "")
	require.Equal(t, http.StatusOK, code)
	attempts := body["attempts"].([]any)
	require.Len(t, attempts, 1)
	assert.Equal(t, ids[1], attempts[0].(map[string]any)["tradeId"])

	code, body = env.do(t, http.MethodGet, "/api/trades?tradeId=unknown", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["attempts"])
}

func TestLoginAndManualTrade(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPost, "/api/login", `{`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPost, "/api/trades", `{"pair":"BTC-USD","side":"buy","amount":"3"}`)
	assert.Equal(t, http.StatusConflict, code, "未登录")

	code, body := env.do(t, http.MethodPost, "/api/login", `{"email":"bot@venue.test","password":"secret"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	tests := []struct {
		name string
		body string
		code int
	}{
		{"方向错误", `{"pair":"BTC-USD","side":"hold","amount":"3"}`, http.StatusBadRequest},
		{"金额为零", `{"pair":"BTC-USD","side":"buy","amount":"0"}`, http.StatusBadRequest},
		{"限价单缺价格", `{"pair":"BTC-USD","side":"buy","amount":"1","orderType":"limit"}`, http.StatusBadRequest},
		{"市价买入", `{"pair":"BTC-USD","side":"buy","amount":"3"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := env.do(t, http.MethodPost, "/api/trades", tt.body)
			assert.Equal(t, tt.code, code)
		})
	}
	require.Len(t, env.drv.SubmittedTrades(), 1)

	code, body = env.do(t, http.MethodGet, "/api/trades?limit=5", "")
	require.Equal(t, http.StatusOK, code)
	attempts, ok := body["attempts"].([]any)
	require.True(t, ok)
	require.Len(t, attempts, 1)
	assert.Equal(t, "success", attempts[0].(map[string]any)["outcome"])

	code, body = env.do(t, http.MethodGet, "/api/account", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "150", body["balance"])
	assert.Len(t, body["positions"], 1)

	code, body = env.do(t, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["totalTrades"])
	assert.Equal(t, float64(1), body["winRate"])
}

func TestLoginRejected(t *testing.T) {
	env := newTestEnv(t)
	env.drv.AuthResult = false
	code, body := env.do(t, http.MethodPost, "/api/login", `{"email":"bot@venue.test","password":"bad"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/api/session/start", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(domain.StateTradingActive), body["state"])
	assert.Equal(t, true, body["isActive"])

	code, body = env.do(t, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1000", body["targetAmount"])

	code, body = env.do(t, http.MethodPost, "/api/session/stop", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(domain.StateManuallyStopped), body["state"])

	code, _ = env.do(t, http.MethodPost, "/api/session/stop", "")
	assert.Equal(t, http.StatusConflict, code)

	code, body = env.do(t, http.MethodPost, "/api/session/reset", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(domain.StateUninitialized), body["state"])
}

func TestSessionStartInitFailure(t *testing.T) {
	env := newTestEnv(t)
	env.drv.SetErrorOnNext("Initialize", assert.AnError)
	code, body := env.do(t, http.MethodPost, "/api/session/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.NotEmpty(t, body["error"])
}

func TestPrices(t *testing.T) {
	env := newTestEnv(t)
	code, body := env.do(t, http.MethodGet, "/api/prices", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "43000", body["BTC-USD"])
}

func TestEventsWebsocket(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap map[string]any
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "snapshot", snap["kind"])

	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, env.ctrl.Start(context.Background()))

	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.KindStateChanged, ev.Kind)
	assert.Equal(t, domain.StateBrowserReady, ev.State)
	assert.Equal(t, domain.StateUninitialized, ev.From)
}
