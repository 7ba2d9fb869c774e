package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/venuepilot/internal/domain"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultNeedsVenue(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VENUE_BASE_URL")

	cfg.Venue.BaseURL = "https://venue.test"
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Trading.StartingBalance.Equal(decimal.NewFromInt(150)))
	assert.True(t, cfg.Trading.RiskFraction.Equal(decimal.RequireFromString("0.02")))
	assert.Equal(t, 3, cfg.Trading.MaxAttempts)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "trader.yaml", `
venue:
  base_url: https://venue.test
  selectors:
    trade.buy: ["#buy-now"]
browser:
  headless: false
  action_timeout: 8
trading:
  pair: ETH-USD
  side: sell
  order_type: limit
  safety_floor: 120
  target_amount: 900
memory:
  backend: badger
  path: /tmp/mem
`)
	t.Setenv("TRADING_PAIR", "SOL-USD")
	t.Setenv("RISK_FRACTION", "0.05")

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "https://venue.test", cfg.Venue.BaseURL)
	assert.Equal(t, []string{"#buy-now"}, cfg.Venue.SelectorsFor("trade.buy"))
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 8*time.Second, cfg.Browser.ActionTimeout)
	assert.Equal(t, "SOL-USD", cfg.Trading.Pair)
	assert.Equal(t, domain.SideSell, cfg.Trading.Side)
	assert.Equal(t, domain.OrderTypeLimit, cfg.Trading.OrderType)
	assert.True(t, cfg.Trading.SafetyFloor.Equal(decimal.NewFromInt(120)))
	assert.True(t, cfg.Trading.TargetAmount.Equal(decimal.NewFromInt(900)))
	assert.True(t, cfg.Trading.RiskFraction.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, "badger", cfg.Memory.Backend)
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "trader.json", `{"venue":{"base_url":"https://venue.test"},"market":{"instruments":[{"symbol":"bitcoin","pair":"BTC-USD","fallback":40000}]}}`)
	cfg, err := Load(p)
	require.NoError(t, err)
	require.Len(t, cfg.Market.Instruments, 1)
	assert.True(t, cfg.Market.Instruments[0].Fallback.Equal(decimal.NewFromInt(40000)))
}

func TestLoadRejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		file string
		body string
	}{
		{"未知扩展名", "trader.toml", "x = 1"},
		{"超时超过上限", "a.yaml", "venue: {base_url: https://v}\nbrowser: {action_timeout: 60}\n"},
		{"超时低于下限", "b.yaml", "venue: {base_url: https://v}\ntrading: {confirm_timeout: 1}\n"},
		{"目标不大于止损线", "c.yaml", "venue: {base_url: https://v}\ntrading: {safety_floor: 500, target_amount: 400}\n"},
		{"非法方向", "d.yaml", "venue: {base_url: https://v}\ntrading: {side: hold}\n"},
		{"非法存储", "e.yaml", "venue: {base_url: https://v}\nmemory: {backend: redis}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, dir, tt.file, tt.body)
			_, err := Load(p)
			assert.Error(t, err)
		})
	}
}

func TestDecimalEnvError(t *testing.T) {
	t.Setenv("VENUE_BASE_URL", "https://venue.test")
	t.Setenv("SAFETY_FLOOR", "abc")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY_FLOOR")
}

func TestWatchReload(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "trader.yaml", "venue: {base_url: https://v}\ntrading: {risk_fraction: 0.02}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, p, func(c *Config) { got <- c }))

	require.NoError(t, os.WriteFile(p, []byte("venue: {base_url: https://v}\ntrading: {risk_fraction: 0.03}\n"), 0o644))

	select {
	case c := <-got:
		assert.True(t, c.Trading.RiskFraction.Equal(decimal.RequireFromString("0.03")))
	case <-time.After(5 * time.Second):
		t.Fatal("未收到配置变更回调")
	}
}
