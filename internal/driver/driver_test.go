package driver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/venuepilot/internal/domain"
)

func staticMatcher(present ...string) Matcher {
	set := map[string]bool{}
	for _, p := range present {
		set[p] = true
	}
	return func(ctx context.Context, sel string) (bool, error) {
		return set[sel], nil
	}
}

func TestLocatorResolveOrder(t *testing.T) {
	l := NewLocator(nil)
	ctx := context.Background()

	t.Run("第一个命中的候选", func(t *testing.T) {
		sel, err := l.Resolve(ctx, CapAmount, staticMatcher(`input[name="amount"]`, `[data-testid="quantity-input"]`))
		require.NoError(t, err)
		assert.Equal(t, `[data-testid="quantity-input"]`, sel)
	})
	t.Run("全部未命中", func(t *testing.T) {
		_, err := l.Resolve(ctx, CapAmount, staticMatcher())
		assert.True(t, errors.Is(err, ErrElementNotFound))
		assert.True(t, errors.Is(err, domain.ErrActionFailed))
	})
	t.Run("未知能力", func(t *testing.T) {
		_, err := l.Resolve(ctx, "nope", staticMatcher())
		assert.True(t, errors.Is(err, ErrElementNotFound))
	})
	t.Run("match 报错跳到下一个", func(t *testing.T) {
		match := func(ctx context.Context, sel string) (bool, error) {
			if sel == ".amount-input" {
				return false, errors.New("detached")
			}
			return sel == `[data-testid="quantity-input"]`, nil
		}
		sel, err := l.Resolve(ctx, CapAmount, match)
		require.NoError(t, err)
		assert.Equal(t, `[data-testid="quantity-input"]`, sel)
	})
}

func TestLocatorOverrides(t *testing.T) {
	l := NewLocator(map[string][]string{CapBuy: {"#buy"}, CapSell: nil})
	assert.Equal(t, []string{"#buy"}, l.Candidates(CapBuy))
	assert.NotEmpty(t, l.Candidates(CapSell), "空覆盖保留默认值")
}

func TestLocatorAwait(t *testing.T) {
	l := NewLocator(nil)
	calls := 0
	match := func(ctx context.Context, sel string) (bool, error) {
		if sel == ".trade-confirmation" {
			calls++
			return calls >= 3, nil
		}
		return false, nil
	}
	sel, err := l.Await(context.Background(), CapConfirmed, match, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ".trade-confirmation", sel)

	_, err = l.Await(context.Background(), CapConfirmed, staticMatcher(), 30*time.Millisecond, 5*time.Millisecond)
	assert.True(t, errors.Is(err, domain.ErrActionTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Await(ctx, CapConfirmed, staticMatcher(), time.Second, 5*time.Millisecond)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"$1,234.50", "1234.5", true},
		{"150 USDT", "150", true},
		{"-3.2", "-3.2", true},
		{"--", "", false},
		{"n/a", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseAmount(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, d.Equal(decimal.RequireFromString(tt.want)), "got %s", d)
		})
	}
}

func TestParsePositionRows(t *testing.T) {
	rows := ParsePositionRows([]byte(`[["BTC","0.01","$430.00"],["ETH","x"],["","1"],["SOL","2"]]`))
	require.Len(t, rows, 2)
	assert.Equal(t, "BTC", rows[0].Symbol)
	assert.True(t, rows[0].Value.Equal(decimal.NewFromInt(430)))
	assert.Equal(t, "SOL", rows[1].Symbol)
	assert.Nil(t, ParsePositionRows([]byte(`not json`)))
}

func TestWriteDiagnostic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "diag")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p, err := writeDiagnostic(dir, "pre trade/BTC", []byte("png"), at)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, "20260102-030405.000_pre_trade_BTC.png"))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "png", string(b))
}

func TestSessionNotInitialized(t *testing.T) {
	s := NewSession(Options{BaseURL: "https://venue.test/"})
	ctx := context.Background()

	_, err := s.Authenticate(ctx, domain.Credentials{})
	assert.True(t, errors.Is(err, domain.ErrMissingCredentials))

	_, err = s.Authenticate(ctx, domain.Credentials{Email: "a@b.c", Password: "pw"})
	assert.True(t, errors.Is(err, domain.ErrNotInitialized))

	assert.Equal(t, "", s.CaptureDiagnostic(ctx, "x"))
	assert.NoError(t, s.Teardown())
	assert.NoError(t, s.Teardown())
	assert.True(t, s.onLoginPage("https://venue.test/login?next=/"))
	assert.False(t, s.onLoginPage("https://venue.test/dashboard"))
}

func TestMockDriverFlow(t *testing.T) {
	m := NewMockDriver(decimal.NewFromInt(150))
	m.Deltas = []decimal.Decimal{decimal.NewFromInt(5)}
	ctx := context.Background()

	require.NoError(t, m.Initialize(ctx))
	ok, err := m.Authenticate(ctx, domain.Credentials{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, m.NavigateToTradingSurface(ctx, "BTC-USD"))

	trade := domain.NewTrade("BTC-USD", domain.SideBuy, decimal.NewFromInt(3), domain.OrderTypeMarket)
	ok, err = m.ExecuteTrade(ctx, trade)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, m.WaitOrderConfirmed(ctx))

	info, err := m.ReadAccount(ctx)
	require.NoError(t, err)
	assert.True(t, info.Balance.Equal(decimal.NewFromInt(155)))
	require.Len(t, info.Positions, 1)
	assert.True(t, info.Positions[0].Amount.Equal(decimal.NewFromInt(3)))

	m.SetErrorOnNext("ExecuteTrade", errors.New("detached"))
	_, err = m.ExecuteTrade(ctx, trade)
	assert.Error(t, err)
	assert.Equal(t, 2, m.CallCount("ExecuteTrade"))

	m.ConfirmFailures = 1
	err = m.WaitOrderConfirmed(ctx)
	assert.True(t, errors.Is(err, domain.ErrActionTimeout))

	m.SetErrorOnNext("Initialize", errors.New("no chrome"))
	assert.True(t, errors.Is(m.Initialize(ctx), domain.ErrInitialization))
}
