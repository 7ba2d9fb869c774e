package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/venuepilot/internal/domain"
	"github.com/betbot/venuepilot/internal/health"
)

var testInstruments = []domain.Instrument{
	{Symbol: "bitcoin", Pair: "BTC-USD", Fallback: decimal.NewFromInt(43000)},
	{Symbol: "ethereum", Pair: "ETH-USD", Fallback: decimal.NewFromInt(2600)},
}

func newServer(t *testing.T, hits *int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		if r.URL.Path != "/simple/price" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("ids") {
		case "bitcoin":
			_, _ = w.Write([]byte(`{"bitcoin":{"usd":51234.5}}`))
		case "ethereum":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetPricePrimaryAndCache(t *testing.T) {
	var hits int64
	srv := newServer(t, &hits)
	r := NewResolver(NewSimplePriceSource(SourceConfig{BaseURL: srv.URL}), testInstruments, time.Minute, 5*time.Second)
	defer r.Close()

	p := r.GetPrice(context.Background(), "bitcoin")
	assert.True(t, p.Equal(decimal.RequireFromString("51234.5")))
	p = r.GetPrice(context.Background(), "bitcoin")
	assert.True(t, p.Equal(decimal.RequireFromString("51234.5")))
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits), "第二次命中缓存")
}

func TestGetPriceFallbackOnNon200(t *testing.T) {
	var hits int64
	srv := newServer(t, &hits)
	tr := health.NewTracker(health.ComponentMarketData)
	r := NewResolver(NewSimplePriceSource(SourceConfig{BaseURL: srv.URL}), testInstruments, 0, 5*time.Second, WithHealth(tr))

	p := r.GetPrice(context.Background(), "ethereum")
	assert.True(t, p.Equal(decimal.NewFromInt(2600)))
	c, _ := tr.Component(health.ComponentMarketData)
	assert.Equal(t, health.StatusDegraded, c.Status)
}

func TestGetPriceFallbackWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r := NewResolver(NewSimplePriceSource(SourceConfig{BaseURL: url, Timeout: time.Second}), testInstruments, 0, 5*time.Second)
	assert.True(t, r.GetPrice(context.Background(), "bitcoin").Equal(decimal.NewFromInt(43000)))
	assert.True(t, r.GetPrice(context.Background(), "dogecoin").IsZero(), "未登记品种兜底为 0")
}

func TestSnapshotPartialDegradation(t *testing.T) {
	var hits int64
	srv := newServer(t, &hits)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r := NewResolver(NewSimplePriceSource(SourceConfig{BaseURL: srv.URL}), testInstruments, 0, 5*time.Second,
		WithClock(func() time.Time { return now }))

	snap := r.GetSnapshot(context.Background())
	require.Len(t, snap.Prices, 2)
	assert.True(t, snap.Prices["bitcoin"].Equal(decimal.RequireFromString("51234.5")))
	assert.True(t, snap.Prices["ethereum"].Equal(decimal.NewFromInt(2600)))
	assert.Equal(t, now, snap.Timestamp)

	pairs := r.GetPairPrices(context.Background())
	assert.True(t, pairs["ETH-USD"].Equal(decimal.NewFromInt(2600)))
}

type failingSource struct{}

func (failingSource) Name() string { return "failing" }
func (failingSource) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("boom")
}

func TestNeverRaises(t *testing.T) {
	r := NewResolver(failingSource{}, testInstruments, 0, time.Second)
	for _, in := range testInstruments {
		assert.True(t, r.GetPrice(context.Background(), in.Symbol).Equal(in.Fallback))
	}
	r = NewResolver(nil, testInstruments, 0, time.Second)
	assert.True(t, r.GetPrice(context.Background(), "bitcoin").Equal(decimal.NewFromInt(43000)))
}

func TestSourceWrapsUnavailable(t *testing.T) {
	var hits int64
	srv := newServer(t, &hits)
	s := NewSimplePriceSource(SourceConfig{BaseURL: srv.URL})
	_, err := s.FetchPrice(context.Background(), "ethereum")
	assert.True(t, errors.Is(err, domain.ErrMarketDataUnavailable))
	_, err = s.FetchPrice(context.Background(), "unknown")
	assert.True(t, errors.Is(err, domain.ErrMarketDataUnavailable))
}
