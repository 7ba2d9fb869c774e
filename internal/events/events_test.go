package events

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/venuepilot/internal/domain"
)

func TestHubFanout(t *testing.T) {
	h := NewHub(4)
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelB()
	assert.Equal(t, 2, h.Count())

	h.Publish(StateChanged(domain.StateUninitialized, domain.StateBrowserReady, decimal.NewFromInt(150)))

	ea := <-a
	eb := <-b
	assert.Equal(t, KindStateChanged, ea.Kind)
	assert.Equal(t, domain.StateBrowserReady, eb.State)
	assert.NotEmpty(t, ea.ID)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, h.Count())
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	defer cancel()

	trade := domain.Trade{Pair: "BTC-USD", Side: domain.SideBuy}
	h.Publish(TradeResult(trade, false, decimal.Zero, errors.New("boom")))
	h.Publish(New(KindTickSkipped, domain.StateTradingActive, decimal.Zero))

	require.Len(t, ch, 1)
	e := <-ch
	assert.Equal(t, "boom", e.Error)
	assert.Equal(t, int64(1), h.Dropped())
}

func TestNilHubPublish(t *testing.T) {
	var h *Hub
	h.Publish(Halted(domain.StateSafetyStopped, decimal.NewFromInt(100)))
}
