package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndList(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "db", "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	require.NoError(t, j.Ping(ctx))

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := "order confirmation timed out"
	for i := 1; i <= 3; i++ {
		outcome := OutcomeFailure
		var e *string
		if i == 3 {
			outcome = OutcomeSuccess
		} else {
			e = &msg
		}
		_, err := j.Append(ctx, Attempt{
			TradeID:   "t-1",
			Action:    "trade",
			Pair:      "BTC-USD",
			Side:      "buy",
			Amount:    "3",
			AttemptNo: i,
			Outcome:   outcome,
			Error:     e,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
	_, err = j.Append(ctx, Attempt{Action: "authenticate", AttemptNo: 1, Outcome: OutcomeSuccess, CreatedAt: base.Add(10 * time.Second)})
	require.NoError(t, err)

	recent, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "authenticate", recent[0].Action)
	assert.Empty(t, recent[0].TradeID)
	assert.Equal(t, 3, recent[1].AttemptNo)

	byTrade, err := j.ByTrade(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, byTrade, 3)
	assert.Equal(t, OutcomeFailure, byTrade[0].Outcome)
	require.NotNil(t, byTrade[0].Error)
	assert.Equal(t, msg, *byTrade[0].Error)
	assert.Nil(t, byTrade[2].Error)
	assert.True(t, byTrade[0].CreatedAt.Equal(base.Add(time.Second)))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
