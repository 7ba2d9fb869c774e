package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/venuepilot/pkg/persistence"
)

func openJSON(t *testing.T) (*Store, string) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "data", "trade_memory.json")
	return Open(persistence.NewJSONFileStore(p), decimal.NewFromInt(150)), p
}

func TestDefaultWhenAbsent(t *testing.T) {
	s, p := openJSON(t)
	m := s.Snapshot()
	assert.Equal(t, int64(0), m.TotalTrades)
	assert.True(t, m.CurrentBalance.Equal(decimal.NewFromInt(150)))

	// 第一次写入时创建目录
	_, err := s.RecordSuccess()
	require.NoError(t, err)
	_, err = os.Stat(p)
	require.NoError(t, err)
}

func TestDefaultWhenCorrupt(t *testing.T) {
	p := filepath.Join(t.TempDir(), "trade_memory.json")
	require.NoError(t, os.WriteFile(p, []byte("{{{"), 0o644))
	s := Open(persistence.NewJSONFileStore(p), decimal.NewFromInt(150))
	assert.True(t, s.Snapshot().CurrentBalance.Equal(decimal.NewFromInt(150)))
}

func TestSurvivesRestart(t *testing.T) {
	s, p := openJSON(t)
	_, err := s.RecordSuccess()
	require.NoError(t, err)
	_, err = s.RecordFailure("amount field not found")
	require.NoError(t, err)
	_, err = s.SetBalance(decimal.RequireFromString("147.5"))
	require.NoError(t, err)

	reopened := Open(persistence.NewJSONFileStore(p), decimal.NewFromInt(150))
	m := reopened.Snapshot()
	assert.Equal(t, int64(2), m.TotalTrades)
	assert.Equal(t, int64(1), m.SuccessfulTrades)
	assert.Equal(t, int64(1), m.FailedTrades)
	require.Len(t, m.Errors, 1)
	assert.Equal(t, "amount field not found", m.Errors[0].Message)
	assert.True(t, m.CurrentBalance.Equal(decimal.RequireFromString("147.5")))
}

func TestErrorRingKeepsNewest(t *testing.T) {
	s, _ := openJSON(t)
	for i := 0; i < 13; i++ {
		_, err := s.RecordFailure(fmt.Sprintf("failure %d", i))
		require.NoError(t, err)
	}
	m := s.Snapshot()
	require.Len(t, m.Errors, 10)
	assert.Equal(t, "failure 3", m.Errors[0].Message)
	assert.Equal(t, "failure 12", m.Errors[9].Message)
}

func TestConcurrentWritersKeepInvariant(t *testing.T) {
	s, p := openJSON(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = s.RecordSuccess()
			} else {
				_, _ = s.RecordFailure("x")
			}
		}(i)
	}
	wg.Wait()

	m := Open(persistence.NewJSONFileStore(p), decimal.NewFromInt(150)).Snapshot()
	assert.Equal(t, int64(20), m.TotalTrades)
	assert.Equal(t, m.SuccessfulTrades+m.FailedTrades, m.TotalTrades)
}

func TestBadgerBackend(t *testing.T) {
	backend, err := persistence.NewBadgerStore(persistence.BadgerOptions{InMemory: true, Key: "trade_memory"})
	require.NoError(t, err)
	var persisted []error
	s := Open(backend, decimal.NewFromInt(150), WithPersistHook(func(err error) { persisted = append(persisted, err) }))
	defer s.Close()

	_, err = s.RecordSuccess()
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Load().SuccessfulTrades)
	assert.Equal(t, []error{nil}, persisted)

	require.NoError(t, s.Reset())
	assert.Equal(t, int64(0), s.Load().TotalTrades)
}

func TestPersistFailureKeepsMemory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	// 父路径是普通文件，MkdirAll 必然失败
	s := Open(persistence.NewJSONFileStore(filepath.Join(blocker, "m.json")), decimal.NewFromInt(150))

	m, err := s.RecordFailure("boom")
	assert.Error(t, err)
	assert.Equal(t, int64(1), m.FailedTrades)
	assert.Equal(t, int64(1), s.Snapshot().TotalTrades)
}
