package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/betbot/venuepilot/internal/metrics"
)

// Outcome 单次尝试结果
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeAborted Outcome = "aborted"
	// OutcomeCancelled 会话停止打断了进行中的尝试，不计为失败
	OutcomeCancelled Outcome = "cancelled"
)

// 定长时间格式，保证按字符串排序即按时间排序
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Attempt 执行器的一次尝试
type Attempt struct {
	ID        string    `json:"id"`
	TradeID   string    `json:"tradeId,omitempty"`
	Action    string    `json:"action"`
	Pair      string    `json:"pair,omitempty"`
	Side      string    `json:"side,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	AttemptNo int       `json:"attempt"`
	Outcome   Outcome   `json:"outcome"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Journal 追加写的尝试流水（SQLite）
type Journal struct {
	db *sql.DB
}

// Open 打开（必要时创建）流水库；path 为 ":memory:" 时使用内存库
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal: db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  trade_id TEXT,
  action TEXT NOT NULL,
  pair TEXT,
  side TEXT,
  amount TEXT,
  attempt_no INTEGER NOT NULL,
  outcome TEXT NOT NULL, -- success | failure | aborted | cancelled
  error TEXT,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_created ON attempts(created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_trade ON attempts(trade_id);`,
	}
	for _, st := range stmts {
		if _, err := j.db.ExecContext(ctx, st); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Append 追加一条记录；ID/CreatedAt 为空时自动填充
func (j *Journal) Append(ctx context.Context, a Attempt) (Attempt, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO attempts (id, trade_id, action, pair, side, amount, attempt_no, outcome, error, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
`, a.ID, nullString(a.TradeID), a.Action, nullString(a.Pair), nullString(a.Side), nullString(a.Amount),
		a.AttemptNo, string(a.Outcome), a.Error, a.CreatedAt.UTC().Format(tsLayout))
	if err != nil {
		return a, err
	}
	metrics.JournalWrites.Add(1)
	return a, nil
}

// Recent 最近的记录（新在前）
func (j *Journal) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, trade_id, action, pair, side, amount, attempt_no, outcome, error, created_at
FROM attempts
ORDER BY created_at DESC, rowid DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// ByTrade 某笔交易的所有尝试（按时间正序）
func (j *Journal) ByTrade(ctx context.Context, tradeID string) ([]Attempt, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT id, trade_id, action, pair, side, amount, attempt_no, outcome, error, created_at
FROM attempts
WHERE trade_id=?
ORDER BY created_at ASC, rowid ASC
`, tradeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// Ping 健康检查
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Close 关闭
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func scanAttempts(rows *sql.Rows) ([]Attempt, error) {
	var out []Attempt
	for rows.Next() {
		var (
			a         Attempt
			tradeID   sql.NullString
			pair      sql.NullString
			side      sql.NullString
			amount    sql.NullString
			outcome   string
			errStr    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&a.ID, &tradeID, &a.Action, &pair, &side, &amount, &a.AttemptNo, &outcome, &errStr, &createdAt); err != nil {
			return nil, err
		}
		a.TradeID = tradeID.String
		a.Pair = pair.String
		a.Side = side.String
		a.Amount = amount.String
		a.Outcome = Outcome(outcome)
		if errStr.Valid {
			v := errStr.String
			a.Error = &v
		}
		a.CreatedAt, _ = time.Parse(tsLayout, createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
