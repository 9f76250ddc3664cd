// Package runstore 归档每次运行（paper/live 会话）的汇总记录，
// 与逐笔落库的 gormstore 互补：一行一个会话，启动时写入、退出时补全指标。
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusFailed  = "failed"
)

// Summary 会话结束时的绩效快照。
type Summary struct {
	FinalEquity    float64 `json:"final_equity"`
	ReturnPct      float64 `json:"return_pct"`
	WinRate        float64 `json:"win_rate"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Orders         int     `json:"orders"`
	Trades         int     `json:"trades"`
}

// Session 一次运行的完整记录。
type Session struct {
	ID            string    `json:"id"`
	Mode          string    `json:"mode"`
	Symbol        string    `json:"symbol"`
	BaseTimeframe string    `json:"base_timeframe"`
	Strategies    []string  `json:"strategies"`
	InitialCash   float64   `json:"initial_cash"`
	Status        string    `json:"status"`
	Message       string    `json:"message,omitempty"`
	Summary       Summary   `json:"summary"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
}

// SessionStore 管理 sessions 表。单文件 SQLite，写入串行。
type SessionStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewSessionStore(root string) (*SessionStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("session store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "sessions.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSessionSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SessionStore{db: db, path: path}, nil
}

func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSessionSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			symbol TEXT NOT NULL,
			base_tf TEXT NOT NULL,
			strategies_json TEXT NOT NULL,
			status TEXT NOT NULL,
			initial_cash REAL NOT NULL,
			final_equity REAL NOT NULL DEFAULT 0,
			return_pct REAL NOT NULL DEFAULT 0,
			win_rate REAL NOT NULL DEFAULT 0,
			max_drawdown_pct REAL NOT NULL DEFAULT 0,
			orders INTEGER NOT NULL DEFAULT 0,
			trades INTEGER NOT NULL DEFAULT 0,
			message TEXT,
			started_at INTEGER NOT NULL,
			finished_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Begin 插入一条 running 状态的会话记录。
func (s *SessionStore) Begin(ctx context.Context, sess Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id 不能为空")
	}
	strategiesJSON, err := json.Marshal(sess.Strategies)
	if err != nil {
		return err
	}
	if sess.Status == "" {
		sess.Status = StatusRunning
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions
			(id, mode, symbol, base_tf, strategies_json, status, initial_cash, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Mode, sess.Symbol, sess.BaseTimeframe, string(strategiesJSON),
		sess.Status, sess.InitialCash, sess.StartedAt.UnixMilli())
	return err
}

// Finish 补全会话的终态与绩效指标。
func (s *SessionStore) Finish(ctx context.Context, id, status string, sum Summary, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status=?, final_equity=?, return_pct=?, win_rate=?, max_drawdown_pct=?,
		    orders=?, trades=?, message=?, finished_at=?
		WHERE id=?`,
		status, sum.FinalEquity, sum.ReturnPct, sum.WinRate, sum.MaxDrawdownPct,
		sum.Orders, sum.Trades, message, time.Now().UnixMilli(), id)
	return err
}

// List 按开始时间倒序返回最近的会话。
func (s *SessionStore) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, symbol, base_tf, strategies_json, status, initial_cash,
		       final_equity, return_pct, win_rate, max_drawdown_pct, orders, trades,
		       message, started_at, finished_at
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SessionStore) Get(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, mode, symbol, base_tf, strategies_json, status, initial_cash,
		       final_equity, return_pct, win_rate, max_drawdown_pct, orders, trades,
		       message, started_at, finished_at
		FROM sessions WHERE id=?`, id)
	return scanSession(row)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var strategiesStr string
	var message sql.NullString
	var startedAt int64
	var finishedAt sql.NullInt64
	if err := row.Scan(&sess.ID, &sess.Mode, &sess.Symbol, &sess.BaseTimeframe,
		&strategiesStr, &sess.Status, &sess.InitialCash,
		&sess.Summary.FinalEquity, &sess.Summary.ReturnPct, &sess.Summary.WinRate,
		&sess.Summary.MaxDrawdownPct, &sess.Summary.Orders, &sess.Summary.Trades,
		&message, &startedAt, &finishedAt); err != nil {
		return Session{}, err
	}
	if err := json.Unmarshal([]byte(strategiesStr), &sess.Strategies); err != nil {
		return Session{}, err
	}
	sess.Message = message.String
	sess.StartedAt = timeFromMillis(startedAt)
	if finishedAt.Valid {
		sess.FinishedAt = timeFromMillis(finishedAt.Int64)
	}
	return sess, nil
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}
