// Package eventlog keeps an append-only audit trail of engine events:
// notifications, exit decisions, reconciliation findings. It is separate
// from the position ledger so the trail can grow without bloating the
// table the monitors hit on every cycle.
package eventlog

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

// Record is one logged event.
type Record struct {
	ID       int64          `json:"id"`
	TraceID  string         `json:"trace_id"`
	TS       int64          `json:"ts"`
	Type     string         `json:"type"`
	Symbol   string         `json:"symbol,omitempty"`
	Priority string         `json:"priority"`
	Title    string         `json:"title"`
	Body     string         `json:"body,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Query filters Recent listings.
type Query struct {
	Symbol string
	Type   string
	Limit  int
}

// Store is a sqlite-backed append-only event log.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("eventlog: database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			symbol TEXT,
			priority TEXT,
			title TEXT,
			body TEXT,
			fields_json TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_events_symbol ON events(symbol, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Append writes one event. Timestamps default to now.
func (s *Store) Append(ctx context.Context, rec Record) (int64, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return 0, fmt.Errorf("eventlog: store closed")
	}
	ts := rec.TS
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	var fieldsJSON string
	if len(rec.Fields) > 0 {
		if b, err := json.Marshal(rec.Fields); err == nil {
			fieldsJSON = string(b)
		}
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO events (trace_id, ts, type, symbol, priority, title, body, fields_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, ts, rec.Type, strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		rec.Priority, rec.Title, rec.Body, fieldsJSON, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// Recent lists the newest matching events, newest first.
func (s *Store) Recent(ctx context.Context, q Query) ([]Record, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("eventlog: store closed")
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var sb strings.Builder
	var args []any
	sb.WriteString(`SELECT id, trace_id, ts, type, symbol, priority, title, body, fields_json FROM events WHERE 1=1`)
	if sym := strings.ToUpper(strings.TrimSpace(q.Symbol)); sym != "" {
		sb.WriteString(" AND symbol=?")
		args = append(args, sym)
	}
	if typ := strings.TrimSpace(q.Type); typ != "" {
		sb.WriteString(" AND type=?")
		args = append(args, typ)
	}
	sb.WriteString(" ORDER BY ts DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Record
	for rows.Next() {
		var (
			rec    Record
			trace  sql.NullString
			symbol sql.NullString
			prio   sql.NullString
			title  sql.NullString
			body   sql.NullString
			fields sql.NullString
		)
		if err := rows.Scan(&rec.ID, &trace, &rec.TS, &rec.Type, &symbol, &prio, &title, &body, &fields); err != nil {
			return nil, err
		}
		rec.TraceID = trace.String
		rec.Symbol = symbol.String
		rec.Priority = prio.String
		rec.Title = title.String
		rec.Body = body.String
		if raw := strings.TrimSpace(fields.String); raw != "" {
			_ = json.Unmarshal([]byte(raw), &rec.Fields)
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}
