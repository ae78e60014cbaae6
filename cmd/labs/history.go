package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type HistoryRecord struct {
	ExecutionID string   `json:"execution_id"`
	Playbook    string   `json:"playbook,omitempty"`
	Hosts       []string `json:"hosts,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Status      Status   `json:"status"`
	ReturnCode  *int     `json:"return_code,omitempty"`
	StartedAt   string   `json:"started_at"`
	EndedAt     string   `json:"ended_at"`
	DurationMs  int64    `json:"duration_ms"`
}

type HistoryStore interface {
	Append(ctx context.Context, rec HistoryRecord) error
	List(ctx context.Context, limit int, status, playbook string) ([]HistoryRecord, error)
	Find(ctx context.Context, executionID string) (HistoryRecord, bool, error)
	Close() error
}

func historyRecordFromSession(s ExecutionSession, endedAt time.Time) HistoryRecord {
	rec := HistoryRecord{
		ExecutionID: s.ID,
		Playbook:    s.Playbook,
		Hosts:       s.Hosts,
		Tags:        s.Tags,
		Status:      s.Status,
		ReturnCode:  s.ReturnCode,
		StartedAt:   ts(s.StartedAt),
		EndedAt:     ts(endedAt),
	}
	if !s.StartedAt.IsZero() {
		rec.DurationMs = endedAt.Sub(s.StartedAt).Milliseconds()
	}
	return rec
}

type nopHistory struct{}

func (nopHistory) Append(context.Context, HistoryRecord) error { return nil }

func (nopHistory) List(context.Context, int, string, string) ([]HistoryRecord, error) {
	return []HistoryRecord{}, nil
}

func (nopHistory) Find(context.Context, string) (HistoryRecord, bool, error) {
	return HistoryRecord{}, false, nil
}

func (nopHistory) Close() error { return nil }

var historyMigrations = []struct {
	Version int
	UpSQL   string
}{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS executions (
	execution_id TEXT PRIMARY KEY,
	playbook TEXT NOT NULL DEFAULT '',
	hosts TEXT NOT NULL DEFAULT '[]',
	tags TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL,
	return_code INTEGER,
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_executions_ended_at ON executions(ended_at);
`,
	},
}

type sqliteHistory struct {
	db *sql.DB
}

func openHistory(ctx context.Context, cfg HistoryConfig) (HistoryStore, error) {
	if cfg.Disabled {
		return nopHistory{}, nil
	}
	h, err := openSQLiteHistory(ctx, cfg.Path)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func openSQLiteHistory(ctx context.Context, path string) (*sqliteHistory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history: %w", err)
	}
	if err := applyHistoryMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteHistory{db: db}, nil
}

func applyHistoryMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	for _, m := range historyMigrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func (h *sqliteHistory) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

func (h *sqliteHistory) Append(ctx context.Context, rec HistoryRecord) error {
	if strings.TrimSpace(rec.ExecutionID) == "" {
		return fmt.Errorf("execution_id is required")
	}
	hosts, err := json.Marshal(nonNil(rec.Hosts))
	if err != nil {
		return err
	}
	tags, err := json.Marshal(nonNil(rec.Tags))
	if err != nil {
		return err
	}
	var rc any
	if rec.ReturnCode != nil {
		rc = *rec.ReturnCode
	}
	_, err = h.db.ExecContext(ctx, `
INSERT INTO executions(execution_id, playbook, hosts, tags, status, return_code, started_at, ended_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(execution_id) DO UPDATE SET
	status=excluded.status,
	return_code=excluded.return_code,
	ended_at=excluded.ended_at,
	duration_ms=excluded.duration_ms
`, rec.ExecutionID, rec.Playbook, string(hosts), string(tags), string(rec.Status), rc, rec.StartedAt, rec.EndedAt, rec.DurationMs)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (h *sqliteHistory) List(ctx context.Context, limit int, status, playbook string) ([]HistoryRecord, error) {
	query := `SELECT execution_id, playbook, hosts, tags, status, return_code, started_at, ended_at, duration_ms FROM executions`
	var where []string
	var args []any
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}
	if playbook != "" {
		where = append(where, "playbook = ?")
		args = append(args, playbook)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ended_at DESC, execution_id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	records := []HistoryRecord{}
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (h *sqliteHistory) Find(ctx context.Context, executionID string) (HistoryRecord, bool, error) {
	row := h.db.QueryRowContext(ctx, `SELECT execution_id, playbook, hosts, tags, status, return_code, started_at, ended_at, duration_ms FROM executions WHERE execution_id = ?`, executionID)
	rec, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return HistoryRecord{}, false, nil
	}
	if err != nil {
		return HistoryRecord{}, false, err
	}
	return rec, true, nil
}

func scanHistory(scanner interface{ Scan(dest ...any) error }) (HistoryRecord, error) {
	var rec HistoryRecord
	var hosts, tags, status string
	var rc sql.NullInt64
	if err := scanner.Scan(&rec.ExecutionID, &rec.Playbook, &hosts, &tags, &status, &rc, &rec.StartedAt, &rec.EndedAt, &rec.DurationMs); err != nil {
		return HistoryRecord{}, err
	}
	rec.Status = Status(status)
	if rc.Valid {
		v := int(rc.Int64)
		rec.ReturnCode = &v
	}
	if err := json.Unmarshal([]byte(hosts), &rec.Hosts); err != nil {
		return HistoryRecord{}, fmt.Errorf("decode hosts: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return HistoryRecord{}, fmt.Errorf("decode tags: %w", err)
	}
	return rec, nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

// historyTimeFormat is fixed width so stored timestamps sort as text.
const historyTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(historyTimeFormat)
}
