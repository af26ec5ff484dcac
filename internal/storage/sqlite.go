package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "hotlabel/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendCompletion(ctx context.Context, r CompletionRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completions(task_id, session_id, publisher_id, type, category, complexity, duration_seconds, created_at, completed_at, meta, response)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(task_id) DO NOTHING`,
		r.TaskID, nullStr(r.SessionID), r.PublisherID, r.Type, r.Category, r.Complexity, r.DurationSeconds,
		r.CreatedAt.UnixMilli(), r.CompletedAt.UnixMilli(), nullStr(r.MetaJSON), nullStr(r.ResponseJSON),
	)
	return err
}

func (s *sqliteStore) ListCompletions(ctx context.Context) ([]CompletionRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, COALESCE(session_id, ''), publisher_id, type, category, complexity, duration_seconds,
		        created_at, completed_at, COALESCE(meta, ''), COALESCE(response, '')
		 FROM completions ORDER BY completed_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CompletionRecord
	for rows.Next() {
		var (
			r                  CompletionRecord
			createdMS, complMS int64
		)
		if err := rows.Scan(&r.TaskID, &r.SessionID, &r.PublisherID, &r.Type, &r.Category, &r.Complexity,
			&r.DurationSeconds, &createdMS, &complMS, &r.MetaJSON, &r.ResponseJSON); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(createdMS)
		r.CompletedAt = time.UnixMilli(complMS)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneCompletions(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM completions WHERE completed_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) PutSession(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(key) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

func (s *sqliteStore) GetSession(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrDisabled
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sessions WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) Purge(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions`)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
