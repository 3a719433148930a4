package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"audio-insights-go/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	sentiment TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

// SQLite stores each job as a JSON document with its filterable columns
// alongside. A single pooled connection acts as the only writer.
type SQLite struct {
	db    *sql.DB
	locks keyedMutex
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = "voiceagent.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init database: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func sentimentOf(j types.Job) string {
	if j.Insight == nil {
		return ""
	}
	return string(j.Insight.Sentiment)
}

func (s *SQLite) Create(ctx context.Context, job types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return wrap("create", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, sentiment, created_at, updated_at, data) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		job.ID, string(job.Status), sentimentOf(job), job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(), string(data))
	if err != nil {
		return wrap("create", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExists
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadJob(ctx context.Context, q queryer, id string) (types.Job, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, ErrNotFound
	}
	if err != nil {
		return types.Job{}, wrap("get", err)
	}
	var j types.Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return types.Job{}, wrap("decode", err)
	}
	return j, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (types.Job, error) {
	return loadJob(ctx, s.db, id)
}

func (s *SQLite) Update(ctx context.Context, id string, mutate func(*types.Job) error) (types.Job, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Job{}, wrap("begin", err)
	}
	defer tx.Rollback()

	j, err := loadJob(ctx, tx, id)
	if err != nil {
		return types.Job{}, err
	}
	if err := mutate(&j); err != nil {
		return types.Job{}, err
	}
	data, err := json.Marshal(j)
	if err != nil {
		return types.Job{}, wrap("update", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, sentiment = ?, updated_at = ?, data = ? WHERE id = ?`,
		string(j.Status), sentimentOf(j), j.UpdatedAt.UnixNano(), string(data), id); err != nil {
		return types.Job{}, wrap("update", err)
	}
	if err := tx.Commit(); err != nil {
		return types.Job{}, wrap("commit", err)
	}
	return j, nil
}

func (s *SQLite) List(ctx context.Context, f Filter) ([]types.Job, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Sentiment != "" {
		where = append(where, "sentiment = ?")
		args = append(args, string(f.Sentiment))
	}
	q := `SELECT data FROM jobs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id ASC"
	if f.Limit > 0 && f.Topic == "" {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrap("list", err)
	}
	defer rows.Close()

	out := []types.Job{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, wrap("list", err)
		}
		var j types.Job
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			return nil, wrap("decode", err)
		}
		if f.Match(j) {
			out = append(out, j)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list", err)
	}
	return newestFirst(out, f.Limit), nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return wrap("delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// keyedMutex hands out one mutex per key and frees it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
