// Package store persists jobs. Every backend serialises updates of one job
// id so a read-modify-write never interleaves with another.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"audio-insights-go/internal/types"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrExists   = errors.New("job already exists")
)

// StoreError wraps a backend failure. Callers may retry it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Filter selects jobs for List. Zero values match everything.
type Filter struct {
	Status    types.Status
	Sentiment types.Sentiment
	Topic     string
	Limit     int
}

func (f Filter) Match(j types.Job) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.Sentiment != "" && (j.Insight == nil || j.Insight.Sentiment != f.Sentiment) {
		return false
	}
	if f.Topic != "" {
		if j.Insight == nil {
			return false
		}
		needle := strings.ToLower(f.Topic)
		for _, t := range j.Insight.Topics {
			if strings.Contains(strings.ToLower(t), needle) {
				return true
			}
		}
		return false
	}
	return true
}

// Store is the persistence contract the pipeline depends on.
//
// Update loads the job, applies mutate to a private copy and writes the
// result atomically. If mutate returns an error nothing is written and the
// error is returned unchanged.
type Store interface {
	Create(ctx context.Context, job types.Job) error
	Get(ctx context.Context, id string) (types.Job, error)
	Update(ctx context.Context, id string, mutate func(*types.Job) error) (types.Job, error)
	List(ctx context.Context, f Filter) ([]types.Job, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// newestFirst orders by creation time descending, id as tie-break, and
// applies the limit.
func newestFirst(jobs []types.Job, limit int) []types.Job {
	sort.SliceStable(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
		}
		return jobs[i].ID < jobs[k].ID
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// Options selects and configures a backend for Open.
type Options struct {
	Driver        string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

func Open(ctx context.Context, o Options) (Store, error) {
	switch o.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, o.SQLitePath)
	case "redis":
		return OpenRedis(ctx, o.RedisAddr, o.RedisPassword, o.RedisDB, o.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown store driver %q", o.Driver)
	}
}
