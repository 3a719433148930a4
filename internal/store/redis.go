package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"audio-insights-go/internal/types"
)

const maxTxAttempts = 100

// Redis keeps each job as a JSON string and indexes ids in a sorted set
// scored by creation time. Updates use WATCH/MULTI and retry on conflict.
type Redis struct {
	client *redis.Client
	prefix string
}

func OpenRedis(ctx context.Context, addr, password string, db int, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedis(client, prefix), nil
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "audio-insights"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(id string) string { return r.prefix + ":job:" + id }

func (r *Redis) index() string { return r.prefix + ":jobs" }

func (r *Redis) Create(ctx context.Context, job types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return wrap("create", err)
	}
	ok, err := r.client.SetNX(ctx, r.key(job.ID), data, 0).Result()
	if err != nil {
		return wrap("create", err)
	}
	if !ok {
		return ErrExists
	}
	score := float64(job.CreatedAt.UnixNano())
	if err := r.client.ZAdd(ctx, r.index(), redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
		// unindexed jobs never show up in List; drop the key so Create can be retried
		if derr := r.client.Del(context.WithoutCancel(ctx), r.key(job.ID)).Err(); derr != nil {
			return wrap("create", errors.Join(err, fmt.Errorf("rollback job key: %w", derr)))
		}
		return wrap("create", err)
	}
	return nil
}

func decodeJob(raw string) (types.Job, error) {
	var j types.Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return types.Job{}, wrap("decode", err)
	}
	return j, nil
}

func (r *Redis) Get(ctx context.Context, id string) (types.Job, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return types.Job{}, ErrNotFound
	}
	if err != nil {
		return types.Job{}, wrap("get", err)
	}
	return decodeJob(raw)
}

func (r *Redis) Update(ctx context.Context, id string, mutate func(*types.Job) error) (types.Job, error) {
	key := r.key(id)
	var result types.Job
	var mutErr error

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		j, err := decodeJob(raw)
		if err != nil {
			return err
		}
		if err := mutate(&j); err != nil {
			mutErr = err
			return err
		}
		data, err := json.Marshal(j)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			result = j
		}
		return err
	}

	for i := 0; i < maxTxAttempts; i++ {
		mutErr = nil
		err := r.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case mutErr != nil:
			return types.Job{}, mutErr
		case errors.Is(err, ErrNotFound):
			return types.Job{}, ErrNotFound
		default:
			var serr *StoreError
			if errors.As(err, &serr) {
				return types.Job{}, serr
			}
			return types.Job{}, wrap("update", err)
		}
	}
	return types.Job{}, wrap("update", fmt.Errorf("too many concurrent writers on %s", id))
}

func (r *Redis) List(ctx context.Context, f Filter) ([]types.Job, error) {
	ids, err := r.client.ZRevRange(ctx, r.index(), 0, -1).Result()
	if err != nil {
		return nil, wrap("list", err)
	}
	out := []types.Job{}
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrap("list", err)
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		j, err := decodeJob(raw)
		if err != nil {
			return nil, err
		}
		if f.Match(j) {
			out = append(out, j)
		}
	}
	return newestFirst(out, f.Limit), nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.key(id))
		pipe.ZRem(ctx, r.index(), id)
		return nil
	})
	if err != nil {
		return wrap("delete", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }
