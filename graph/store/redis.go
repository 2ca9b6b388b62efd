package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of Store[S].
//
// Each thread is a Redis list under "<prefix>:thread:<id>". RPUSH is atomic
// and returns the new list length, so the sequence number of an appended
// checkpoint is its list index (length - 1) without any extra locking.
// Readers derive Seq from the list position.
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type RedisStore[S any] struct {
	client redis.UniversalClient
	prefix string
	codec  codec
}

// NewRedisStore creates a store on top of an existing client. The caller
// owns the client and closes it.
//
// Example:
//
//	opts, err := redis.ParseURL("redis://localhost:6379/0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	st := store.NewRedisStore[graph.State](redis.NewClient(opts), store.WithCompression())
func NewRedisStore[S any](client redis.UniversalClient, opts ...Option) *RedisStore[S] {
	o := buildOptions(opts)
	return &RedisStore[S]{
		client: client,
		prefix: o.keyPrefix,
		codec:  codec{compress: o.compress},
	}
}

// NewRedisStoreFromURL parses a redis:// URL and verifies connectivity.
func NewRedisStoreFromURL[S any](ctx context.Context, url string, opts ...Option) (*RedisStore[S], error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisStore[S](client, opts...), nil
}

func (r *RedisStore[S]) key(threadID string) string {
	return r.prefix + ":thread:" + threadID
}

// Append implements Store.
func (r *RedisStore[S]) Append(ctx context.Context, threadID string, cp Checkpoint[S]) (int64, error) {
	cp = prepare(threadID, 0, cp)
	data, err := r.codec.encode(cp)
	if err != nil {
		return 0, err
	}

	n, err := r.client.RPush(ctx, r.key(threadID), data).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to append checkpoint: %w", err)
	}
	return n - 1, nil
}

// Latest implements Store.
func (r *RedisStore[S]) Latest(ctx context.Context, threadID string) (Checkpoint[S], error) {
	key := r.key(threadID)

	var (
		length *redis.IntCmd
		last   *redis.StringCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		length = pipe.LLen(ctx, key)
		last = pipe.LIndex(ctx, key, -1)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}

	data, err := last.Bytes()
	if errors.Is(err, redis.Nil) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	return r.decode(threadID, length.Val()-1, data)
}

// History implements Store.
func (r *RedisStore[S]) History(ctx context.Context, threadID string) ([]Checkpoint[S], error) {
	items, err := r.client.LRange(ctx, r.key(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	out := make([]Checkpoint[S], 0, len(items))
	for i, item := range items {
		cp, err := r.decode(threadID, int64(i), []byte(item))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (r *RedisStore[S]) decode(threadID string, seq int64, data []byte) (Checkpoint[S], error) {
	var cp Checkpoint[S]
	if err := r.codec.decode(data, &cp); err != nil {
		return Checkpoint[S]{}, err
	}
	cp.ThreadID = threadID
	cp.Seq = seq
	return cp, nil
}
