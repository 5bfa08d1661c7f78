package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// RedisClient is the subset of a Redis client used by RedisStore. The
// method set matches github.com/redis/go-redis/v9 through a thin adapter
// returning the command interfaces below.
type RedisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) RedisStatusCmd
	Get(ctx context.Context, key string) RedisStringCmd
	Del(ctx context.Context, keys ...string) RedisStatusCmd
	Expire(ctx context.Context, key string, expiration time.Duration) RedisStatusCmd
	Pipeline() RedisPipeliner
}

// RedisStatusCmd is a command whose only result is an error.
type RedisStatusCmd interface {
	Err() error
}

// RedisStringCmd is a command returning a value.
type RedisStringCmd interface {
	Bytes() ([]byte, error)
	Err() error
}

// RedisPipeliner batches Set commands.
type RedisPipeliner interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) RedisStatusCmd
	Exec(ctx context.Context) ([]any, error)
}

// ErrRedisNil is the error a client returns for a missing key. Errors with
// the same text are treated alike so go-redis's redis.Nil matches.
var ErrRedisNil = errors.New("redis: nil")

// DefaultRedisPrefix is the key prefix used when none is configured.
const DefaultRedisPrefix = "pagecycle:session:"

// RedisStore keeps one key per session and lets Redis expire it. A record
// saved with an expiry in the past is deleted instead of written.
//
// The client is shared: Close does not close it.
type RedisStore struct {
	client RedisClient
	prefix string
	closed atomic.Bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix. Default: DefaultRedisPrefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisStore) { r.prefix = prefix }
}

// NewRedisStore creates a store on client.
func NewRedisStore(client RedisClient, opts ...RedisOption) *RedisStore {
	r := &RedisStore{client: client, prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisStore) key(sessionID string) string {
	return r.prefix + sessionID
}

// Save writes the state with a TTL derived from expiresAt.
func (r *RedisStore) Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, sessionID)
	}
	if err := r.client.Set(ctx, r.key(sessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set %s: %w", sessionID, err)
	}
	return nil
}

// Load returns the state, or (nil, nil) when Redis has no such key.
func (r *RedisStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrStoreClosed
	}
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: redis get %s: %w", sessionID, err)
	}
	return data, nil
}

// Delete removes the key.
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("session: redis del %s: %w", sessionID, err)
	}
	return nil
}

// Touch resets the key's TTL. A key that has already expired stays gone.
func (r *RedisStore) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, sessionID)
	}
	if err := r.client.Expire(ctx, r.key(sessionID), ttl).Err(); err != nil && !isRedisNil(err) {
		return fmt.Errorf("session: redis expire %s: %w", sessionID, err)
	}
	return nil
}

// SaveAll writes every live record in one pipeline.
func (r *RedisStore) SaveAll(ctx context.Context, sessions map[string]Record) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}
	if len(sessions) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for id, rec := range sessions {
		if ttl := time.Until(rec.ExpiresAt); ttl > 0 {
			pipe.Set(ctx, r.key(id), rec.Data, ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: redis pipeline: %w", err)
	}
	return nil
}

// Close marks the store closed.
func (r *RedisStore) Close() error {
	r.closed.Store(true)
	return nil
}

func isRedisNil(err error) bool {
	return errors.Is(err, ErrRedisNil) || err.Error() == ErrRedisNil.Error()
}
