package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type redisErr struct{ err error }

func (c redisErr) Err() error { return c.err }

type redisValue struct {
	data []byte
	err  error
}

func (c redisValue) Bytes() ([]byte, error) { return c.data, c.err }
func (c redisValue) Err() error             { return c.err }

// fakeRedis is an in-memory key space that records TTLs instead of
// expiring keys.
type fakeRedis struct {
	mu   sync.Mutex
	keys map[string][]byte
	ttls map[string]time.Duration
	fail error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, ttl time.Duration) RedisStatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return redisErr{f.fail}
	}
	f.keys[key] = append([]byte(nil), value.([]byte)...)
	f.ttls[key] = ttl
	return redisErr{}
}

func (f *fakeRedis) Get(_ context.Context, key string) RedisStringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.keys[key]
	if !ok {
		return redisValue{err: errors.New("redis: nil")}
	}
	return redisValue{data: data}
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) RedisStatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.keys, k)
		delete(f.ttls, k)
	}
	return redisErr{}
}

func (f *fakeRedis) Expire(_ context.Context, key string, ttl time.Duration) RedisStatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		f.ttls[key] = ttl
	}
	return redisErr{}
}

func (f *fakeRedis) Pipeline() RedisPipeliner { return &fakePipeline{redis: f} }

type fakePipeline struct {
	redis *fakeRedis
	queue []func()
}

func (p *fakePipeline) Set(ctx context.Context, key string, value any, ttl time.Duration) RedisStatusCmd {
	p.queue = append(p.queue, func() { p.redis.Set(ctx, key, value, ttl) })
	return redisErr{}
}

func (p *fakePipeline) Exec(context.Context) ([]any, error) {
	for _, fn := range p.queue {
		fn()
	}
	return nil, nil
}

func TestRedisStoreRoundTrip(t *testing.T) {
	fake := newFakeRedis()
	store := NewRedisStore(fake, WithRedisPrefix("pfx:"))
	ctx := context.Background()

	if data, err := store.Load(ctx, "missing"); err != nil || data != nil {
		t.Fatalf("Load(missing) = %q, %v", data, err)
	}
	if err := store.Save(ctx, "s1", []byte("state"), time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if ttl := fake.ttls["pfx:s1"]; ttl <= 59*time.Minute || ttl > time.Hour {
		t.Errorf("ttl = %v, want about an hour", ttl)
	}
	if data, err := store.Load(ctx, "s1"); err != nil || string(data) != "state" {
		t.Errorf("Load = %q, %v", data, err)
	}

	if err := store.Touch(ctx, "s1", time.Now().Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if ttl := fake.ttls["pfx:s1"]; ttl <= time.Hour {
		t.Errorf("ttl after Touch = %v", ttl)
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if data, _ := store.Load(ctx, "s1"); data != nil {
		t.Error("deleted session still loads")
	}
}

func TestRedisStoreExpiredSaveDeletes(t *testing.T) {
	fake := newFakeRedis()
	store := NewRedisStore(fake)
	ctx := context.Background()

	_ = store.Save(ctx, "s", []byte("x"), time.Now().Add(time.Hour))
	if err := store.Save(ctx, "s", []byte("y"), time.Now().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.keys[DefaultRedisPrefix+"s"]; ok {
		t.Error("expired save should delete the key")
	}
}

func TestRedisStoreSaveAllSkipsExpired(t *testing.T) {
	fake := newFakeRedis()
	store := NewRedisStore(fake)

	err := store.SaveAll(context.Background(), map[string]Record{
		"live": {Data: []byte("1"), ExpiresAt: time.Now().Add(time.Hour)},
		"dead": {Data: []byte("2"), ExpiresAt: time.Now().Add(-time.Hour)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(fake.keys) != 1 || fake.keys[DefaultRedisPrefix+"live"] == nil {
		t.Errorf("keys = %v", fake.keys)
	}
}

func TestRedisStoreErrors(t *testing.T) {
	fake := newFakeRedis()
	fake.fail = errors.New("connection refused")
	store := NewRedisStore(fake)
	ctx := context.Background()

	if err := store.Save(ctx, "s", []byte("x"), time.Now().Add(time.Hour)); !errors.Is(err, fake.fail) {
		t.Errorf("Save = %v, want wrapped client error", err)
	}

	_ = store.Close()
	if _, err := store.Load(ctx, "s"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Load after Close = %v", err)
	}
}
