package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps session state in process memory. It is the default
// store for single-node deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	closed  bool
	done    chan struct{}
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*memoryStoreConfig)

type memoryStoreConfig struct {
	cleanupInterval time.Duration
}

// WithCleanupInterval sets how often expired records are dropped.
// Default: 1 minute.
func WithCleanupInterval(d time.Duration) MemoryStoreOption {
	return func(c *memoryStoreConfig) {
		c.cleanupInterval = d
	}
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	cfg := &memoryStoreConfig{cleanupInterval: time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &MemoryStore{
		records: make(map[string]*Record),
		done:    make(chan struct{}),
	}
	go s.cleanupLoop(cfg.cleanupInterval)
	return s
}

// Save stores a copy of data.
func (m *MemoryStore) Save(_ context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.records[sessionID] = &Record{Data: clone(data), ExpiresAt: expiresAt}
	return nil
}

// Load returns a copy of the stored state if it has not expired.
func (m *MemoryStore) Load(_ context.Context, sessionID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	r, ok := m.records[sessionID]
	if !ok || time.Now().After(r.ExpiresAt) {
		return nil, nil
	}
	return clone(r.Data), nil
}

// Delete removes a record.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.records, sessionID)
	return nil
}

// Touch updates the expiry of an existing record.
func (m *MemoryStore) Touch(_ context.Context, sessionID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if r, ok := m.records[sessionID]; ok {
		r.ExpiresAt = expiresAt
	}
	return nil
}

// SaveAll stores every record under one lock.
func (m *MemoryStore) SaveAll(_ context.Context, sessions map[string]Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	for id, r := range sessions {
		m.records[id] = &Record{Data: clone(r.Data), ExpiresAt: r.ExpiresAt}
	}
	return nil
}

// Close stops the cleanup loop and drops all records.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	m.records = nil
	return nil
}

// Count returns the number of stored records, expired ones included.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryStore) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	now := time.Now()
	for id, r := range m.records {
		if now.After(r.ExpiresAt) {
			delete(m.records, id)
		}
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
