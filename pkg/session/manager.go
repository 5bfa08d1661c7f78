package session

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager owns the live sessions of one node. It keeps at most
// MaxSessions in memory in LRU order, expires idle sessions and restores
// sessions from its store when a request presents an id it does not hold.
type Manager struct {
	mu sync.Mutex

	// sessions indexes lru; front = most recently used.
	sessions map[string]*list.Element
	lru      *list.List

	config Config
	store  Store
	logger *slog.Logger

	done    chan struct{}
	stopped bool
}

// Config configures a Manager.
type Config struct {
	// MaxSessions is the number of sessions kept in memory before the
	// least recently used one is evicted. Default: 10000.
	MaxSessions int

	// TTL is how long an idle session stays valid, in memory and in the
	// store. Default: 30 minutes.
	TTL time.Duration

	// MaxPages is the page capacity of each page map. Default:
	// page.DefaultMaxPages.
	MaxPages int

	// CleanupInterval is how often idle sessions are expired.
	// Default: 1 minute.
	CleanupInterval time.Duration
}

// DefaultConfig returns a Config with defaults filled in.
func DefaultConfig() Config {
	return Config{
		MaxSessions:     10000,
		TTL:             30 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Manager errors.
var (
	// ErrManagerStopped is returned after Shutdown.
	ErrManagerStopped = errors.New("session: manager is stopped")
)

// NewManager creates a manager. store may be nil for a purely local
// manager; zero config fields take their defaults.
func NewManager(store Store, config Config, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if config.MaxSessions <= 0 {
		config.MaxSessions = def.MaxSessions
	}
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		sessions: make(map[string]*list.Element),
		lru:      list.New(),
		config:   config,
		store:    store,
		logger:   logger.With("component", "session_manager"),
		done:     make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Get returns the session for id, creating a new one when id is empty,
// unknown to this node and its store, or expired. created reports that the
// returned session has a new id the client must be told about.
func (m *Manager) Get(ctx context.Context, id string) (sess *Session, created bool, err error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, false, ErrManagerStopped
	}
	if elem, ok := m.sessions[id]; ok {
		s := elem.Value.(*Session)
		if time.Since(s.LastAccess()) <= m.config.TTL {
			m.lru.MoveToFront(elem)
			m.mu.Unlock()
			s.Touch()
			return s, false, nil
		}
		m.removeLocked(id)
	}
	m.mu.Unlock()

	var restored *State
	if id != "" && m.store != nil {
		data, err := m.store.Load(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if data != nil {
			if restored, err = Decode(data); err != nil {
				m.logger.Warn("discarding undecodable session state", "session_id", id, "error", err)
				restored = nil
			}
		}
	}

	if restored != nil {
		sess = m.newSession(id)
		sess.restore(restored)
	} else {
		sess = m.newSession(uuid.NewString())
		created = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, false, ErrManagerStopped
	}
	// Another request may have restored the same id meanwhile.
	if elem, ok := m.sessions[sess.id]; ok {
		m.lru.MoveToFront(elem)
		return elem.Value.(*Session), created, nil
	}
	m.sessions[sess.id] = m.lru.PushFront(sess)
	for m.lru.Len() > m.config.MaxSessions {
		m.evictOneLocked()
	}

	m.logger.Debug("session opened",
		"session_id", sess.id,
		"restored", restored != nil,
		"count", m.lru.Len())
	return sess, created, nil
}

func (m *Manager) newSession(id string) *Session {
	s := New(id, m.config.MaxPages, m.logger)
	s.store = m.store
	s.ttl = m.config.TTL
	return s
}

// Lookup returns an in-memory session without creating or restoring one.
func (m *Manager) Lookup(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.sessions[id]; ok {
		return elem.Value.(*Session)
	}
	return nil
}

// Remove discards a session here and in the store.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	m.removeLocked(id)
	m.mu.Unlock()

	if m.store != nil {
		return m.store.Delete(ctx, id)
	}
	return nil
}

// Len returns the number of sessions in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

func (m *Manager) removeLocked(id string) {
	if elem, ok := m.sessions[id]; ok {
		m.lru.Remove(elem)
		delete(m.sessions, id)
	}
}

// evictOneLocked drops the least recently used session, persisting it
// first when it has unreplicated changes.
func (m *Manager) evictOneLocked() {
	back := m.lru.Back()
	if back == nil {
		return
	}
	s := back.Value.(*Session)

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Commit(ctx); err != nil {
			m.logger.Warn("failed to persist evicted session", "session_id", s.id, "error", err)
		}
		cancel()
	}
	m.removeLocked(s.id)

	m.logger.Debug("evicted session",
		"session_id", s.id,
		"reason", "capacity_exceeded")
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.expireIdle(time.Now())
		case <-m.done:
			return
		}
	}
}

// expireIdle removes sessions idle for longer than TTL. Their state stays
// in the store until the store's own expiry.
func (m *Manager) expireIdle(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for e := m.lru.Back(); e != nil; {
		s := e.Value.(*Session)
		if now.Sub(s.LastAccess()) <= m.config.TTL {
			break
		}
		prev := e.Prev()
		m.removeLocked(s.id)
		expired++
		e = prev
	}
	if expired > 0 {
		m.logger.Debug("expired idle sessions",
			"count", expired,
			"remaining", m.lru.Len())
	}
	return expired
}

// Shutdown stops the manager and persists every dirty session in one
// SaveAll call.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.done)

	pending := make(map[string]Record)
	for id, elem := range m.sessions {
		rec, dirty, err := elem.Value.(*Session).record(m.config.TTL)
		if err != nil {
			m.logger.Warn("skipping unencodable session", "session_id", id, "error", err)
			continue
		}
		if dirty {
			pending[id] = rec
		}
	}
	m.mu.Unlock()

	if m.store == nil || len(pending) == 0 {
		return nil
	}
	if err := m.store.SaveAll(ctx, pending); err != nil {
		m.logger.Warn("failed to persist sessions on shutdown",
			"error", err,
			"count", len(pending))
		return err
	}
	m.logger.Info("persisted sessions on shutdown", "count", len(pending))
	return nil
}
