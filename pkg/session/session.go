package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vango-dev/pagecycle/pkg/page"
)

// Session is the per-user state shared by the request cycles of one
// client: named page maps, application values and the exclusivity lock
// that serialises page-mutating cycles.
type Session struct {
	id        string
	createdAt time.Time

	// exclusive is held by a cycle across its event and respond steps.
	exclusive sync.Mutex

	mu         sync.Mutex
	maps       map[string]*page.Map
	values     map[string]any
	dirty      bool
	lastAccess time.Time
	maxPages   int
	store      Store
	ttl        time.Duration
	logger     *slog.Logger
}

// New creates a detached session. Sessions are normally created by a
// Manager, which also sets the store used by Commit.
func New(id string, maxPages int, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	return &Session{
		id:         id,
		createdAt:  now,
		lastAccess: now,
		maps:       make(map[string]*page.Map),
		values:     make(map[string]any),
		maxPages:   maxPages,
		logger:     logger.With("session", id),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastAccess returns the time of the last Touch.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// Touch records an access.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

// Lock acquires the session's exclusivity lock.
func (s *Session) Lock() { s.exclusive.Lock() }

// Unlock releases the exclusivity lock.
func (s *Session) Unlock() { s.exclusive.Unlock() }

// PageMap returns the named page map, creating it on first use.
func (s *Session) PageMap(name string) *page.Map {
	if name == "" {
		name = page.DefaultMapName
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.maps[name]
	if !ok {
		m = page.NewMap(name, s.maxPages, s.logger)
		m.OnEvict(func(*page.Page) { s.MarkDirty() })
		s.maps[name] = m
		s.dirty = true
	}
	return m
}

// PageMapNames returns the names of existing page maps in sorted order.
func (s *Session) PageMapNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.maps))
	for name := range s.maps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Value returns a session value. Values restored from a store are
// json.RawMessage until overwritten.
func (s *Session) Value(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// SetValue stores a JSON-encodable value and marks the session dirty.
func (s *Session) SetValue(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v
	s.dirty = true
}

// DeleteValue removes a value.
func (s *Session) DeleteValue(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
}

// MarkDirty flags the session for replication at the end of the cycle.
func (s *Session) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// IsDirty reports whether the session changed since the last Commit.
func (s *Session) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// State captures the replicated state.
func (s *Session) State() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() (*State, error) {
	st := &State{
		ID:         s.id,
		CreatedAt:  s.createdAt,
		LastAccess: s.lastAccess,
	}
	if len(s.values) > 0 {
		st.Values = make(map[string]json.RawMessage, len(s.values))
		for k, v := range s.values {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("session: value %q: %w", k, err)
			}
			st.Values[k] = raw
		}
	}

	names := make([]string, 0, len(s.maps))
	for name := range s.maps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := s.maps[name]
		ms := PageMapState{Name: name, MaxPages: m.MaxPages()}
		for _, p := range m.Pages() {
			ms.Pages = append(ms.Pages, PageState{ID: p.ID(), Type: p.Type(), Version: p.CurrentVersion()})
		}
		st.PageMaps = append(st.PageMaps, ms)
	}
	return st, nil
}

// restore loads values from a decoded state.
func (s *Session) restore(st *State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.createdAt = st.CreatedAt
	for k, v := range st.Values {
		s.values[k] = v
	}
	lost := 0
	for _, m := range st.PageMaps {
		lost += len(m.Pages)
	}
	if lost > 0 {
		s.logger.Debug("restored session without page trees", "pages", lost)
	}
}

// Commit writes the session state to its store if the session is dirty
// and clears the dirty flag on success. A session without a store only
// clears the flag.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	store, ttl := s.store, s.ttl
	if store == nil {
		s.dirty = false
		s.mu.Unlock()
		return nil
	}
	st, err := s.stateLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	data, err := Encode(st)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", s.id, err)
	}
	if err := store.Save(ctx, s.id, data, time.Now().Add(ttl)); err != nil {
		return fmt.Errorf("session: commit %s: %w", s.id, err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

func (s *Session) record(ttl time.Duration) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return Record{}, false, nil
	}
	st, err := s.stateLocked()
	if err != nil {
		return Record{}, false, err
	}
	data, err := Encode(st)
	if err != nil {
		return Record{}, false, err
	}
	return Record{Data: data, ExpiresAt: time.Now().Add(ttl)}, true, nil
}
