package page

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// DefaultMaxPages is the page capacity of a map when none is configured.
const DefaultMaxPages = 5

// DefaultMapName is the name of a session's main page map.
const DefaultMapName = "main"

// ErrPageExpired is returned for page ids that are not (or no longer) in
// the map.
var ErrPageExpired = errors.New("page: page expired")

type entry struct {
	page *Page
	seq  uint64
}

// Map is a session-scoped, capacity-bounded collection of pages keyed by
// numeric id. Every access promotes a page; when the map grows past its
// capacity the least recently accessed page is evicted.
type Map struct {
	mu        sync.Mutex
	name      string
	pages     map[int]*entry
	counter   uint64
	nextID    int
	maxPages  int
	intercept string
	logger    *slog.Logger
	onEvict   func(p *Page)
}

// NewMap creates a map. A non-positive maxPages uses DefaultMaxPages.
func NewMap(name string, maxPages int, logger *slog.Logger) *Map {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Map{
		name:     name,
		pages:    make(map[int]*entry),
		maxPages: maxPages,
		logger:   logger.With("component", "pagemap", "pagemap", name),
	}
}

// Name returns the map name.
func (m *Map) Name() string { return m.name }

// MaxPages returns the capacity.
func (m *Map) MaxPages() int { return m.maxPages }

// OnEvict registers a callback for evicted pages. It runs without the map
// lock held.
func (m *Map) OnEvict(fn func(p *Page)) {
	m.mu.Lock()
	m.onEvict = fn
	m.mu.Unlock()
}

// Put stores p, assigning an id if it has none, and promotes it. It
// returns the page id.
func (m *Map) Put(p *Page) int {
	m.mu.Lock()
	id := p.ID()
	if id == NoID {
		id = m.nextID
		m.nextID++
		p.setID(id)
	} else if id >= m.nextID {
		m.nextID = id + 1
	}
	m.counter++
	m.pages[id] = &entry{page: p, seq: m.counter}
	evicted := m.evictLocked()
	onEvict := m.onEvict
	m.mu.Unlock()

	m.notify(onEvict, evicted)
	return id
}

// Touch promotes p if it is in the map.
func (m *Map) Touch(p *Page) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.pages[p.ID()]; ok {
		m.counter++
		e.seq = m.counter
	}
}

// Get returns page id at the requested version (Latest for the current
// one) and promotes it. When the version differs from the live page, the
// reconstructed page replaces the stored one.
func (m *Map) Get(id, ver int) (*Page, error) {
	m.mu.Lock()
	e, ok := m.pages[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s/%d", ErrPageExpired, m.name, id)
	}
	m.counter++
	e.seq = m.counter
	live := e.page
	m.mu.Unlock()

	if ver == Latest {
		return live, nil
	}
	p, err := live.Version(ver)
	if err != nil {
		return nil, err
	}
	if p == live {
		return live, nil
	}

	m.mu.Lock()
	if cur, ok := m.pages[id]; ok && cur.page == live {
		cur.page = p
	}
	m.mu.Unlock()
	m.logger.Debug("page version restored", "page", id, "version", ver)
	return p, nil
}

// Remove drops page id.
func (m *Map) Remove(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pages[id]; !ok {
		return false
	}
	delete(m.pages, id)
	return true
}

// Len returns the number of pages.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// IDs returns the page ids from least to most recently accessed.
func (m *Map) IDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int, 0, len(m.pages))
	for id := range m.pages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.pages[ids[i]].seq < m.pages[ids[j]].seq
	})
	return ids
}

// Pages returns the pages from least to most recently accessed.
func (m *Map) Pages() []*Page {
	ids := m.IDs()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Page, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.pages[id]; ok {
			out = append(out, e.page)
		}
	}
	return out
}

// SetIntercept remembers the destination an interception redirect
// interrupted, so it can be resumed later.
func (m *Map) SetIntercept(destination string) {
	m.mu.Lock()
	m.intercept = destination
	m.mu.Unlock()
}

// ContinueToOriginalDestination returns and clears the remembered
// destination. It reports false when none is pending.
func (m *Map) ContinueToOriginalDestination() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dest := m.intercept
	m.intercept = ""
	return dest, dest != ""
}

func (m *Map) evictLocked() []*Page {
	var evicted []*Page
	for len(m.pages) > m.maxPages {
		oldest, oldestSeq := NoID, uint64(0)
		for id, e := range m.pages {
			if oldest == NoID || e.seq < oldestSeq {
				oldest, oldestSeq = id, e.seq
			}
		}
		evicted = append(evicted, m.pages[oldest].page)
		delete(m.pages, oldest)
		if m.intercept != "" {
			m.logger.Debug("intercept invalidated by eviction", "destination", m.intercept)
			m.intercept = ""
		}
	}
	return evicted
}

func (m *Map) notify(onEvict func(*Page), evicted []*Page) {
	for _, p := range evicted {
		m.logger.Info("page evicted", "page", p.String())
		if onEvict != nil {
			onEvict(p)
		}
	}
}
