package version

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vango-dev/pagecycle/pkg/tree"
)

// DefaultMaxVersions is the number of change-sets kept when no limit is
// configured.
const DefaultMaxVersions = 20

var (
	// ErrVersionUnavailable is returned when the change-set needed to reach a
	// version was discarded for capacity. It is never returned for version 0
	// while the full history is still present.
	ErrVersionUnavailable = errors.New("version: version unavailable")

	// ErrVersionNotFound is returned for versions newer than the current one.
	ErrVersionNotFound = errors.New("version: version not found")
)

// Manager is the undo log of one page: an ordered list of closed
// change-sets, one per request that mutated the page, plus at most one
// open change-set for the request in progress.
//
// Version n is the state after the n-th closed change-set. Version 0 is the
// page before any tracked mutation.
type Manager struct {
	mu          sync.Mutex
	sets        [][]Change
	base        int
	open        []Change
	opened      bool
	maxVersions int
}

// NewManager creates a manager that keeps at most maxVersions change-sets.
// A non-positive limit uses DefaultMaxVersions.
func NewManager(maxVersions int) *Manager {
	if maxVersions <= 0 {
		maxVersions = DefaultMaxVersions
	}
	return &Manager{maxVersions: maxVersions}
}

// BeginVersion opens a change-set. With merge set, the last closed set is
// reopened instead so the request's changes fold into the previous version.
// Beginning while a set is already open is a no-op.
func (m *Manager) BeginVersion(merge bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opened {
		return
	}
	m.opened = true
	if merge && len(m.sets) > 0 {
		last := len(m.sets) - 1
		m.open = m.sets[last]
		m.sets = m.sets[:last]
		return
	}
	m.open = nil
}

// Record appends a change to the open change-set. It returns false when no
// set is open.
func (m *Manager) Record(c Change) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.opened {
		return false
	}
	m.open = append(m.open, c)
	return true
}

// IsOpen reports whether a change-set is open.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// EndVersion closes the open change-set and returns the resulting current
// version and the number of change-sets discarded for capacity. An empty
// set is dropped without creating a version.
func (m *Manager) EndVersion() (current, evicted int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opened {
		if len(m.open) > 0 {
			m.sets = append(m.sets, m.open)
		}
		m.open = nil
		m.opened = false
	}
	for len(m.sets) > m.maxVersions {
		m.dropOldestLocked()
		evicted++
	}
	return m.base + len(m.sets), evicted
}

// ExpireOldest discards the oldest closed change-set. It reports whether a
// set was discarded.
func (m *Manager) ExpireOldest() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sets) == 0 {
		return false
	}
	m.dropOldestLocked()
	return true
}

func (m *Manager) dropOldestLocked() {
	m.sets[0] = nil
	m.sets = m.sets[1:]
	m.base++
}

// CurrentVersion returns the number of the latest closed version.
func (m *Manager) CurrentVersion() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.base + len(m.sets)
}

// PendingVersion returns the version that closing the open change-set
// would produce: CurrentVersion, plus one while the open set holds changes.
func (m *Manager) PendingVersion() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.base + len(m.sets)
	if m.opened && len(m.open) > 0 {
		v++
	}
	return v
}

// OldestVersion returns the oldest version that can still be reconstructed.
func (m *Manager) OldestVersion() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.base
}

// Versions returns the number of retained change-sets.
func (m *Manager) Versions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sets)
}

// MaxVersions returns the change-set limit.
func (m *Manager) MaxVersions() int {
	return m.maxVersions
}

// UndoPlan returns the changes to reverse, in order, to turn the live tree
// into version n: the open set first, then each closed set from the newest
// down to n+1, every set last-recorded-first. The returned slice is a copy.
func (m *Manager) UndoPlan(n int) ([]Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.base + len(m.sets)
	switch {
	case n < 0 || n > current:
		return nil, fmt.Errorf("%w: %d (current %d)", ErrVersionNotFound, n, current)
	case n < m.base:
		return nil, fmt.Errorf("%w: %d (oldest %d)", ErrVersionUnavailable, n, m.base)
	}

	var plan []Change
	plan = appendReversed(plan, m.open)
	for i := len(m.sets) - 1; i >= n-m.base; i-- {
		plan = appendReversed(plan, m.sets[i])
	}
	return plan, nil
}

func appendReversed(dst, src []Change) []Change {
	for i := len(src) - 1; i >= 0; i-- {
		dst = append(dst, src[i])
	}
	return dst
}

// Truncate returns a manager holding the history up to version n, with no
// open change-set. n must be reconstructable.
func (m *Manager) Truncate(n int) (*Manager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.base + len(m.sets)
	if n < 0 || n > current {
		return nil, fmt.Errorf("%w: %d (current %d)", ErrVersionNotFound, n, current)
	}
	if n < m.base {
		return nil, fmt.Errorf("%w: %d (oldest %d)", ErrVersionUnavailable, n, m.base)
	}
	keep := n - m.base
	sets := make([][]Change, keep)
	copy(sets, m.sets[:keep])
	return &Manager{
		sets:        sets,
		base:        m.base,
		maxVersions: m.maxVersions,
	}, nil
}

// Replay applies plan to t in order.
func Replay(t *tree.Tree, plan []Change) error {
	for _, c := range plan {
		if err := c.Undo(t); err != nil {
			return err
		}
	}
	return nil
}
