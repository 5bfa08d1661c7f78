package page

import (
	"fmt"
	"sync"
	"time"

	"github.com/vango-dev/pagecycle/pkg/tree"
	"github.com/vango-dev/pagecycle/pkg/version"
)

// NoID is the id of a page that has not been put into a map.
const NoID = -1

// Latest asks Map.Get for the current version of a page.
const Latest = -1

// Hooks receive versioning events. Implementations must be safe for
// concurrent use.
type Hooks interface {
	VersionClosed(p *Page, current, evicted int)
	VersionReconstructed(p *Page, version int, elapsed time.Duration)
}

// Option configures a page.
type Option func(*Page)

// WithMaxVersions limits the change-sets kept per page.
func WithMaxVersions(n int) Option {
	return func(p *Page) { p.maxVersions = n }
}

// WithHooks installs versioning hooks.
func WithHooks(h Hooks) Option {
	return func(p *Page) { p.hooks = h }
}

// Page is the root of one component tree, the unit of versioning and of
// storage in a Map.
//
// Change tracking is dormant until the first EndRequest, so the request
// that builds a page records nothing. After that, the first trackable
// mutation of a request opens a change-set and EndRequest closes it.
type Page struct {
	typeName string
	tree     *tree.Tree

	mu           sync.Mutex
	id           int
	dirty        bool
	rendered     map[tree.Index]struct{}
	versions     *version.Manager
	trackChanges bool
	mergeNext    bool
	maxVersions  int
	hooks        Hooks
}

// New wraps t as a page of the given type.
func New(typeName string, t *tree.Tree, opts ...Option) *Page {
	p := &Page{
		typeName: typeName,
		tree:     t,
		id:       NoID,
	}
	for _, opt := range opts {
		opt(p)
	}
	t.SetObserver(p.onMutation)
	return p
}

// onMutation runs under the tree's write lock.
func (p *Page) onMutation(m tree.Mutation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dirty = true
	if !p.trackChanges || m.Auto || !m.Versioned {
		return
	}
	if p.versions == nil {
		p.versions = version.NewManager(p.maxVersions)
	}
	if !p.versions.IsOpen() {
		p.versions.BeginVersion(p.mergeNext)
	}
	p.versions.Record(version.FromMutation(m))
}

// ID returns the page id within its map, or NoID.
func (p *Page) ID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

func (p *Page) setID(id int) {
	p.mu.Lock()
	p.id = id
	p.mu.Unlock()
}

// Type returns the page type id, which is also its markup key.
func (p *Page) Type() string { return p.typeName }

// Tree returns the component tree.
func (p *Page) Tree() *tree.Tree { return p.tree }

// String returns "type#id" for logs and errors.
func (p *Page) String() string {
	return fmt.Sprintf("%s#%d", p.typeName, p.ID())
}

// IsDirty reports whether the page changed since the flag was cleared.
func (p *Page) IsDirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

// MarkDirty flags the page as changed.
func (p *Page) MarkDirty() {
	p.mu.Lock()
	p.dirty = true
	p.mu.Unlock()
}

// ClearDirty resets the dirty flag.
func (p *Page) ClearDirty() {
	p.mu.Lock()
	p.dirty = false
	p.mu.Unlock()
}

// MergeNextVersion makes the next change-set of this page fold into the
// previous version. Partial updates use it so they do not create history
// entries of their own.
func (p *Page) MergeNextVersion() {
	p.mu.Lock()
	p.mergeNext = true
	p.mu.Unlock()
}

// Tracking reports whether change tracking is active.
func (p *Page) Tracking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trackChanges
}

// EndRequest activates change tracking and closes the change-set opened
// during the request, if any.
func (p *Page) EndRequest() {
	p.mu.Lock()
	p.trackChanges = true
	p.mergeNext = false
	versions, hooks := p.versions, p.hooks
	p.mu.Unlock()

	if versions == nil || !versions.IsOpen() {
		return
	}
	current, evicted := versions.EndVersion()
	if hooks != nil {
		hooks.VersionClosed(p, current, evicted)
	}
}

// CurrentVersion returns the latest closed version, 0 without history.
func (p *Page) CurrentVersion() int {
	p.mu.Lock()
	versions := p.versions
	p.mu.Unlock()
	if versions == nil {
		return 0
	}
	return versions.CurrentVersion()
}

// PendingVersion returns the version the page will have when the request
// in progress ends. Links rendered during the request refer to it.
func (p *Page) PendingVersion() int {
	p.mu.Lock()
	versions := p.versions
	p.mu.Unlock()
	if versions == nil {
		return 0
	}
	return versions.PendingVersion()
}

// Versions returns the version manager, nil when the page has no history.
func (p *Page) Versions() *version.Manager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.versions
}

// Version returns the page as of version n.
//
// The live page is returned when n is current and no change-set is open.
// Otherwise the tree is copied and the undo plan taken under one read lock
// of the tree, and the plan is replayed on the copy. The live page is never
// modified. A copy at version 0 carries no version manager.
func (p *Page) Version(n int) (*Page, error) {
	p.mu.Lock()
	versions := p.versions
	p.mu.Unlock()

	if versions == nil {
		if n == 0 {
			return p, nil
		}
		return nil, fmt.Errorf("%w: %d (page has no history)", version.ErrVersionNotFound, n)
	}
	if n == versions.CurrentVersion() && !versions.IsOpen() {
		return p, nil
	}

	start := time.Now()
	var (
		plan    []version.Change
		planErr error
	)
	copied := p.tree.Snapshot(func() {
		plan, planErr = versions.UndoPlan(n)
	})
	if planErr != nil {
		return nil, planErr
	}
	if err := version.Replay(copied, plan); err != nil {
		return nil, err
	}

	var history *version.Manager
	if n > 0 {
		var err error
		if history, err = versions.Truncate(n); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	r := &Page{
		typeName:     p.typeName,
		tree:         copied,
		id:           p.id,
		dirty:        true,
		versions:     history,
		trackChanges: true,
		maxVersions:  p.maxVersions,
		hooks:        p.hooks,
	}
	p.mu.Unlock()
	copied.SetObserver(r.onMutation)

	if r.hooks != nil {
		r.hooks.VersionReconstructed(r, n, time.Since(start))
	}
	return r, nil
}

// MarkRendered records a component as rendered in the current pass.
func (p *Page) MarkRendered(i tree.Index) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rendered == nil {
		p.rendered = make(map[tree.Index]struct{})
	}
	if _, ok := p.rendered[i]; ok {
		return false
	}
	p.rendered[i] = struct{}{}
	return true
}

// Rendered reports whether a component rendered in the current pass.
func (p *Page) Rendered(i tree.Index) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.rendered[i]
	return ok
}

// ResetRendered clears the rendered set. The set is reallocated with room
// for every component of the tree.
func (p *Page) ResetRendered() {
	size := p.tree.Size()
	p.mu.Lock()
	p.rendered = make(map[tree.Index]struct{}, size)
	p.mu.Unlock()
}
