package tree

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// PathSeparator joins component ids into a path.
const PathSeparator = ":"

var (
	// ErrNotContainer is returned when adding a child to a leaf component.
	ErrNotContainer = errors.New("tree: component is not a container")

	// ErrDuplicateID is returned when a sibling with the same id already exists.
	ErrDuplicateID = errors.New("tree: duplicate component id")

	// ErrHierarchyLocked is returned when the hierarchy is changed during a
	// phase that forbids it.
	ErrHierarchyLocked = errors.New("tree: hierarchy locked")

	// ErrInvalidIndex is returned for indexes outside the arena or detached
	// components.
	ErrInvalidIndex = errors.New("tree: invalid component index")

	// ErrEmptyID is returned when adding a component without an id.
	ErrEmptyID = errors.New("tree: empty component id")
)

// Tree is an arena of component records rooted at a parentless container.
// All methods are safe for concurrent use. The observer is called while the
// write lock is held and must not call back into the tree.
type Tree struct {
	mu       sync.RWMutex
	nodes    []Node
	observer func(Mutation)
	locked   bool
}

// New creates a tree whose root is a container with the given id.
func New(rootID string) *Tree {
	t := &Tree{}
	t.nodes = append(t.nodes, Node{
		ID:       rootID,
		Parent:   NoIndex,
		Flags:    FlagVisible | FlagEnabled | FlagVersioned,
		byID:     make(map[string]Index),
		attached: true,
	})
	return t
}

// Root returns the index of the root container.
func (t *Tree) Root() Index { return 0 }

// SetObserver installs the mutation observer. Pass nil to remove it.
func (t *Tree) SetObserver(fn func(Mutation)) {
	t.mu.Lock()
	t.observer = fn
	t.mu.Unlock()
}

// SetLocked forbids (or allows again) non-framework hierarchy changes.
func (t *Tree) SetLocked(locked bool) {
	t.mu.Lock()
	t.locked = locked
	t.mu.Unlock()
}

// Locked reports whether the hierarchy is locked.
func (t *Tree) Locked() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.locked
}

func (t *Tree) valid(i Index) bool {
	return i >= 0 && int(i) < len(t.nodes) && t.nodes[i].attached
}

func (t *Tree) emit(m Mutation) {
	if t.observer != nil {
		t.observer(m)
	}
}

// Add creates a child of parent from spec and returns its index.
func (t *Tree) Add(parent Index, spec Spec) (Index, error) {
	if spec.ID == "" {
		return NoIndex, ErrEmptyID
	}
	if strings.Contains(spec.ID, PathSeparator) {
		return NoIndex, fmt.Errorf("tree: component id %q contains %q", spec.ID, PathSeparator)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid(parent) {
		return NoIndex, ErrInvalidIndex
	}
	if t.locked && !spec.Auto {
		return NoIndex, fmt.Errorf("%w: cannot add %q", ErrHierarchyLocked, spec.ID)
	}
	p := &t.nodes[parent]
	if p.byID == nil {
		return NoIndex, fmt.Errorf("%w: %q", ErrNotContainer, p.ID)
	}
	if _, exists := p.byID[spec.ID]; exists {
		return NoIndex, fmt.Errorf("%w: %q under %q", ErrDuplicateID, spec.ID, p.ID)
	}

	n := Node{
		ID:        spec.ID,
		Parent:    parent,
		Model:     spec.Model,
		Flags:     spec.flags(),
		Behavior:  spec.Behavior,
		Listeners: spec.Listeners,
		attached:  true,
	}
	if spec.Container {
		n.byID = make(map[string]Index)
	}
	idx := Index(len(t.nodes))
	t.nodes = append(t.nodes, n)

	p = &t.nodes[parent]
	p.children = append(p.children, idx)
	p.byID[spec.ID] = idx

	t.emit(Mutation{
		Kind:      MutationAdd,
		Index:     idx,
		Parent:    parent,
		Position:  len(p.children) - 1,
		Auto:      spec.Auto,
		Versioned: t.versionedLocked(idx),
	})
	return idx, nil
}

// Remove detaches a component (and with it its subtree) from its parent.
// The mutation is reported before the component is detached.
func (t *Tree) Remove(i Index) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid(i) || i == t.Root() {
		return ErrInvalidIndex
	}
	n := &t.nodes[i]
	if t.locked && n.Flags&FlagAuto == 0 {
		return fmt.Errorf("%w: cannot remove %q", ErrHierarchyLocked, n.ID)
	}

	t.emit(Mutation{
		Kind:      MutationRemove,
		Index:     i,
		Parent:    n.Parent,
		Position:  t.positionLocked(i),
		Auto:      n.Flags&FlagAuto != 0,
		Versioned: t.versionedLocked(i),
	})

	t.detachLocked(i)
	if d, ok := t.nodes[i].Model.(ModelDetacher); ok {
		d.DetachModel()
	}
	return nil
}

// SetModel replaces a component's model. It is a no-op when the model is
// unchanged.
func (t *Tree) SetModel(i Index, model any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid(i) {
		return ErrInvalidIndex
	}
	n := &t.nodes[i]
	if sameModel(n.Model, model) {
		return nil
	}
	t.emit(Mutation{
		Kind:      MutationModel,
		Index:     i,
		Parent:    n.Parent,
		Old:       n.Model,
		New:       model,
		Auto:      n.Flags&FlagAuto != 0,
		Versioned: t.versionedLocked(i),
	})
	n.Model = model
	return nil
}

// SetVisible toggles a component's visibility.
func (t *Tree) SetVisible(i Index, visible bool) error {
	return t.setFlag(i, FlagVisible, MutationVisible, visible)
}

// SetEnabled toggles whether a component accepts listener invocations.
func (t *Tree) SetEnabled(i Index, enabled bool) error {
	return t.setFlag(i, FlagEnabled, MutationEnabled, enabled)
}

func (t *Tree) setFlag(i Index, flag Flags, kind MutationKind, on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid(i) {
		return ErrInvalidIndex
	}
	n := &t.nodes[i]
	old := n.Flags&flag != 0
	if old == on {
		return nil
	}
	t.emit(Mutation{
		Kind:      kind,
		Index:     i,
		Parent:    n.Parent,
		Old:       old,
		New:       on,
		Auto:      n.Flags&FlagAuto != 0,
		Versioned: t.versionedLocked(i),
	})
	if on {
		n.Flags |= flag
	} else {
		n.Flags &^= flag
	}
	return nil
}

// SetVersioned sets a component's own versioning flag. It is configuration,
// not state, and is not reported to the observer.
func (t *Tree) SetVersioned(i Index, versioned bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid(i) {
		return ErrInvalidIndex
	}
	if versioned {
		t.nodes[i].Flags |= FlagVersioned
	} else {
		t.nodes[i].Flags &^= FlagVersioned
	}
	return nil
}

// Get returns a copy of the component record at i.
func (t *Tree) Get(i Index) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.valid(i) {
		return Node{}, false
	}
	return t.nodes[i], true
}

// Child returns the direct child of parent with the given id.
func (t *Tree) Child(parent Index, id string) (Index, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.valid(parent) {
		return NoIndex, false
	}
	idx, ok := t.nodes[parent].byID[id]
	return idx, ok
}

// Children returns the children of parent in insertion order.
func (t *Tree) Children(parent Index) []Index {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.valid(parent) {
		return nil
	}
	out := make([]Index, len(t.nodes[parent].children))
	copy(out, t.nodes[parent].children)
	return out
}

// Parent returns the parent of i, or NoIndex for the root.
func (t *Tree) Parent(i Index) Index {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.valid(i) {
		return NoIndex
	}
	return t.nodes[i].Parent
}

// Size returns the number of attached components, the root included.
func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	t.walkLocked(t.Root(), func(Index, Node) bool {
		count++
		return true
	})
	return count
}

// Path returns the root-relative path of i: the ids from the root's child
// down to i, joined by PathSeparator. The root's path is "".
func (t *Tree) Path(i Index) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pathLocked(i)
}

func (t *Tree) pathLocked(i Index) string {
	if !t.valid(i) {
		return ""
	}
	var ids []string
	for cur := i; cur != t.Root() && cur != NoIndex; cur = t.nodes[cur].Parent {
		ids = append(ids, t.nodes[cur].ID)
	}
	for l, r := 0, len(ids)-1; l < r; l, r = l+1, r-1 {
		ids[l], ids[r] = ids[r], ids[l]
	}
	return strings.Join(ids, PathSeparator)
}

// Lookup resolves a root-relative path.
func (t *Tree) Lookup(path string) (Index, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cur := t.Root()
	if path == "" {
		return cur, true
	}
	for _, id := range strings.Split(path, PathSeparator) {
		next, ok := t.nodes[cur].byID[id]
		if !ok {
			return NoIndex, false
		}
		cur = next
	}
	return cur, true
}

// Walk visits start and its descendants in pre-order. Returning false from
// fn skips the subtree below the visited component. fn runs under the read
// lock and must not call back into the tree.
func (t *Tree) Walk(start Index, fn func(Index, Node) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.valid(start) {
		return
	}
	t.walkLocked(start, fn)
}

func (t *Tree) walkLocked(i Index, fn func(Index, Node) bool) {
	if !fn(i, t.nodes[i]) {
		return
	}
	for _, c := range t.nodes[i].children {
		t.walkLocked(c, fn)
	}
}

// VersionedInHierarchy reports the effective versioning status of i: its
// own flag ANDed with every ancestor's.
func (t *Tree) VersionedInHierarchy(i Index) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.versionedLocked(i)
}

func (t *Tree) versionedLocked(i Index) bool {
	return t.allLocked(i, FlagVersioned)
}

// VisibleInHierarchy reports whether i and every ancestor are visible.
func (t *Tree) VisibleInHierarchy(i Index) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allLocked(i, FlagVisible)
}

// EnabledInHierarchy reports whether i and every ancestor are enabled.
func (t *Tree) EnabledInHierarchy(i Index) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allLocked(i, FlagEnabled)
}

func (t *Tree) allLocked(i Index, flag Flags) bool {
	if i < 0 || int(i) >= len(t.nodes) {
		return false
	}
	for cur := i; cur != NoIndex; cur = t.nodes[cur].Parent {
		if t.nodes[cur].Flags&flag == 0 {
			return false
		}
	}
	return true
}

func (t *Tree) positionLocked(i Index) int {
	p := t.nodes[i].Parent
	if p == NoIndex {
		return 0
	}
	for pos, c := range t.nodes[p].children {
		if c == i {
			return pos
		}
	}
	return -1
}

// MarkupOffset returns the cached markup offset of i if it was recorded
// with the given render stamp.
func (t *Tree) MarkupOffset(i Index, stamp uint64) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.valid(i) || stamp == 0 || t.nodes[i].offsetStamp != stamp {
		return 0, false
	}
	return t.nodes[i].markupOffset, true
}

// SetMarkupOffset caches the markup offset of i for the given render stamp.
func (t *Tree) SetMarkupOffset(i Index, stamp uint64, offset int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid(i) {
		return
	}
	t.nodes[i].markupOffset = offset
	t.nodes[i].offsetStamp = stamp
}

func sameModel(a, b any) bool {
	defer func() { _ = recover() }()
	return a == b
}
