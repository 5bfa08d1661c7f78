package tree

import "maps"

// Clone returns a deep copy of the arena. Models, behaviors and listeners
// are shared by reference; the observer and the lock state are not copied.
func (t *Tree) Clone() *Tree {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cloneLocked()
}

func (t *Tree) cloneLocked() *Tree {
	c := &Tree{nodes: make([]Node, len(t.nodes))}
	for i, n := range t.nodes {
		if n.children != nil {
			n.children = append([]Index(nil), n.children...)
		}
		if n.byID != nil {
			n.byID = maps.Clone(n.byID)
		}
		c.nodes[i] = n
	}
	return c
}

// Snapshot clones the tree and runs fn while the read lock is still held,
// so nothing fn reads can be changed by a concurrent mutation between the
// copy and fn.
func (t *Tree) Snapshot(fn func()) *Tree {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c := t.cloneLocked()
	if fn != nil {
		fn()
	}
	return c
}

// The methods below reverse recorded mutations. They bypass the observer and
// the hierarchy lock and are meant for replay on a private copy.

// Detach removes i from its parent without notification.
func (t *Tree) Detach(i Index) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid(i) || i == t.Root() {
		return ErrInvalidIndex
	}
	t.detachLocked(i)
	return nil
}

func (t *Tree) detachLocked(i Index) {
	n := &t.nodes[i]
	p := &t.nodes[n.Parent]
	pos := t.positionLocked(i)
	if pos >= 0 {
		p.children = append(p.children[:pos], p.children[pos+1:]...)
	}
	delete(p.byID, n.ID)
	n.Parent = NoIndex
	n.attached = false
}

// Reattach puts a detached component back under parent at position.
// Positions past the end append.
func (t *Tree) Reattach(parent, i Index, position int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid(parent) || i < 0 || int(i) >= len(t.nodes) || t.nodes[i].attached {
		return ErrInvalidIndex
	}
	p := &t.nodes[parent]
	if p.byID == nil {
		return ErrNotContainer
	}
	n := &t.nodes[i]
	if _, exists := p.byID[n.ID]; exists {
		return ErrDuplicateID
	}
	if position < 0 || position > len(p.children) {
		position = len(p.children)
	}
	p.children = append(p.children, NoIndex)
	copy(p.children[position+1:], p.children[position:])
	p.children[position] = i
	p.byID[n.ID] = i
	n.Parent = parent
	n.attached = true
	return nil
}

// RestoreModel sets a model without notification.
func (t *Tree) RestoreModel(i Index, model any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid(i) {
		return ErrInvalidIndex
	}
	t.nodes[i].Model = model
	return nil
}

// RestoreFlag sets or clears a state flag without notification.
func (t *Tree) RestoreFlag(i Index, flag Flags, on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid(i) {
		return ErrInvalidIndex
	}
	if on {
		t.nodes[i].Flags |= flag
	} else {
		t.nodes[i].Flags &^= flag
	}
	return nil
}
