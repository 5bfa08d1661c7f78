package tree

import "context"

// Index addresses one component record in a Tree's arena.
// Indexes are never reused, so a removed component keeps its slot and can be
// reattached by version replay.
type Index int32

// NoIndex is the parent of the root and the result of failed lookups.
const NoIndex Index = -1

// Flags is the component state bit set.
type Flags uint8

const (
	FlagVisible   Flags = 1 << iota // Renders output
	FlagEnabled                     // Accepts listener invocations
	FlagVersioned                   // Participates in versioning (own flag only)
	FlagAuto                        // Inserted by the framework during resolution
)

// Listener is a named, zero-argument callback exposed by a component.
// It receives the tree that owns it and its own index.
type Listener func(ctx context.Context, t *Tree, self Index) error

// Node is one component record.
//
// A node is a container when it owns a child map; capabilities are decided by
// presence, not by type. Node values returned from Tree accessors are copies;
// mutate through the Tree.
type Node struct {
	ID        string
	Parent    Index
	Model     any
	Flags     Flags
	Behavior  any
	Listeners map[string]Listener

	children []Index
	byID     map[string]Index
	attached bool

	markupOffset int
	offsetStamp  uint64
}

// IsContainer reports whether the node can hold children.
func (n Node) IsContainer() bool { return n.byID != nil }

// Visible reports the node's own visibility flag.
func (n Node) Visible() bool { return n.Flags&FlagVisible != 0 }

// Enabled reports the node's own enabled flag.
func (n Node) Enabled() bool { return n.Flags&FlagEnabled != 0 }

// Versioned reports the node's own versioning flag.
func (n Node) Versioned() bool { return n.Flags&FlagVersioned != 0 }

// Auto reports whether the node was inserted by the framework.
func (n Node) Auto() bool { return n.Flags&FlagAuto != 0 }

// Attached reports whether the node is currently part of the tree.
func (n Node) Attached() bool { return n.attached }

// ChildCount returns the number of children of a container.
func (n Node) ChildCount() int { return len(n.children) }

// Listener returns the named listener, if the node exposes it.
func (n Node) Listener(name string) (Listener, bool) {
	l, ok := n.Listeners[name]
	return l, ok
}

// Spec describes a component to add.
// The zero value is a visible, enabled, versioned leaf.
type Spec struct {
	ID          string
	Model       any
	Container   bool
	Hidden      bool
	Disabled    bool
	Unversioned bool
	Auto        bool
	Behavior    any
	Listeners   map[string]Listener
}

func (s Spec) flags() Flags {
	var f Flags
	if !s.Hidden {
		f |= FlagVisible
	}
	if !s.Disabled {
		f |= FlagEnabled
	}
	if !s.Unversioned {
		f |= FlagVersioned
	}
	if s.Auto {
		f |= FlagAuto
	}
	return f
}

// ModelDetacher is implemented by models that hold request-scoped state
// which should be released when their component is removed.
type ModelDetacher interface {
	DetachModel()
}

// MutationKind identifies a tree mutation.
type MutationKind uint8

const (
	MutationAdd MutationKind = iota
	MutationRemove
	MutationModel
	MutationVisible
	MutationEnabled
)

// String returns the string representation of the MutationKind.
func (k MutationKind) String() string {
	switch k {
	case MutationAdd:
		return "add"
	case MutationRemove:
		return "remove"
	case MutationModel:
		return "model"
	case MutationVisible:
		return "visible"
	case MutationEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// Mutation describes one change to the tree, reported to the observer.
//
// Versioned is the effective versioning status of the affected node (its own
// flag ANDed with every ancestor's), evaluated when the mutation is emitted.
// Removals are emitted before the node is detached.
type Mutation struct {
	Kind      MutationKind
	Index     Index
	Parent    Index
	Position  int
	Old       any
	New       any
	Auto      bool
	Versioned bool
}
