package version

import (
	"fmt"

	"github.com/vango-dev/pagecycle/pkg/tree"
)

// Change is one recorded, reversible delta to a single component.
// It keeps the arena index plus the old and new values, so reversing it is
// a pure operation over any copy of the arena.
type Change struct {
	Kind     tree.MutationKind
	Index    tree.Index
	Parent   tree.Index
	Position int
	Old      any
	New      any
}

// FromMutation converts a tree mutation into a change.
func FromMutation(m tree.Mutation) Change {
	return Change{
		Kind:     m.Kind,
		Index:    m.Index,
		Parent:   m.Parent,
		Position: m.Position,
		Old:      m.Old,
		New:      m.New,
	}
}

// Undo reverses the change on t.
func (c Change) Undo(t *tree.Tree) error {
	var err error
	switch c.Kind {
	case tree.MutationAdd:
		err = t.Detach(c.Index)
	case tree.MutationRemove:
		err = t.Reattach(c.Parent, c.Index, c.Position)
	case tree.MutationModel:
		err = t.RestoreModel(c.Index, c.Old)
	case tree.MutationVisible:
		err = t.RestoreFlag(c.Index, tree.FlagVisible, c.Old.(bool))
	case tree.MutationEnabled:
		err = t.RestoreFlag(c.Index, tree.FlagEnabled, c.Old.(bool))
	default:
		err = fmt.Errorf("unknown change kind %d", c.Kind)
	}
	if err != nil {
		return fmt.Errorf("version: undo %s of component %d: %w", c.Kind, c.Index, err)
	}
	return nil
}

// String returns a short description for logs.
func (c Change) String() string {
	switch c.Kind {
	case tree.MutationAdd:
		return fmt.Sprintf("add(%d under %d)", c.Index, c.Parent)
	case tree.MutationRemove:
		return fmt.Sprintf("remove(%d from %d at %d)", c.Index, c.Parent, c.Position)
	default:
		return fmt.Sprintf("%s(%d: %v -> %v)", c.Kind, c.Index, c.Old, c.New)
	}
}
