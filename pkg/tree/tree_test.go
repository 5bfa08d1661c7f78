package tree

import (
	"errors"
	"testing"
)

func mustAdd(t *testing.T, tr *Tree, parent Index, spec Spec) Index {
	t.Helper()
	idx, err := tr.Add(parent, spec)
	if err != nil {
		t.Fatalf("Add(%q) error = %v", spec.ID, err)
	}
	return idx
}

func TestAddAndLookup(t *testing.T) {
	tr := New("page")
	form := mustAdd(t, tr, tr.Root(), Spec{ID: "form", Container: true})
	name := mustAdd(t, tr, form, Spec{ID: "name", Model: "Ada"})

	if got := tr.Path(name); got != "form:name" {
		t.Errorf("Path() = %q, want form:name", got)
	}
	if idx, ok := tr.Lookup("form:name"); !ok || idx != name {
		t.Errorf("Lookup() = %d, %v", idx, ok)
	}
	if _, ok := tr.Lookup("form:missing"); ok {
		t.Error("Lookup(missing) should fail")
	}
	if idx, ok := tr.Child(form, "name"); !ok || idx != name {
		t.Errorf("Child() = %d, %v", idx, ok)
	}
	if tr.Parent(name) != form {
		t.Errorf("Parent() = %d, want %d", tr.Parent(name), form)
	}
	if tr.Size() != 3 {
		t.Errorf("Size() = %d, want 3", tr.Size())
	}
}

func TestAddErrors(t *testing.T) {
	tr := New("page")
	leaf := mustAdd(t, tr, tr.Root(), Spec{ID: "leaf"})

	if _, err := tr.Add(leaf, Spec{ID: "x"}); !errors.Is(err, ErrNotContainer) {
		t.Errorf("Add to leaf: err = %v, want ErrNotContainer", err)
	}
	if _, err := tr.Add(tr.Root(), Spec{ID: "leaf"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate Add: err = %v, want ErrDuplicateID", err)
	}
	if _, err := tr.Add(tr.Root(), Spec{}); !errors.Is(err, ErrEmptyID) {
		t.Errorf("empty id: err = %v, want ErrEmptyID", err)
	}
	if _, err := tr.Add(tr.Root(), Spec{ID: "a:b"}); err == nil {
		t.Error("id with separator should fail")
	}
}

func TestHierarchyLock(t *testing.T) {
	tr := New("page")
	leaf := mustAdd(t, tr, tr.Root(), Spec{ID: "leaf"})
	tr.SetLocked(true)

	if _, err := tr.Add(tr.Root(), Spec{ID: "late"}); !errors.Is(err, ErrHierarchyLocked) {
		t.Errorf("locked Add: err = %v, want ErrHierarchyLocked", err)
	}
	if err := tr.Remove(leaf); !errors.Is(err, ErrHierarchyLocked) {
		t.Errorf("locked Remove: err = %v, want ErrHierarchyLocked", err)
	}
	auto, err := tr.Add(tr.Root(), Spec{ID: "auto", Auto: true})
	if err != nil {
		t.Fatalf("auto Add while locked: %v", err)
	}
	if err := tr.Remove(auto); err != nil {
		t.Errorf("auto Remove while locked: %v", err)
	}
	if err := tr.SetModel(leaf, "ok"); err != nil {
		t.Errorf("model change while locked: %v", err)
	}
}

func TestObserverMutations(t *testing.T) {
	tr := New("page")
	var got []Mutation
	tr.SetObserver(func(m Mutation) { got = append(got, m) })

	box := mustAdd(t, tr, tr.Root(), Spec{ID: "box", Container: true, Unversioned: true})
	child := mustAdd(t, tr, box, Spec{ID: "child", Model: 1})
	_ = tr.SetModel(child, 1) // unchanged, no mutation
	_ = tr.SetModel(child, 2)
	_ = tr.SetVisible(child, false)
	_ = tr.SetEnabled(child, false)
	if err := tr.Remove(child); err != nil {
		t.Fatal(err)
	}

	kinds := []MutationKind{MutationAdd, MutationAdd, MutationModel, MutationVisible, MutationEnabled, MutationRemove}
	if len(got) != len(kinds) {
		t.Fatalf("got %d mutations, want %d", len(got), len(kinds))
	}
	for i, k := range kinds {
		if got[i].Kind != k {
			t.Errorf("mutation %d kind = %v, want %v", i, got[i].Kind, k)
		}
	}
	if got[2].Old != 1 || got[2].New != 2 {
		t.Errorf("model mutation old/new = %v/%v", got[2].Old, got[2].New)
	}
	for _, m := range got[1:] {
		if m.Versioned {
			t.Errorf("%v under unversioned parent reported Versioned", m.Kind)
		}
	}
	if got[5].Parent != box || got[5].Position != 0 {
		t.Errorf("remove mutation parent/pos = %d/%d", got[5].Parent, got[5].Position)
	}
}

func TestRemoveEmitsBeforeDetach(t *testing.T) {
	tr := New("page")
	leaf := mustAdd(t, tr, tr.Root(), Spec{ID: "leaf"})

	var attachedAtEmit bool
	tr.SetObserver(func(m Mutation) {
		// Observer runs under the lock; inspect the arena directly.
		attachedAtEmit = tr.nodes[m.Index].attached
	})
	if err := tr.Remove(leaf); err != nil {
		t.Fatal(err)
	}
	if !attachedAtEmit {
		t.Error("remove mutation emitted after detach")
	}
	if _, ok := tr.Get(leaf); ok {
		t.Error("removed node still reachable")
	}
}

type detachingModel struct{ detached bool }

func (m *detachingModel) DetachModel() { m.detached = true }

func TestRemoveDetachesModel(t *testing.T) {
	tr := New("page")
	m := &detachingModel{}
	leaf := mustAdd(t, tr, tr.Root(), Spec{ID: "leaf", Model: m})
	if err := tr.Remove(leaf); err != nil {
		t.Fatal(err)
	}
	if !m.detached {
		t.Error("model was not detached")
	}
}

func TestHierarchyFlags(t *testing.T) {
	tr := New("page")
	outer := mustAdd(t, tr, tr.Root(), Spec{ID: "outer", Container: true, Unversioned: true, Hidden: true})
	inner := mustAdd(t, tr, outer, Spec{ID: "inner"})

	if tr.VersionedInHierarchy(inner) {
		t.Error("inner should inherit unversioned parent")
	}
	if tr.VisibleInHierarchy(inner) {
		t.Error("inner should inherit hidden parent")
	}
	_ = tr.SetVersioned(outer, true)
	_ = tr.SetVisible(outer, true)
	if !tr.VersionedInHierarchy(inner) || !tr.VisibleInHierarchy(inner) {
		t.Error("flags should be effective once every ancestor has them")
	}

	_ = tr.SetEnabled(outer, false)
	if n, _ := tr.Get(inner); !n.Enabled() {
		t.Fatal("disabling outer changed inner's own flag")
	}
	if tr.EnabledInHierarchy(inner) {
		t.Error("inner should inherit disabled parent")
	}
	_ = tr.SetEnabled(outer, true)
	if !tr.EnabledInHierarchy(inner) {
		t.Error("inner should be enabled once every ancestor is")
	}
}

func TestWalkSkipsSubtree(t *testing.T) {
	tr := New("page")
	a := mustAdd(t, tr, tr.Root(), Spec{ID: "a", Container: true})
	mustAdd(t, tr, a, Spec{ID: "a1"})
	mustAdd(t, tr, tr.Root(), Spec{ID: "b"})

	var ids []string
	tr.Walk(tr.Root(), func(_ Index, n Node) bool {
		ids = append(ids, n.ID)
		return n.ID != "a"
	})
	want := []string{"page", "a", "b"}
	if len(ids) != len(want) {
		t.Fatalf("Walk ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("Walk ids = %v, want %v", ids, want)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tr := New("page")
	a := mustAdd(t, tr, tr.Root(), Spec{ID: "a", Model: "x"})
	c := tr.Clone()

	_ = tr.SetModel(a, "y")
	mustAdd(t, tr, tr.Root(), Spec{ID: "b"})

	n, _ := c.Get(a)
	if n.Model != "x" {
		t.Errorf("clone model = %v, want x", n.Model)
	}
	if len(c.Children(c.Root())) != 1 {
		t.Errorf("clone children = %d, want 1", len(c.Children(c.Root())))
	}
}

func TestDetachReattachRestoresOrder(t *testing.T) {
	tr := New("page")
	mustAdd(t, tr, tr.Root(), Spec{ID: "a"})
	b := mustAdd(t, tr, tr.Root(), Spec{ID: "b"})
	mustAdd(t, tr, tr.Root(), Spec{ID: "c"})

	if err := tr.Detach(b); err != nil {
		t.Fatal(err)
	}
	if err := tr.Reattach(tr.Root(), b, 1); err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, c := range tr.Children(tr.Root()) {
		n, _ := tr.Get(c)
		ids = append(ids, n.ID)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("children after reattach = %v", ids)
	}
	if err := tr.Reattach(tr.Root(), b, 0); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("reattach of attached node: err = %v", err)
	}
}

func TestMarkupOffsetStamp(t *testing.T) {
	tr := New("page")
	a := mustAdd(t, tr, tr.Root(), Spec{ID: "a"})

	tr.SetMarkupOffset(a, 7, 12)
	if off, ok := tr.MarkupOffset(a, 7); !ok || off != 12 {
		t.Errorf("MarkupOffset(stamp 7) = %d, %v", off, ok)
	}
	if _, ok := tr.MarkupOffset(a, 8); ok {
		t.Error("offset from another stamp should be invalid")
	}
}

func TestUncomparableModels(t *testing.T) {
	tr := New("page")
	a := mustAdd(t, tr, tr.Root(), Spec{ID: "a", Model: []string{"x"}})

	var count int
	tr.SetObserver(func(Mutation) { count++ })
	if err := tr.SetModel(a, []string{"x"}); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("uncomparable model change emitted %d mutations, want 1", count)
	}
}
