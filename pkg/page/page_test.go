package page

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/pagecycle/pkg/tree"
	"github.com/vango-dev/pagecycle/pkg/version"
)

func describe(t *tree.Tree) string {
	var b strings.Builder
	t.Walk(t.Root(), func(_ tree.Index, n tree.Node) bool {
		fmt.Fprintf(&b, "%s=%v;", n.ID, n.Model)
		return true
	})
	return b.String()
}

func newListPage(t *testing.T, opts ...Option) (*Page, tree.Index) {
	t.Helper()
	tr := tree.New("list")
	items, err := tr.Add(tr.Root(), tree.Spec{ID: "items", Container: true})
	if err != nil {
		t.Fatal(err)
	}
	return New("list", tr, opts...), items
}

func TestTrackingDormantDuringCreation(t *testing.T) {
	p, items := newListPage(t)
	_, _ = p.Tree().Add(items, tree.Spec{ID: "a"})

	if p.Versions() != nil {
		t.Fatal("mutations in the creating request must not create history")
	}
	if !p.IsDirty() {
		t.Error("mutation should mark the page dirty")
	}
	p.EndRequest()
	if !p.Tracking() {
		t.Fatal("tracking should be active after the first request")
	}

	_, _ = p.Tree().Add(items, tree.Spec{ID: "b"})
	if p.Versions() == nil || !p.Versions().IsOpen() {
		t.Fatal("first tracked mutation should open a version")
	}
	p.EndRequest()
	if p.CurrentVersion() != 1 {
		t.Errorf("CurrentVersion() = %d, want 1", p.CurrentVersion())
	}
}

func TestVersionReconstructsEveryRequest(t *testing.T) {
	p, items := newListPage(t, WithMaxVersions(100))
	p.EndRequest()

	states := []string{describe(p.Tree())}
	var added []tree.Index
	for req := 1; req <= 6; req++ {
		idx, err := p.Tree().Add(items, tree.Spec{ID: fmt.Sprintf("i%d", req), Model: req})
		if err != nil {
			t.Fatal(err)
		}
		added = append(added, idx)
		if req%2 == 0 {
			_ = p.Tree().SetModel(added[0], fmt.Sprintf("changed-%d", req))
		}
		if req == 5 {
			_ = p.Tree().Remove(added[1])
		}
		p.EndRequest()
		states = append(states, describe(p.Tree()))
	}

	for k := 0; k <= 6; k++ {
		v, err := p.Version(k)
		if err != nil {
			t.Fatalf("Version(%d) error = %v", k, err)
		}
		if got := describe(v.Tree()); got != states[k] {
			t.Errorf("Version(%d) = %s, want %s", k, got, states[k])
		}
		switch {
		case k == 6 && v != p:
			t.Error("current version should return the live page")
		case k == 0 && v.Versions() != nil:
			t.Error("version 0 must carry no version manager")
		case k > 0 && k < 6 && v.CurrentVersion() != k:
			t.Errorf("Version(%d).CurrentVersion() = %d", k, v.CurrentVersion())
		}
	}
	if describe(p.Tree()) != states[6] {
		t.Error("reconstruction modified the live tree")
	}
}

func TestAutoComponentsNeverVersioned(t *testing.T) {
	p, items := newListPage(t)
	p.EndRequest()

	auto, _ := p.Tree().Add(items, tree.Spec{ID: "auto", Auto: true})
	_ = p.Tree().SetModel(auto, "x")
	_ = p.Tree().Remove(auto)
	p.EndRequest()

	if p.CurrentVersion() != 0 {
		t.Errorf("auto-only request created version %d", p.CurrentVersion())
	}
}

func TestEvictedVersionIsUnavailable(t *testing.T) {
	p, items := newListPage(t, WithMaxVersions(2))
	p.EndRequest()
	for i := 0; i < 4; i++ {
		_, _ = p.Tree().Add(items, tree.Spec{ID: fmt.Sprintf("i%d", i)})
		p.EndRequest()
	}

	v, err := p.Version(0)
	if !errors.Is(err, version.ErrVersionUnavailable) {
		t.Fatalf("Version(0) err = %v, want ErrVersionUnavailable", err)
	}
	if v != nil {
		t.Error("unavailable version must not return a page")
	}
	if _, err := p.Version(2); err != nil {
		t.Errorf("Version(2) err = %v", err)
	}
}

type recordingHooks struct {
	mu       sync.Mutex
	closed   []int
	evicted  int
	restored []int
}

func (h *recordingHooks) VersionClosed(_ *Page, current, evicted int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, current)
	h.evicted += evicted
}

func (h *recordingHooks) VersionReconstructed(_ *Page, v int, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restored = append(h.restored, v)
}

func TestHooks(t *testing.T) {
	hooks := &recordingHooks{}
	p, items := newListPage(t, WithMaxVersions(1), WithHooks(hooks))
	p.EndRequest()
	for i := 0; i < 2; i++ {
		_, _ = p.Tree().Add(items, tree.Spec{ID: fmt.Sprintf("i%d", i)})
		p.EndRequest()
	}
	if _, err := p.Version(1); err != nil {
		t.Fatal(err)
	}

	if len(hooks.closed) != 2 || hooks.closed[1] != 2 {
		t.Errorf("closed = %v", hooks.closed)
	}
	if hooks.evicted != 1 {
		t.Errorf("evicted = %d, want 1", hooks.evicted)
	}
	if len(hooks.restored) != 1 || hooks.restored[0] != 1 {
		t.Errorf("restored = %v", hooks.restored)
	}
}

func TestMergeNextVersion(t *testing.T) {
	p, items := newListPage(t)
	p.EndRequest()
	_, _ = p.Tree().Add(items, tree.Spec{ID: "a"})
	p.EndRequest()

	p.MergeNextVersion()
	_, _ = p.Tree().Add(items, tree.Spec{ID: "b"})
	p.EndRequest()

	if p.CurrentVersion() != 1 {
		t.Errorf("CurrentVersion() = %d, want 1 after merge", p.CurrentVersion())
	}
}

func TestConcurrentReconstruction(t *testing.T) {
	p, items := newListPage(t, WithMaxVersions(1000))
	p.EndRequest()
	for i := 0; i < 5; i++ {
		_, _ = p.Tree().Add(items, tree.Spec{ID: fmt.Sprintf("seed%d", i)})
		p.EndRequest()
	}
	want := describe(mustVersion(t, p, 2).Tree())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, _ = p.Tree().Add(items, tree.Spec{ID: fmt.Sprintf("live%d", i)})
			if i%5 == 0 {
				p.EndRequest()
			}
		}
	}()
	errs := make(chan error, 8)
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				v, err := p.Version(2)
				if err != nil {
					errs <- err
					return
				}
				if got := describe(v.Tree()); got != want {
					errs <- fmt.Errorf("version 2 = %s, want %s", got, want)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func mustVersion(t *testing.T, p *Page, n int) *Page {
	t.Helper()
	v, err := p.Version(n)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestRenderedSet(t *testing.T) {
	p, items := newListPage(t)
	if !p.MarkRendered(items) {
		t.Fatal("first MarkRendered should succeed")
	}
	if p.MarkRendered(items) {
		t.Error("second MarkRendered should fail")
	}
	p.ResetRendered()
	if p.Rendered(items) {
		t.Error("ResetRendered should clear the set")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(WithMaxVersions(3))
	r.MustRegister("home", func(_ context.Context, params url.Values) (*tree.Tree, error) {
		tr := tree.New("home")
		_, err := tr.Add(tr.Root(), tree.Spec{ID: "who", Model: params.Get("who")})
		return tr, err
	})

	if err := r.Register("home", nil); err == nil {
		t.Error("duplicate registration should fail")
	}
	p, err := r.New(context.Background(), "home", url.Values{"who": {"Ada"}})
	if err != nil {
		t.Fatal(err)
	}
	if p.Type() != "home" || p.ID() != NoID {
		t.Errorf("page = %s", p)
	}
	idx, _ := p.Tree().Lookup("who")
	if n, _ := p.Tree().Get(idx); n.Model != "Ada" {
		t.Errorf("model = %v", n.Model)
	}
	if _, err := r.New(context.Background(), "missing", nil); !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
	if types := r.Types(); len(types) != 1 || types[0] != "home" {
		t.Errorf("Types() = %v", types)
	}
}
