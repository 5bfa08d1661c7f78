package cycle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRequest struct{ u *url.URL }

func (r fakeRequest) Method() string     { return "GET" }
func (r fakeRequest) URL() *url.URL      { return r.u }
func (r fakeRequest) Params() url.Values { return r.u.Query() }

func newRequest(raw string) fakeRequest {
	u, _ := url.Parse(raw)
	return fakeRequest{u: u}
}

type recorder struct {
	body        bytes.Buffer
	contentType string
	status      int
	location    string
}

func (r *recorder) Write(p []byte) (int, error)       { return r.body.Write(p) }
func (r *recorder) SetContentType(contentType string) { r.contentType = contentType }
func (r *recorder) SetStatus(code int)                { r.status = code }
func (r *recorder) Redirect(location string)          { r.location = location }

type testTarget struct {
	name     string
	sync     bool
	access   func(c *Cycle) error
	events   func(c *Cycle) error
	respond  func(c *Cycle) error
	cleanErr error

	checks    int
	processed int
	responded int
	cleaned   int
}

func (t *testTarget) String() string { return t.name }

func (t *testTarget) CheckAccess(c *Cycle) error {
	t.checks++
	if t.access != nil {
		return t.access(c)
	}
	return nil
}

func (t *testTarget) ProcessEvents(c *Cycle) error {
	t.processed++
	if t.events != nil {
		return t.events(c)
	}
	return nil
}

func (t *testTarget) Respond(c *Cycle) error {
	t.responded++
	if t.respond != nil {
		return t.respond(c)
	}
	_, err := io.WriteString(c.Response(), t.name)
	return err
}

func (t *testTarget) CleanUp(*Cycle) error {
	t.cleaned++
	return t.cleanErr
}

func (t *testTarget) SynchronizeOnSession(*Cycle) bool { return t.sync }

type processor struct {
	decode func(c *Cycle) error
	target Target
}

func (p *processor) DecodeParameters(c *Cycle) (Parameters, error) {
	if p.decode != nil {
		if err := p.decode(c); err != nil {
			return Parameters{}, err
		}
	}
	return Parameters{PageID: -1, Values: c.Request().Params()}, nil
}

func (p *processor) ResolveTarget(*Cycle, Parameters) (Target, error) {
	return p.target, nil
}

type responderFunc func(c *Cycle, fault error) (Target, error)

func (f responderFunc) RespondTo(c *Cycle, fault error) (Target, error) { return f(c, fault) }

type stepRecorder struct {
	mu    sync.Mutex
	steps []string
	ended error
	ctx   context.Context
}

type ctxKey struct{}

func (r *stepRecorder) OnBeginRequest(ctx context.Context, _ *Cycle) context.Context {
	return context.WithValue(ctx, ctxKey{}, "traced")
}

func (r *stepRecorder) OnStep(c *Cycle, s Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s.String())
	r.ctx = c.Context()
}

func (r *stepRecorder) OnEndRequest(_ *Cycle, err error) { r.ended = err }

type fakeSession struct {
	sync.Mutex
	dirty   atomic.Bool
	commits atomic.Int32
}

func (s *fakeSession) IsDirty() bool { return s.dirty.Load() }

func (s *fakeSession) Commit(context.Context) error {
	s.commits.Add(1)
	s.dirty.Store(false)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newController(p Processor, r ExceptionResponder, listeners ...Listener) *Controller {
	return NewController(Config{
		Processor: p,
		Responder: r,
		Listeners: listeners,
		Logger:    quietLogger(),
	})
}

func TestRunStepOrder(t *testing.T) {
	target := &testTarget{name: "hello"}
	rec := &stepRecorder{}
	out := &recorder{}
	ctl := newController(&processor{target: target}, nil, rec)

	if err := ctl.Serve(context.Background(), newRequest("/"), out, nil); err != nil {
		t.Fatal(err)
	}
	want := "prepare decode_parameters resolve_target check_access process_events respond cleanup done"
	if got := strings.Join(rec.steps, " "); got != want {
		t.Errorf("steps = %s\nwant    %s", got, want)
	}
	if out.body.String() != "hello" {
		t.Errorf("body = %q", out.body.String())
	}
	if target.checks != 1 || target.processed != 1 || target.responded != 1 || target.cleaned != 1 {
		t.Errorf("target calls = %+v", target)
	}
	if rec.ctx.Value(ctxKey{}) != "traced" {
		t.Error("listener context should reach the cycle")
	}
}

func TestRunTwice(t *testing.T) {
	ctl := newController(&processor{target: &testTarget{name: "x"}}, nil)
	c := ctl.NewCycle(context.Background(), newRequest("/"), &recorder{}, nil)
	if err := c.Run(); err != nil {
		t.Fatal(err)
	}
	if err := c.Run(); !errors.Is(err, ErrReused) {
		t.Errorf("second Run = %v, want ErrReused", err)
	}
	if c.Step() != Done {
		t.Errorf("Step() = %s, want done", c.Step())
	}
}

func TestResolvedTargetInsertedAtBottom(t *testing.T) {
	resolved := &testTarget{name: "resolved"}
	early := &testTarget{name: "early"}
	ctl := newController(&processor{
		target: resolved,
		decode: func(c *Cycle) error { c.SetTarget(early); return nil },
	}, nil)

	c := ctl.NewCycle(context.Background(), newRequest("/"), &recorder{}, nil)
	if err := c.Run(); err != nil {
		t.Fatal(err)
	}
	targets := c.Targets()
	if len(targets) != 2 || targets[0] != resolved || targets[1] != early {
		t.Errorf("targets = %v", targets)
	}
	if early.responded != 1 || resolved.responded != 0 {
		t.Error("the target pushed before resolution should respond")
	}
	if resolved.cleaned != 1 || early.cleaned != 1 {
		t.Error("every pushed target must be cleaned up")
	}
}

func TestAccessCheckSubstitution(t *testing.T) {
	login := &testTarget{name: "login"}
	detour := &testTarget{name: "detour"}
	secured := &testTarget{name: "secured"}
	secured.access = func(c *Cycle) error {
		c.SetTarget(detour)
		c.SetTarget(login)
		return nil
	}
	rec := &stepRecorder{}
	out := &recorder{}
	ctl := newController(&processor{target: secured}, nil, rec)

	c := ctl.NewCycle(context.Background(), newRequest("/"), out, nil)
	if err := c.Run(); err != nil {
		t.Fatal(err)
	}

	targets := c.Targets()
	if len(targets) != 3 || targets[0] != detour || targets[1] != secured || targets[2] != login {
		t.Errorf("targets = %v, want [detour secured login]", targets)
	}
	if login.checks != 1 {
		t.Errorf("substituted target checked %d times, want 1", login.checks)
	}
	if secured.responded != 0 || out.body.String() != "login" {
		t.Errorf("body = %q, secured responded %d", out.body.String(), secured.responded)
	}
	if n := strings.Count(strings.Join(rec.steps, " "), "check_access"); n != 2 {
		t.Errorf("check_access ran %d times, want 2", n)
	}
}

func TestAccessDenied(t *testing.T) {
	secured := &testTarget{name: "secured", access: func(*Cycle) error { return ErrAccessDenied }}
	var fault error
	responder := responderFunc(func(_ *Cycle, err error) (Target, error) {
		fault = err
		return &testTarget{name: "forbidden"}, nil
	})
	out := &recorder{}
	ctl := newController(&processor{target: secured}, responder)
	if err := ctl.Serve(context.Background(), newRequest("/"), out, nil); err != nil {
		t.Fatal(err)
	}
	var se *StepError
	if !errors.As(fault, &se) || se.Step != CheckAccess || !errors.Is(fault, ErrAccessDenied) {
		t.Errorf("fault = %v", fault)
	}
	if secured.processed != 0 || out.body.String() != "forbidden" {
		t.Errorf("events ran or wrong body %q", out.body.String())
	}
}

func TestLateSubstitutionDoesNotRedispatchEvents(t *testing.T) {
	next := &testTarget{name: "next"}
	first := &testTarget{name: "first"}
	first.respond = func(c *Cycle) error {
		c.SetTarget(next)
		if c.Step() != ProcessEvents {
			t.Errorf("step after late SetTarget = %s", c.Step())
		}
		return nil
	}
	rec := &stepRecorder{}
	out := &recorder{}
	ctl := newController(&processor{target: first}, nil, rec)
	if err := ctl.Serve(context.Background(), newRequest("/"), out, nil); err != nil {
		t.Fatal(err)
	}

	if first.processed != 1 || next.processed != 0 {
		t.Errorf("events dispatched first=%d next=%d; want 1, 0", first.processed, next.processed)
	}
	if next.responded != 1 || out.body.String() != "next" {
		t.Errorf("next responded %d, body %q", next.responded, out.body.String())
	}
	want := "prepare decode_parameters resolve_target check_access process_events respond respond cleanup done"
	if got := strings.Join(rec.steps, " "); got != want {
		t.Errorf("steps = %s\nwant    %s", got, want)
	}
}

func TestRestartIsNotAFault(t *testing.T) {
	other := &testTarget{name: "other"}
	first := &testTarget{name: "first", events: func(*Cycle) error { return RestartWith(other) }}
	responder := responderFunc(func(*Cycle, error) (Target, error) {
		t.Error("restart must not reach the exception responder")
		return nil, nil
	})
	out := &recorder{}
	ctl := newController(&processor{target: first}, responder)
	c := ctl.NewCycle(context.Background(), newRequest("/"), out, nil)
	if err := c.Run(); err != nil {
		t.Fatal(err)
	}
	if first.responded != 0 || other.responded != 1 {
		t.Errorf("responded first=%d other=%d", first.responded, other.responded)
	}
	if c.Fault() != nil {
		t.Errorf("Fault() = %v", c.Fault())
	}
	if out.body.String() != "other" {
		t.Errorf("body = %q", out.body.String())
	}
}

func TestRestartDiscardsPartialOutput(t *testing.T) {
	other := &testTarget{name: "other"}
	first := &testTarget{name: "first"}
	first.respond = func(c *Cycle) error {
		_, _ = io.WriteString(c.Response(), "half-written-first|")
		c.Response().SetStatus(202)
		return RestartWith(other)
	}
	out := &recorder{}
	ctl := newController(&processor{target: first}, nil)
	if err := ctl.Serve(context.Background(), newRequest("/"), out, nil); err != nil {
		t.Fatal(err)
	}
	if out.body.String() != "other" {
		t.Errorf("body = %q, want %q", out.body.String(), "other")
	}
	if out.status == 202 {
		t.Error("status set before the restart leaked into the response")
	}
}

func TestLateSubstitutionDiscardsFormerOutput(t *testing.T) {
	next := &testTarget{name: "next"}
	first := &testTarget{name: "first"}
	first.respond = func(c *Cycle) error {
		_, _ = io.WriteString(c.Response(), "first|")
		c.SetTarget(next)
		return nil
	}
	out := &recorder{}
	ctl := newController(&processor{target: first}, nil)
	if err := ctl.Serve(context.Background(), newRequest("/"), out, nil); err != nil {
		t.Fatal(err)
	}
	if out.body.String() != "next" {
		t.Errorf("body = %q, want %q", out.body.String(), "next")
	}
}

func TestFaultDiscardsPartialOutput(t *testing.T) {
	boom := errors.New("boom")
	broken := &testTarget{name: "broken", respond: func(c *Cycle) error {
		_, _ = io.WriteString(c.Response(), "partial")
		return boom
	}}
	errPage := &testTarget{name: "error page", respond: func(c *Cycle) error {
		c.Response().SetStatus(500)
		_, err := io.WriteString(c.Response(), "error page")
		return err
	}}
	out := &recorder{}
	ctl := newController(&processor{target: broken},
		responderFunc(func(*Cycle, error) (Target, error) { return errPage, nil }))

	c := ctl.NewCycle(context.Background(), newRequest("/"), out, nil)
	if err := c.Run(); err != nil {
		t.Fatalf("handled fault returned %v", err)
	}
	if out.body.String() != "error page" || out.status != 500 {
		t.Errorf("response = %d %q", out.status, out.body.String())
	}
	if !errors.Is(c.Fault(), boom) {
		t.Errorf("Fault() = %v", c.Fault())
	}
	if broken.cleaned != 1 || errPage.cleaned != 1 {
		t.Error("cleanup must release the failed target and the error target")
	}
}

func TestResponderFailurePropagates(t *testing.T) {
	boom := errors.New("boom")
	broken := &testTarget{name: "broken", respond: func(*Cycle) error { return boom }}
	rec := &stepRecorder{}
	out := &recorder{}
	ctl := newController(&processor{target: broken},
		responderFunc(func(*Cycle, error) (Target, error) { return nil, errors.New("no error page") }), rec)

	err := ctl.Serve(context.Background(), newRequest("/"), out, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Run = %v, want boom", err)
	}
	if out.body.Len() != 0 {
		t.Errorf("body = %q, want nothing", out.body.String())
	}
	if broken.cleaned != 1 {
		t.Error("cleanup must run after an unhandled fault")
	}
	if !errors.Is(rec.ended, boom) {
		t.Errorf("OnEndRequest err = %v", rec.ended)
	}
}

func TestPanicRecovered(t *testing.T) {
	broken := &testTarget{name: "broken", respond: func(*Cycle) error { panic("kaboom") }}
	var fault error
	ctl := newController(&processor{target: broken},
		responderFunc(func(_ *Cycle, err error) (Target, error) {
			fault = err
			return &testTarget{name: "sorry"}, nil
		}))
	if err := ctl.Serve(context.Background(), newRequest("/"), &recorder{}, nil); err != nil {
		t.Fatal(err)
	}
	var p *PanicError
	if !errors.As(fault, &p) || p.Value != "kaboom" || len(p.Stack) == 0 {
		t.Errorf("fault = %v", fault)
	}
}

func TestInfiniteLoopGuard(t *testing.T) {
	var loop *testTarget
	loop = &testTarget{name: "loop", respond: func(*Cycle) error { return RestartWith(loop) }}
	ctl := NewController(Config{
		Processor: &processor{target: loop},
		MaxSteps:  10,
		Logger:    quietLogger(),
	})
	err := ctl.Serve(context.Background(), newRequest("/"), &recorder{}, nil)
	if !errors.Is(err, ErrInfiniteLoop) {
		t.Errorf("Run = %v, want ErrInfiniteLoop", err)
	}
}

func TestNoTargetResolved(t *testing.T) {
	ctl := newController(&processor{}, nil)
	err := ctl.Serve(context.Background(), newRequest("/"), &recorder{}, nil)
	if !errors.Is(err, ErrNoTarget) {
		t.Errorf("Run = %v, want ErrNoTarget", err)
	}
}

func TestCleanupAlwaysRuns(t *testing.T) {
	sess := &fakeSession{}
	sess.dirty.Store(true)
	failing := &testTarget{name: "failing", cleanErr: errors.New("release failed")}
	out := &recorder{}
	ctl := newController(&processor{target: failing}, nil)
	ctl.AddFilter(FilterFunc(func(_ *Cycle, b []byte) ([]byte, error) {
		return bytes.ToUpper(b), nil
	}))
	ctl.AddFilter(FilterFunc(func(_ *Cycle, b []byte) ([]byte, error) {
		return append([]byte("<"), append(b, '>')...), nil
	}))

	if err := ctl.Serve(context.Background(), newRequest("/"), out, sess); err != nil {
		t.Fatalf("failing CleanUp must not fail the cycle: %v", err)
	}
	if out.body.String() != "<FAILING>" {
		t.Errorf("filtered body = %q", out.body.String())
	}
	if sess.commits.Load() != 1 {
		t.Errorf("commits = %d, want 1", sess.commits.Load())
	}
}

func TestFilterFailureReturned(t *testing.T) {
	ctl := newController(&processor{target: &testTarget{name: "x"}}, nil)
	ctl.AddFilter(FilterFunc(func(*Cycle, []byte) ([]byte, error) { return nil, errors.New("bad filter") }))
	out := &recorder{}
	if err := ctl.Serve(context.Background(), newRequest("/"), out, nil); err == nil {
		t.Error("filter failure should be returned from Run")
	}
	if out.body.Len() != 0 {
		t.Errorf("body = %q", out.body.String())
	}
}

func TestRedirectSkipsBody(t *testing.T) {
	target := &testTarget{name: "x", respond: func(c *Cycle) error {
		_, _ = io.WriteString(c.Response(), "ignored")
		c.Response().Redirect("/p/home")
		return nil
	}}
	out := &recorder{}
	ctl := newController(&processor{target: target}, nil)
	if err := ctl.Serve(context.Background(), newRequest("/"), out, nil); err != nil {
		t.Fatal(err)
	}
	if out.location != "/p/home" || out.body.Len() != 0 {
		t.Errorf("location %q body %q", out.location, out.body.String())
	}
}

func TestFromContext(t *testing.T) {
	var found *Cycle
	var self *Cycle
	target := &testTarget{name: "x", respond: func(c *Cycle) error {
		self = c
		found, _ = FromContext(c.Context())
		return nil
	}}
	ctl := newController(&processor{target: target}, nil)
	if err := ctl.Serve(context.Background(), newRequest("/"), &recorder{}, nil); err != nil {
		t.Fatal(err)
	}
	if found == nil || found != self {
		t.Error("FromContext should return the running cycle")
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Error("FromContext on a bare context should fail")
	}
}

func TestSessionLockNeverOverlaps(t *testing.T) {
	sess := &fakeSession{}
	var inside, maxInside atomic.Int32
	enter := func() {
		n := inside.Add(1)
		for {
			m := maxInside.Load()
			if n <= m || maxInside.CompareAndSwap(m, n) {
				break
			}
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			target := &testTarget{
				name: "locked",
				sync: true,
				events: func(c *Cycle) error {
					if !c.SessionLocked() {
						t.Error("events ran without the session lock")
					}
					enter()
					return nil
				},
				respond: func(*Cycle) error {
					time.Sleep(time.Millisecond)
					inside.Add(-1)
					return nil
				},
			}
			ctl := newController(&processor{target: target}, nil)
			if err := ctl.Serve(context.Background(), newRequest("/"), &recorder{}, sess); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Errorf("max concurrent locked windows = %d, want 1", maxInside.Load())
	}
}

func TestUnsynchronizedTargetIgnoresLock(t *testing.T) {
	sess := &fakeSession{}
	sess.Lock()
	defer sess.Unlock()

	done := make(chan error, 1)
	go func() {
		ctl := newController(&processor{target: &testTarget{name: "resource"}}, nil)
		done <- ctl.Serve(context.Background(), newRequest("/"), &recorder{}, sess)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("unsynchronized target blocked on the session lock")
	}
}

func TestStepString(t *testing.T) {
	if CheckAccess.String() != "check_access" || Step(99).String() != "unknown" {
		t.Errorf("String() = %s, %s", CheckAccess, Step(99))
	}
}
