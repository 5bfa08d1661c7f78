package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vango-dev/pagecycle/pkg/page"
	"github.com/vango-dev/pagecycle/pkg/version"
)

// DefaultMaxSteps bounds the steps one cycle may execute.
const DefaultMaxSteps = 100

// Target produces the response of a cycle.
type Target interface {
	// Respond writes the response through c.Response().
	Respond(c *Cycle) error

	// CleanUp releases resources at the end of the cycle. It runs for
	// every target pushed during the cycle.
	CleanUp(c *Cycle) error

	// SynchronizeOnSession reports whether event processing and
	// responding must hold the session's exclusivity lock.
	SynchronizeOnSession(c *Cycle) bool
}

// AccessChecker is implemented by targets with an authorization check.
// The check may refuse with an error or install another target through
// SetTarget, in which case the check runs again for the new target.
type AccessChecker interface {
	CheckAccess(c *Cycle) error
}

// EventProcessor is implemented by targets that dispatch events before
// responding.
type EventProcessor interface {
	ProcessEvents(c *Cycle) error
}

// Parameters are the decoded request parameters.
type Parameters struct {
	PageMap      string
	PageID       int
	Version      int
	Component    string
	Listener     string
	Bookmarkable string
	Resource     string
	Merge        bool
	Values       url.Values
}

// Processor decodes requests and resolves them to targets.
type Processor interface {
	DecodeParameters(c *Cycle) (Parameters, error)
	ResolveTarget(c *Cycle, params Parameters) (Target, error)
}

// ExceptionResponder turns a fault into a target that renders an error
// response. Returning an error, or a nil target, means no response can be
// produced and the fault is returned from Run.
type ExceptionResponder interface {
	RespondTo(c *Cycle, fault error) (Target, error)
}

// Session is the session a cycle runs in.
type Session interface {
	// Lock and Unlock guard the exclusive window of a cycle.
	Lock()
	Unlock()
	IsDirty() bool
	Commit(ctx context.Context) error
}

// Listener observes cycles. Implementations must be safe for concurrent
// use.
type Listener interface {
	// OnBeginRequest may return a derived context for the cycle.
	OnBeginRequest(ctx context.Context, c *Cycle) context.Context
	OnStep(c *Cycle, step Step)
	OnEndRequest(c *Cycle, err error)
}

// Config configures a Controller.
type Config struct {
	Processor Processor
	Responder ExceptionResponder
	Filters   []Filter
	Listeners []Listener

	// MaxSteps bounds the steps of one cycle. Default: DefaultMaxSteps.
	MaxSteps int

	// Logger for cycle events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Controller creates request cycles sharing one configuration.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	seq    atomic.Uint64
}

// NewController creates a controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{cfg: cfg, logger: logger.With("component", "cycle")}
}

// AddListener registers a listener. It must be called before serving.
func (ctl *Controller) AddListener(l Listener) {
	ctl.cfg.Listeners = append(ctl.cfg.Listeners, l)
}

// AddFilter appends an output filter. It must be called before serving.
func (ctl *Controller) AddFilter(f Filter) {
	ctl.cfg.Filters = append(ctl.cfg.Filters, f)
}

// NewCycle creates a cycle for one request. sess may be nil for requests
// outside any session.
func (ctl *Controller) NewCycle(ctx context.Context, req Request, resp Response, sess Session) *Cycle {
	id := uuid.NewString()
	return &Cycle{
		id:      id,
		seq:     ctl.seq.Add(1),
		ctl:     ctl,
		ctx:     ctx,
		req:     req,
		out:     resp,
		session: sess,
		logger:  ctl.logger.With("cycle", id),
	}
}

// Serve runs a new cycle for one request.
func (ctl *Controller) Serve(ctx context.Context, req Request, resp Response, sess Session) error {
	return ctl.NewCycle(ctx, req, resp, sess).Run()
}

// Cycle processes exactly one request. It runs its steps in order:
//
//	Prepare, DecodeParameters, ResolveTarget, CheckAccess,
//	ProcessEvents, Respond, [HandleException], Cleanup, Done
//
// with two rewinds. When an access check installs another target,
// CheckAccess runs again for it and the checked target moves beneath it.
// When a target is set at or after Respond, the cycle returns to
// ProcessEvents so that the next step is Respond again; events are not
// dispatched twice.
//
// A fault in any step skips to HandleException. Cleanup always runs.
type Cycle struct {
	id      string
	seq     uint64
	ctl     *Controller
	ctx     context.Context
	req     Request
	out     Response
	buf     Buffer
	session Session
	logger  *slog.Logger

	started   atomic.Bool
	startedAt time.Time
	step      Step
	targets   []Target
	params    Parameters
	fault     error
	locked    bool
}

// ID returns the cycle id.
func (c *Cycle) ID() string { return c.id }

// Seq returns a number unique among the cycles of one controller. Render
// passes use it to scope cached markup offsets to one request.
func (c *Cycle) Seq() uint64 { return c.seq }

// Context returns the cycle's context. FromContext recovers the cycle
// from it.
func (c *Cycle) Context() context.Context { return c.ctx }

// Request returns the inbound request.
func (c *Cycle) Request() Request { return c.req }

// Response returns the buffered response targets write to.
func (c *Cycle) Response() *Buffer { return &c.buf }

// Session returns the session, which may be nil.
func (c *Cycle) Session() Session { return c.session }

// Step returns the current step.
func (c *Cycle) Step() Step { return c.step }

// Parameters returns the decoded parameters.
func (c *Cycle) Parameters() Parameters { return c.params }

// Logger returns the cycle-scoped logger.
func (c *Cycle) Logger() *slog.Logger { return c.logger }

// StartedAt returns the time Run began.
func (c *Cycle) StartedAt() time.Time { return c.startedAt }

// Fault returns the fault handled by the cycle, if any.
func (c *Cycle) Fault() error { return c.fault }

// SessionLocked reports whether the cycle holds the session lock.
func (c *Cycle) SessionLocked() bool { return c.locked }

// Target returns the top of the target stack, or nil.
func (c *Cycle) Target() Target {
	if len(c.targets) == 0 {
		return nil
	}
	return c.targets[len(c.targets)-1]
}

// Targets returns the target stack, bottom first.
func (c *Cycle) Targets() []Target {
	return slices.Clone(c.targets)
}

// SetTarget pushes t as the current target. At or after Respond it
// rewinds the cycle so that t responds next, discarding any output the
// former target has buffered.
func (c *Cycle) SetTarget(t Target) {
	if t == nil {
		return
	}
	if former := c.Target(); former != nil {
		c.logger.Debug("replacing request target", "former", describe(former), "target", describe(t))
	}
	if c.step >= Respond && c.step < HandleException {
		c.logger.Debug("rewinding request processing", "to", ProcessEvents.String())
		c.buf.Reset()
		c.step = ProcessEvents
	}
	c.targets = append(c.targets, t)
}

// Run drives the cycle to Done. It returns a fault only when the exception
// responder could not handle it, joined with any error from flushing the
// response.
func (c *Cycle) Run() error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrReused
	}
	c.startedAt = time.Now()
	c.ctx = newContext(c.ctx, c)
	for _, l := range c.ctl.cfg.Listeners {
		if ctx := l.OnBeginRequest(c.ctx, c); ctx != nil {
			c.ctx = ctx
		}
	}

	err := c.steps()
	if ferr := c.cleanup(); ferr != nil {
		err = errors.Join(err, ferr)
	}
	c.enter(Done)

	for _, l := range c.ctl.cfg.Listeners {
		l.OnEndRequest(c, err)
	}
	return err
}

func (c *Cycle) enter(s Step) {
	c.step = s
	for _, l := range c.ctl.cfg.Listeners {
		l.OnStep(c, s)
	}
}

func (c *Cycle) steps() error {
	c.step = Prepare
	for n := 0; c.step < HandleException; n++ {
		if n >= c.ctl.cfg.MaxSteps {
			return c.handleException(&StepError{Step: c.step, Err: ErrInfiniteLoop})
		}
		for _, l := range c.ctl.cfg.Listeners {
			l.OnStep(c, c.step)
		}

		err := c.guard(c.runStep)
		if err == nil {
			c.step++
			continue
		}
		var restart *Restart
		if errors.As(err, &restart) {
			c.logger.Debug("restarting response", "step", c.step.String(), "target", describe(restart.Target))
			if restart.Target != nil {
				c.targets = append(c.targets, restart.Target)
			}
			c.buf.Reset()
			c.step = Respond
			continue
		}
		return c.handleException(&StepError{Step: c.step, Err: err})
	}
	return nil
}

func (c *Cycle) runStep() error {
	switch c.step {
	case Prepare:
		return nil
	case DecodeParameters:
		return c.decode()
	case ResolveTarget:
		return c.resolve()
	case CheckAccess:
		return c.checkAccess()
	case ProcessEvents:
		return c.processEventsAndRespond()
	case Respond:
		return c.withSessionLock(c.respond)
	}
	return nil
}

func (c *Cycle) decode() error {
	if c.ctl.cfg.Processor == nil {
		return errors.New("cycle: no processor configured")
	}
	params, err := c.ctl.cfg.Processor.DecodeParameters(c)
	if err != nil {
		return err
	}
	c.params = params
	return nil
}

// resolve inserts the resolved target at the bottom of the stack, so that
// targets pushed earlier in the cycle are handled first.
func (c *Cycle) resolve() error {
	t, err := c.ctl.cfg.Processor.ResolveTarget(c, c.params)
	if err != nil {
		return err
	}
	if t == nil {
		return ErrNoTarget
	}
	c.targets = slices.Insert(c.targets, 0, t)
	c.logger.Debug("request target resolved", "target", describe(t))
	return nil
}

func (c *Cycle) checkAccess() error {
	top := c.Target()
	ac, ok := top.(AccessChecker)
	if !ok {
		return nil
	}
	depth := len(c.targets)
	if err := ac.CheckAccess(c); err != nil {
		return err
	}
	if len(c.targets) == depth {
		return nil
	}

	// Substituted: layer the checked target beneath the new top and
	// check again.
	checked := c.targets[depth-1]
	c.targets = slices.Delete(c.targets, depth-1, depth)
	c.targets = slices.Insert(c.targets, len(c.targets)-1, checked)
	c.step--
	c.logger.Debug("access check substituted target",
		"checked", describe(checked),
		"target", describe(c.Target()))
	return nil
}

func (c *Cycle) processEventsAndRespond() error {
	return c.withSessionLock(func() error {
		if ep, ok := c.Target().(EventProcessor); ok {
			if err := ep.ProcessEvents(c); err != nil {
				return err
			}
		}
		for _, l := range c.ctl.cfg.Listeners {
			l.OnStep(c, Respond)
		}
		c.step = Respond
		return c.respond()
	})
}

func (c *Cycle) respond() error {
	t := c.Target()
	if t == nil {
		return ErrNoTarget
	}
	return t.Respond(c)
}

// withSessionLock runs fn holding the session lock when the current target
// asks for it. The lock is not re-entered.
func (c *Cycle) withSessionLock(fn func() error) error {
	t := c.Target()
	if c.locked || c.session == nil || t == nil || !t.SynchronizeOnSession(c) {
		return fn()
	}

	wait := time.Now()
	c.session.Lock()
	c.locked = true
	defer func() {
		c.locked = false
		c.session.Unlock()
	}()
	if waited := time.Since(wait); waited > 100*time.Millisecond {
		c.logger.Debug("waited for session lock", "duration", waited)
	}
	return fn()
}

// handleException hands a fault to the exception responder and responds
// with the target it returns. The fault is returned when that fails.
func (c *Cycle) handleException(fault error) error {
	c.enter(HandleException)
	c.fault = fault
	c.logFault(fault)
	c.buf.Reset()

	responder := c.ctl.cfg.Responder
	if responder == nil {
		return fault
	}

	var t Target
	err := c.guard(func() error {
		var err error
		t, err = responder.RespondTo(c, fault)
		return err
	})
	if err != nil {
		c.logger.Error("exception responder failed", "error", err)
		return errors.Join(fault, err)
	}
	if t == nil {
		return fault
	}

	c.targets = append(c.targets, t)
	if err := c.guard(func() error { return c.withSessionLock(c.respond) }); err != nil {
		c.logger.Error("unexpected error while handling another error", "error", err)
		c.buf.Reset()
		return errors.Join(fault, err)
	}
	return nil
}

func (c *Cycle) logFault(fault error) {
	if errors.Is(fault, page.ErrPageExpired) || errors.Is(fault, version.ErrVersionUnavailable) {
		c.logger.Info("request for unavailable page", "error", fault)
		return
	}
	attrs := []any{"error", fault}
	var p *PanicError
	if errors.As(fault, &p) {
		attrs = append(attrs, "stack", string(p.Stack))
	}
	c.logger.Error("request cycle fault", attrs...)
}

// cleanup releases every target, commits a dirty session and flushes the
// buffered response. Only the flush error is returned.
func (c *Cycle) cleanup() error {
	c.enter(Cleanup)

	for _, t := range c.targets {
		if err := c.guard(func() error { return t.CleanUp(c) }); err != nil {
			c.logger.Error("error cleaning up target", "target", describe(t), "error", err)
		}
	}

	if c.session != nil && c.session.IsDirty() {
		if err := c.guard(func() error { return c.session.Commit(c.ctx) }); err != nil {
			c.logger.Error("failed to commit session", "error", err)
		}
	}

	if c.out == nil {
		return nil
	}
	err := c.guard(func() error { return c.buf.flush(c, c.ctl.cfg.Filters, c.out) })
	if err != nil {
		c.logger.Error("failed to flush response", "error", err)
	}
	return err
}

// guard runs fn and converts a panic into a PanicError.
func (c *Cycle) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

func describe(t Target) string {
	if s, ok := t.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", t)
}
