package pagecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/pagecycle/internal/config"
	"github.com/vango-dev/pagecycle/pkg/cycle"
	"github.com/vango-dev/pagecycle/pkg/markup"
	"github.com/vango-dev/pagecycle/pkg/middleware"
	"github.com/vango-dev/pagecycle/pkg/page"
	"github.com/vango-dev/pagecycle/pkg/render"
	"github.com/vango-dev/pagecycle/pkg/resource"
	"github.com/vango-dev/pagecycle/pkg/server"
	"github.com/vango-dev/pagecycle/pkg/session"
	"github.com/vango-dev/pagecycle/pkg/target"
)

// SlowRequestThreshold is the duration above which completed requests are
// logged at Info.
const SlowRequestThreshold = 500 * time.Millisecond

// App is the composition root: it builds every subsystem from a
// configuration and serves request cycles over HTTP.
//
//	app, err := pagecycle.New(cfg, pagecycle.WithHomePage("home"))
//	if err != nil {
//	    return err
//	}
//	app.Pages().MustRegister("home", buildHome)
//	return app.Run(ctx)
type App struct {
	config *config.Config
	logger *slog.Logger

	env        *target.Env
	pages      *page.Registry
	resources  *resource.Registry
	engine     *render.Engine
	cache      *markup.Cache
	watcher    *markup.Watcher
	usesDir    bool
	store      session.Store
	sessions   *session.Manager
	metrics    *middleware.Metrics
	registry   *prometheus.Registry
	controller *cycle.Controller
	server     *server.Server

	closeOnce sync.Once
	closeErr  error
}

// Option configures an App.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	markup     markup.Source
	store      session.Store
	s3Client   session.S3API
	registry   *prometheus.Registry
	homeType   string
	loginType  string
	allow      func(ctx context.Context, pageType string) bool
	errorPages map[int]string
	detailed   bool
	listeners  []cycle.Listener
	filters    []cycle.Filter
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMarkup replaces the template directory with src. Templates are
// still cached.
func WithMarkup(src markup.Source) Option {
	return func(o *options) { o.markup = src }
}

// WithStore replaces the configured session store.
func WithStore(store session.Store) Option {
	return func(o *options) { o.store = store }
}

// WithS3Client sets the client used by the s3 session store.
func WithS3Client(client session.S3API) Option {
	return func(o *options) { o.s3Client = client }
}

// WithMetricsRegistry registers metrics with reg instead of a private
// registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithHomePage sets the page type created for the root URL.
func WithHomePage(typeID string) Option {
	return func(o *options) { o.homeType = typeID }
}

// WithAccess installs an access check for bookmarkable pages. Denied
// requests are sent to loginType when it is not empty.
func WithAccess(allow func(ctx context.Context, pageType string) bool, loginType string) Option {
	return func(o *options) {
		o.allow = allow
		o.loginType = loginType
	}
}

// WithErrorPage renders page type typeID for faults mapped to status.
func WithErrorPage(status int, typeID string) Option {
	return func(o *options) {
		if o.errorPages == nil {
			o.errorPages = make(map[int]string)
		}
		o.errorPages[status] = typeID
	}
}

// WithDetailedErrors includes fault messages in default error pages.
func WithDetailedErrors(on bool) Option {
	return func(o *options) { o.detailed = on }
}

// WithListener adds a request cycle listener.
func WithListener(l cycle.Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// WithFilter adds an output filter.
func WithFilter(f cycle.Filter) Option {
	return func(o *options) { o.filters = append(o.filters, f) }
}

// New builds an application from a configuration obtained with
// config.New, config.Load or config.LoadFile. A nil cfg uses config.New().
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	a := &App{
		config: cfg,
		logger: o.logger.With("component", "app"),
	}
	if err := a.build(&o); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(o *options) error {
	cfg := a.config
	logger := o.logger

	var pageOpts []page.Option
	if cfg.Pages.MaxVersions > 0 {
		pageOpts = append(pageOpts, page.WithMaxVersions(cfg.Pages.MaxVersions))
	}
	listeners := []cycle.Listener{middleware.NewLogging(logger, SlowRequestThreshold)}

	if cfg.Metrics.Enabled {
		a.registry = o.registry
		if a.registry == nil {
			a.registry = prometheus.NewRegistry()
		}
		a.metrics = middleware.Prometheus(
			middleware.WithNamespace(cfg.Metrics.Namespace),
			middleware.WithRegistry(a.registry))
		pageOpts = append(pageOpts, page.WithHooks(a.metrics))
		listeners = append(listeners, a.metrics, sessionGauge{a})
	}
	if cfg.Tracing.Enabled {
		listeners = append(listeners, middleware.OpenTelemetry(
			middleware.WithTracerName(cfg.Tracing.TracerName),
			middleware.WithStepEvents(true)))
	}
	listeners = append(listeners, o.listeners...)

	a.pages = page.NewRegistry(pageOpts...)
	a.engine = render.New(render.Config{
		CheckRendering: cfg.CheckRendering(),
		StripTags:      cfg.Render.StripTags,
		Resolvers:      []render.Resolver{render.EnclosureResolver{}},
		Logger:         logger,
	})

	var err error
	a.resources, err = resource.NewRegistry(resource.Config{Logger: logger})
	if err != nil {
		return err
	}

	src := o.markup
	dir := markup.DirSource{Dir: cfg.Markup.Dir}
	if src == nil {
		src = dir
		a.usesDir = true
	}
	if a.cache, err = markup.NewCache(src, cfg.Markup.CacheSize, logger); err != nil {
		return fmt.Errorf("pagecycle: markup cache: %w", err)
	}
	if cfg.Markup.Watch && o.markup == nil {
		if a.watcher, err = markup.NewWatcher(dir, a.cache, logger); err != nil {
			return fmt.Errorf("pagecycle: watch %s: %w", dir.Dir, err)
		}
	}

	a.store = o.store
	if a.store == nil {
		if a.store, err = openStore(context.Background(), cfg, o.s3Client, logger); err != nil {
			return err
		}
	}
	a.sessions = session.NewManager(a.store, session.Config{
		MaxSessions: cfg.Session.MaxSessions,
		TTL:         config.Duration(cfg.Session.TTL, 30*time.Minute),
		MaxPages:    cfg.Pages.MaxPerMap,
	}, logger)

	a.env = &target.Env{
		Engine:    a.engine,
		Markup:    a.cache,
		Pages:     a.pages,
		Resources: a.resources,
		Allow:     o.allow,
		LoginType: o.loginType,
	}
	var responder cycle.ExceptionResponder = &Responder{Detailed: o.detailed}
	if len(o.errorPages) > 0 {
		responder = &pageResponder{Responder: Responder{Detailed: o.detailed}, env: a.env, pages: o.errorPages}
	}
	a.controller = cycle.NewController(cycle.Config{
		Processor: NewProcessor(a.env, o.homeType),
		Responder: responder,
		Filters:   o.filters,
		Listeners: listeners,
		Logger:    logger,
	})

	a.server = server.New(a.controller, a.sessions, a.serverConfig(), logger)
	return nil
}

func (a *App) serverConfig() *server.Config {
	cfg := a.config
	def := server.DefaultConfig()
	sc := def.WithAddress(cfg.Server.Addr)
	sc.ReadTimeout = config.Duration(cfg.Server.ReadTimeout, def.ReadTimeout)
	sc.WriteTimeout = config.Duration(cfg.Server.WriteTimeout, def.WriteTimeout)
	sc.IdleTimeout = config.Duration(cfg.Server.IdleTimeout, def.IdleTimeout)
	sc.ShutdownTimeout = config.Duration(cfg.Server.ShutdownTimeout, def.ShutdownTimeout)
	sc.CookieName = cfg.Server.CookieName
	sc.SecureCookies = cfg.Server.SecureCookie
	if a.registry != nil {
		sc.Gatherer = a.registry
	}
	return sc
}

// Pages returns the page type registry.
func (a *App) Pages() *page.Registry { return a.pages }

// Resources returns the shared resource registry.
func (a *App) Resources() *resource.Registry { return a.resources }

// Engine returns the render engine.
func (a *App) Engine() *render.Engine { return a.engine }

// Markup returns the template cache.
func (a *App) Markup() *markup.Cache { return a.cache }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Controller returns the request cycle controller.
func (a *App) Controller() *cycle.Controller { return a.controller }

// Server returns the HTTP server.
func (a *App) Server() *server.Server { return a.server }

// Config returns the configuration.
func (a *App) Config() *config.Config { return a.config }

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.server.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down and releases the
// session store.
func (a *App) Run(ctx context.Context) error {
	if a.watcher != nil {
		go func() {
			if err := a.watcher.Run(ctx); err != nil {
				a.logger.Warn("markup watcher stopped", "error", err)
			}
		}()
	}
	err := a.server.Run(ctx)
	if cerr := a.close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

// Shutdown stops the server and releases every resource.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	return errors.Join(err, a.close())
}

func (a *App) close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.watcher != nil {
			errs = append(errs, a.watcher.Close())
		}
		if a.sessions != nil {
			errs = append(errs, a.sessions.Shutdown(context.Background()))
		}
		if a.store != nil {
			errs = append(errs, a.store.Close())
		}
		if a.resources != nil {
			a.resources.Close()
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// sessionGauge publishes the number of live sessions after each request.
type sessionGauge struct{ app *App }

func (g sessionGauge) OnBeginRequest(ctx context.Context, _ *cycle.Cycle) context.Context {
	return ctx
}

func (g sessionGauge) OnStep(*cycle.Cycle, cycle.Step) {}

func (g sessionGauge) OnEndRequest(*cycle.Cycle, error) {
	g.app.metrics.SetActiveSessions(g.app.sessions.Len())
}
