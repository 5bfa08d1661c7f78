package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/pagecycle/pkg/cycle"
	"github.com/vango-dev/pagecycle/pkg/session"
)

// Server serves request cycles over HTTP.
type Server struct {
	config         *Config
	cycles         *cycle.Controller
	sessions       *session.Manager
	router         chi.Router
	upgrader       websocket.Upgrader
	trustedProxies *proxyMatcher
	logger         *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
	conns      map[*websocket.Conn]struct{}
	closed     bool
}

// New creates a server. A nil config uses DefaultConfig().
func New(cycles *cycle.Controller, sessions *session.Manager, config *Config, logger *slog.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	} else {
		config = config.Clone()
	}
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	s := &Server{
		config:         config,
		cycles:         cycles,
		sessions:       sessions,
		trustedProxies: newProxyMatcher(config.TrustedProxies, logger),
		logger:         logger,
		conns:          make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	if config.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{}))
	}
	if config.WebSocketPath != "" {
		r.Get(config.WebSocketPath, s.HandleWebSocket)
	}
	r.Handle("/*", http.HandlerFunc(s.ServeCycle))
	s.router = r
	return s
}

// Router returns the router, for mounting additional handlers.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ServeCycle runs one request cycle for r.
func (s *Server) ServeCycle(w http.ResponseWriter, r *http.Request) {
	sess, cookie, err := s.session(r)
	if err != nil {
		s.logger.Error("session lookup failed", "error", err, "client", s.clientIP(r))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	if cookie != nil {
		http.SetCookie(w, cookie)
	}

	resp := &httpResponse{w: w, r: r}
	err = s.cycles.Serve(r.Context(), newHTTPRequest(r), resp, sess)
	if err != nil {
		s.logger.Error("request failed",
			"error", err,
			"path", r.URL.Path,
			"session", sess.ID(),
			"request_id", middleware.GetReqID(r.Context()),
			"client", s.clientIP(r))
		if !resp.wrote {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}
	resp.writeHeader()
}

// session returns the session named by the request cookie, creating one
// when there is none. A cookie is returned when the client must be told
// about a new session id.
func (s *Server) session(r *http.Request) (*session.Session, *http.Cookie, error) {
	var id string
	if c, err := r.Cookie(s.config.CookieName); err == nil {
		id = c.Value
	}
	sess, created, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		return nil, nil, &SessionError{SessionID: id, Op: "get", Err: err}
	}
	if !created && sess.ID() == id {
		return sess, nil, nil
	}

	cookie, err := s.sessionCookie(r, sess.ID())
	if err != nil {
		s.logger.Warn("session cookie not set", "error", err, "session", sess.ID())
		return sess, nil, nil
	}
	return sess, cookie, nil
}

func (s *Server) sessionCookie(r *http.Request, id string) (*http.Cookie, error) {
	secure := false
	if s.config.SecureCookies {
		if !s.isSecure(r) {
			return nil, ErrSecureCookiesRequired
		}
		secure = true
	}
	return &http.Cookie{
		Name:     s.config.CookieName,
		Value:    id,
		Path:     "/",
		Domain:   s.config.CookieDomain,
		HttpOnly: true,
		Secure:   secure,
		SameSite: s.config.SameSiteMode,
	}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// Run listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.httpServer != nil {
		s.mu.Unlock()
		return ErrServerClosed
	}
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.addr = ln.Addr()
	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Addr returns the listen address once Run has started, nil before.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown drains in-flight requests, closes WebSocket connections and
// persists dirty sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	s.closed = true
	srv := s.httpServer
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			errs = append(errs, err)
		}
	}
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			deadline(ctx))
		_ = c.Close()
	}
	if err := s.sessions.Shutdown(ctx); err != nil {
		s.logger.Error("session shutdown error", "error", err)
		errs = append(errs, err)
	}

	s.logger.Info("server shutdown complete")
	return errors.Join(errs...)
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}
