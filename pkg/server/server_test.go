package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/pagecycle/pkg/cycle"
	"github.com/vango-dev/pagecycle/pkg/session"
)

// echo writes the listener parameter, or redirects, or fails.
type echo struct {
	listener string
	path     string
}

func (e *echo) Respond(c *cycle.Cycle) error {
	switch e.path {
	case "/go":
		c.Response().Redirect("/landed")
		return nil
	case "/fail":
		return errors.New("broken target")
	}
	c.Response().SetContentType("text/plain")
	_, err := c.Response().Write([]byte("listener=" + e.listener))
	return err
}
func (e *echo) CleanUp(*cycle.Cycle) error             { return nil }
func (e *echo) SynchronizeOnSession(*cycle.Cycle) bool { return true }

type echoProcessor struct{}

func (echoProcessor) DecodeParameters(c *cycle.Cycle) (cycle.Parameters, error) {
	return cycle.Parameters{Listener: c.Request().Params().Get("listener")}, nil
}

func (echoProcessor) ResolveTarget(c *cycle.Cycle, p cycle.Parameters) (cycle.Target, error) {
	return &echo{listener: p.Listener, path: c.Request().URL().Path}, nil
}

func newServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	ctl := cycle.NewController(cycle.Config{Processor: echoProcessor{}})
	sessions := session.NewManager(nil, session.DefaultConfig(), nil)
	t.Cleanup(func() { _ = sessions.Shutdown(context.Background()) })
	return New(ctl, sessions, cfg, nil)
}

func TestServeCycleSetsSessionCookie(t *testing.T) {
	s := newServer(t, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?listener=click", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "listener=click" {
		t.Fatalf("response = %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q", ct)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "pagecycle_session" || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %v", cookies)
	}

	// the same session is reused without a new cookie
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if len(rec.Result().Cookies()) != 0 {
		t.Error("known session should not be re-issued")
	}
	if s.Sessions().Len() != 1 {
		t.Errorf("sessions = %d, want 1", s.Sessions().Len())
	}
}

func TestServeCycleRedirect(t *testing.T) {
	s := newServer(t, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/go", strings.NewReader("")))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/landed" {
		t.Errorf("response = %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestServeCycleFailure(t *testing.T) {
	s := newServer(t, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "broken target") {
		t.Error("fault details must not reach the client")
	}
}

func TestServeCycleFormParams(t *testing.T) {
	s := newServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("listener=submit"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Body.String() != "listener=submit" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestSecureCookiesRequireTLS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecureCookies = true
	cfg.TrustedProxies = []string{"10.0.0.1"}
	s := newServer(t, cfg)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rec.Result().Cookies()) != 0 {
		t.Error("cookie must not be set on an insecure request")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || !cookies[0].Secure {
		t.Errorf("cookies = %v", cookies)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_total", Help: "probe"}))
	cfg := DefaultConfig()
	cfg.Gatherer = reg
	s := newServer(t, cfg)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "probe_total") {
		t.Errorf("metrics = %q", rec.Body.String())
	}
}

func TestRunAndShutdown(t *testing.T) {
	s := newServer(t, DefaultConfig().WithAddress("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var addr string
	for i := 0; i < 200 && addr == ""; i++ {
		if a := s.Addr(); a != nil {
			addr = a.String()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("healthz = %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrServerClosed) {
		t.Errorf("second Run() = %v, want ErrServerClosed", err)
	}
}
