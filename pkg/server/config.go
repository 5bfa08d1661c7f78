package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds transport settings.
type Config struct {
	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// Timeouts of the underlying http.Server.
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// Session cookie

	// CookieName is the session cookie name.
	// Default: "pagecycle_session".
	CookieName string

	// SecureCookies marks the session cookie Secure and refuses to set it
	// on insecure requests.
	SecureCookies bool

	// SameSiteMode of the session cookie. Default: http.SameSiteLaxMode.
	SameSiteMode http.SameSite

	// CookieDomain is the session cookie domain. Empty means host-only.
	CookieDomain string

	// TrustedProxies lists reverse proxy IPs or CIDRs whose X-Forwarded-*
	// and Forwarded headers are believed.
	TrustedProxies []string

	// WebSocket

	// WebSocketPath is the listener channel endpoint. Empty disables it.
	// Default: "/ws".
	WebSocketPath string

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// MaxFrameSize bounds inbound WebSocket frames. Default: 64KB.
	MaxFrameSize int64

	// FrameTimeout bounds the wait for the next frame. Default: 2 minutes.
	FrameTimeout time.Duration

	// CheckOrigin is called to validate the upgrade request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// Metrics

	// Gatherer, when set, is served at /metrics.
	Gatherer prometheus.Gatherer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
		CookieName:        "pagecycle_session",
		SameSiteMode:      http.SameSiteLaxMode,
		WebSocketPath:     "/ws",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		MaxFrameSize:      64 * 1024,
		FrameTimeout:      2 * time.Minute,
		CheckOrigin:       SameOriginCheck,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	clone.TrustedProxies = append([]string(nil), c.TrustedProxies...)
	return &clone
}

// WithAddress returns a copy listening on addr.
func (c *Config) WithAddress(addr string) *Config {
	clone := c.Clone()
	clone.Address = addr
	return clone
}

// applyDefaults fills zero fields from DefaultConfig.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.CookieName == "" {
		c.CookieName = d.CookieName
	}
	if c.SameSiteMode == 0 {
		c.SameSiteMode = d.SameSiteMode
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = d.FrameTimeout
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = SameOriginCheck
	}
}

// SameOriginCheck accepts requests without an Origin header and requests
// whose Origin host matches the request host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || r.Host == "" {
		return false
	}
	return originURL.Host == r.Host
}
