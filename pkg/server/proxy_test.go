package server

import (
	"log/slog"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	s := &Server{trustedProxies: newProxyMatcher([]string{"10.0.0.0/8", "bogus"}, slog.Default())}

	tests := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{"direct", "203.0.113.9:1234", nil, "203.0.113.9"},
		{"untrusted peer ignores headers", "203.0.113.9:1234",
			map[string]string{"X-Forwarded-For": "1.2.3.4"}, "203.0.113.9"},
		{"x-forwarded-for", "10.1.1.1:80",
			map[string]string{"X-Forwarded-For": "198.51.100.7, 10.2.2.2"}, "198.51.100.7"},
		{"forwarded", "10.1.1.1:80",
			map[string]string{"Forwarded": `for="[2001:db8::1]:443";proto=https, for=10.3.3.3`}, "2001:db8::1"},
		{"only proxies", "10.1.1.1:80",
			map[string]string{"X-Forwarded-For": "10.9.9.9"}, "10.9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			if got := s.clientIP(r); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsSecure(t *testing.T) {
	s := &Server{trustedProxies: newProxyMatcher([]string{"10.0.0.1"}, slog.Default())}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:80"
	r.Header.Set("Forwarded", "proto=https;for=1.2.3.4")
	if !s.isSecure(r) {
		t.Error("trusted proxy with proto=https should be secure")
	}

	r.RemoteAddr = "10.0.0.2:80"
	if s.isSecure(r) {
		t.Error("untrusted peer must not be believed")
	}
}

func TestSameOriginCheck(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com/ws", nil)
	if !SameOriginCheck(r) {
		t.Error("missing Origin should pass")
	}
	r.Header.Set("Origin", "http://example.com")
	if !SameOriginCheck(r) {
		t.Error("same origin should pass")
	}
	r.Header.Set("Origin", "http://evil.example")
	if SameOriginCheck(r) {
		t.Error("cross origin should fail")
	}
}
