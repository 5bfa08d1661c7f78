package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// proxyMatcher matches trusted reverse proxies by IP or network.
type proxyMatcher struct {
	ips  map[string]struct{}
	nets []*net.IPNet
}

func newProxyMatcher(entries []string, logger *slog.Logger) *proxyMatcher {
	m := &proxyMatcher{ips: make(map[string]struct{})}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
		case strings.Contains(entry, "/"):
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn("invalid trusted proxy CIDR", "entry", entry, "error", err)
				continue
			}
			m.nets = append(m.nets, network)
		default:
			ip := net.ParseIP(entry)
			if ip == nil {
				logger.Warn("invalid trusted proxy IP", "entry", entry)
				continue
			}
			m.ips[ip.String()] = struct{}{}
		}
	}
	if len(m.ips) == 0 && len(m.nets) == 0 {
		return nil
	}
	return m
}

// IsTrusted reports whether ip belongs to a trusted proxy.
func (m *proxyMatcher) IsTrusted(ip net.IP) bool {
	if m == nil || ip == nil {
		return false
	}
	if _, ok := m.ips[ip.String()]; ok {
		return true
	}
	for _, network := range m.nets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// isSecure reports whether r arrived over TLS, directly or through a
// trusted proxy.
func (s *Server) isSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if !s.trustedProxies.IsTrusted(remoteIP(r)) {
		return false
	}
	proto := forwardedParam(r.Header.Get("Forwarded"), "proto")
	if proto == "" {
		proto, _, _ = strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	}
	switch strings.ToLower(strings.Trim(strings.TrimSpace(proto), `"`)) {
	case "https", "wss":
		return true
	}
	return false
}

// clientIP returns the address of the client. Forwarding headers are only
// read when the direct peer is a trusted proxy; the nearest untrusted hop
// is the client.
func (s *Server) clientIP(r *http.Request) string {
	peer := remoteIP(r)
	if peer == nil {
		return ""
	}
	if !s.trustedProxies.IsTrusted(peer) {
		return peer.String()
	}

	var hops []net.IP
	if fwd := r.Header.Get("Forwarded"); fwd != "" {
		for _, element := range strings.Split(fwd, ",") {
			if ip := parseHostIP(forwardedParam(element, "for")); ip != nil {
				hops = append(hops, ip)
			}
		}
	} else {
		for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if ip := parseHostIP(part); ip != nil {
				hops = append(hops, ip)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !s.trustedProxies.IsTrusted(hops[i]) {
			return hops[i].String()
		}
	}
	if len(hops) > 0 {
		return hops[0].String()
	}
	return peer.String()
}

// forwardedParam returns a parameter of the first element of a
// Forwarded header (RFC 7239).
func forwardedParam(header, key string) string {
	first, _, _ := strings.Cut(header, ",")
	for _, param := range strings.Split(first, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), key) {
			return strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	return ""
}

func remoteIP(r *http.Request) net.IP {
	return parseHostIP(r.RemoteAddr)
}

// parseHostIP parses an IP with optional port, brackets or zone.
func parseHostIP(value string) net.IP {
	host := strings.Trim(strings.TrimSpace(value), `"`)
	if host == "" || strings.EqualFold(host, "unknown") {
		return nil
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if zone := strings.IndexByte(host, '%'); zone != -1 {
		host = host[:zone]
	}
	return net.ParseIP(host)
}
