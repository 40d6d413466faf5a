package utils

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// proxyHeaders are consulted in order when the origin sits behind a
// trusted proxy or tunnel.
var proxyHeaders = []string{"CF-Connecting-IP", "X-Forwarded-For", "X-Real-IP"}

// parseAddr accepts "ip", "ip:port" or "[v6]:port" and returns the
// unmapped address.
func parseAddr(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// ClientIP resolves the visitor address. With trustProxy the proxy headers
// win, X-Forwarded-For contributing its left-most entry; a header that does
// not hold an address is skipped. RemoteAddr is the fallback.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, h := range proxyHeaders {
			v := r.Header.Get(h)
			if h == "X-Forwarded-For" {
				v, _, _ = strings.Cut(v, ",")
			}
			if addr, ok := parseAddr(v); ok {
				return addr.String()
			}
		}
	}
	if addr, ok := parseAddr(r.RemoteAddr); ok {
		return addr.String()
	}
	return r.RemoteAddr
}

// RateKey buckets a client address for rate limiting: IPv4 addresses stand
// alone, IPv6 addresses share their /64.
func RateKey(ip string) string {
	addr, ok := parseAddr(ip)
	if !ok {
		return ip
	}
	if addr.Is6() {
		if p, err := addr.Prefix(64); err == nil {
			return p.String()
		}
	}
	return addr.String()
}

// IPMatcher matches addresses against a list of IPs and CIDRs.
type IPMatcher struct {
	prefixes []netip.Prefix
}

// NewIPMatcher ignores blank and unparsable entries.
func NewIPMatcher(list []string) *IPMatcher {
	m := &IPMatcher{}
	for _, raw := range list {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if p, err := netip.ParsePrefix(s); err == nil {
			m.prefixes = append(m.prefixes, p.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(s); err == nil {
			addr = addr.Unmap()
			m.prefixes = append(m.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return m
}

func (m *IPMatcher) IsEmpty() bool {
	return len(m.prefixes) == 0
}

func (m *IPMatcher) Allow(ip string) bool {
	addr, ok := parseAddr(ip)
	if !ok {
		return false
	}
	for _, p := range m.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
