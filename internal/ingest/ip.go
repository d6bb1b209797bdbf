package ingest

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP picks the caller address: the first X-Forwarded-For entry, then
// CF-Connecting-IP, then X-Real-IP, then the connection's remote address.
// The headers are trusted as sent, so the service must sit behind a proxy
// that sets them.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	for _, h := range []string{"CF-Connecting-IP", "X-Real-IP"} {
		if ip := strings.TrimSpace(r.Header.Get(h)); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IPAllowed reports whether ip matches an allowlist entry. Entries are a
// single address, a CIDR block, or "*".
func IPAllowed(ip string, allowlist []string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	valid := err == nil
	if valid {
		addr = addr.Unmap()
	}

	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "*":
			return true
		case !valid:
			if entry == ip {
				return true
			}
		case strings.Contains(entry, "/"):
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(addr) {
				return true
			}
		default:
			allowed, err := netip.ParseAddr(entry)
			if err == nil && allowed.Unmap() == addr {
				return true
			}
		}
	}
	return false
}
