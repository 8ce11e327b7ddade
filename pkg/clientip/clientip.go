// Package clientip resolves the caller's address behind proxies and attaches
// it to the request context for logging.
package clientip

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Proxy headers in the order they are trusted. X-Forwarded-For is handled
// separately since it holds a list.
var singleIPHeaders = []string{"CF-Connecting-IP", "DO-Connecting-IP"}

// GetIP returns the normalized client IP, or "" when none of the sources
// holds a valid address.
func GetIP(r *http.Request) string {
	for _, h := range singleIPHeaders {
		if ip := parseIP(r.Header.Get(h)); ip != "" {
			return ip
		}
	}

	for candidate := range strings.SplitSeq(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := parseIP(candidate); ip != "" {
			return ip
		}
	}

	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return parseIP(r.RemoteAddr)
	}
	return parseIP(host)
}

func parseIP(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}
