// Package audit - meta.go captures the request metadata stamped onto every
// audit record.
package audit

import (
	"net"
	"net/http"
	"strings"
)

// RequestMeta is the request context recorded with an audit entry. A zero
// value is used for system actions that happen outside any request.
type RequestMeta struct {
	IP        string
	UserAgent string
	Path      string
	Method    string
}

// MetaFromRequest extracts audit metadata from an HTTP request. The client IP
// honors X-Forwarded-For and X-Real-IP so records stay useful behind a proxy.
func MetaFromRequest(r *http.Request) RequestMeta {
	return RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
		Method:    r.Method,
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First hop is the original client
		if idx := strings.Index(fwd, ","); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
