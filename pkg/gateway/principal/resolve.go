// Package principal identifies the client behind a request for admission
// control. The relay has no accounts, so identity is the client IP.
package principal

import (
	"net"
	"net/http"
	"strings"

	"github.com/vango-go/nativeflow/pkg/gateway/ratelimit"
)

type Kind string

const (
	KindIP   Kind = "ip"
	KindAnon Kind = "anonymous"
)

type Resolved struct {
	Kind Kind
	// Raw is the resolved IP. It must not be logged.
	Raw string
	// Key is a hashed identifier suitable for in-memory maps and logs.
	Key string
}

func Resolve(r *http.Request, trustProxyHeaders bool) Resolved {
	ip := resolveClientIP(r, trustProxyHeaders)
	if ip == "" {
		return Resolved{Kind: KindAnon, Key: "anonymous"}
	}
	return Resolved{
		Kind: KindIP,
		Raw:  ip,
		Key:  ratelimit.PrincipalKeyFromIP(ip),
	}
}

func resolveClientIP(r *http.Request, trustProxyHeaders bool) string {
	if r == nil {
		return ""
	}

	if trustProxyHeaders {
		if ip := parseIP(strings.TrimSpace(r.Header.Get("CF-Connecting-IP"))); ip != "" {
			return ip
		}
		if ip := parseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != "" {
			return ip
		}

		if raw := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); raw != "" {
			// XFF can be "client, proxy1, proxy2". Take the left-most.
			first := strings.TrimSpace(strings.Split(raw, ",")[0])
			if ip := parseIP(first); ip != "" {
				return ip
			}
		}
	}

	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return parseIP(host)
}

func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// Some proxies include a port; accept "ip:port" as well.
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}

	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
