/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const (
	headerForwardedFor = "X-Forwarded-For"
	headerRealIP       = "X-Real-IP"
)

// ClientIPResolver determines the IP of the client that made the request.
// Forwarding headers are honored only when the connection comes from a trusted proxy.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

// NewClientIPResolver creates a new ClientIPResolver.
// Each entry of trustedProxies is either an IP address (e.g. "10.0.0.1") or a CIDR (e.g. "10.0.0.0/8").
func NewClientIPResolver(trustedProxies []string) (*ClientIPResolver, error) {
	resolver := &ClientIPResolver{trusted: make([]netip.Prefix, 0, len(trustedProxies))}
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			resolver.trusted = append(resolver.trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid IP address or CIDR %q", entry)
		}
		addr = addr.Unmap()
		resolver.trusted = append(resolver.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return resolver, nil
}

// Resolve returns the client IP of the request.
// If the peer is not a trusted proxy, its address is the answer and the headers are ignored.
// Otherwise, X-Forwarded-For is walked from right to left and the first hop that is not a trusted proxy wins.
// X-Real-IP is used only when X-Forwarded-For has no such hop.
func (cr *ClientIPResolver) Resolve(r *http.Request) string {
	peer := remoteHost(r)
	if !cr.isTrusted(peer) {
		return peer
	}

	hops := strings.Split(strings.Join(r.Header.Values(headerForwardedFor), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !cr.isTrusted(hop) {
			return hop
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get(headerRealIP)); realIP != "" {
		return realIP
	}
	return peer
}

func (cr *ClientIPResolver) isTrusted(ip string) bool {
	if len(cr.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range cr.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP is a middleware that resolves the client IP once and puts it into the request context.
// GetClientIP reads it from there.
func ClientIP(resolver *ClientIPResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(rw, r.WithContext(NewContextWithClientIP(r.Context(), resolver.Resolve(r))))
		})
	}
}

// GetClientIP returns the IP of the client that made the request.
// It's the value resolved by the ClientIP middleware, or the remote address of the connection
// if the middleware is not installed. Forwarding headers are never read here.
func GetClientIP(r *http.Request) string {
	if ip := GetClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
