package httpmw

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

// ClientIPOptions configures client IP extraction.
type ClientIPOptions struct {
	// TrustedHops is the number of reverse proxies in front of fetchd.
	// 0 ignores X-Forwarded-For, 1 takes its rightmost entry (single ALB),
	// 2 the second from the end, and so on.
	TrustedHops int
}

// ClientIP resolves the caller address into the context for the rate
// limiter and the logger.
func ClientIP(opts ClientIPOptions) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// clientAddr only trusts X-Forwarded-For when the peer is private and hops
// are configured. Untrusted forwarding headers are removed so nothing
// downstream reads them by accident.
func clientAddr(r *http.Request, trustedHops int) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil {
		return "0.0.0.0"
	}
	peer = peer.Unmap()

	xff := r.Header.Get("X-Forwarded-For")
	if (!peer.IsPrivate() && !peer.IsLoopback()) || trustedHops <= 0 || xff == "" {
		stripForwarded(r)
		return peer.String()
	}

	parts := strings.Split(xff, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		// fewer entries than proxies: misconfigured or forged
		stripForwarded(r)
		return peer.String()
	}
	if ip, err := netip.ParseAddr(strings.TrimSpace(parts[idx])); err == nil {
		return ip.Unmap().String()
	}
	return peer.String()
}

func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
