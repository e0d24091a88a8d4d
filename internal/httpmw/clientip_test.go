package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func resolve(t *testing.T, remote, xff string, hops int) (string, *http.Request) {
	t.Helper()
	var got string
	var seen *http.Request
	h := ClientIP(ClientIPOptions{TrustedHops: hops})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
		seen = r
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
		req.Header.Set("X-Forwarded-Proto", "https")
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got, seen
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		hops   int
		want   string
	}{
		{"public peer", "203.0.113.9:443", "", 0, "203.0.113.9"},
		{"public peer ignores xff", "203.0.113.9:443", "198.51.100.1", 1, "203.0.113.9"},
		{"private peer no hops", "10.0.0.5:1234", "198.51.100.1", 0, "10.0.0.5"},
		{"single alb", "10.0.0.5:1234", "198.51.100.1, 10.0.1.1", 1, "10.0.1.1"},
		{"single alb one entry", "10.0.0.5:1234", "198.51.100.1", 1, "198.51.100.1"},
		{"cdn plus alb", "10.0.0.5:1234", "198.51.100.1, 192.0.2.7", 2, "198.51.100.1"},
		{"too few entries", "10.0.0.5:1234", "198.51.100.1", 3, "10.0.0.5"},
		{"garbage entry", "10.0.0.5:1234", "not-an-ip", 1, "10.0.0.5"},
		{"loopback", "127.0.0.1:5000", "198.51.100.4", 1, "198.51.100.4"},
		{"mapped v4", "[::ffff:10.0.0.5]:80", "", 0, "10.0.0.5"},
		{"ipv6", "[2001:db8::1]:443", "", 0, "2001:db8::1"},
		{"no port", "192.0.2.1", "", 0, "192.0.2.1"},
		{"junk", "nonsense", "", 0, "0.0.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := resolve(t, tt.remote, tt.xff, tt.hops)
			if got != tt.want {
				t.Fatalf("client ip = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP_StripsUntrustedHeaders(t *testing.T) {
	_, r := resolve(t, "203.0.113.9:443", "198.51.100.1", 1)
	if r.Header.Get("X-Forwarded-For") != "" || r.Header.Get("X-Forwarded-Proto") != "" {
		t.Fatalf("forwarded headers kept: %v", r.Header)
	}
	_, r = resolve(t, "10.0.0.5:1234", "198.51.100.1", 1)
	if r.Header.Get("X-Forwarded-For") == "" {
		t.Fatal("trusted forwarded header removed")
	}
}

func TestWithClientIP_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if WithClientIP(req.Context(), "") != req.Context() {
		t.Fatal("empty ip changed the context")
	}
}
