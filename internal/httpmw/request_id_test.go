package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID_Generated(t *testing.T) {
	var seen string
	h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/fetch", nil))

	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("generated id %q is not a uuid: %v", seen, err)
	}
	if rec.Header().Get("X-Request-Id") != seen {
		t.Fatalf("response header = %q, context = %q", rec.Header().Get("X-Request-Id"), seen)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	var seen string
	h := RequestID("X-Correlation-Id")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-Id", "edge-7f3a")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "edge-7f3a" || rec.Header().Get("X-Correlation-Id") != "edge-7f3a" {
		t.Fatalf("id = %q / %q", seen, rec.Header().Get("X-Correlation-Id"))
	}
}

func TestRequestID_MalformedReplaced(t *testing.T) {
	for _, bad := range []string{
		"has space",
		"quote\"d",
		"new\nline",
		strings.Repeat("a", maxRequestIDLen+1),
	} {
		var seen string
		h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestIDFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header["X-Request-Id"] = []string{bad}
		h.ServeHTTP(httptest.NewRecorder(), req)
		if seen == bad {
			t.Errorf("malformed id %q accepted", bad)
		}
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := RequestIDFromContext(req.Context()); got != "" {
		t.Fatalf("got %q", got)
	}
	if WithRequestID(req.Context(), "") != req.Context() {
		t.Fatal("empty id changed the context")
	}
}
