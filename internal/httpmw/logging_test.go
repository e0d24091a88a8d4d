package httpmw

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
)

// responseWriter

func TestResponseWriter_StatusAndBytes(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), ctx: context.Background()}
	if rw.statusCode() != http.StatusOK {
		t.Fatal("default status not 200")
	}
	rw.WriteHeader(http.StatusBadGateway)
	rw.WriteHeader(http.StatusOK)
	rw.Write([]byte("upstream"))
	if rw.statusCode() != http.StatusBadGateway || rw.bytes != 8 {
		t.Fatalf("status = %d bytes = %d", rw.statusCode(), rw.bytes)
	}
	rw.Flush()
	if rw.Unwrap() == nil {
		t.Fatal("Unwrap nil")
	}
}

type hijackable struct{ *httptest.ResponseRecorder }

func (hijackable) Hijack() (net.Conn, *bufio.ReadWriter, error) { return nil, nil, nil }

func TestResponseWriter_Hijack(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil {
		t.Fatal("hijack on a recorder should fail")
	}
	rw = &responseWriter{ResponseWriter: hijackable{httptest.NewRecorder()}}
	if _, _, err := rw.Hijack(); err != nil {
		t.Fatalf("Hijack: %v", err)
	}
}

// WithLogger + AccessLog

func TestWithLogger_AccessLog(t *testing.T) {
	spy := newSpyLogger()
	r := chi.NewRouter()
	r.Use(AccessLog())
	r.Get("/v1/fetch", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := log.FromContext(r.Context()).(*spyLogger); !ok {
			t.Error("request logger not in context")
		}
		w.Write([]byte("body"))
	})
	h := Chain(r, RequestID(""), ClientIP(ClientIPOptions{}), WithLogger(spy))

	req := httptest.NewRequest(http.MethodGet, "/v1/fetch?url=https://user:pw@example.com/", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	h.ServeHTTP(httptest.NewRecorder(), req)

	if v, _ := spy.field("client.address"); v != "203.0.113.9" {
		t.Errorf("client.address = %v", v)
	}
	if v, _ := spy.field("http.route"); v != "/v1/fetch" {
		t.Errorf("http.route = %v", v)
	}
	if v, _ := spy.field("http.response.body.size"); v != int64(4) {
		t.Errorf("body size = %v", v)
	}
	if _, ok := spy.field("url.query"); ok {
		t.Error("query string logged")
	}
}

func TestAccessLog_SkipsHealth(t *testing.T) {
	spy := newSpyLogger()
	h := WithLogger(spy)(AccessLog()(http.HandlerFunc(okHandler)))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/-/ready", nil))
	if _, ok := spy.field("http.route"); ok {
		t.Fatal("health probe logged")
	}
}

// tracing

func TestAnnotateHTTPRoute_AndWriteSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	r := chi.NewRouter()
	r.Use(AnnotateHTTPRoute, AccessLog())
	r.Get("/v1/objects/{key}", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "GET /v1/objects/abc")
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/objects/abc", nil).WithContext(ctx))
	span.End()

	names := map[string]bool{}
	for _, s := range sr.Ended() {
		names[s.Name()] = true
	}
	if !names["GET /v1/objects/{key}"] {
		t.Errorf("server span not renamed: %v", names)
	}
	if !names["response.write"] {
		t.Errorf("response.write span missing: %v", names)
	}
}

func TestScope(t *testing.T) {
	spy := newSpyLogger()
	ctx := log.WithContext(context.Background(), spy)
	Scope("sniff")(http.HandlerFunc(okHandler)).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx))
	if v, _ := spy.field("handler"); v != "sniff" {
		t.Fatalf("handler = %v", v)
	}
}

func TestRoutePattern_Unmatched(t *testing.T) {
	if got := routePattern(httptest.NewRequest(http.MethodGet, "/x", nil)); got != "unmatched" {
		t.Fatalf("route = %q", got)
	}
}
