package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/health"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/xerrors"
)

// Server defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
	DefaultMaxBodyBytes      = 8 << 20
	DefaultShutdownTimeout   = 5 * time.Second
)

// NewHandler builds the api handler: chi routes wrapped in the middleware
// stack. main owns the *http.Server so it can shut down gracefully.
func NewHandler(opts *Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(
		httpmw.AnnotateHTTPRoute,
		httpmw.AccessLog(),
		httpmw.MaxBody(maxBody),
		// only the small JSON replies; fetched bodies go out as loaded
		middleware.Compress(5, "application/json"),
	)

	if opts.Health != nil {
		r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))
	}
	if opts.APIRoutes != nil {
		opts.APIRoutes(r)
	}
	r.NotFound(jsonStatus(http.StatusNotFound))
	r.MethodNotAllowed(jsonStatus(http.StatusMethodNotAllowed))

	traced := func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "http.server",
			otelhttp.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
			}),
			// AnnotateHTTPRoute renames the span to the route pattern later
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
			otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
		)
	}

	var recoverMW httpmw.Middleware
	if opts.UseRecoverMW {
		recoverMW = httpmw.Recover(opts.Logger, opts.OnPanic)
	}

	return httpmw.Chain(r,
		httpmw.SecurityHeaders,
		recoverMW,
		httpmw.RequestID("X-Request-Id"),
		httpmw.ClientIP(opts.ClientIPOpts),
		opts.RateLimitMW,
		traced,
		httpmw.TraceHeaders,
		httpmw.VersionHeaders(opts.Version, opts.Commit),
		opts.MetricsMW,
		httpmw.WithLogger(opts.Logger),
	)
}

func jsonStatus(code int) http.HandlerFunc {
	body, _ := json.Marshal(map[string]string{"error": http.StatusText(code)})
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write(append(body, '\n'))
	}
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start serves the api on opts.Port and returns stop(ctx).
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	srv := NewServer(fmt.Sprintf(":%d", port), NewHandler(opts))
	if opts.WriteTimeout > 0 {
		srv.WriteTimeout = opts.WriteTimeout
	}
	return Serve(ctx, opts.Logger, "http", srv)
}

// Serve listens on srv.Addr and serves in the background. The returned
// stop func shuts down gracefully and is safe to call more than once.
func Serve(ctx context.Context, L log.Logger, name string, srv *http.Server) (func(context.Context) error, error) {
	if L == nil {
		L = log.Nop()
	}
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "%s server listen on %s", name, srv.Addr)
	}

	go func() {
		L.Info(ctx, name+" server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, name+" server error")
		}
	}()

	var once sync.Once
	var stopErr error
	return func(sctx context.Context) error {
		once.Do(func() {
			L.Info(sctx, name+" server shutting down")
			c, cancel := context.WithTimeout(sctx, DefaultShutdownTimeout)
			defer cancel()
			stopErr = srv.Shutdown(c)
		})
		return stopErr
	}, nil
}
