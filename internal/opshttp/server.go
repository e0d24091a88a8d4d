// Package opshttp serves the admin listener: metrics, health and pprof.
package opshttp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/health"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
)

// NewHandler builds the admin mux. With pprof disabled /debug/pprof/ is
// shadowed with 404s.
func NewHandler(L log.Logger, opts Options) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/-/healthy", health.HealthzHandler(opts.Health))
	mux.Handle("/-/ready", health.ReadyzHandler(opts.Readiness))
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	if opts.EnablePprof {
		RegisterPprof(mux)
	} else {
		mux.HandleFunc("/debug/pprof/", http.NotFound)
	}

	var h http.Handler = mux
	if opts.UseRecoverMW {
		h = httpmw.Recover(L, opts.OnPanic)(h)
	}
	return h
}

// RegisterPprof mounts the net/http/pprof handlers on mux.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// Start serves the admin listener and returns stop(ctx).
func Start(ctx context.Context, L log.Logger, opts Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 9000
	}
	srv := httpserver.NewServer(fmt.Sprintf(":%d", port), NewHandler(L, opts))
	// cpu profiles and traces run for up to 30s by default
	if opts.EnablePprof {
		srv.WriteTimeout = 0
	}
	return httpserver.Serve(ctx, L, "ops http", srv)
}
