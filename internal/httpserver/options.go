package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/health"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Probe
	Readiness    health.Probe

	// APIRoutes mounts the fetch api on the router.
	APIRoutes func(chi.Router)

	// MaxBodyBytes caps request bodies (POST /v1/sniff). Zero uses
	// DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// WriteTimeout must cover a full upstream load plus the time to send
	// the body. Zero uses DefaultWriteTimeout.
	WriteTimeout time.Duration

	Version string
	Commit  string
}
