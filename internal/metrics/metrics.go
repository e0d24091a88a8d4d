package metrics

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/version"
)

// ServerMetrics owns a private registry with the api, pipeline and loader
// metrics. It satisfies resource.Metrics.
type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	errorsTotal            *prometheus.CounterVec
	httpPanicTotal         prometheus.Counter
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter
	profilingActive        prometheus.Gauge

	// pipeline
	loadsTotal          *prometheus.CounterVec
	loadDuration        *prometheus.HistogramVec
	loadBytes           *prometheus.CounterVec
	loadsInflight       prometheus.Gauge
	sniffResults        *prometheus.CounterVec
	sniffOverrides      prometheus.Counter
	consumerDisconnects prometheus.Counter

	// outbound rate limiting
	rateLimitWaits    prometheus.Counter
	rateLimitWaitTime prometheus.Histogram
}

// New returns a fresh registry + standard collectors + api and pipeline
// metrics. Labels are bounded: route patterns, known schemes, top-level
// media types.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total api requests rejected by the rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		loadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetch_loads_total",
			Help: "Completed loads by scheme and outcome (ok, error, no_loader, abandoned)",
		}, []string{"scheme", "outcome"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fetch_load_duration_seconds",
			Help:    "Time from the loader's first response to the end of its body",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"scheme"}),
		loadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetch_bytes_total",
			Help: "Body bytes delivered by scheme",
		}, []string{"scheme"}),
		loadsInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetch_inflight_loads",
			Help: "Loads currently being buffered by the sniffer",
		}),
		sniffResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniff_results_total",
			Help: "Resolved content types by top-level media type",
		}, []string{"media"}),
		sniffOverrides: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sniff_overrides_total",
			Help: "Loads whose declared content type was replaced by sniffing",
		}),
		consumerDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetch_consumer_disconnects_total",
			Help: "Responses dropped because the consumer went away",
		}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetch_rate_limit_waits_total",
			Help: "Outbound requests delayed by the per-host rate limiter",
		}),
		rateLimitWaitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fetch_rate_limit_wait_seconds",
			Help:    "Delay imposed by the per-host rate limiter",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.profilingActive,
		m.loadsTotal,
		m.loadDuration,
		m.loadBytes,
		m.loadsInflight,
		m.sniffResults,
		m.sniffOverrides,
		m.consumerDisconnects,
		m.rateLimitWaits,
		m.rateLimitWaitTime,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// pipeline

func (m *ServerMetrics) IncLoad(scheme, outcome string) {
	m.loadsTotal.WithLabelValues(schemeLabel(scheme), outcome).Inc()
}

func (m *ServerMetrics) ObserveLoadDuration(scheme string, seconds float64) {
	m.loadDuration.WithLabelValues(schemeLabel(scheme)).Observe(seconds)
}

func (m *ServerMetrics) AddBytes(scheme string, n int) {
	m.loadBytes.WithLabelValues(schemeLabel(scheme)).Add(float64(n))
}

func (m *ServerMetrics) IncInflight() { m.loadsInflight.Inc() }
func (m *ServerMetrics) DecInflight() { m.loadsInflight.Dec() }

func (m *ServerMetrics) IncSniffResult(contentType string) {
	m.sniffResults.WithLabelValues(mediaLabel(contentType)).Inc()
}

func (m *ServerMetrics) IncSniffOverride() {
	m.sniffOverrides.Inc()
}

func (m *ServerMetrics) IncConsumerDisconnect() {
	m.consumerDisconnects.Inc()
}

// ObserveRateLimitWait records one outbound request held back by the
// per-host limiter.
func (m *ServerMetrics) ObserveRateLimitWait(seconds float64) {
	m.rateLimitWaits.Inc()
	m.rateLimitWaitTime.Observe(seconds)
}

var knownSchemes = map[string]bool{
	"file": true, "http": true, "https": true, "data": true,
	"about": true, "s3": true, "ssm": true,
}

// schemeLabel keeps unknown schemes from creating new series.
func schemeLabel(s string) string {
	s = strings.ToLower(s)
	if knownSchemes[s] {
		return s
	}
	return "other"
}

var knownMedia = map[string]bool{
	"application": true, "audio": true, "font": true, "image": true,
	"text": true, "video": true,
}

func mediaLabel(contentType string) string {
	top, _, _ := strings.Cut(contentType, "/")
	top = strings.ToLower(top)
	if knownMedia[top] {
		return top
	}
	return "other"
}
