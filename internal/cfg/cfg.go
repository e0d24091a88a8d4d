package cfg

import (
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/xerrors"
)

// EnvPrefix is the environment prefix fetchd reads its flags from.
const EnvPrefix = "LMFETCH_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort    int
	AdminPort   int
	EnablePprof bool
	TrustedHops int
	DrainDelay  time.Duration

	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64

	// loaders
	UserAgent       string
	HTTPTimeout     time.Duration
	MaxBodyBytes    int64
	HostRate        float64
	HostBurst       int
	ParallelGzip    bool
	FileRoot        string
	EnableAWS       bool
	AWSRegion       string
	S3Allow         string
	SSMAllow        string
	AllowPrivate    bool
	APIRate         float64
	APIBurst        int
	SnifferWorkers  int
	DeliveryTimeout time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "api listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "reverse proxies in front of the api whose X-Forwarded-For is trusted (0..8)")
	fs.DurationVar(&c.DrainDelay, "drain-delay", 15*time.Second, "how long to fail readiness before stopping listeners")

	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.UserAgent, "user-agent", "", "User-Agent sent by the http loader (empty = linnemanlabs-fetch/<version>)")
	fs.DurationVar(&c.HTTPTimeout, "http-timeout", 30*time.Second, "per-request timeout for the http loader")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 64<<20, "largest body any loader will deliver (-1 = unlimited)")
	fs.Float64Var(&c.HostRate, "host-rate", 10, "outbound requests per second per upstream host")
	fs.IntVar(&c.HostBurst, "host-burst", 30, "outbound burst per upstream host")
	fs.BoolVar(&c.ParallelGzip, "parallel-gzip", false, "decode gzip bodies with pgzip")
	fs.StringVar(&c.FileRoot, "file-root", "", "confine file: urls to this directory (empty = file loader disabled)")
	fs.BoolVar(&c.EnableAWS, "enable-aws", false, "Enable the s3: and ssm: loaders")
	fs.StringVar(&c.AWSRegion, "aws-region", "", "AWS region for the s3/ssm loaders (empty = SDK default chain)")
	fs.StringVar(&c.S3Allow, "s3-allow", "", "comma-separated buckets or bucket/prefix entries the s3 loader may read (empty = s3 loader disabled)")
	fs.StringVar(&c.SSMAllow, "ssm-allow", "", "comma-separated parameter path prefixes the ssm loader may read (empty = ssm loader disabled)")
	fs.BoolVar(&c.AllowPrivate, "allow-private-targets", false, "let the http loader connect to loopback, link-local and private addresses")
	fs.Float64Var(&c.APIRate, "api-rate", 5, "inbound api requests per second per client ip")
	fs.IntVar(&c.APIBurst, "api-burst", 20, "inbound api burst per client ip")
	fs.IntVar(&c.SnifferWorkers, "sniffer-workers", 4, "responses buffered and classified concurrently (1..256)")
	fs.DurationVar(&c.DeliveryTimeout, "delivery-timeout", 30*time.Second, "how long a consumer has to accept a response")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// EnvKey maps a flag name to its environment variable.
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// SplitList turns a comma-separated flag value into its non-empty entries.
// An empty value gives nil.
func SplitList(v string) []string {
	var out []string
	for _, e := range strings.Split(v, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		bad("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		bad("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort)
	}
	if c.AdminPort == c.HTTPPort {
		bad("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort)
	}
	if c.TrustedHops < 0 || c.TrustedHops > 8 {
		bad("TRUSTED_HOPS must be 0..8 (got %d)", c.TrustedHops)
	}
	if c.DrainDelay < 0 {
		bad("DRAIN_DELAY must not be negative (got %s)", c.DrainDelay)
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		bad("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks)
	}

	// Observability
	if c.TraceSample < 0 || c.TraceSample > 1 {
		bad("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample)
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			bad("PYRO_SERVER required when ENABLE_PYROSCOPE=true")
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			bad("PYRO_SERVER must be a URL (got %q)", c.PyroServer)
		}
		if c.PyroTenantID == "" {
			bad("PYRO_TENANT required when ENABLE_PYROSCOPE=true")
		}
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			bad("OTLP_ENDPOINT required when ENABLE_TRACING=true")
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			bad("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err)
		}
	}

	// Loaders
	if c.HTTPTimeout <= 0 {
		bad("HTTP_TIMEOUT must be positive (got %s)", c.HTTPTimeout)
	}
	if c.MaxBodyBytes == 0 || c.MaxBodyBytes < -1 {
		bad("MAX_BODY_BYTES must be positive or -1 (got %d)", c.MaxBodyBytes)
	}
	if c.HostRate <= 0 || c.HostBurst < 1 {
		bad("HOST_RATE and HOST_BURST must be positive (got %g/%d)", c.HostRate, c.HostBurst)
	}
	if c.APIRate <= 0 || c.APIBurst < 1 {
		bad("API_RATE and API_BURST must be positive (got %g/%d)", c.APIRate, c.APIBurst)
	}
	if c.FileRoot != "" && !filepath.IsAbs(c.FileRoot) {
		bad("FILE_ROOT must be an absolute path (got %q)", c.FileRoot)
	}
	if c.EnableAWS && c.S3Allow == "" && c.SSMAllow == "" {
		bad("ENABLE_AWS needs S3_ALLOW or SSM_ALLOW; nothing would be served")
	}
	for _, e := range SplitList(c.S3Allow) {
		if strings.HasPrefix(e, "/") || strings.Contains(e, "://") {
			bad("S3_ALLOW entries are bucket or bucket/prefix (got %q)", e)
		}
	}
	for _, e := range SplitList(c.SSMAllow) {
		if !strings.HasPrefix(e, "/") || e == "/" {
			bad("SSM_ALLOW entries are parameter paths below / (got %q)", e)
		}
	}

	// Sniffer
	if c.SnifferWorkers < 1 || c.SnifferWorkers > 256 {
		bad("SNIFFER_WORKERS must be 1..256 (got %d)", c.SnifferWorkers)
	}
	if c.DeliveryTimeout <= 0 {
		bad("DELIVERY_TIMEOUT must be positive (got %s)", c.DeliveryTimeout)
	}

	return xerrors.Join(errs...)
}
