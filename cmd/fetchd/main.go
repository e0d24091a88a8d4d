package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/fetchhttp"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/health"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/loader"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/mime"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/prof"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/resource"
	v "github.com/keithlinneman/linnemanlabs-fetch/internal/version"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/xerrors"
)

const component = "fetchd"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		return 0
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	// Logging
	lvl, _ := log.ParseLevel(conf.LogLevel)
	var stackLvl slog.Leveler
	if conf.StacktraceLevel != "" {
		l, _ := log.ParseLevel(conf.StacktraceLevel)
		stackLvl = l
	}
	L, err := log.New(log.Options{
		App:               v.AppName,
		Component:         component,
		Version:           vi.Version,
		Commit:            vi.ShortCommit(),
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		return 1
	}
	defer L.Sync()
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"http_timeout", conf.HTTPTimeout.String(),
		"max_body_bytes", conf.MaxBodyBytes,
		"host_rate", conf.HostRate,
		"file_root", conf.FileRoot,
		"enable_aws", conf.EnableAWS,
		"s3_allow", conf.S3Allow,
		"ssm_allow", conf.SSMAllow,
		"allow_private_targets", conf.AllowPrivate,
		"sniffer_workers", conf.SnifferWorkers,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, vi)

	// Profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": component,
			"version":   vi.Version,
			"commit":    vi.ShortCommit(),
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Tracing; the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Loaders
	hostLimiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.HostRate, conf.HostBurst),
		ratelimit.WithOnWait(func(host string, d time.Duration) {
			m.ObserveRateLimitWait(d.Seconds())
		}),
		ratelimit.WithOnCapacity(func() {
			L.Warn(ctx, "outbound host limiter at capacity")
		}),
	)
	var (
		s3c  loader.ObjectGetter
		ssmc loader.ParameterGetter
	)
	if conf.EnableAWS {
		s3Client, ssmClient, err := awsClients(ctx, conf.AWSRegion)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			return 1
		}
		s3c, ssmc = s3Client, ssmClient
	}
	loaders := apiLoaders(conf, L, hostLimiter, s3c, ssmc)

	userAgent := conf.UserAgent
	if userAgent == "" {
		userAgent = vi.UserAgent()
	}

	taskCtx, stopTask := context.WithCancel(context.WithoutCancel(ctx))
	defer stopTask()
	task := resource.NewTask(taskCtx, resource.TaskOptions{
		Logger:    L,
		Loaders:   loaders,
		Metrics:   m,
		UserAgent: userAgent,
		SnifferOptions: resource.SnifferOptions{
			Logger:          L,
			Classifier:      mime.Default(),
			Metrics:         m,
			DeliveryTimeout: conf.DeliveryTimeout,
			Workers:         conf.SnifferWorkers,
		},
	})

	// Health
	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.Running("resource task", task),
	)

	apiLimiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.APIRate, conf.APIBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// logged once per ip until its bucket is evicted
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new clients until some are evicted")
		}),
	)

	api := fetchhttp.NewAPI(fetchhttp.Options{
		Task:    task,
		Timeout: conf.HTTPTimeout + conf.DeliveryTimeout,
	})

	apiStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    api.RegisterRoutes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  apiLimiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		WriteTimeout: conf.HTTPTimeout + conf.DeliveryTimeout + 30*time.Second,
		Version:      vi.Version,
		Commit:       vi.Commit,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return 1
	}
	defer func() { _ = apiStop(context.Background()) }()

	// admin listener: metrics, health, pprof. Only reachable from internal
	// monitoring.
	opsStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return 1
	}
	defer func() { _ = opsStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills us after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "err", err.Error())
	}

	select {
	case <-ctx.Done():
		L.Info(context.Background(), "shutdown signal received")
	case <-task.Done():
		L.Error(context.Background(), xerrors.New("resource task exited"), "shutting down")
	}
	bg := log.WithContext(context.Background(), L)

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	drain(bg, L, conf.DrainDelay)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	stopErr := xerrors.Join(
		xerrors.Wrap(apiStop(shutdownCtx), "api http server shutdown"),
		xerrors.Wrap(opsStop(shutdownCtx), "ops http server shutdown"),
	)

	if err := task.Exit(); err == nil {
		select {
		case <-task.Done():
		case <-shutdownCtx.Done():
			L.Warn(bg, "resource task did not exit in time")
		}
	}
	stopTask()

	stopErr = xerrors.Join(stopErr, xerrors.Wrap(shutdownOTEL(shutdownCtx), "otel shutdown"))
	stopProf()

	if stopErr != nil {
		L.Error(bg, stopErr, "shutdown finished with errors")
		return 1
	}
	L.Info(bg, "shutdown complete")
	return 0
}

// drain waits out the drain delay. A second signal cuts it short.
func drain(ctx context.Context, L log.Logger, d time.Duration) {
	if d <= 0 {
		return
	}
	L.Info(ctx, "draining before shutdown", "delay", d.String())
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		L.Info(ctx, "drain period complete")
	case <-forceCh:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}

// apiLoaders builds the loaders behind the public api. The aws loaders get
// a client only when their allowlist is set, file: needs a root, and the
// http loader refuses internal addresses unless told otherwise.
func apiLoaders(conf cfg.App, L log.Logger, limiter *ratelimit.Limiter, s3c loader.ObjectGetter, ssmc loader.ParameterGetter) resource.Loaders {
	o := loader.Options{
		Logger:       L,
		Timeout:      conf.HTTPTimeout,
		MaxBodyBytes: conf.MaxBodyBytes,
		Limiter:      limiter,
		ParallelGzip: conf.ParallelGzip,
		FileRoot:     conf.FileRoot,
		BlockPrivate: !conf.AllowPrivate,
	}
	if allow := cfg.SplitList(conf.S3Allow); s3c != nil && len(allow) > 0 {
		o.S3, o.S3Allow = s3c, allow
	}
	if allow := cfg.SplitList(conf.SSMAllow); ssmc != nil && len(allow) > 0 {
		o.SSM, o.SSMAllow = ssmc, allow
	}
	ls := loader.Defaults(o)
	if conf.FileRoot == "" {
		delete(ls, "file")
	}
	return ls
}

func awsClients(ctx context.Context, region string) (*s3.Client, *ssm.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, xerrors.Wrap(err, "load aws config")
	}
	return s3.NewFromConfig(awsCfg), ssm.NewFromConfig(awsCfg), nil
}

// notifySystemd sends READY=1 when started as a Type=notify unit.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "systemd notify: dial")
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return xerrors.Wrap(err, "systemd notify: write")
	}
	if err := conn.Close(); err != nil {
		return xerrors.Wrap(err, "systemd notify: close")
	}
	return nil
}
