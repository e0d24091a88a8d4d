package resource

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/mime"
)

// DefaultDeliveryTimeout bounds how long the sniffer waits for a consumer
// to accept a LoadResponse.
const DefaultDeliveryTimeout = 30 * time.Second

// SnifferOptions configures the sniffer task.
type SnifferOptions struct {
	Logger     log.Logger
	Classifier *mime.Classifier
	Metrics    Metrics

	// DeliveryTimeout is how long a consumer has to accept its
	// LoadResponse before the load is abandoned. Zero uses
	// DefaultDeliveryTimeout.
	DeliveryTimeout time.Duration

	// Workers is the number of responses buffered and classified at once.
	// Zero means one, which delivers strictly in arrival order.
	Workers int
}

// Sniffer buffers each response body completely, resolves its content
// type and forwards it to the consumer.
type Sniffer struct {
	in   chan TargetedLoadResponse
	done chan struct{}

	logger     log.Logger
	classifier *mime.Classifier
	metrics    Metrics
	timeout    time.Duration
	tracer     trace.Tracer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSniffer starts the sniffer workers. They run until ctx is cancelled
// or Close is called.
func NewSniffer(ctx context.Context, opts SnifferOptions) *Sniffer {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Classifier == nil {
		opts.Classifier = mime.Default()
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Sniffer{
		in:         make(chan TargetedLoadResponse),
		done:       make(chan struct{}),
		logger:     opts.Logger.With("component", "sniffer"),
		classifier: opts.Classifier,
		metrics:    opts.Metrics,
		timeout:    opts.DeliveryTimeout,
		tracer:     otel.Tracer("linnemanlabs/resource"),
		cancel:     cancel,
	}

	s.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go s.run(ctx)
	}
	go func() {
		s.wg.Wait()
		close(s.done)
	}()
	return s
}

// Close stops the workers and waits for them to exit. Loaders that start
// sending afterwards get ErrDisconnected.
func (s *Sniffer) Close() {
	s.cancel()
	<-s.done
}

// Done is closed once every worker has exited.
func (s *Sniffer) Done() <-chan struct{} { return s.done }

func (s *Sniffer) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.in:
			s.handle(ctx, t)
		}
	}
}

func (s *Sniffer) handle(ctx context.Context, t TargetedLoadResponse) {
	md := t.Response.Metadata
	scheme := md.scheme()

	ctx, span := s.tracer.Start(ctx, "sniffer.deliver",
		trace.WithAttributes(attribute.String("url.scheme", scheme)),
	)
	defer span.End()

	if s.metrics != nil {
		s.metrics.IncInflight()
		defer s.metrics.DecInflight()
	}

	start := time.Now()
	body, loadErr := drain(ctx, t.Response.Progress)
	if s.metrics != nil {
		s.metrics.ObserveLoadDuration(scheme, time.Since(start).Seconds())
		s.metrics.AddBytes(scheme, len(body))
	}

	if loadErr == nil {
		md = s.resolve(ctx, md, body)
	} else {
		span.RecordError(loadErr)
		span.SetStatus(codes.Error, loadErr.Error())
	}
	span.SetAttributes(
		attribute.String("content_type", md.ContentType.String()),
		attribute.Int("body.size", len(body)),
	)

	out := make(chan Progress, 2)
	if err := s.deliver(ctx, t.Consumer, LoadResponse{Metadata: md, Progress: out}); err != nil {
		s.logger.Warn(ctx, "consumer did not accept response, dropping",
			"url", urlString(md),
			"reason", err.Error(),
		)
		if s.metrics != nil {
			s.metrics.IncConsumerDisconnect()
			s.metrics.IncLoad(scheme, "abandoned")
		}
		return
	}

	if len(body) > 0 {
		out <- Payload(body)
	}
	out <- Done(loadErr)
	close(out)

	if s.metrics != nil {
		s.metrics.IncLoad(scheme, outcome(loadErr))
	}
	if loadErr != nil && !errors.Is(loadErr, ErrNoLoader) {
		s.logger.Debug(ctx, "load finished with error", "url", urlString(md), "err", loadErr.Error())
	}
}

// resolve runs the classifier over a complete body and records the
// result in the metadata.
func (s *Sniffer) resolve(ctx context.Context, md Metadata, body []byte) Metadata {
	declared := md.ContentType
	noSniff := false
	apacheBug := false
	if md.Headers != nil {
		noSniff = strings.EqualFold(strings.TrimSpace(md.Headers.Get("X-Content-Type-Options")), "nosniff")
		if sch := md.scheme(); sch == "http" || sch == "https" {
			if vs, ok := md.Headers["Content-Type"]; ok && len(vs) > 0 {
				apacheBug = mime.IsApacheDefault(vs[len(vs)-1])
			}
		}
	}

	resolved := s.classifier.Classify(noSniff, apacheBug, declared, body)
	md.Declared = declared
	md.ContentType = resolved

	if s.metrics != nil {
		s.metrics.IncSniffResult(resolved.String())
		if !declared.IsZero() && resolved != declared {
			s.metrics.IncSniffOverride()
		}
	}
	if resolved != declared {
		s.logger.Debug(ctx, "content type resolved",
			"url", urlString(md),
			"declared", declared.String(),
			"resolved", resolved.String(),
			"nosniff", noSniff,
			"apache_bug", apacheBug,
		)
	}
	return md
}

// deliver hands the response to the consumer. A consumer that does not
// take it in time is treated as gone; that affects this load only.
func (s *Sniffer) deliver(ctx context.Context, consumer chan<- LoadResponse, resp LoadResponse) error {
	if consumer == nil {
		return ErrDisconnected
	}
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case consumer <- resp:
		return nil
	case <-timer.C:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoLoader):
		return "no_loader"
	default:
		return "error"
	}
}

func urlString(md Metadata) string {
	if md.FinalURL == nil {
		return ""
	}
	return md.FinalURL.Redacted()
}
