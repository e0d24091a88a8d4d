// Package loader has the built-in scheme loaders for the resource task.
//
// Every loader returns from Load immediately and does its work on a new
// goroutine, reporting through resource.StartSending. Bodies are streamed to
// the sniffer in ChunkSize pieces.
package loader

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/resource"
)

// ChunkSize is the largest payload a loader sends in one message.
const ChunkSize = 32 << 10

// DefaultMaxBodyBytes caps a body when Options.MaxBodyBytes is zero.
const DefaultMaxBodyBytes = 64 << 20

var (
	ErrBodyTooLarge = errors.New("body exceeds size limit")
	ErrBadURL       = errors.New("malformed url")

	// kinds marked onto AWS API errors
	ErrNotFound     = errors.New("not found")
	ErrAccessDenied = errors.New("access denied")
	ErrThrottled    = errors.New("throttled")
)

// Options configures the built-in loaders. Zero values give a working
// registry of file, http, https, data and about.
type Options struct {
	Logger log.Logger

	// HTTPClient overrides the client used by the http loader. Its transport
	// is used as-is.
	HTTPClient *http.Client

	// Timeout bounds a single http load, including reading the body.
	Timeout time.Duration

	// MaxBodyBytes caps the decoded body of any load. Negative disables
	// the cap.
	MaxBodyBytes int64

	// Limiter throttles outbound http requests per host.
	Limiter *ratelimit.Limiter

	// ParallelGzip decodes gzip bodies with read-ahead on multiple cores.
	ParallelGzip bool

	// FileRoot confines the file loader to one directory. Empty allows any
	// absolute path.
	FileRoot string

	// BlockPrivate refuses http connections to loopback, link-local,
	// private and other internal addresses, and ignores proxy settings.
	// Ignored when HTTPClient is set.
	BlockPrivate bool

	// S3 enables the s3 loader.
	S3 ObjectGetter
	// S3Allow limits the s3 loader to these buckets or bucket/prefix
	// entries. Nil allows any object the client can read.
	S3Allow []string

	// SSM enables the ssm loader.
	SSM ParameterGetter
	// SSMAllow limits the ssm loader to these parameter path prefixes. Nil
	// allows any parameter the client can read.
	SSMAllow []string
}

func (o Options) maxBody() int64 {
	switch {
	case o.MaxBodyBytes < 0:
		return 0
	case o.MaxBodyBytes == 0:
		return DefaultMaxBodyBytes
	default:
		return o.MaxBodyBytes
	}
}

// Defaults builds the loader registry.
func Defaults(opts Options) resource.Loaders {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	h := newHTTP(opts)
	ls := resource.Loaders{
		"file":  &File{Root: opts.FileRoot, MaxBytes: opts.maxBody()},
		"http":  h,
		"https": h,
		"data":  Data{},
		"about": About{},
	}
	if opts.S3 != nil {
		ls["s3"] = &S3{Client: opts.S3, MaxBytes: opts.maxBody(), Allow: opts.S3Allow}
	}
	if opts.SSM != nil {
		ls["ssm"] = &SSM{Client: opts.SSM, Allow: opts.SSMAllow}
	}
	return ls
}

// sendChunks copies r to ch in ChunkSize payloads. limit 0 means no cap.
func sendChunks(ctx context.Context, r io.Reader, ch chan<- resource.Progress, limit int64) (int64, error) {
	var total int64
	buf := make([]byte, ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if limit > 0 && total > limit {
				return total, ErrBodyTooLarge
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !send(ctx, ch, resource.Payload(chunk)) {
				return total, ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// send delivers p unless ctx ends first.
func send(ctx context.Context, ch chan<- resource.Progress, p resource.Progress) bool {
	select {
	case ch <- p:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish sends the terminal Done. A buffered slot is taken even when ctx is
// already done so the sniffer still sees the error.
func finish(ctx context.Context, ch chan<- resource.Progress, err error) {
	select {
	case ch <- resource.Done(err):
		return
	default:
	}
	send(ctx, ch, resource.Done(err))
}

// fail finishes a load that produced no body.
func fail(s *resource.Sniffer, data resource.LoadData, md resource.Metadata, err error) {
	if md.FinalURL == nil {
		md.FinalURL = data.URL
	}
	resource.SendError(s, data.Next, md, err)
}
