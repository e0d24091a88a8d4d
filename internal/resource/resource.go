// Package resource is the load pipeline: a manager task that dispatches
// load requests to per-scheme loaders and a sniffer task that sits between
// every loader and the consumer.
//
// Every accepted load produces exactly one LoadResponse on the consumer's
// channel, followed on its Progress channel by zero or more payloads and
// exactly one Done.
package resource

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/mime"
)

var (
	// ErrNoLoader is the Done error for a URL whose scheme has no loader.
	ErrNoLoader = errors.New("no loader for scheme")

	// ErrTaskClosed is returned when sending to a task that has exited.
	ErrTaskClosed = errors.New("resource task closed")

	// ErrDisconnected is returned when the receiving side of a pipeline
	// channel has gone away.
	ErrDisconnected = errors.New("receiver disconnected")

	// ErrIncomplete is the Done error forwarded when a loader closes its
	// progress channel without sending Done.
	ErrIncomplete = errors.New("body ended without completion")
)

// CORSData describes a cross-origin request.
type CORSData struct {
	Preflight bool
	Origin    *url.URL
}

// LoadData is the per-request input. The caller builds it with
// NewLoadData; the manager sets the user agent, ID and Next before handing
// it to a loader.
type LoadData struct {
	ID      string
	URL     *url.URL
	Method  string
	Headers http.Header
	Body    []byte
	CORS    *CORSData

	// Next is where the final LoadResponse goes.
	Next chan<- LoadResponse
}

func NewLoadData(u *url.URL) LoadData {
	return LoadData{
		URL:     u,
		Method:  http.MethodGet,
		Headers: make(http.Header),
	}
}

// Metadata holds what is known about a response. The sniffer may replace
// ContentType before the consumer sees it; Declared keeps what the loader
// reported.
type Metadata struct {
	FinalURL    *url.URL
	ContentType mime.Type
	Declared    mime.Type
	Charset     string
	Headers     http.Header
	Status      int
	StatusText  string
}

// DefaultMetadata returns metadata for u with nothing declared and a 200
// status.
func DefaultMetadata(u *url.URL) Metadata {
	return Metadata{
		FinalURL:   u,
		Status:     http.StatusOK,
		StatusText: http.StatusText(http.StatusOK),
	}
}

// SetContentType records the type and charset from a raw Content-Type
// value. Malformed or empty values leave the metadata unchanged.
func (m *Metadata) SetContentType(raw string) {
	t, charset, ok := mime.Parse(raw)
	if !ok {
		return
	}
	m.ContentType = t
	if charset != "" {
		m.Charset = charset
	}
}

// ContentTypeHeader formats ContentType and Charset as a header value.
func (m Metadata) ContentTypeHeader() string {
	if m.ContentType.IsZero() {
		return ""
	}
	if m.Charset == "" {
		return m.ContentType.String()
	}
	return m.ContentType.String() + "; charset=" + m.Charset
}

func (m Metadata) scheme() string {
	if m.FinalURL == nil {
		return ""
	}
	return m.FinalURL.Scheme
}

// LoadResponse is delivered exactly once per load.
type LoadResponse struct {
	Metadata Metadata
	Progress <-chan Progress
}

// TargetedLoadResponse is what a loader hands to the sniffer: the
// response it produced and the consumer it is meant for.
type TargetedLoadResponse struct {
	Response LoadResponse
	Consumer chan<- LoadResponse
}

// Progress is one message on a body channel: a payload, or the terminal
// Done with an optional error.
type Progress struct {
	Payload []byte
	Done    bool
	Err     error
}

func Payload(b []byte) Progress { return Progress{Payload: b} }
func Done(err error) Progress   { return Progress{Done: true, Err: err} }

// Loader produces a response for one scheme. Load is called on the
// manager goroutine and must not block; implementations start their own
// goroutine and report through StartSending.
type Loader interface {
	Load(ctx context.Context, data LoadData, s *Sniffer)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, data LoadData, s *Sniffer)

func (f LoaderFunc) Load(ctx context.Context, data LoadData, s *Sniffer) { f(ctx, data, s) }

// Loaders maps a lower-case URL scheme to its loader.
type Loaders map[string]Loader

// Metrics is implemented by the metrics package to observe the pipeline.
type Metrics interface {
	IncLoad(scheme, outcome string)
	ObserveLoadDuration(scheme string, seconds float64)
	AddBytes(scheme string, n int)
	IncInflight()
	DecInflight()
	IncSniffResult(contentType string)
	IncSniffOverride()
	IncConsumerDisconnect()
}
