package loader

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/resource"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/xerrors"
)

// DefaultHTTPTimeout bounds an http load when Options.Timeout is zero.
const DefaultHTTPTimeout = 30 * time.Second

// HTTP loads http and https urls. Redirects are followed; FinalURL is the
// url of the last request.
type HTTP struct {
	client       *http.Client
	limiter      *ratelimit.Limiter
	timeout      time.Duration
	maxBytes     int64
	parallelGzip bool
}

func newHTTP(opts Options) *HTTP {
	client := opts.HTTPClient
	if client == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		// Accept-Encoding is managed here so every coding is decoded the same way
		tr.DisableCompression = true
		if opts.BlockPrivate {
			// a proxy would be the only address the guard ever sees
			tr.Proxy = nil
			tr.DialContext = guardedDialer().DialContext
		}
		client = &http.Client{Transport: otelhttp.NewTransport(tr)}
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTP{
		client:       client,
		limiter:      opts.Limiter,
		timeout:      timeout,
		maxBytes:     opts.maxBody(),
		parallelGzip: opts.ParallelGzip,
	}
}

func (l *HTTP) Load(ctx context.Context, data resource.LoadData, s *resource.Sniffer) {
	go l.load(ctx, data, s)
}

func (l *HTTP) load(ctx context.Context, data resource.LoadData, s *resource.Sniffer) {
	logger := log.FromContext(ctx)
	md := resource.DefaultMetadata(data.URL)
	if data.URL == nil || data.URL.Host == "" {
		fail(s, data, md, ErrBadURL)
		return
	}

	reqCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if l.limiter != nil {
		if err := l.limiter.Wait(reqCtx, data.URL.Host); err != nil {
			fail(s, data, md, xerrors.Wrapf(err, "rate limit %s", data.URL.Host))
			return
		}
	}

	req, err := newRequest(reqCtx, data)
	if err != nil {
		fail(s, data, md, err)
		return
	}

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		fail(s, data, md, xerrors.Wrapf(err, "%s %s", req.Method, data.URL.Redacted()))
		return
	}
	defer resp.Body.Close()

	logger.Debug(ctx, "http response",
		"status", resp.StatusCode,
		"final_url", resp.Request.URL.Redacted(),
		"content_type", resp.Header.Get("Content-Type"),
		"content_encoding", resp.Header.Get("Content-Encoding"),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	md = responseMetadata(resp)

	body, decoded, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"), l.parallelGzip)
	if err != nil {
		fail(s, data, md, xerrors.Wrap(err, "decode body"))
		return
	}
	defer body.Close()
	if decoded {
		md.Headers.Del("Content-Encoding")
		md.Headers.Del("Content-Length")
	}

	ch := resource.StartSending(s, data.Next, md)
	_, err = sendChunks(ctx, body, ch, l.maxBytes)
	finish(ctx, ch, err)
}

// newRequest builds the outbound request, turning a CORS preflight into an
// OPTIONS request.
func newRequest(ctx context.Context, data resource.LoadData) (*http.Request, error) {
	method := data.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(data.Body) > 0 {
		body = bytes.NewReader(data.Body)
	}

	header := data.Headers.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if data.CORS != nil {
		if o := serializeOrigin(data.CORS.Origin); o != "" {
			header.Set("Origin", o)
		}
		if data.CORS.Preflight {
			header.Set("Access-Control-Request-Method", method)
			method = http.MethodOptions
			body = nil
		}
	}
	if header.Get("Accept-Encoding") == "" {
		header.Set("Accept-Encoding", AcceptEncoding)
	}

	req, err := http.NewRequestWithContext(ctx, method, data.URL.String(), body)
	if err != nil {
		return nil, xerrors.Wrap(err, "build request")
	}
	req.Header = header
	return req, nil
}

func responseMetadata(resp *http.Response) resource.Metadata {
	md := resource.Metadata{
		FinalURL:   resp.Request.URL,
		Headers:    resp.Header.Clone(),
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
	}
	if md.Headers == nil {
		md.Headers = make(http.Header)
	}
	md.SetContentType(resp.Header.Get("Content-Type"))
	return md
}

// serializeOrigin returns scheme://host[:port], or "" for an opaque origin.
func serializeOrigin(u *url.URL) string {
	if u == nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
