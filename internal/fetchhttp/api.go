// Package fetchhttp exposes the resource task and the classifier over HTTP.
package fetchhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/loader"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/mime"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/resource"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/xerrors"
)

// DefaultSniffBytes bounds the body read by /v1/sniff.
const DefaultSniffBytes = 1 << 20

// API implements the /v1 endpoints.
type API struct {
	task       *resource.Task
	classifier *mime.Classifier

	// sniffBytes caps the body /v1/sniff reads.
	sniffBytes int64
	// timeout bounds the wait for a load's response.
	timeout time.Duration
}

// Options configures an API. Task is required. Handlers log through the
// request-scoped logger.
type Options struct {
	Task       *resource.Task
	Classifier *mime.Classifier

	SniffBytes int64
	Timeout    time.Duration
}

// NewAPI creates the API handler.
func NewAPI(opts Options) *API {
	if opts.Classifier == nil {
		opts.Classifier = mime.Default()
	}
	if opts.SniffBytes <= 0 {
		opts.SniffBytes = DefaultSniffBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &API{
		task:       opts.Task,
		classifier: opts.Classifier,
		sniffBytes: opts.SniffBytes,
		timeout:    opts.Timeout,
	}
}

// RegisterRoutes attaches the api endpoints to the router.
func (api *API) RegisterRoutes(r chi.Router) {
	r.With(httpmw.Scope("fetch")).Get("/v1/fetch", api.HandleFetch)
	r.With(httpmw.Scope("sniff")).Post("/v1/sniff", api.HandleSniff)
}

// ErrorResponse is the body of every non-2xx api response.
type ErrorResponse struct {
	Error string `json:"error"`
	URL   string `json:"url,omitempty"`
}

// SniffResponse reports a classification.
type SniffResponse struct {
	Type     string            `json:"type"`
	Declared string            `json:"declared,omitempty"`
	Groups   map[string]string `json:"groups"`
}

// HandleFetch loads ?url= through the resource task and streams the body
// back with the resolved Content-Type.
func (api *API) HandleFetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	u, err := parseTarget(r.URL.Query().Get("url"))
	if err != nil {
		api.writeJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	noSniff := flagValue(r.URL.Query().Get("nosniff"))

	ctx = log.WithFields(ctx, "target", u)
	L := log.FromContext(ctx)
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("fetch.scheme", u.Scheme),
			attribute.Bool("fetch.nosniff", noSniff),
		)
	}

	data := resource.NewLoadData(u)
	data.ID = httpmw.RequestIDFromContext(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, api.timeout)
	defer cancel()
	resp, err := resource.Fetch(waitCtx, api.task, data)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, resource.ErrTaskClosed):
			status = http.StatusServiceUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		L.Error(ctx, xerrors.Wrap(err, "submit load"), "fetch failed")
		api.writeJSON(ctx, w, status, ErrorResponse{Error: err.Error(), URL: u.Redacted()})
		return
	}

	md := resp.Metadata
	// the body is complete before the response arrives, so the first
	// chunk already tells a failed load from a good one
	it := resource.NewBytesIter(ctx, resp.Progress)
	first, ok := it.Next()
	if !ok && it.Err() != nil {
		err := it.Err()
		L.Warn(ctx, "load failed", "err", err.Error(), "upstream_status", md.Status)
		api.writeJSON(ctx, w, loadFailureStatus(err), ErrorResponse{Error: err.Error(), URL: u.Redacted()})
		return
	}

	h := w.Header()
	h.Set("Content-Type", contentType(md, noSniff))
	if !md.Declared.IsZero() {
		h.Set("X-Sniffed-From", md.Declared.String())
	}
	if md.Status != 0 {
		h.Set("X-Upstream-Status", strconv.Itoa(md.Status))
	}
	if md.FinalURL != nil && md.FinalURL.String() != u.String() {
		h.Set("X-Final-URL", md.FinalURL.Redacted())
	}
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	var n int64
	for chunk := first; ok; chunk, ok = it.Next() {
		m, werr := w.Write(chunk)
		n += int64(m)
		if werr != nil {
			// client went away; the sniffer sees the receiver drop
			L.Debug(ctx, "client write failed", "err", werr.Error(), "bytes", n)
			return
		}
	}
	if err := it.Err(); err != nil {
		// headers are out; all we can do is cut the body short
		L.Warn(ctx, "body ended early", "err", err.Error(), "bytes", n)
		return
	}
	L.Debug(ctx, "served fetch",
		"type", md.ContentType.String(),
		"declared", md.Declared.String(),
		"bytes", n,
	)
}

// HandleSniff classifies the request body. Only the first sniffBytes are
// looked at.
func (api *API) HandleSniff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, api.sniffBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			api.writeJSON(ctx, w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
			return
		}
		api.writeJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Error: "read body: " + err.Error()})
		return
	}

	rawDeclared := r.Header.Get("X-Declared-Type")
	var declared mime.Type
	if rawDeclared != "" {
		t, _, ok := mime.Parse(rawDeclared)
		if !ok {
			api.writeJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Error: "malformed X-Declared-Type"})
			return
		}
		declared = t
	}
	noSniff := flagValue(r.Header.Get("X-No-Sniff"))
	apacheBug := mime.IsApacheDefault(rawDeclared)
	if v := r.Header.Get("X-Apache-Bug"); v != "" {
		apacheBug = flagValue(v)
	}

	resolved := api.classifier.Classify(noSniff, apacheBug, declared, body)

	resp := SniffResponse{
		Type:   resolved.String(),
		Groups: make(map[string]string, 6),
	}
	if !declared.IsZero() {
		resp.Declared = declared.String()
	}
	for _, g := range api.classifier.Groups() {
		if t, ok := g.Classify(body); ok {
			resp.Groups[g.Name] = t.String()
		} else {
			resp.Groups[g.Name] = ""
		}
	}

	log.FromContext(ctx).Debug(ctx, "served sniff",
		"type", resp.Type,
		"declared", resp.Declared,
		"bytes", len(body),
		"nosniff", noSniff,
		"apache_bug", apacheBug,
	)
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(ctx).Warn(ctx, "failed to encode JSON response", "err", err.Error())
	}
}

var (
	errMissingURL  = errors.New("url parameter is required")
	errRelativeURL = errors.New("url must be absolute")
)

func parseTarget(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errMissingURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse url")
	}
	if u.Scheme == "" {
		return nil, errRelativeURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u, nil
}

// contentType picks the header value for a fetched body. nosniff asks for
// the type the origin declared, when it declared one.
func contentType(md resource.Metadata, noSniff bool) string {
	if noSniff && !md.Declared.IsZero() {
		md.ContentType = md.Declared
	}
	if v := md.ContentTypeHeader(); v != "" {
		return v
	}
	return mime.OctetStream.String()
}

func flagValue(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// loadFailureStatus is 403 for targets the loaders refuse to touch and 502
// for everything that went wrong upstream.
func loadFailureStatus(err error) int {
	if xerrors.Kind(err, loader.ErrNotAllowed, loader.ErrBlockedAddress) != nil {
		return http.StatusForbidden
	}
	return http.StatusBadGateway
}
