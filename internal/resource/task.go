package resource

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
)

// ControlMsg is a request to the manager: a load, or Exit.
type ControlMsg struct {
	Exit     bool
	Data     LoadData
	Response chan<- LoadResponse
}

// LoadMsg builds a load request. resp receives exactly one LoadResponse.
func LoadMsg(data LoadData, resp chan<- LoadResponse) ControlMsg {
	return ControlMsg{Data: data, Response: resp}
}

// ExitMsg stops the manager.
func ExitMsg() ControlMsg { return ControlMsg{Exit: true} }

// TaskOptions configures the resource task.
type TaskOptions struct {
	Logger  log.Logger
	Loaders Loaders
	Metrics Metrics

	// UserAgent, when set, replaces the User-Agent header of every load.
	UserAgent string

	// Sniffer is used as is when set; otherwise the task starts its own
	// from SnifferOptions.
	Sniffer        *Sniffer
	SnifferOptions SnifferOptions
}

// Task is the handle to a running resource manager.
type Task struct {
	in   chan ControlMsg
	done chan struct{}

	logger    log.Logger
	loaders   Loaders
	userAgent string
	sniffer   *Sniffer
	tracer    trace.Tracer
}

// NewTask starts the manager goroutine (and a sniffer if none was given).
// The manager runs until Exit is received or ctx is cancelled; an owned
// sniffer runs until ctx is cancelled so that loads already dispatched can
// still complete.
func NewTask(ctx context.Context, opts TaskOptions) *Task {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	s := opts.Sniffer
	if s == nil {
		so := opts.SnifferOptions
		if so.Logger == nil {
			so.Logger = opts.Logger
		}
		if so.Metrics == nil {
			so.Metrics = opts.Metrics
		}
		s = NewSniffer(ctx, so)
	}

	loaders := make(Loaders, len(opts.Loaders))
	for scheme, l := range opts.Loaders {
		loaders[strings.ToLower(scheme)] = l
	}

	t := &Task{
		in:        make(chan ControlMsg),
		done:      make(chan struct{}),
		logger:    opts.Logger.With("component", "resource_manager"),
		loaders:   loaders,
		userAgent: opts.UserAgent,
		sniffer:   s,
		tracer:    otel.Tracer("linnemanlabs/resource"),
	}
	go t.run(ctx)
	return t
}

// Send delivers a control message. It returns ErrTaskClosed once the
// manager has exited. A nil error means the manager accepted the message.
func (t *Task) Send(msg ControlMsg) error {
	return t.SendContext(context.Background(), msg)
}

// SendContext is Send that gives up when ctx ends. The manager hands
// failures to the sniffer inline, so it can be busy for as long as every
// sniffer worker is.
func (t *Task) SendContext(ctx context.Context, msg ControlMsg) error {
	select {
	case t.in <- msg:
		return nil
	case <-t.done:
		return ErrTaskClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load submits a load; resp receives exactly one LoadResponse unless the
// consumer takes longer than the sniffer's delivery timeout to accept it,
// in which case the response is dropped. Give resp a buffer of at least
// one so delivery never depends on the receiver being ready.
func (t *Task) Load(data LoadData, resp chan<- LoadResponse) error {
	return t.Send(LoadMsg(data, resp))
}

// LoadContext is Load that gives up on submission when ctx ends.
func (t *Task) LoadContext(ctx context.Context, data LoadData, resp chan<- LoadResponse) error {
	return t.SendContext(ctx, LoadMsg(data, resp))
}

// Exit stops the manager.
func (t *Task) Exit() error { return t.Send(ExitMsg()) }

// Done is closed when the manager has exited.
func (t *Task) Done() <-chan struct{} { return t.done }

// Running reports whether the manager still accepts messages.
func (t *Task) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Sniffer returns the sniffer loads are routed through.
func (t *Task) Sniffer() *Sniffer { return t.sniffer }

func (t *Task) run(ctx context.Context) {
	defer close(t.done)
	t.logger.Info(ctx, "resource manager starting", "schemes", t.schemes())
	for {
		select {
		case <-ctx.Done():
			t.logger.Info(ctx, "resource manager stopping", "reason", ctx.Err())
			return
		case msg := <-t.in:
			if msg.Exit {
				t.logger.Info(ctx, "resource manager stopping", "reason", "exit")
				return
			}
			t.load(ctx, msg.Data, msg.Response)
		}
	}
}

func (t *Task) load(ctx context.Context, data LoadData, resp chan<- LoadResponse) {
	if data.Headers == nil {
		data.Headers = make(http.Header)
	} else {
		data.Headers = data.Headers.Clone()
	}
	if t.userAgent != "" {
		data.Headers.Set("User-Agent", t.userAgent)
	}
	if data.Method == "" {
		data.Method = http.MethodGet
	}
	if data.ID == "" {
		data.ID = uuid.NewString()
	}
	data.Next = resp

	scheme := ""
	if data.URL != nil {
		scheme = strings.ToLower(data.URL.Scheme)
	}

	ctx, span := t.tracer.Start(ctx, "resource.load",
		trace.WithAttributes(
			attribute.String("load.id", data.ID),
			attribute.String("url.scheme", scheme),
		),
	)
	defer span.End()

	l := t.logger.With("load_id", data.ID, "scheme", scheme)

	loader, ok := t.loaders[scheme]
	if !ok {
		l.Debug(ctx, "no loader for scheme")
		span.SetStatus(codes.Error, ErrNoLoader.Error())
		SendError(t.sniffer, resp, DefaultMetadata(data.URL), ErrNoLoader)
		return
	}

	if data.URL != nil {
		l.Debug(ctx, "loading url", "url", data.URL.Redacted(), "method", data.Method)
	}
	loader.Load(log.WithContext(ctx, l), data, t.sniffer)
}

func (t *Task) schemes() []string {
	return slices.Sorted(maps.Keys(t.loaders))
}
