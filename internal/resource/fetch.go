package resource

import (
	"context"
	"net/url"
)

// Fetch submits data to the task and waits for its LoadResponse.
func Fetch(ctx context.Context, t *Task, data LoadData) (LoadResponse, error) {
	// buffered so the sniffer never waits on a caller that gave up
	resp := make(chan LoadResponse, 1)
	if err := t.LoadContext(ctx, data, resp); err != nil {
		return LoadResponse{}, err
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return LoadResponse{}, ctx.Err()
	}
}

// LoadWholeResource loads u and collects its body. A failed load returns
// the Done error.
func LoadWholeResource(ctx context.Context, t *Task, u *url.URL) (Metadata, []byte, error) {
	r, err := Fetch(ctx, t, NewLoadData(u))
	if err != nil {
		return Metadata{}, nil, err
	}
	body, err := drain(ctx, r.Progress)
	if err != nil {
		return r.Metadata, nil, err
	}
	return r.Metadata, body, nil
}

// BytesIter walks the payloads of a body channel.
type BytesIter struct {
	ctx      context.Context
	progress <-chan Progress
	err      error
	done     bool
}

// LoadBytesIter loads u and returns its metadata and an iterator over the
// body chunks as they arrive.
func LoadBytesIter(ctx context.Context, t *Task, u *url.URL) (Metadata, *BytesIter, error) {
	r, err := Fetch(ctx, t, NewLoadData(u))
	if err != nil {
		return Metadata{}, nil, err
	}
	return r.Metadata, NewBytesIter(ctx, r.Progress), nil
}

func NewBytesIter(ctx context.Context, progress <-chan Progress) *BytesIter {
	return &BytesIter{ctx: ctx, progress: progress}
}

// Next returns the next chunk. It returns false at the end of the body;
// Err then reports whether the load failed.
func (it *BytesIter) Next() ([]byte, bool) {
	for !it.done {
		select {
		case p, ok := <-it.progress:
			switch {
			case !ok:
				it.done, it.err = true, ErrIncomplete
			case p.Done:
				it.done, it.err = true, p.Err
			case len(p.Payload) > 0:
				return p.Payload, true
			}
		case <-it.ctx.Done():
			it.done, it.err = true, it.ctx.Err()
		}
	}
	return nil, false
}

// Err returns the error that ended the body, if any.
func (it *BytesIter) Err() error { return it.err }
