package resource

import (
	"bytes"
	"context"
)

// progressBuffer lets a loader run ahead of the sniffer by a few chunks.
const progressBuffer = 8

// StartSendingOpt hands a response for consumer to the sniffer and returns
// the channel the loader sends its body on. It fails with ErrDisconnected
// when the sniffer has stopped. The loader must finish with exactly one
// Done.
func StartSendingOpt(s *Sniffer, consumer chan<- LoadResponse, md Metadata) (chan<- Progress, error) {
	ch := make(chan Progress, progressBuffer)
	t := TargetedLoadResponse{
		Response: LoadResponse{Metadata: md, Progress: ch},
		Consumer: consumer,
	}
	select {
	case s.in <- t:
		return ch, nil
	case <-s.done:
		return nil, ErrDisconnected
	}
}

// StartSending is StartSendingOpt for loaders that have nothing better to
// do when the sniffer is gone. The returned channel is never nil; if the
// sniffer has stopped, sends on it are discarded.
func StartSending(s *Sniffer, consumer chan<- LoadResponse, md Metadata) chan<- Progress {
	ch, err := StartSendingOpt(s, consumer, md)
	if err != nil {
		return discard()
	}
	return ch
}

// discard returns a channel that swallows everything until Done.
func discard() chan<- Progress {
	ch := make(chan Progress, progressBuffer)
	go func() {
		for p := range ch {
			if p.Done {
				return
			}
		}
	}()
	return ch
}

// SendError finishes a load that failed before producing any bytes.
func SendError(s *Sniffer, consumer chan<- LoadResponse, md Metadata, err error) {
	StartSending(s, consumer, md) <- Done(err)
}

// drain reads a body channel to its terminal message. A channel closed
// without Done yields ErrIncomplete.
func drain(ctx context.Context, in <-chan Progress) ([]byte, error) {
	var buf bytes.Buffer
	for {
		select {
		case p, ok := <-in:
			if !ok {
				return buf.Bytes(), ErrIncomplete
			}
			if p.Done {
				return buf.Bytes(), p.Err
			}
			buf.Write(p.Payload)
		case <-ctx.Done():
			return buf.Bytes(), ctx.Err()
		}
	}
}
