// Package health provides the probes behind fetchd's liveness and readiness
// endpoints. Readiness is the AND of a [ShutdownGate], which fails while
// fetchd drains, and [Running], which fails once the resource task stops.
package health

import (
	"context"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/xerrors"
)

// Probe reports nil when healthy, otherwise the reason it is not.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	err := xerrors.New(reason)
	return func(context.Context) error { return err }
}

// All passes when every non-nil probe passes and reports the first failure.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Runner reports whether a long-lived goroutine is still serving.
// *resource.Task satisfies it.
type Runner interface{ Running() bool }

// Running fails once r has stopped.
func Running(name string, r Runner) CheckFunc {
	return func(context.Context) error {
		if r == nil || !r.Running() {
			return xerrors.Newf("%s not running", name)
		}
		return nil
	}
}

// ShutdownGate fails readiness from the first Set on. The zero value is open.
type ShutdownGate struct {
	reason atomic.Pointer[string]
}

// Set closes the gate. An empty reason reports "draining".
func (g *ShutdownGate) Set(reason string) {
	if reason == "" {
		reason = "draining"
	}
	g.reason.Store(&reason)
}

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if r := g.reason.Load(); r != nil {
			return xerrors.New(*r)
		}
		return nil
	}
}
