package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	UseRecoverMW bool
	// OnPanic is called for every recovered panic, e.g. to bump a counter.
	OnPanic func()
}
