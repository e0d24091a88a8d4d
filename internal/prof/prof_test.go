package prof

import (
	"context"
	"strings"
	"testing"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
)

// Disabled

func TestStart_Disabled(t *testing.T) {
	var reported []bool
	stop, err := Start(context.Background(), Options{
		Enabled:       false,
		ServerAddress: "not a url",
		OnActive:      func(v bool) { reported = append(reported, v) },
	})
	if err != nil {
		t.Fatalf("disabled should never error, got: %v", err)
	}
	stop()
	stop()
	if len(reported) != 1 || reported[0] {
		t.Fatalf("OnActive calls = %v, want [false]", reported)
	}
}

// Enabled

func TestStart_Enabled_EmptyServerAddress(t *testing.T) {
	ctx := log.WithContext(context.Background(), log.Nop())
	var active bool
	stop, err := Start(ctx, Options{
		Enabled:              true,
		AppName:              "linnemanlabs-fetch.fetchd",
		TenantID:             "tenant",
		Tags:                 map[string]string{"component": "fetchd"},
		ProfileMutexFraction: 5,
		BlockProfileRate:     1000,
		OnActive:             func(v bool) { active = v },
	})
	if err == nil || !strings.Contains(err.Error(), "invalid server address") {
		t.Fatalf("err = %v, want invalid server address", err)
	}
	if stop == nil {
		t.Fatal("stop must be non-nil even on error")
	}
	stop()
	stop()
	if active {
		t.Fatal("reported active after a failed start")
	}
}

func TestStart_Enabled_UnreachableServer(t *testing.T) {
	// pyroscope connects lazily, so Start may succeed; stop must be safe either way
	var last bool
	stop, err := Start(context.Background(), Options{
		Enabled:       true,
		ServerAddress: "http://localhost:0/nonexistent",
		AppName:       "test",
		OnActive:      func(v bool) { last = v },
	})
	if stop == nil {
		t.Fatal("stop func should always be non-nil")
	}
	if err == nil && !last {
		t.Fatal("successful start not reported active")
	}
	stop()
	stop()
	if last {
		t.Fatal("still active after stop")
	}
}
