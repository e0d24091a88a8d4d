package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestGet_VCSDirtyTriState(t *testing.T) {
	orig := VCSDirty
	t.Cleanup(func() { VCSDirty = orig })

	// test binaries carry no vcs settings, so the ldflags value survives
	VCSDirty = nil
	if info := Get(); info.VCSDirty != nil {
		t.Fatalf("VCSDirty = %v, want nil", info.VCSDirty)
	}

	trueVal := true
	VCSDirty = &trueVal
	if info := Get(); !info.Dirty() {
		t.Fatal("Dirty() = false, want true")
	}

	falseVal := false
	VCSDirty = &falseVal
	if info := Get(); info.VCSDirty == nil || info.Dirty() {
		t.Fatalf("VCSDirty = %v, want false", info.VCSDirty)
	}
}

func TestGet_AppName(t *testing.T) {
	if got := Get().AppName; got != AppName {
		t.Fatalf("AppName = %q, want %q", got, AppName)
	}
}

func TestMerge_BuildSettings(t *testing.T) {
	info := Info{Commit: "none"}
	info.merge(&debug.BuildInfo{
		GoVersion: "go1.25.0",
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})
	if info.GoVersion != "go1.25.0" {
		t.Fatalf("GoVersion = %q", info.GoVersion)
	}
	if info.Commit != "0123456789abcdef0123" {
		t.Fatalf("Commit = %q", info.Commit)
	}
	if info.BuildDate != "2026-01-02T03:04:05Z" || info.CommitDate != info.BuildDate {
		t.Fatalf("dates = %q / %q", info.BuildDate, info.CommitDate)
	}
	if !info.Dirty() {
		t.Fatal("Dirty() = false, want true")
	}
}

func TestMerge_LdflagsWin(t *testing.T) {
	info := Info{Commit: "stamped", BuildDate: "yesterday"}
	info.merge(&debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "fromvcs"},
		{Key: "vcs.time", Value: "today"},
	}})
	if info.Commit != "stamped" || info.BuildDate != "yesterday" {
		t.Fatalf("ldflags values overwritten: %+v", info)
	}
}

func TestInfo_Formatting(t *testing.T) {
	info := Info{AppName: AppName, Version: "1.2.3", Commit: "0123456789abcdef"}
	if got := info.ShortCommit(); got != "0123456789ab" {
		t.Fatalf("ShortCommit = %q", got)
	}
	if got := (Info{Commit: "abc"}).ShortCommit(); got != "abc" {
		t.Fatalf("short ShortCommit = %q", got)
	}
	if got := info.UserAgent(); got != "linnemanlabs-fetch/1.2.3" {
		t.Fatalf("UserAgent = %q", got)
	}
	s := info.String()
	if !strings.HasPrefix(s, "linnemanlabs-fetch 1.2.3 (commit=0123456789abcdef") || !strings.Contains(s, "dirty=false") {
		t.Fatalf("String = %q", s)
	}
}
