// Package version carries build metadata stamped in with -ldflags and
// falls back to the module's embedded VCS info.
package version

import (
	"fmt"
	"runtime/debug"
)

// AppName names the service in logs, metrics and the default User-Agent.
const AppName = "linnemanlabs-fetch"

// set with -ldflags "-X .../internal/version.Version=..."
var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	AppName    string `json:"app"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

func Get() Info {
	out := Info{
		AppName:    AppName,
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		out.merge(bi)
	}
	return out
}

// merge fills fields ldflags left unset from the embedded build info.
func (i *Info) merge(bi *debug.BuildInfo) {
	i.GoVersion = bi.GoVersion
	var dirty *bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.Commit == "none" && s.Value != "" {
				i.Commit = s.Value
			}
		case "vcs.time":
			if i.BuildDate == "" && s.Value != "" {
				i.BuildDate = s.Value
			}
			i.CommitDate = s.Value
		case "vcs.modified":
			switch s.Value {
			case "true":
				t := true
				dirty = &t
			case "false":
				f := false
				dirty = &f
			}
		}
	}
	if dirty != nil {
		i.VCSDirty = dirty
	}
}

// ShortCommit returns the first 12 characters of the commit.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 12 {
		return i.Commit[:12]
	}
	return i.Commit
}

// Dirty reports a modified working tree; unknown counts as clean.
func (i Info) Dirty() bool { return i.VCSDirty != nil && *i.VCSDirty }

// UserAgent is the default User-Agent for outbound loads.
func (i Info) UserAgent() string {
	return AppName + "/" + i.Version
}

// String is the one-line form printed by -V.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)",
		i.AppName, i.Version, i.Commit, i.CommitDate, i.BuildId, i.BuildDate, i.GoVersion, i.Dirty())
}
