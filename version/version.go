// Package version reports the build metadata of the remote-panel binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/grovetools/remote-panel/version.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	Branch    = "unknown"
	BuildDate = "unknown"
)

// Info is the build metadata served by `version` and /api/health.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Branch    string `json:"branch"`
	BuildDate string `json:"buildDate"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// GetInfo returns the linker-provided values, filling commit and build date
// from the embedded VCS stamp when the binary was built without ldflags.
func GetInfo() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Branch:    Branch,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "none" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.BuildDate == "unknown" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

// ShortCommit is the first 7 characters of the commit.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 7 {
		return i.Commit[:7]
	}
	return i.Commit
}

// UserAgent identifies panel CLI requests, e.g. "remote-panel/v1.2.0 (abc1234)".
func (i Info) UserAgent() string {
	return fmt.Sprintf("remote-panel/%s (%s)", i.Version, i.ShortCommit())
}

func (i Info) String() string {
	commit := i.Commit
	if i.Modified {
		commit += " (modified)"
	}
	return fmt.Sprintf(
		"Version:\t%s\nCommit:\t\t%s\nBranch:\t\t%s\nBuild Date:\t%s\nGo Version:\t%s\nPlatform:\t%s",
		i.Version, commit, i.Branch, i.BuildDate, i.GoVersion, i.Platform,
	)
}
