// Package version holds build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime/debug"
)

// Build metadata, set via -ldflags "-X github.com/Sumatoshi-tech/geoval/pkg/version.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Init fills Commit and Date from the embedded VCS info when ldflags left them unset.
func Init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "unknown" && s.Value != "" {
				Commit = s.Value
			}
		case "vcs.time":
			if Date == "unknown" && s.Value != "" {
				Date = s.Value
			}
		}
	}
}

// String renders the version line printed by the CLI.
func String() string {
	return fmt.Sprintf("geoval %s (commit: %s, built: %s)", Version, Commit, Date)
}
