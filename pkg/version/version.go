// Package version holds build metadata injected with -ldflags.
package version

import "runtime/debug"

// Version information set via ldflags at build time
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns formatted version information. Builds without ldflags fall
// back to the VCS revision recorded by the Go toolchain.
func Info() string {
	commit, date := Commit, Date
	if info, ok := debug.ReadBuildInfo(); ok && commit == "none" {
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				commit = s.Value
			case "vcs.time":
				date = s.Value
			}
		}
	}
	return "Version:    " + Version + "\nCommit:     " + commit + "\nBuild Date: " + date
}
