// Package buildinfo reports the binary's version and build metadata.
//
// Release builds stamp the variables with -ldflags, e.g.
//
//	-X github.com/hanig/hani-replica/internal/buildinfo.Version=v1.2.0
//
// A plain `go build` leaves them unset; the commit and build time are
// then taken from the VCS stamp the toolchain embeds.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

const name = "hani-replica"

var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var (
	started = time.Now()
	vcsOnce sync.Once
)

// fillFromVCS replaces unstamped fields with the embedded VCS settings.
func fillFromVCS() {
	vcsOnce.Do(func() {
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		dirty := false
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if GitCommit == "unknown" && len(s.Value) >= 12 {
					GitCommit = s.Value[:12]
				}
			case "vcs.time":
				if BuildTime == "unknown" {
					BuildTime = s.Value
				}
			case "vcs.modified":
				dirty = s.Value == "true"
			}
		}
		if dirty && GitCommit != "unknown" {
			GitCommit += "-dirty"
		}
	})
}

// Info returns build and runtime details keyed for JSON output.
func Info() map[string]string {
	fillFromVCS()
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime is the time since process start, to the second.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// UserAgent identifies outbound HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s)", name, Version, runtime.GOOS, runtime.GOARCH)
}

// String is a one-line summary for the version command and logs.
func String() string {
	fillFromVCS()
	return fmt.Sprintf("%s %s (%s@%s) built %s", name, Version, GitCommit, GitBranch, BuildTime)
}
