// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Name is the program name used in banners and NATS client names.
const Name = "gpuenc"

var (
	// Version is the application version, set via ldflags during build.
	Version = "dev"
	// GitCommit is the git commit hash, set via ldflags during build.
	GitCommit = "unknown"
	// BuildDate is the build timestamp, set via ldflags during build.
	BuildDate = "unknown"
	// BuildID is the build identifier, set via ldflags during build.
	BuildID = "unknown"
)

// Info contains version and build metadata.
type Info struct {
	Version   string `json:"version" toml:"version"`
	GitCommit string `json:"git_commit" toml:"git_commit"`
	BuildDate string `json:"build_date" toml:"build_date"`
	BuildID   string `json:"build_id" toml:"build_id"`
	GoVersion string `json:"go_version" toml:"go_version"`
	Compiler  string `json:"compiler" toml:"compiler"`
	Platform  string `json:"platform" toml:"platform"`
}

// Get returns version and build information.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		BuildID:   BuildID,
		GoVersion: runtime.Version(),
		Compiler:  runtime.Compiler,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns the application version string.
func String() string {
	return Version
}

// Summary renders info as a single banner line, e.g.
// "gpuenc 1.2.0 (abc1234, built 2025-01-27T10:30:00Z, linux/amd64)".
// Unknown build fields are left out.
func (i Info) Summary() string {
	details := make([]string, 0, 3)
	if i.GitCommit != "" && i.GitCommit != "unknown" {
		commit := i.GitCommit
		if len(commit) > 7 {
			commit = commit[:7]
		}
		details = append(details, commit)
	}
	if i.BuildDate != "" && i.BuildDate != "unknown" {
		details = append(details, "built "+i.BuildDate)
	}
	details = append(details, i.Platform)
	return fmt.Sprintf("%s %s (%s)", Name, i.Version, strings.Join(details, ", "))
}
