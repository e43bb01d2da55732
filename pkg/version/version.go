// Package version holds build-time version metadata injected via ldflags.
package version

var (
	// Version is the release version, set at build time.
	Version = "dev"
	// GitCommit is the git commit hash, set at build time.
	GitCommit = "unknown"
	// BuildTime is the build timestamp, set at build time.
	BuildTime = "unknown"
)
