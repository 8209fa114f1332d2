// Package version holds build information, set with -ldflags at build time.
package version

var (
	// Version is the release version of nodectl.
	Version = "v0.0.0-dev"
	// GitCommit is the commit nodectl was built from.
	GitCommit = "unknown"
)
