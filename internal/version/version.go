// Package version carries build metadata set with -ldflags.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns the one-line version banner.
func String() string {
	return fmt.Sprintf("speedcam %s (%s, built %s)", Version, GitSHA, BuildTime)
}

// Release returns the release name reported to error tracking.
func Release() string {
	return "speedcam@" + Version
}
