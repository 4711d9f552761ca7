// Package version carries build metadata, set with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release version.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for logs and the debug server.
func String() string {
	return fmt.Sprintf("autobrake %s (%s, built %s)", Version, GitSHA, BuildTime)
}
