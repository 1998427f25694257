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

// String renders the build information for --version output and /api/status.
func String() string {
	return fmt.Sprintf("shoepad %s (%s, built %s)", Version, GitSHA, BuildTime)
}
