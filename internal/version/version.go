// Package version carries build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/motion.planner/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	// Version is the planner release
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns a one-line build description recorded with every run.
func String() string {
	return fmt.Sprintf("planner %s (%s, built %s)", Version, GitSHA, BuildTime)
}
