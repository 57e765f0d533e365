// Package version holds build metadata injected at link time via
// -ldflags "-X github.com/weaveship/weaveship/internal/version.Version=...".
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns the full build identifier, e.g. "0.3.1 (abc1234, 2026-08-30)".
func String() string {
	return fmt.Sprintf("%s (%s, %s)", Version, Commit, Date)
}
