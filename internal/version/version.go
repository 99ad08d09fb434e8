// ABOUTME: Build and product identification
// ABOUTME: Version fields are overridden at link time with -ldflags -X
package version

import (
	"fmt"
	"runtime"
)

// Overridden by the release build.
var (
	Version = "0.1.0"
	Commit  = "none"
	Date    = "unknown"
)

const (
	Product      = "playclock"
	Manufacturer = "Resonate Protocol"
)

// String formats the build information for `playclock version`.
func String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s %s/%s)",
		Product, Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
