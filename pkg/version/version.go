// Package version carries the build identity stamped into the argthread
// binary at link time.
package version

// Build metadata, overridden via -ldflags at release time.
var (
	Version = "dev"
	Commit  = "<unknown>"
	Date    = "<unknown>"
)
