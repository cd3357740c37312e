// Package version is stamped at build time with -ldflags "-X".
package version

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
