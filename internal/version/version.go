// Package version provides version information for the sitedeploy binary.
package version

import (
	_ "embed"
	"strings"
)

// VERSION contains the version from the VERSION file.
// It is used when the binary was built without ldflags.
//
//go:embed VERSION
var VERSION string

// Get returns the embedded version with a "v" prefix.
func Get() string {
	return "v" + strings.TrimSpace(VERSION)
}

// Resolve returns ldflag when it was set at build time and the embedded
// version otherwise.
func Resolve(ldflag string) string {
	if ldflag == "" || ldflag == "dev" {
		return Get()
	}
	return ldflag
}
