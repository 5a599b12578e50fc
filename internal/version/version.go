// Package version exposes the engine version embedded from the VERSION
// file at the package root, so the binary and the release tag cannot
// drift apart.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the release version, trimmed of the trailing newline the
// VERSION file carries.
func Get() string {
	return strings.TrimSpace(raw)
}
