// ABOUTME: Root rrcbridge package providing version information and package documentation
// ABOUTME: The bridge itself lives in rawrefcount; this package ties the module together

// Package rrcbridge lets a tracing, moving garbage collector share objects
// with a reference-counted foreign runtime. Package rawrefcount holds the
// bridge and its cycle finders, internal/simheap a simulated host, scenario
// a description and runner for mixed object graphs, and graph the
// diagnostics that explain why an object is still alive.
package rrcbridge

import semver "github.com/Masterminds/semver/v3"

// Version is the semantic version of the rrcbridge module
const Version = "0.3.0-dev"

// SemVer returns Version parsed as a semantic version.
func SemVer() *semver.Version {
	return semver.MustParse(Version)
}
