// Package version reports the conductor release.
package version

import (
	_ "embed"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionContent string

// Commit is set at build time with -ldflags "-X .../version.Commit=<sha>".
var Commit string

// Get returns the release version, with a short commit suffix when known.
func Get() string {
	v := strings.TrimSpace(versionContent)
	if c := commit(); c != "" {
		v += "+" + c
	}
	return v
}

func commit() string {
	c := Commit
	if c == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					c = s.Value
				}
			}
		}
	}
	if len(c) > 7 {
		c = c[:7]
	}
	return c
}
