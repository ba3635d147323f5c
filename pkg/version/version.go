// Package version exposes the build's identity for logs and /health.
package version

import "runtime/debug"

// AppName prefixes version strings and user agents.
const AppName = "kiso"

// commitOverride is injected with -ldflags for builds without VCS metadata.
var commitOverride string

// GitCommit is the short commit hash, or "dev" when unknown.
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commitOverride != "" {
		return short(commitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "kiso/<commit>".
func Full() string { return AppName + "/" + GitCommit }
