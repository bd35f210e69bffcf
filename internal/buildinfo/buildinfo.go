// Package buildinfo derives the reposync version string from the
// metadata the Go toolchain embeds in the binary.
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// Version returns the module version, or "dev" for untagged builds.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	return "dev"
}

// Tags returns the build tags the binary was compiled with.
func Tags() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "-tags" {
			return setting.Value
		}
	}
	return ""
}

// VersionWithTags renders the version plus the build tags, if any.
func VersionWithTags() string {
	if tags := Tags(); tags != "" {
		return fmt.Sprintf("%s (tags: %s)", Version(), tags)
	}
	return Version()
}
