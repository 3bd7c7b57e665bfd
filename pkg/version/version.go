// Package version holds the build version. Release builds override it with
// -ldflags "-X racecore/pkg/version.Version=...".
package version

import "runtime/debug"

// Version is the racecore release.
var Version = "v0.3.0"

// String returns the version with the VCS revision when the binary carries one.
func String() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return Version + "+" + s.Value[:7]
		}
	}
	return Version
}
