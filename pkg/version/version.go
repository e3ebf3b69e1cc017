package version

import "runtime/debug"

// Overridden with -ldflags "-X github.com/vinodismyname/datasavant/pkg/version.version=v1.2.3".
var version = "dev"

// Version reports the module version from build info, falling back to the
// ldflags value and then the VCS revision for local builds.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	if version != "dev" {
		return version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return version + "+" + s.Value[:7]
		}
	}
	return version
}
