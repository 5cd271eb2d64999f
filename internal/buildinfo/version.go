package buildinfo

import "runtime/debug"

// Version can be set at link time:
//
//	-ldflags "-X github.com/apptrail-sh/statusbar/internal/buildinfo.Version=v1.2.3"
var Version string

// AgentVersion returns the version of the running binary: the link-time
// Version, else the module version, else the VCS revision, else "dev".
func AgentVersion() string {
	if Version != "" {
		return Version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			return shortRevision(setting.Value)
		}
	}
	return "dev"
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
