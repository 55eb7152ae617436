package version

import (
	"runtime"
	"runtime/debug"
	"strings"
)

const defaultModule = "pkt.systems/booksden"

// buildVersion is set via -ldflags "-X pkt.systems/booksden/internal/version.buildVersion=...".
var buildVersion = ""

// Info describes the running binary.
type Info struct {
	Module    string `json:"module"`
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
}

// Current returns the best available version string.
func Current() string {
	return Read().Version
}

// Module returns the module path from build info when available.
func Module() string {
	return Read().Module
}

// Read collects version details from ldflags and the embedded build info.
func Read() Info {
	info := Info{
		Module:    defaultModule,
		Version:   "v0.0.0-unknown",
		GoVersion: runtime.Version(),
	}
	bi, ok := debug.ReadBuildInfo()
	if ok {
		if path := strings.TrimSpace(bi.Main.Path); path != "" {
			info.Module = path
		}
		if v := strings.TrimSpace(bi.Main.Version); v != "" && v != "(devel)" {
			info.Version = v
		}
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				info.Revision = setting.Value
			case "vcs.modified":
				info.Modified = setting.Value == "true"
			}
		}
		if info.Version == "v0.0.0-unknown" && info.Revision != "" {
			rev := info.Revision
			if len(rev) > 12 {
				rev = rev[:12]
			}
			info.Version = "v0.0.0-" + rev
			if info.Modified {
				info.Version += "+dirty"
			}
		}
	}
	if v := strings.TrimSpace(buildVersion); v != "" {
		info.Version = v
	}
	return info
}
