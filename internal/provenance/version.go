package provenance

import (
	"bytes"
	"os/exec"
	"runtime/debug"
	"strings"
)

// ToolName identifies this program in reports and BOMs.
const ToolName = "aoievidence-cli"

var (
	// Set these at build time with -ldflags "-X 'github.com/idlab-discover/aoievidence-cli/internal/provenance.Version=...' -X '...Commit=...'"
	Version = ""
	Commit  = ""
)

var readBuildInfo = debug.ReadBuildInfo

// ToolVersion returns the version recorded in reports.
func ToolVersion() string {
	// 1) prefer explicit ldflags
	if Version != "" && Version != "dev" {
		return Version
	}
	// 2) module build info
	if info, ok := readBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	// 3) git describe fallback
	if d := gitDescribe(); d != "" {
		return d
	}
	// 4) commit fallback
	if Commit != "" {
		return "commit-" + Commit
	}
	return "devel"
}

func gitDescribe() string {
	out, err := exec.Command("git", "describe", "--tags", "--always", "--dirty").Output()
	if err != nil {
		if out2, err2 := exec.Command("git", "rev-parse", "--short", "HEAD").Output(); err2 == nil {
			return strings.TrimSpace(string(out2))
		}
		return ""
	}
	return string(bytes.TrimSpace(out))
}
