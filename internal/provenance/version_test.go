package provenance

import (
	"os"
	"path/filepath"
	"runtime/debug"
	"testing"
)

// writeFakeGit writes a small executable "git" script into dir.
func writeFakeGit(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "git"), []byte(content), 0o755); err != nil {
		t.Fatalf("writeFakeGit: %v", err)
	}
}

func withVersion(t *testing.T, version, commit string) {
	t.Helper()
	origVersion, origCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = origVersion, origCommit })
	Version, Commit = version, commit
}

func withoutBuildInfo(t *testing.T) {
	t.Helper()
	orig := readBuildInfo
	t.Cleanup(func() { readBuildInfo = orig })
	readBuildInfo = func() (*debug.BuildInfo, bool) { return nil, false }
}

func TestToolVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		commit  string
		want    string
	}{
		{name: "ldflags priority", version: "1.2.3-ldflags", want: "1.2.3-ldflags"},
		{name: "commit fallback", commit: "deadbeef", want: "commit-deadbeef"},
		{name: "devel fallback", want: "devel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withVersion(t, tt.version, tt.commit)
			withoutBuildInfo(t)
			t.Setenv("PATH", t.TempDir())

			if got := ToolVersion(); got != tt.want {
				t.Errorf("ToolVersion() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToolVersionUsesBuildInfo(t *testing.T) {
	withVersion(t, "dev", "")
	orig := readBuildInfo
	defer func() { readBuildInfo = orig }()
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: "v9.9.0"}}, true
	}

	if got := ToolVersion(); got != "v9.9.0" {
		t.Errorf("ToolVersion() = %v, want %v", got, "v9.9.0")
	}
}

func TestGitDescribe(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{name: "describe succeeds", script: "#!/bin/sh\nif [ \"$1\" = \"describe\" ]; then echo v9.9.9; exit 0; fi\nexit 1\n", want: "v9.9.9"},
		{name: "describe fails rev-parse succeeds", script: "#!/bin/sh\nif [ \"$1\" = \"rev-parse\" ]; then echo abc123; exit 0; fi\nexit 1\n", want: "abc123"},
		{name: "git missing", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.script != "" {
				writeFakeGit(t, dir, tt.script)
			}
			t.Setenv("PATH", dir)

			if got := gitDescribe(); got != tt.want {
				t.Errorf("gitDescribe() = %v, want %v", got, tt.want)
			}
		})
	}
}
