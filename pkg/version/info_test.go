package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func withBuildInfo(t *testing.T, bi *debug.BuildInfo, ok bool) {
	t.Helper()
	prev := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, ok }
	t.Cleanup(func() { readBuildInfo = prev })
}

func withLinkerValues(t *testing.T, version, commit, buildTime string) {
	t.Helper()
	prevVersion, prevCommit, prevTime := AppVersion, GitCommit, BuildTime
	AppVersion, GitCommit, BuildTime = version, commit, buildTime
	t.Cleanup(func() {
		AppVersion, GitCommit, BuildTime = prevVersion, prevCommit, prevTime
	})
}

func TestCurrent_Defaults(t *testing.T) {
	withLinkerValues(t, " ", "", "")
	withBuildInfo(t, nil, false)

	info := Current("")
	if info.Service != Unknown || info.Version != DevelopmentVersion || info.Commit != Unknown || info.BuildTime != Unknown {
		t.Fatalf("unexpected defaults: %+v", info)
	}
	if info.GoVersion == "" {
		t.Fatal("expected runtime go version")
	}
}

func TestCurrent_LinkerValuesWin(t *testing.T) {
	// Given: values injected with -ldflags and a VCS-stamped binary
	withLinkerValues(t, "v1.4.0", "abc123", "2026-01-02T03:04:05Z")
	withBuildInfo(t, &debug.BuildInfo{
		GoVersion: "go1.25.5",
		Main:      debug.Module{Version: "v0.0.0-devel"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "fff"},
			{Key: "vcs.time", Value: "2020-01-01T00:00:00Z"},
		},
	}, true)

	// When
	info := Current("rpc")

	// Then: the injected values are kept
	if info.Version != "v1.4.0" || info.Commit != "abc123" || info.BuildTime != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.GoVersion != "go1.25.5" {
		t.Fatalf("unexpected go version %q", info.GoVersion)
	}
}

func TestCurrent_FallsBackToBuildInfo(t *testing.T) {
	withLinkerValues(t, DevelopmentVersion, Unknown, Unknown)
	withBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "v2.0.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "deadbeef"},
			{Key: "vcs.time", Value: "2026-05-06T07:08:09Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}, true)

	info := Current("rpc")
	if info.Version != "v2.0.1" || info.Commit != "deadbeef" || info.BuildTime != "2026-05-06T07:08:09Z" || !info.Modified {
		t.Fatalf("unexpected info: %+v", info)
	}
	if !strings.Contains(info.String(), "commit=deadbeef+dirty") {
		t.Fatalf("unexpected string %q", info.String())
	}
}

func TestCurrent_IgnoresDevelMainVersion(t *testing.T) {
	withLinkerValues(t, DevelopmentVersion, Unknown, Unknown)
	withBuildInfo(t, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, true)

	if got := Current("rpc").Version; got != DevelopmentVersion {
		t.Fatalf("expected %q, got %q", DevelopmentVersion, got)
	}
}
