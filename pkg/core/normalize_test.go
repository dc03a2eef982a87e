package core

import (
	"reflect"
	"testing"
	"time"
)

func ts(day int) time.Time {
	return time.Date(2024, 3, day, 12, 0, 0, 0, time.UTC)
}

func TestNormalizeSortsVersionsNewestFirst(t *testing.T) {
	pkg := &Package{
		Identifier: "github.com/owner/repo",
		Versions: []Version{
			{Version: "1.0.0", ReleasedAt: ts(1), Source: OriginRepositoryHost},
			{Version: "1.2.0", ReleasedAt: ts(10), Source: OriginRepositoryHost},
			{Version: "1.1.0", ReleasedAt: ts(5), Source: OriginRepositoryHost},
		},
	}

	Normalize(pkg, NormalizeOptions{})

	want := []string{"1.2.0", "1.1.0", "1.0.0"}
	for i, v := range pkg.Versions {
		if v.Version != want[i] {
			t.Fatalf("version[%d] = %s, want %s", i, v.Version, want[i])
		}
	}
	if !pkg.Updated.Equal(ts(10)) {
		t.Errorf("Updated = %v, want %v (release time of newest version)", pkg.Updated, ts(10))
	}
}

func TestNormalizeDeduplicatesByOriginPriority(t *testing.T) {
	pkg := &Package{
		Identifier: "github.com/owner/repo",
		Versions: []Version{
			{Version: "1.0.0", ReleasedAt: ts(2), Source: OriginModuleProxy},
			{Version: "1.0.0", ReleasedAt: ts(1), Source: OriginRepositoryHost},
			{Version: "0.9.0", ReleasedAt: ts(1), Source: OriginModuleProxy},
		},
	}

	Normalize(pkg, NormalizeOptions{})

	if len(pkg.Versions) != 2 {
		t.Fatalf("got %d versions, want 2 (1.0.0 deduplicated)", len(pkg.Versions))
	}
	var one *Version
	for i := range pkg.Versions {
		if pkg.Versions[i].Version == "1.0.0" {
			one = &pkg.Versions[i]
		}
	}
	if one == nil {
		t.Fatal("1.0.0 missing after normalization")
	}
	// repository-host outranks module-proxy in the default priority
	if one.Source != OriginRepositoryHost {
		t.Errorf("kept origin %s for 1.0.0, want %s", one.Source, OriginRepositoryHost)
	}
	if !one.ReleasedAt.Equal(ts(1)) {
		t.Errorf("kept ReleasedAt %v, want the repository-host entry's %v", one.ReleasedAt, ts(1))
	}
}

func TestNormalizeCustomOriginPriority(t *testing.T) {
	pkg := &Package{
		Versions: []Version{
			{Version: "1.0.0", ReleasedAt: ts(1), Source: OriginRepositoryHost},
			{Version: "1.0.0", ReleasedAt: ts(2), Source: OriginPackageRegistry},
		},
	}

	opts := NormalizeOptions{OriginPriority: []VersionOrigin{
		OriginPackageRegistry,
		OriginRepositoryHost,
	}}
	Normalize(pkg, opts)

	if len(pkg.Versions) != 1 {
		t.Fatalf("got %d versions, want 1", len(pkg.Versions))
	}
	if pkg.Versions[0].Source != OriginPackageRegistry {
		t.Errorf("kept origin %s, want %s under custom priority", pkg.Versions[0].Source, OriginPackageRegistry)
	}
}

func TestNormalizeDuplicateSameOriginKeepsFirstSeen(t *testing.T) {
	pkg := &Package{
		Versions: []Version{
			{Version: "1.0.0", ReleasedAt: ts(3), Source: OriginRepositoryHost, PlatformVersionRequirement: "first"},
			{Version: "1.0.0", ReleasedAt: ts(4), Source: OriginRepositoryHost, PlatformVersionRequirement: "second"},
		},
	}

	Normalize(pkg, NormalizeOptions{})

	if len(pkg.Versions) != 1 {
		t.Fatalf("got %d versions, want 1", len(pkg.Versions))
	}
	if pkg.Versions[0].PlatformVersionRequirement != "first" {
		t.Errorf("kept %q, want the first-seen entry", pkg.Versions[0].PlatformVersionRequirement)
	}
}

func TestNormalizeTags(t *testing.T) {
	pkg := &Package{
		Tags: []string{"platform:levilamina", " Type:Mod ", "utility", "type:mod", "UTILITY"},
		Versions: []Version{
			{Version: "1.0.0", ReleasedAt: ts(1), Source: OriginRepositoryHost},
		},
	}

	Normalize(pkg, NormalizeOptions{})

	want := []string{"platform:levilamina", "type:mod", "utility"}
	if !reflect.DeepEqual(pkg.Tags, want) {
		t.Errorf("Tags = %v, want %v", pkg.Tags, want)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	pkg := &Package{
		Identifier: "github.com/owner/repo",
		Tags:       []string{"Platform:LeviLamina", "type:mod", "type:mod"},
		Versions: []Version{
			{Version: "2.0.0", ReleasedAt: ts(20), Source: OriginModuleProxy},
			{Version: "1.0.0", ReleasedAt: ts(1), Source: OriginRepositoryHost},
			{Version: "2.0.0", ReleasedAt: ts(19), Source: OriginRepositoryHost},
		},
	}

	Normalize(pkg, NormalizeOptions{})

	snapshot := *pkg
	snapTags := append([]string(nil), pkg.Tags...)
	snapVersions := append([]Version(nil), pkg.Versions...)

	Normalize(pkg, NormalizeOptions{})

	if !reflect.DeepEqual(pkg.Tags, snapTags) {
		t.Errorf("second Normalize changed tags: %v -> %v", snapTags, pkg.Tags)
	}
	if !reflect.DeepEqual(pkg.Versions, snapVersions) {
		t.Errorf("second Normalize changed versions: %v -> %v", snapVersions, pkg.Versions)
	}
	if !pkg.Updated.Equal(snapshot.Updated) {
		t.Errorf("second Normalize changed Updated: %v -> %v", snapshot.Updated, pkg.Updated)
	}
}

func TestNormalizeMergedOriginsScenario(t *testing.T) {
	// A package seen by both the repository host and the module proxy:
	// 1.1.0 only on the host, 1.0.0 on both. The merged record keeps one
	// entry per version, host wins the overlap, and Updated follows the
	// newest release.
	pkg := &Package{
		Identifier: "github.com/LiteLDev/LegacyScriptEngine",
		Name:       "LegacyScriptEngine",
		Tags:       []string{"platform:levilamina", "type:mod"},
		Versions: []Version{
			{Version: "1.1.0", ReleasedAt: ts(15), Source: OriginRepositoryHost, PackageManager: ManagerLip},
			{Version: "1.0.0", ReleasedAt: ts(3), Source: OriginRepositoryHost, PackageManager: ManagerLip},
			{Version: "1.0.0", ReleasedAt: ts(3), Source: OriginModuleProxy, PackageManager: ManagerLip},
		},
	}

	Normalize(pkg, NormalizeOptions{})

	if len(pkg.Versions) != 2 {
		t.Fatalf("got %d versions, want 2", len(pkg.Versions))
	}
	if pkg.Versions[0].Version != "1.1.0" || pkg.Versions[1].Version != "1.0.0" {
		t.Errorf("order = [%s %s], want [1.1.0 1.0.0]", pkg.Versions[0].Version, pkg.Versions[1].Version)
	}
	if pkg.Versions[1].Source != OriginRepositoryHost {
		t.Errorf("1.0.0 origin = %s, want repository-host", pkg.Versions[1].Source)
	}
	if !pkg.Updated.Equal(ts(15)) {
		t.Errorf("Updated = %v, want %v", pkg.Updated, ts(15))
	}
}

func TestNormalizeZeroVersionsPassthrough(t *testing.T) {
	pkg := &Package{Identifier: "github.com/owner/empty"}
	Normalize(pkg, NormalizeOptions{})
	if len(pkg.Versions) != 0 {
		t.Fatalf("expected zero versions to pass through")
	}
	if !pkg.Updated.IsZero() {
		t.Errorf("Updated should stay zero without versions, got %v", pkg.Updated)
	}
}
