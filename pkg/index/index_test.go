package index

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/LipPkg/LipIndex/pkg/core"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()

	ix, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	t.Cleanup(func() {
		if err := ix.Close(); err != nil {
			t.Errorf("closing index: %v", err)
		}
	})

	if err := ix.EnsureSchema(); err != nil {
		t.Fatalf("ensuring schema: %v", err)
	}
	return ix
}

func testPackage(identifier, name string, hotness int, updated time.Time) *core.Package {
	return &core.Package{
		Identifier:  identifier,
		Name:        name,
		Description: "description of " + name,
		Author:      "author",
		Tags:        []string{"platform:levilamina", "type:mod"},
		Hotness:     hotness,
		Updated:     updated,
		Versions: []core.Version{
			{Version: "1.0.0", ReleasedAt: updated, Source: core.OriginRepositoryHost, PackageManager: core.ManagerLip},
		},
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	ix := newTestIndex(t)

	// Second and third applications must be no-ops.
	if err := ix.EnsureSchema(); err != nil {
		t.Fatalf("second EnsureSchema failed: %v", err)
	}
	if err := ix.EnsureSchema(); err != nil {
		t.Fatalf("third EnsureSchema failed: %v", err)
	}

	if err := ix.UpsertPackage(testPackage("github.com/a/b", "b", 1, time.Now().UTC())); err != nil {
		t.Fatalf("upsert after repeated EnsureSchema: %v", err)
	}
}

func TestMigrationStatus(t *testing.T) {
	ix := newTestIndex(t)

	status, err := NewMigrationManager(ix.DB()).GetMigrationStatus()
	if err != nil {
		t.Fatalf("getting migration status: %v", err)
	}
	if len(status.Pending) != 0 {
		t.Errorf("expected no pending migrations after EnsureSchema, got %d", len(status.Pending))
	}
	if len(status.Applied) != len(status.Available) {
		t.Errorf("applied %d != available %d", len(status.Applied), len(status.Available))
	}
	if len(status.Available) == 0 {
		t.Error("expected embedded migrations to be discovered")
	}
}

func TestUpsertReplacesRecord(t *testing.T) {
	ix := newTestIndex(t)
	updated := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)

	pkg := testPackage("github.com/owner/repo", "repo", 5, updated)
	if err := ix.UpsertPackage(pkg); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	pkg.Hotness = 42
	pkg.Description = "freshly refetched"
	if err := ix.UpsertPackage(pkg); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	count, err := ix.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 (upsert must replace)", count)
	}

	got, err := ix.GetPackage("github.com/owner/repo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Hotness != 42 || got.Description != "freshly refetched" {
		t.Errorf("record not replaced: %+v", got)
	}
}

func TestGetPackageRoundTrip(t *testing.T) {
	ix := newTestIndex(t)
	released := time.Date(2024, 2, 10, 8, 30, 0, 0, time.UTC)

	pkg := &core.Package{
		Identifier:  "github.com/LiteLDev/LegacyScriptEngine",
		Name:        "LegacyScriptEngine",
		Description: "Run LLSE plugins on LeviLamina",
		Author:      "LiteLDev",
		Tags:        []string{"platform:levilamina", "type:mod", "scripting"},
		AvatarURL:   "https://example.com/avatar.png",
		ProjectURL:  "https://github.com/LiteLDev/LegacyScriptEngine",
		Hotness:     120,
		Updated:     released,
		Contributors: []core.Contributor{
			{Username: "alice", Contributions: 40},
			{Username: "", Contributions: 2},
		},
		Versions: []core.Version{
			{
				Version:                    "0.8.3",
				ReleasedAt:                 released,
				Source:                     core.OriginRepositoryHost,
				PackageManager:             core.ManagerLip,
				PlatformVersionRequirement: ">=0.9.0 <1.0.0",
			},
		},
	}
	if err := ix.UpsertPackage(pkg); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := ix.GetPackage(pkg.Identifier)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got.Name != pkg.Name || got.Description != pkg.Description || got.Author != pkg.Author {
		t.Errorf("basic fields mismatch: %+v", got)
	}
	if len(got.Tags) != 3 || got.Tags[0] != "platform:levilamina" {
		t.Errorf("tags mismatch: %v", got.Tags)
	}
	if len(got.Contributors) != 2 || got.Contributors[0].Username != "alice" {
		t.Errorf("contributors mismatch: %v", got.Contributors)
	}
	if len(got.Versions) != 1 {
		t.Fatalf("versions mismatch: %v", got.Versions)
	}
	v := got.Versions[0]
	if v.Version != "0.8.3" || v.Source != core.OriginRepositoryHost || v.PackageManager != core.ManagerLip {
		t.Errorf("version fields mismatch: %+v", v)
	}
	if v.PlatformVersionRequirement != ">=0.9.0 <1.0.0" {
		t.Errorf("platform requirement mismatch: %q", v.PlatformVersionRequirement)
	}
	if !v.ReleasedAt.Equal(released) || !got.Updated.Equal(released) {
		t.Errorf("timestamps mismatch: released %v updated %v", v.ReleasedAt, got.Updated)
	}
}

func TestGetPackageNotFound(t *testing.T) {
	ix := newTestIndex(t)

	_, err := ix.GetPackage("github.com/nobody/nothing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeletePackage(t *testing.T) {
	ix := newTestIndex(t)

	pkg := testPackage("github.com/owner/gone", "gone", 1, time.Now().UTC())
	if err := ix.UpsertPackage(pkg); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := ix.DeletePackage(pkg.Identifier); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := ix.GetPackage(pkg.Identifier); !errors.Is(err, ErrNotFound) {
		t.Fatalf("package still present after delete: %v", err)
	}

	// Deleting an unknown identifier is fine.
	if err := ix.DeletePackage("github.com/never/indexed"); err != nil {
		t.Errorf("deleting unknown identifier: %v", err)
	}
}

func TestFetchMetadata(t *testing.T) {
	ix := newTestIndex(t)

	// Unset sources report the zero time.
	last, err := ix.GetLastFetchTime("levilamina_main")
	if err != nil {
		t.Fatalf("get last fetch: %v", err)
	}
	if !last.IsZero() {
		t.Errorf("expected zero time for unfetched source, got %v", last)
	}

	when := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)
	if err := ix.UpdateLastFetchTime("levilamina_main", when); err != nil {
		t.Fatalf("update last fetch: %v", err)
	}

	last, err = ix.GetLastFetchTime("levilamina_main")
	if err != nil {
		t.Fatalf("get last fetch: %v", err)
	}
	if !last.Equal(when) {
		t.Errorf("last fetch = %v, want %v", last, when)
	}

	// Other sources stay independent.
	other, err := ix.GetLastFetchTime("endstone_main")
	if err != nil {
		t.Fatalf("get last fetch: %v", err)
	}
	if !other.IsZero() {
		t.Errorf("unrelated source should have zero time, got %v", other)
	}
}

func TestFetchRuns(t *testing.T) {
	ix := newTestIndex(t)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	runs := []FetchRun{
		{RunID: "run-1", Source: "levilamina_main", StartedAt: base, FinishedAt: base.Add(time.Minute), Discovered: 10, Resolved: 8, Failed: 2},
		{RunID: "run-2", Source: "endstone_main", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(61 * time.Minute), Discovered: 5, Resolved: 5},
	}
	for _, run := range runs {
		if err := ix.RecordFetchRun(run); err != nil {
			t.Fatalf("recording run %s: %v", run.RunID, err)
		}
	}

	got, err := ix.RecentFetchRuns(10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d runs, want 2", len(got))
	}
	// Newest first.
	if got[0].RunID != "run-2" || got[1].RunID != "run-1" {
		t.Errorf("order = [%s %s], want [run-2 run-1]", got[0].RunID, got[1].RunID)
	}
	if got[1].Discovered != 10 || got[1].Resolved != 8 || got[1].Failed != 2 {
		t.Errorf("run-1 counters mismatch: %+v", got[1])
	}
}

func TestStats(t *testing.T) {
	ix := newTestIndex(t)
	updated := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)

	lvl := testPackage("github.com/a/levipkg", "levipkg", 10, updated)
	end := testPackage("github.com/b/endpkg", "endpkg", 5, updated.Add(-time.Hour))
	end.Tags = []string{"platform:endstone", "type:plugin"}
	if err := ix.UpsertPackages([]*core.Package{lvl, end}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	stats, err := ix.Stats([]string{"levilamina", "endstone"})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["total_packages"] != 2 {
		t.Errorf("total_packages = %v, want 2", stats["total_packages"])
	}
	if stats["packages_levilamina"] != 1 {
		t.Errorf("packages_levilamina = %v, want 1", stats["packages_levilamina"])
	}
	if stats["packages_endstone"] != 1 {
		t.Errorf("packages_endstone = %v, want 1", stats["packages_endstone"])
	}
	newest, ok := stats["newest_update"].(time.Time)
	if !ok || !newest.Equal(updated) {
		t.Errorf("newest_update = %v, want %v", stats["newest_update"], updated)
	}
}

func TestMaintenance(t *testing.T) {
	ix := newTestIndex(t)

	if err := ix.UpsertPackage(testPackage("github.com/a/b", "b", 1, time.Now().UTC())); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := ix.Optimize(); err != nil {
		t.Errorf("optimize: %v", err)
	}
	if err := ix.Analyze(); err != nil {
		t.Errorf("analyze: %v", err)
	}
	if err := ix.WALCheckpoint(); err != nil {
		t.Errorf("wal checkpoint: %v", err)
	}
	if err := ix.Vacuum(); err != nil {
		t.Errorf("vacuum: %v", err)
	}
}
