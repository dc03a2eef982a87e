package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"
)

// fakeSource drives pipeline tests: a fixed candidate list plus a
// per-candidate resolution outcome.
type fakeSource struct {
	mockTestSource
	candidates []RepositoryDescriptor
	resolve    func(RepositoryDescriptor) (*Package, error)
}

func (f *fakeSource) Name() string     { return "fake" }
func (f *fakeSource) Type() string     { return "fake" }
func (f *fakeSource) Platform() string { return "fakeland" }

func (f *fakeSource) Discover(ctx context.Context, out chan<- RepositoryDescriptor) error {
	for _, d := range f.candidates {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- d:
		}
	}
	return nil
}

func (f *fakeSource) Resolve(ctx context.Context, desc RepositoryDescriptor) (*Package, error) {
	return f.resolve(desc)
}

func desc(repo string) RepositoryDescriptor {
	return RepositoryDescriptor{Host: "github.com", Owner: "owner", Repo: repo}
}

func minimalPackage(d RepositoryDescriptor) *Package {
	return &Package{
		Identifier: d.Identifier(),
		Name:       d.Repo,
		Versions: []Version{
			{Version: "1.0.0", ReleasedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Source: OriginRepositoryHost},
		},
	}
}

func collectFetch(t *testing.T, src Source, opts FetchOptions) ([]*Package, FetchStats, error) {
	t.Helper()

	out := make(chan *Package, 8)
	var got []*Package
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range out {
			got = append(got, p)
		}
	}()

	stats, err := Fetch(context.Background(), src, out, opts)
	close(out)
	<-done

	sort.Slice(got, func(i, j int) bool { return got[i].Identifier < got[j].Identifier })
	return got, stats, err
}

func TestFetchResolvesAllCandidates(t *testing.T) {
	src := &fakeSource{
		candidates: []RepositoryDescriptor{desc("a"), desc("b"), desc("c")},
		resolve: func(d RepositoryDescriptor) (*Package, error) {
			return minimalPackage(d), nil
		},
	}

	got, stats, err := collectFetch(t, src, FetchOptions{Workers: 2})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d packages, want 3", len(got))
	}
	if stats.Discovered != 3 || stats.Resolved != 3 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 3 discovered, 3 resolved", stats)
	}
}

func TestFetchIsolatesResolutionFailures(t *testing.T) {
	// One candidate fails to resolve: it is skipped, siblings still land.
	src := &fakeSource{
		candidates: []RepositoryDescriptor{desc("good1"), desc("broken"), desc("good2")},
		resolve: func(d RepositoryDescriptor) (*Package, error) {
			if d.Repo == "broken" {
				return nil, errors.New("manifest fetch blew up")
			}
			return minimalPackage(d), nil
		},
	}

	got, stats, err := collectFetch(t, src, FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch should not fail on a per-candidate error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d packages, want 2", len(got))
	}
	for _, p := range got {
		if p.Identifier == "github.com/owner/broken" {
			t.Error("failed candidate must not be emitted")
		}
	}
	if stats.Failed != 1 || stats.Resolved != 2 {
		t.Errorf("stats = %+v, want 1 failed, 2 resolved", stats)
	}
}

func TestFetchSkipsAbsentAndEmptyCandidates(t *testing.T) {
	src := &fakeSource{
		candidates: []RepositoryDescriptor{desc("absent"), desc("noversions"), desc("real")},
		resolve: func(d RepositoryDescriptor) (*Package, error) {
			switch d.Repo {
			case "absent":
				return nil, nil
			case "noversions":
				return &Package{Identifier: d.Identifier()}, nil
			default:
				return minimalPackage(d), nil
			}
		},
	}

	got, stats, err := collectFetch(t, src, FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(got) != 1 || got[0].Identifier != "github.com/owner/real" {
		t.Fatalf("got %v, want only github.com/owner/real", got)
	}
	if stats.Absent != 2 {
		t.Errorf("stats.Absent = %d, want 2", stats.Absent)
	}
}

func TestFetchDiscoveryErrorIsFatal(t *testing.T) {
	src := &fakeSource{resolve: func(d RepositoryDescriptor) (*Package, error) {
		return minimalPackage(d), nil
	}}
	boom := errors.New("search API down")
	failing := &discoverFailSource{fakeSource: src, err: boom}

	_, _, err := collectFetch(t, failing, FetchOptions{})
	if !errors.Is(err, boom) {
		t.Fatalf("Fetch error = %v, want discovery error", err)
	}
}

type discoverFailSource struct {
	*fakeSource
	err error
}

func (s *discoverFailSource) Discover(ctx context.Context, out chan<- RepositoryDescriptor) error {
	out <- desc("partial")
	return s.err
}

func TestFetchAddsPlatformTag(t *testing.T) {
	src := &fakeSource{
		candidates: []RepositoryDescriptor{desc("a")},
		resolve: func(d RepositoryDescriptor) (*Package, error) {
			p := minimalPackage(d)
			p.Tags = []string{"type:mod"}
			return p, nil
		},
	}

	got, _, err := collectFetch(t, src, FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d packages, want 1", len(got))
	}
	if len(got[0].Tags) == 0 || got[0].Tags[0] != "platform:fakeland" {
		t.Errorf("Tags = %v, want platform:fakeland first", got[0].Tags)
	}
}

func TestFetchNormalizesEmittedPackages(t *testing.T) {
	released := time.Date(2024, 5, 5, 8, 0, 0, 0, time.UTC)
	src := &fakeSource{
		candidates: []RepositoryDescriptor{desc("a")},
		resolve: func(d RepositoryDescriptor) (*Package, error) {
			return &Package{
				Identifier: d.Identifier(),
				Versions: []Version{
					{Version: "0.1.0", ReleasedAt: released.AddDate(0, -1, 0), Source: OriginRepositoryHost},
					{Version: "0.2.0", ReleasedAt: released, Source: OriginRepositoryHost},
				},
			}, nil
		},
	}

	got, _, err := collectFetch(t, src, FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got[0].Versions[0].Version != "0.2.0" {
		t.Errorf("versions not sorted newest first: %v", got[0].Versions)
	}
	if !got[0].Updated.Equal(released) {
		t.Errorf("Updated = %v, want %v", got[0].Updated, released)
	}
}

func TestFetchManyCandidatesBoundedWorkers(t *testing.T) {
	var candidates []RepositoryDescriptor
	for i := 0; i < 100; i++ {
		candidates = append(candidates, desc(fmt.Sprintf("repo%03d", i)))
	}
	src := &fakeSource{
		candidates: candidates,
		resolve: func(d RepositoryDescriptor) (*Package, error) {
			return minimalPackage(d), nil
		},
	}

	got, stats, err := collectFetch(t, src, FetchOptions{Workers: 4})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(got) != 100 || stats.Resolved != 100 {
		t.Fatalf("got %d packages (stats %+v), want 100", len(got), stats)
	}
}
