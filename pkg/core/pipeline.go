package core

import (
	"context"
	"strings"
	"sync"

	"github.com/LipPkg/LipIndex/pkg/log"
)

// FetchOptions tunes a fetch run.
type FetchOptions struct {
	// Workers bounds concurrent candidate resolution. Defaults to 8.
	Workers int

	// Normalize is passed through to Normalize for every resolved package.
	Normalize NormalizeOptions
}

// FetchStats summarizes one fetch run of a single source.
type FetchStats struct {
	Discovered int // candidates produced by discovery
	Resolved   int // packages emitted
	Absent     int // candidates that turned out not to be packages
	Failed     int // candidates whose resolution errored (logged, skipped)
}

// Fetch runs one full discovery+resolution cycle of a source and streams
// normalized packages to out.
//
// Discovery runs in its own goroutine; a bounded worker pool resolves
// candidates concurrently. Resolution failures are logged and skipped so a
// single broken repository never aborts the run; only a discovery error
// (or context cancellation) is returned. The caller owns out and closes it
// after Fetch returns.
func Fetch(ctx context.Context, src Source, out chan<- *Package, opts FetchOptions) (FetchStats, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = 8
	}

	logger := log.ForService(src.Name())
	candidates := make(chan RepositoryDescriptor, workers*2)

	var discoverErr error
	var discoverWg sync.WaitGroup
	discoverWg.Add(1)
	go func() {
		defer discoverWg.Done()
		defer close(candidates)
		discoverErr = src.Discover(ctx, candidates)
	}()

	var mu sync.Mutex
	var stats FetchStats

	var workerWg sync.WaitGroup
	for i := 0; i < workers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for desc := range candidates {
				mu.Lock()
				stats.Discovered++
				mu.Unlock()

				pkg, err := src.Resolve(ctx, desc)
				if err != nil {
					logger.Warnf("resolving %s: %v", desc.Identifier(), err)
					mu.Lock()
					stats.Failed++
					mu.Unlock()
					continue
				}
				if pkg == nil {
					logger.Debugf("%s is not a %s package", desc.Identifier(), src.Type())
					mu.Lock()
					stats.Absent++
					mu.Unlock()
					continue
				}
				if len(pkg.Versions) == 0 {
					logger.Debugf("%s has no resolvable versions, skipping", desc.Identifier())
					mu.Lock()
					stats.Absent++
					mu.Unlock()
					continue
				}

				ensurePlatformTag(pkg, src.Platform())
				Normalize(pkg, opts.Normalize)

				select {
				case <-ctx.Done():
					return
				case out <- pkg:
					mu.Lock()
					stats.Resolved++
					mu.Unlock()
				}
			}
		}()
	}

	workerWg.Wait()
	discoverWg.Wait()

	if discoverErr != nil {
		return stats, discoverErr
	}
	return stats, ctx.Err()
}

// ensurePlatformTag guarantees the ecosystem marker tag is present,
// prepending it so it stays the first tag of every package.
func ensurePlatformTag(pkg *Package, platform string) {
	if platform == "" {
		return
	}
	want := "platform:" + strings.ToLower(platform)
	for _, t := range pkg.Tags {
		if strings.ToLower(strings.TrimSpace(t)) == want {
			return
		}
	}
	pkg.Tags = append([]string{want}, pkg.Tags...)
}
