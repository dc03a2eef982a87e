package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/LipPkg/LipIndex/pkg/config"
	"github.com/LipPkg/LipIndex/pkg/core"
	"github.com/urfave/cli/v3"
)

// StatsCommand creates the stats command
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show index statistics",
		Action: func(ctx context.Context, c *cli.Command) error {
			return showStats(c.String("config"))
		},
	}
}

// showStats displays index statistics and recent fetch activity
func showStats(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registry := core.GetGlobalRegistry()

	if err := createSourcesFromConfig(registry, cfg); err != nil {
		return fmt.Errorf("creating sources: %w", err)
	}
	defer func() {
		if err := registry.Close(); err != nil {
			fmt.Printf("Warning: failed to close registry: %v\n", err)
		}
	}()

	ix, err := openIndex(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := ix.Close(); err != nil {
			fmt.Printf("Warning: failed to close index: %v\n", err)
		}
	}()

	stats, err := ix.Stats(configuredPlatforms(registry))
	if err != nil {
		return fmt.Errorf("getting stats: %w", err)
	}

	formatIndexStats(stats)

	sourceNames := registry.ListSources()
	sort.Strings(sourceNames)
	if len(sourceNames) > 0 {
		fmt.Printf("\nLast fetch per source:\n")
		fmt.Printf("───────────────────\n")
		for _, name := range sourceNames {
			last, err := ix.GetLastFetchTime(name)
			if err != nil {
				return fmt.Errorf("getting last fetch time for %s: %w", name, err)
			}
			if last.IsZero() {
				fmt.Printf("  %s: never\n", name)
			} else {
				fmt.Printf("  %s: %s\n", name, formatTime(last))
			}
		}
	}

	runs, err := ix.RecentFetchRuns(5)
	if err != nil {
		return fmt.Errorf("getting recent fetch runs: %w", err)
	}
	if len(runs) > 0 {
		fmt.Printf("\nRecent fetch runs:\n")
		fmt.Printf("───────────────────\n")
		for _, run := range runs {
			duration := run.FinishedAt.Sub(run.StartedAt).Round(time.Second)
			fmt.Printf("  %s: %d discovered, %d resolved, %d failed (%s, took %s)\n",
				run.Source, run.Discovered, run.Resolved, run.Failed,
				formatTime(run.StartedAt), duration)
		}
	}

	return nil
}

// configuredPlatforms returns the distinct platforms of all registered
// sources.
func configuredPlatforms(registry *core.Registry) []string {
	seen := make(map[string]bool)
	var platforms []string
	for _, src := range registry.GetAllSources() {
		platform := src.Platform()
		if platform == "" || seen[platform] {
			continue
		}
		seen[platform] = true
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)
	return platforms
}
