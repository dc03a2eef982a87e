package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/LipPkg/LipIndex/pkg/config"
	"github.com/LipPkg/LipIndex/pkg/core"
	"github.com/LipPkg/LipIndex/pkg/warehouse"
	"github.com/urfave/cli/v3"
)

// FetchCommand creates the fetch command
func FetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Run one fetch cycle across all sources",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "stream",
				Usage: "Print packages to stdout as they are resolved",
				Value: false,
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Specific source to fetch from",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return fetchPackages(ctx, c.String("config"), c.Bool("stream"), c.String("source"))
		},
	}
}

// fetchPackages runs a single discovery+resolution cycle and reports
// per-source counts.
func fetchPackages(ctx context.Context, configPath string, stream bool, sourceName string) error {
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

	// No maintenance ticker for a one-time fetch
	whConfig, err := warehouseConfig(cfg, 0)
	if err != nil {
		return err
	}
	wh := warehouse.NewWarehouse(whConfig, ix)
	defer func() {
		if err := wh.Close(); err != nil {
			fmt.Printf("Warning: failed to close warehouse: %v\n", err)
		}
	}()

	sources := registry.GetAllSources()

	// If a specific source is requested, filter to only that one
	if sourceName != "" {
		if src, exists := sources[sourceName]; exists {
			sources = map[string]core.Source{sourceName: src}
		} else {
			return fmt.Errorf("source '%s' not found", sourceName)
		}
	}

	for name, src := range sources {
		interval := cfg.GetSourceInterval(name)
		if err := wh.AddSourceWithInterval(name, src, interval); err != nil {
			return fmt.Errorf("adding source to warehouse: %w", err)
		}
	}

	var stats map[string]core.FetchStats
	if stream {
		if sourceName != "" {
			fmt.Printf("Streaming packages from source '%s' as they are resolved...\n", sourceName)
		} else {
			fmt.Println("Streaming packages as they are resolved...")
		}
		stats, err = wh.FetchOnceWithStreaming(ctx, func(pkg *core.Package) {
			latest := "-"
			if len(pkg.Versions) > 0 {
				latest = pkg.Versions[0].Version
			}
			fmt.Printf("%s %s (%d versions)\n", pkg.Identifier, latest, len(pkg.Versions))
		})
	} else {
		if sourceName != "" {
			fmt.Printf("Fetching packages from source '%s'...\n", sourceName)
		} else {
			fmt.Println("Fetching packages from all sources...")
		}
		stats, err = wh.FetchOnce(ctx)
	}
	if err != nil {
		return fmt.Errorf("fetching packages: %w", err)
	}

	printFetchSummary(stats)
	return nil
}

// printFetchSummary prints per-source counts in a stable order.
func printFetchSummary(stats map[string]core.FetchStats) {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("\nFetch summary:")
	var total core.FetchStats
	for _, name := range names {
		s := stats[name]
		fmt.Printf("  %s: %d discovered, %d resolved, %d absent, %d failed\n",
			name, s.Discovered, s.Resolved, s.Absent, s.Failed)
		total.Discovered += s.Discovered
		total.Resolved += s.Resolved
		total.Absent += s.Absent
		total.Failed += s.Failed
	}
	if len(names) > 1 {
		fmt.Printf("  total: %d discovered, %d resolved, %d absent, %d failed\n",
			total.Discovered, total.Resolved, total.Absent, total.Failed)
	}
}
