package cmd

import (
	"context"
	"fmt"

	"github.com/LipPkg/LipIndex/pkg/config"
	"github.com/urfave/cli/v3"
)

// SourceCommand creates the source command with subcommands
func SourceCommand() *cli.Command {
	return &cli.Command{
		Name:  "source",
		Usage: "Manage sources",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List sources",
				Action: func(ctx context.Context, c *cli.Command) error {
					return listSources(c.String("config"))
				},
			},
			{
				Name:  "remove",
				Usage: "Remove a source",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Usage:    "Source name",
						Required: true,
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return removeSource(c.String("config"), c.String("name"))
				},
			},
		},
	}
}

// listSources lists all configured sources
func listSources(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sources := cfg.ListSources()
	if len(sources) == 0 {
		fmt.Println("No sources configured")
		return nil
	}

	fmt.Println("Configured sources:")
	for _, name := range sources {
		srcType, _, err := cfg.GetSourceConfig(name)
		if err != nil {
			fmt.Printf("  %s: error loading config: %v\n", name, err)
			continue
		}
		interval := cfg.GetSourceInterval(name)
		fmt.Printf("  %s (%s) - interval: %v\n", name, srcType, interval)
	}

	return nil
}

// removeSource removes a source from the configuration
func removeSource(configPath, name string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg.RemoveSource(name)

	if err := cfg.SaveConfig(configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("Removed source '%s'\n", name)
	return nil
}
