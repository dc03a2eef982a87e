package cmd

import (
	"context"
	"fmt"

	"github.com/LipPkg/LipIndex/pkg/config"
	"github.com/LipPkg/LipIndex/pkg/index"
	"github.com/urfave/cli/v3"
)

// OptimizeCommand creates the optimize command
func OptimizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "optimize",
		Usage: "Index database optimization and maintenance commands",
		Commands: []*cli.Command{
			{
				Name:  "check",
				Usage: "Run an integrity check on the index database",
				Action: func(ctx context.Context, c *cli.Command) error {
					return checkDatabase(c.String("config"))
				},
			},
			{
				Name:  "analyze",
				Usage: "Run ANALYZE to update query planner statistics",
				Action: func(ctx context.Context, c *cli.Command) error {
					return analyzeDatabase(c.String("config"))
				},
			},
			{
				Name:  "vacuum",
				Usage: "Run VACUUM to defragment the database",
				Action: func(ctx context.Context, c *cli.Command) error {
					return vacuumDatabase(c.String("config"))
				},
			},
			{
				Name:  "checkpoint",
				Usage: "Run WAL checkpoint to flush changes",
				Action: func(ctx context.Context, c *cli.Command) error {
					return checkpointDatabase(c.String("config"))
				},
			},
			{
				Name:  "all",
				Usage: "Run all optimization operations (analyze, checkpoint, optimize)",
				Action: func(ctx context.Context, c *cli.Command) error {
					return optimizeAll(c.String("config"))
				},
			},
		},
	}
}

// withOpenIndex loads the config, opens the index and runs fn against it.
func withOpenIndex(configPath string, fn func(*index.Index) error) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ix, err := openIndex(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := ix.Close(); err != nil {
			fmt.Printf("Warning: failed to close index: %v\n", err)
		}
	}()

	return fn(ix)
}

// checkDatabase runs an integrity check on the index database
func checkDatabase(configPath string) error {
	return withOpenIndex(configPath, func(ix *index.Index) error {
		fmt.Println("Running integrity check...")

		var result string
		if err := ix.DB().QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
			return fmt.Errorf("running integrity check: %w", err)
		}
		if result != "ok" {
			return fmt.Errorf("integrity check failed: %s", result)
		}

		fmt.Println("Integrity check passed")
		return nil
	})
}

// analyzeDatabase refreshes query planner statistics
func analyzeDatabase(configPath string) error {
	return withOpenIndex(configPath, func(ix *index.Index) error {
		fmt.Println("Running ANALYZE...")
		if err := ix.Analyze(); err != nil {
			return fmt.Errorf("analyzing database: %w", err)
		}
		fmt.Println("ANALYZE completed")
		return nil
	})
}

// vacuumDatabase defragments the database file
func vacuumDatabase(configPath string) error {
	return withOpenIndex(configPath, func(ix *index.Index) error {
		fmt.Println("Running VACUUM...")
		if err := ix.Vacuum(); err != nil {
			return fmt.Errorf("vacuuming database: %w", err)
		}
		fmt.Println("VACUUM completed")
		return nil
	})
}

// checkpointDatabase flushes the write-ahead log
func checkpointDatabase(configPath string) error {
	return withOpenIndex(configPath, func(ix *index.Index) error {
		fmt.Println("Running WAL checkpoint...")
		if err := ix.WALCheckpoint(); err != nil {
			return fmt.Errorf("checkpointing database: %w", err)
		}
		fmt.Println("WAL checkpoint completed")
		return nil
	})
}

// optimizeAll runs all optimization operations
func optimizeAll(configPath string) error {
	return withOpenIndex(configPath, func(ix *index.Index) error {
		fmt.Println("Running all optimization operations...")

		fmt.Println("  - ANALYZE")
		if err := ix.Analyze(); err != nil {
			return fmt.Errorf("analyzing database: %w", err)
		}

		fmt.Println("  - WAL checkpoint")
		if err := ix.WALCheckpoint(); err != nil {
			return fmt.Errorf("checkpointing database: %w", err)
		}

		fmt.Println("  - PRAGMA optimize")
		if err := ix.Optimize(); err != nil {
			return fmt.Errorf("optimizing database: %w", err)
		}

		fmt.Println("All optimization operations completed")
		return nil
	})
}
