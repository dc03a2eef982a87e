package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/LipPkg/LipIndex/pkg/config"
	"github.com/LipPkg/LipIndex/pkg/index"
	"github.com/urfave/cli/v3"
)

// MigrateCommand creates the migrate command
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run index schema migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "status",
				Usage: "Show migration status without applying migrations",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return RunMigrations(c.String("config"), c.Bool("status"))
		},
	}
}

// RunMigrations handles the migration process (exported for testing)
func RunMigrations(configPath string, statusOnly bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// A missing database gets its schema on first use; nothing to migrate.
	if _, err := os.Stat(cfg.IndexPath); os.IsNotExist(err) {
		fmt.Printf("Database does not exist, will be created on first use: %s\n", cfg.IndexPath)
		return nil
	}

	ix, err := index.Open(cfg.IndexPath)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer func() {
		if err := ix.Close(); err != nil {
			fmt.Printf("Warning: failed to close index: %v\n", err)
		}
	}()

	manager := index.NewMigrationManager(ix.DB())

	if statusOnly {
		if err := showMigrationStatus(manager); err != nil {
			return fmt.Errorf("showing migration status: %w", err)
		}
		fmt.Println("\nMigration status check completed")
		return nil
	}

	if err := manager.ApplyPendingMigrations(); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	fmt.Println("All migrations completed successfully")
	return nil
}

// showMigrationStatus displays the current migration status
func showMigrationStatus(manager *index.MigrationManager) error {
	status, err := manager.GetMigrationStatus()
	if err != nil {
		return err
	}

	fmt.Printf("Applied migrations: %d\n", len(status.Applied))
	for _, migration := range status.Applied {
		appliedTime := "unknown"
		if migration.AppliedAt != nil {
			appliedTime = migration.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("  ✓ %03d: %s (applied: %s)\n", migration.Version, migration.Name, appliedTime)
	}

	fmt.Printf("Pending migrations: %d\n", len(status.Pending))
	for _, migration := range status.Pending {
		fmt.Printf("  • %03d: %s\n", migration.Version, migration.Name)
	}

	if len(status.Pending) == 0 {
		fmt.Println("  (none - database is up to date)")
	}

	return nil
}
