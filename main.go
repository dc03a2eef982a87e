package main

import (
	"context"
	"log"
	"os"

	"github.com/LipPkg/LipIndex/cmd"
	"github.com/LipPkg/LipIndex/pkg/config"
	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "lipindex",
		Usage: "A package index for Minecraft Bedrock loader ecosystems",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
				Value: false,
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Configuration file path",
				Value: getDefaultConfigPathOrExit(),
			},
		},
		Commands: []*cli.Command{
			cmd.InitCommand(),
			cmd.SourceCommand(),
			cmd.FetchCommand(),
			cmd.FirehoseCommand(),
			cmd.ServeCommand(),
			cmd.SearchCommand(),
			cmd.StatsCommand(),
			cmd.OptimizeCommand(),
			cmd.MigrateCommand(),
			cmd.VersionCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func getDefaultConfigPathOrExit() string {
	path, err := config.GetDefaultConfigPath()
	if err != nil {
		log.Fatalf("Failed to get default config path: %v", err)
	}
	return path
}
