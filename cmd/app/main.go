package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/curator/internal"
	pkgconfig "github.com/starford/curator/pkg/config"
)

// loadConfig builds the effective configuration: defaults, then the optional
// config file, then positional workspace override.
func loadConfig(cmd *cli.Command, workspaceArg string) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadIfExists(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if workspaceArg != "" {
		cfg.Workspace.Path = workspaceArg
	}
	return cfg, nil
}

func runMaintenance(ctx context.Context, cmd *cli.Command) error {
	phase := cmd.Args().First()
	if phase == "" {
		return fmt.Errorf("usage: curator run <schema|frontmatter|structure> [workspace]")
	}
	cfg, err := loadConfig(cmd, cmd.Args().Get(1))
	if err != nil {
		return err
	}
	return internal.RunMaintenance(ctx, phase, internal.WithConfig(cfg))
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, cmd.Args().First())
	if err != nil {
		return err
	}
	return internal.RunServe(ctx, internal.WithConfig(cfg))
}

func main() {
	cmd := &cli.Command{
		Name:  "curator",
		Usage: "Schema-driven markdown record store with an incremental scan-and-propose maintenance engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: ".curator/config.yaml",
				Value:       ".curator/config.yaml",
				Sources:     cli.EnvVars("CURATOR_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Run one maintenance phase (schema, frontmatter, or structure) and exit",
				ArgsUsage: "<phase> [workspace]",
				Action:    runMaintenance,
			},
			{
				Name:      "serve",
				Usage:     "Serve the workspace over MCP stdio with a live search index",
				ArgsUsage: "[workspace]",
				Action:    runServe,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
