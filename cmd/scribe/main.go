package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/qbiolab/scribe/internal"
)

func setup(cmd *cli.Command) (*internal.Config, *slog.Logger, error) {
	cfg, err := internal.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	logger := internal.NewLogger(cfg, cmd.Bool("quiet"), cmd.Bool("verbose"))
	return cfg, logger, nil
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file",
		Sources: cli.EnvVars("SCRIBE_CONFIG_FILE"),
	}
}

func quietFlag() cli.Flag {
	return &cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Only log errors"}
}

func main() {
	cmd := &cli.Command{
		Name:  "scribe",
		Usage: "Sync a Notion workspace into git and distribute daily change briefings",
		Commands: []*cli.Command{
			{
				Name:  "health",
				Usage: "Validate configuration, repository state, and API reachability",
				Flags: []cli.Flag{
					configFlag(),
					quietFlag(),
					&cli.BoolFlag{Name: "quick", Usage: "Skip network probes"},
					&cli.BoolFlag{Name: "json", Usage: "Machine-readable report"},
					&cli.BoolFlag{Name: "serve", Usage: "Expose the report over HTTP"},
					&cli.StringFlag{Name: "listen", Value: "127.0.0.1:8390", Usage: "Listen address for --serve"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, logger, err := setup(cmd)
					if err != nil {
						fmt.Fprintln(os.Stderr, err)
						return cli.Exit("", 2)
					}
					code, err := internal.RunHealth(ctx, cfg, logger,
						cmd.Bool("quick"), cmd.Bool("json"), cmd.Bool("serve"), cmd.String("listen"))
					if err != nil {
						return err
					}
					if code != 0 {
						return cli.Exit("", code)
					}
					return nil
				},
			},
			{
				Name:  "sync",
				Usage: "Sync changed workspace pages into the notes repository",
				Flags: []cli.Flag{
					configFlag(),
					quietFlag(),
					&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Debug logging"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, logger, err := setup(cmd)
					if err != nil {
						return err
					}
					return internal.RunSync(ctx, cfg, logger)
				},
			},
			{
				Name:  "sync-userlist",
				Usage: "Refresh the user directory from the workspace",
				Flags: []cli.Flag{configFlag(), quietFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, logger, err := setup(cmd)
					if err != nil {
						return err
					}
					return internal.RunSyncUserlist(ctx, cfg, logger)
				},
			},
			{
				Name:  "generate-change-summary",
				Usage: "Summarize the day's commits into the individual summary file",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{Name: "no-write", Usage: "Print the summary without writing files"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, logger, err := setup(cmd)
					if err != nil {
						return err
					}
					_, err = internal.RunChangeSummary(ctx, cfg, logger, cmd.Bool("no-write"))
					return err
				},
			},
			{
				Name:  "generate-overview",
				Usage: "Generate the team overview for the day",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{Name: "no-write", Usage: "Print the overview without writing files"},
					&cli.BoolFlag{Name: "print-prompt", Usage: "Print the assembled prompt and exit"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, logger, err := setup(cmd)
					if err != nil {
						return err
					}
					return internal.RunOverview(ctx, cfg, logger,
						cmd.Bool("no-write"), cmd.Bool("print-prompt"))
				},
			},
			{
				Name:  "post-summary",
				Usage: "Post a generated summary pair to the messaging platform",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: "summary-file", Required: true, Usage: "Individual summary Markdown file"},
					&cli.StringFlag{Name: "overview-file", Required: true, Usage: "Overview Markdown file"},
					&cli.StringFlag{Name: "title", Required: true, Usage: "Post title"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, logger, err := setup(cmd)
					if err != nil {
						return err
					}
					return internal.RunPostSummary(ctx, cfg, logger,
						cmd.String("summary-file"), cmd.String("overview-file"), cmd.String("title"))
				},
			},
			{
				Name:  "pipeline",
				Usage: "Run summary generation, overview generation, and posting in sequence",
				Flags: []cli.Flag{
					configFlag(),
					quietFlag(),
					&cli.BoolFlag{Name: "no-posting", Usage: "Stop after overview generation"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, logger, err := setup(cmd)
					if err != nil {
						return err
					}
					return internal.RunPipeline(ctx, cfg, logger, cmd.Bool("no-posting"))
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			if msg := exitErr.Error(); msg != "" {
				slog.Error("command failed", slog.String("error", msg))
			}
			os.Exit(exitErr.ExitCode())
		}
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
