package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/ksp-modsync/modsync/pkg/plog"
)

// errFinishedWithErrors marks a run that completed but failed on some
// files; it maps to exit status 2 instead of 1.
var errFinishedWithErrors = errors.New("sync finished with errors")

func main() {
	app := &cli.Command{
		Name:    "modsync",
		Usage:   "Synchronize game mod directories with a shared storage location",
		Version: versionString(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file",
				Value:   defaultConfigPath(),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Console log level (debug, info, warn, error)",
				Value: "info",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress informational console output",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if err := configureLogging(cmd); err != nil {
				return ctx, err
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			syncCommand(),
			initCommand(),
			historyCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "modsync: %v\n", err)
		if errors.Is(err, errFinishedWithErrors) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func configureLogging(cmd *cli.Command) error {
	plog.SetQuiet(cmd.Bool("quiet"))
	return plog.SetLevelName(cmd.String("log-level"))
}
