package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/ksp-modsync/modsync/pkg/config"
	"github.com/ksp-modsync/modsync/pkg/pathutil"
	"github.com/ksp-modsync/modsync/pkg/plog"
	"github.com/ksp-modsync/modsync/pkg/syncpass"
)

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Run one sync pass for a configured directory pair",
		UsageText: "modsync sync [options] [sync-dir-name]",
		Description: `Runs a full bidirectional sync: local changes are pushed to the share,
   then remote changes are pulled back. With a single configured pair the
   name may be omitted.

   Examples:
     modsync sync
     modsync sync mods
     modsync sync --dry-run mods`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"n"},
				Usage:   "Plan and report actions without touching any files",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() > 1 {
				return fmt.Errorf("at most one sync directory name expected")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.LogSummary()

			o, err := syncpass.New(cfg, cmd.Args().First(), cmd.Bool("dry-run"))
			if err != nil {
				return err
			}

			result, err := o.Run(ctx)
			if err != nil {
				return err
			}
			plog.Info("Done", "actions", result.ActionsApplied, "errors", result.ErrorCount)
			if result.ErrorCount > 0 {
				return fmt.Errorf("%w: %d of the attempted actions failed", errFinishedWithErrors, result.ErrorCount)
			}
			return nil
		},
	}
}

// loadConfig reads the configuration named by the global --config flag.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	path, err := pathutil.ExpandPath(cmd.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, fmt.Errorf("no config file at %s, run 'modsync init' first", path)
		}
		return config.Config{}, err
	}
	return cfg, nil
}

// defaultConfigPath is the per-user config location.
func defaultConfigPath() string {
	return filepath.Join("~", ".modsync", config.ConfigFileName)
}
