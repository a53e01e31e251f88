package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/ksp-modsync/modsync/pkg/config"
	"github.com/ksp-modsync/modsync/pkg/pathutil"
)

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Generate a configuration file template",
		Description: `Writes a commented default configuration to the --config path.
   Edit server.remoteBase and the localPaths entry for this platform before
   the first sync.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := pathutil.ExpandPath(cmd.String("config"))
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), pathutil.UserWritableDirPerms); err != nil {
				return fmt.Errorf("cannot create config directory: %w", err)
			}
			if err := config.Generate(path, config.NewDefault()); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}
