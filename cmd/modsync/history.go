package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/ksp-modsync/modsync/pkg/history"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent sync runs on this machine",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs to show",
				Value: 10,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path, err := cfg.HistoryPath()
			if err != nil {
				return err
			}
			if path == "" {
				return fmt.Errorf("history is disabled in the configuration")
			}

			store, err := history.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.RecentRuns(int(cmd.Int("limit")))
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No sync runs recorded yet.")
				return nil
			}

			for _, r := range runs {
				status := "ok"
				if !r.Succeeded {
					status = "FAILED"
				} else if r.Errors > 0 {
					status = fmt.Sprintf("%d errors", r.Errors)
				}
				fmt.Printf("%s  %-12s %-10s %4d actions  %s (session %s)\n",
					r.FinishedAt.Format(time.RFC3339), r.SyncDir, status, r.Actions, r.Host, r.Session)
			}
			return nil
		},
	}
}
