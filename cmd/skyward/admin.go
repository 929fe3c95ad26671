package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"skyward/internal/analytics"
	"skyward/internal/cmdlog"
	"skyward/internal/config"
	"skyward/internal/model"
	"skyward/internal/runner"
	"skyward/internal/theme"
)

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "write an example config",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "path",
				Usage: "where to write the config",
				Value: "./skyward.yaml",
			},
			logLevelFlag(),
			&cli.BoolFlag{
				Name:  "force",
				Usage: "overwrite an existing file",
			},
		},
		Action: func(cctx *cli.Context) error {
			log, err := newLogger(cctx)
			if err != nil {
				return err
			}
			path := cctx.String("path")
			return cmdlog.Run(log, "init", func() error {
				if _, err := os.Stat(path); err == nil && !cctx.Bool("force") {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
					return err
				}
				if err := config.Save(path, config.Default()); err != nil {
					return err
				}
				abs, _ := filepath.Abs(path)
				theme.PrintBanner(cctx.App.Writer)
				fmt.Fprintln(cctx.App.Writer, "Config written to:", abs)
				return nil
			})
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "summarize recorded actions per day and kind",
		Flags: []cli.Flag{configFlag(true), envFileFlag(), logLevelFlag()},
		Action: func(cctx *cli.Context) error {
			log, err := newLogger(cctx)
			if err != nil {
				return err
			}
			if err := loadEnvFile(cctx); err != nil {
				return err
			}
			cfg, err := config.Load(cctx.String("config"))
			if err != nil {
				return cli.Exit(err.Error(), runner.ExitTotalFailure)
			}
			return cmdlog.Run(log, "stats", func() error {
				// read-only, so the store is opened as if for a dry run
				st, err := openStore(cfg, true)
				if err != nil {
					return err
				}
				defer st.Close()

				w := cctx.App.Writer
				for _, acct := range cfg.Resolve() {
					snap, err := st.Load(cctx.Context, acct.Handle)
					if err != nil {
						return fmt.Errorf("%s: %w", acct.Handle, err)
					}
					recs := snap.Records()
					totals := analytics.Totals(recs)
					fmt.Fprintf(w, "%s: %s\n", acct.Handle, kindCounts(totals))
					daily := analytics.DailyActions(recs)
					for _, day := range analytics.SortedBucketKeys(daily) {
						fmt.Fprintf(w, "  %s  %s\n", day.Format("2006-01-02"), kindCounts(daily[day]))
					}
				}
				return nil
			})
		},
	}
}

func kindCounts(m map[model.ActionKind]int) string {
	parts := make([]string, 0, len(model.Kinds))
	for _, k := range model.Kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}
