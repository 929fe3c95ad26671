package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"skyward/internal/config"
	"skyward/internal/runner"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(runner.ExitTotalFailure)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "skyward",
		Usage:     "follow, like and welcome accounts on Bluesky, at most once each",
		UsageText: "skyward --config <path> [--dry-run] [--log-level <level>]\n   skyward <command> [options]",
		Flags:     runFlags(false),
		Action:    rootAction,
		Commands: []*cli.Command{
			runCommand(),
			initCommand(),
			statsCommand(),
		},
	}
}

// rootAction lets the bare command behave like "skyward run".
func rootAction(cctx *cli.Context) error {
	if cctx.NArg() > 0 {
		return cli.Exit(fmt.Sprintf("unknown command %q", cctx.Args().First()), runner.ExitTotalFailure)
	}
	if cctx.NumFlags() == 0 && cctx.String("config") == "" {
		return cli.ShowAppHelp(cctx)
	}
	return runRun(cctx)
}

// configFlag is optional on the app itself so that subcommands without a
// config still parse; runRun checks it.
func configFlag(required bool) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Usage:    "path to the YAML config",
		Required: required,
		EnvVars:  []string{"SKYWARD_CONFIG"},
	}
}

func logLevelFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "log-level",
		Usage:   "debug, info, warn or error",
		Value:   "info",
		EnvVars: []string{"SKYWARD_LOG_LEVEL"},
	}
}

func envFileFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "env-file",
		Usage: "dotenv file to read app passwords and SKYWARD_* settings from",
		Value: ".env",
	}
}

// loadEnvFile reads --env-file. The default file may be absent; an explicit
// one may not.
func loadEnvFile(cctx *cli.Context) error {
	if err := config.LoadEnvFile(cctx.String("env-file"), cctx.IsSet("env-file")); err != nil {
		return cli.Exit(fmt.Sprintf("reading env file: %v", err), runner.ExitTotalFailure)
	}
	return nil
}
