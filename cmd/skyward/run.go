package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"skyward/internal/bsky"
	"skyward/internal/cmdlog"
	"skyward/internal/config"
	"skyward/internal/engine"
	"skyward/internal/logging"
	"skyward/internal/metrics"
	"skyward/internal/model"
	"skyward/internal/runner"
	"skyward/internal/store"
	"skyward/internal/store/jsonstore"
	"skyward/internal/store/memstore"
	"skyward/internal/store/sqlitestore"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "process every configured account once",
		Flags:  runFlags(true),
		Action: runRun,
	}
}

func runFlags(configRequired bool) []cli.Flag {
	return []cli.Flag{
		configFlag(configRequired),
		envFileFlag(),
		logLevelFlag(),
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "validate config and state and report decisions without contacting the network",
		},
		&cli.BoolFlag{
			Name:  "online",
			Usage: "with --dry-run, read followers and posts from the network (still no writes)",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "serve /metrics and /health on this address while running",
		},
		&cli.StringFlag{
			Name:  "metrics-textfile",
			Usage: "write metrics here after the run, for the node_exporter textfile collector",
		},
	}
}

func newLogger(cctx *cli.Context) (zerolog.Logger, error) {
	log, err := logging.New(os.Stderr, cctx.String("log-level"))
	if err != nil {
		return log, cli.Exit(err.Error(), runner.ExitTotalFailure)
	}
	return log, nil
}

func runRun(cctx *cli.Context) error {
	log, err := newLogger(cctx)
	if err != nil {
		return err
	}
	if cctx.String("config") == "" {
		return cli.Exit("--config is required", runner.ExitTotalFailure)
	}
	dryRun := cctx.Bool("dry-run")
	online := cctx.Bool("online")
	if online && !dryRun {
		return cli.Exit("--online requires --dry-run", runner.ExitTotalFailure)
	}

	if err := loadEnvFile(cctx); err != nil {
		return err
	}
	rt, err := config.LoadRuntime()
	if err != nil {
		return cli.Exit(fmt.Sprintf("reading environment: %v", err), runner.ExitTotalFailure)
	}
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return cli.Exit(err.Error(), runner.ExitTotalFailure)
	}

	addr := cctx.String("metrics-addr")
	if addr == "" {
		addr = rt.MetricsAddr
	}
	stopMetrics := metrics.StartServer(addr)
	defer stopMetrics()

	st, err := openStore(cfg, dryRun)
	if err != nil {
		log.Error().Err(err).Msg("opening state store")
		return cli.Exit(err.Error(), runner.ExitTotalFailure)
	}
	defer st.Close()

	var rep *runner.Report
	_ = cmdlog.Run(log, "run", func() error {
		coord := runner.New(st, clientFactory(cfg, rt, log, dryRun && !online), runner.Options{
			DryRun:   dryRun,
			Logger:   log,
			OnAction: func(account string, kind model.ActionKind, o engine.Outcome) {
				metrics.IncAction(account, string(kind), string(o))
			},
		})
		rep = coord.Run(cctx.Context, cfg.Resolve())
		if code := runner.ExitStatus(rep); code != runner.ExitOK {
			return fmt.Errorf("run finished with exit status %d", code)
		}
		return nil
	})

	w := cctx.App.Writer
	for _, o := range rep.Outcomes {
		fmt.Fprintln(w, o.Summary())
		if o.Result != nil {
			for _, n := range o.Result.Notices {
				fmt.Fprintf(w, "  notice: %s\n", n)
			}
		}
	}

	if path := cctx.String("metrics-textfile"); path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("writing metrics textfile")
		}
	}

	if code := runner.ExitStatus(rep); code != runner.ExitOK {
		if rep.Interrupted {
			return cli.Exit("interrupted", code)
		}
		return cli.Exit("", code)
	}
	return nil
}

// openStore picks the configured backend. A dry run never creates state, so
// a missing SQLite database is replaced by an empty in-memory store.
func openStore(cfg *config.Config, dryRun bool) (store.Store, error) {
	stale := cfg.LockStaleAfter()
	if cfg.Backend() != config.BackendSQLite {
		return jsonstore.New(cfg.Directory(), stale), nil
	}
	path := cfg.SQLitePath()
	if dryRun {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return memstore.New(), nil
		}
	}
	return sqlitestore.Open(path, stale)
}

func clientFactory(cfg *config.Config, rt config.Runtime, log zerolog.Logger, offline bool) runner.ClientFactory {
	classifier := cfg.API.Classifier()
	return func(acct model.Account) (bsky.Client, error) {
		if offline {
			return bsky.Offline{Handle: acct.Handle}, nil
		}
		return bsky.NewHTTPClient(bsky.Options{
			Service:     acct.Service,
			Identifier:  acct.Handle,
			AppPassword: acct.AppPassword,
			Proxy:       acct.Proxy,
			UserAgent:   rt.UserAgent,
			Timeout:     rt.HTTPTimeout,
			Retries:     rt.HTTPRetries,
			RPS:         rt.APIRPS,
			Burst:       rt.APIBurst,
			PageSize:    acct.NewFollowersPageSize,
			Classifier:  &classifier,
			Logger:      log.With().Str("account", acct.Handle).Logger(),
			OnRetry:     metrics.IncAPIRetry,
		})
	}
}
