// Package runner processes every configured account in order and derives the
// process exit status.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"skyward/internal/bsky"
	"skyward/internal/engine"
	"skyward/internal/metrics"
	"skyward/internal/model"
	"skyward/internal/schedule"
	"skyward/internal/store"
)

const (
	ExitOK             = 0
	ExitTotalFailure   = 1
	ExitPartialFailure = 2
	ExitInterrupted    = 130
)

// Status is the final state of one account in a run.
type Status string

const (
	StatusOK          Status = "ok"
	StatusFailed      Status = "failed"
	StatusQuiet       Status = "skipped"
	StatusInterrupted Status = "interrupted"
)

// ClientFactory builds the API client for one account.
type ClientFactory func(acct model.Account) (bsky.Client, error)

type Options struct {
	DryRun   bool
	Logger   zerolog.Logger
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
	OnAction func(account string, kind model.ActionKind, outcome engine.Outcome)
}

type Coordinator struct {
	store     store.Store
	newClient ClientFactory
	opts      Options
}

func New(st store.Store, newClient ClientFactory, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{store: st, newClient: newClient, opts: opts}
}

// AccountOutcome is what happened to one account.
type AccountOutcome struct {
	Account string
	Status  Status
	// Result is nil when the account never reached the pipeline.
	Result *engine.RunResult
	Err    error
	// ResumeAt is set for accounts skipped during quiet hours.
	ResumeAt time.Time
}

func (o AccountOutcome) Summary() string {
	if o.Result != nil {
		return fmt.Sprintf("[%s] %s", o.Status, o.Result.Summary())
	}
	if o.Err != nil {
		return fmt.Sprintf("[%s] %s: error=%q", o.Status, o.Account, o.Err.Error())
	}
	if !o.ResumeAt.IsZero() {
		return fmt.Sprintf("[%s] %s: quiet hours until %s", o.Status, o.Account, o.ResumeAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("[%s] %s", o.Status, o.Account)
}

type Report struct {
	Outcomes    []AccountOutcome
	Interrupted bool
}

// Run processes accounts sequentially, in declaration order. One account's
// failure never stops the others; cancellation stops everything.
func (c *Coordinator) Run(ctx context.Context, accounts []model.Account) *Report {
	rep := &Report{}
	for _, acct := range accounts {
		if ctx.Err() != nil {
			rep.Interrupted = true
			break
		}
		out := c.runAccount(ctx, acct)
		metrics.IncAccountRun(string(out.Status))
		rep.Outcomes = append(rep.Outcomes, out)
		if out.Status == StatusInterrupted {
			rep.Interrupted = true
			break
		}
	}
	return rep
}

func (c *Coordinator) runAccount(ctx context.Context, acct model.Account) (out AccountOutcome) {
	out = AccountOutcome{Account: acct.Handle}
	log := c.opts.Logger.With().Str("account", acct.Handle).Logger()

	now := c.opts.Now()
	if !c.opts.DryRun && schedule.InQuietHours(now, acct.QuietHours) {
		out.Status = StatusQuiet
		out.ResumeAt = schedule.NextWindow(now, acct.QuietHours)
		log.Info().Time("resume_at", out.ResumeAt).Msg("quiet hours, skipping account")
		return out
	}

	if !c.opts.DryRun {
		unlock, err := c.store.Lock(ctx, acct.Handle)
		if err != nil {
			out.Status, out.Err = StatusFailed, err
			log.Error().Err(err).Msg("could not lock account state")
			return out
		}
		defer func() {
			if err := unlock(); err != nil {
				log.Warn().Err(err).Msg("releasing account lock")
			}
		}()
	}

	client, err := c.newClient(acct)
	if err != nil {
		out.Status, out.Err = StatusFailed, fmt.Errorf("building client: %w", err)
		log.Error().Err(out.Err).Msg("account failed")
		return out
	}

	start := time.Now()
	p := engine.New(c.store, client, engine.Options{
		DryRun:   c.opts.DryRun,
		Logger:   c.opts.Logger,
		Now:      c.opts.Now,
		Sleep:    c.opts.Sleep,
		OnAction: c.opts.OnAction,
	})
	res := p.Run(ctx, acct)
	metrics.ObserveAccountRun(time.Since(start))

	out.Result, out.Err = res, res.Err
	ev := log.Info()
	switch {
	case res.Err == nil:
		out.Status = StatusOK
	case errors.Is(res.Err, context.Canceled) || ctx.Err() != nil:
		out.Status = StatusInterrupted
		ev = log.Warn().Err(res.Err)
	default:
		out.Status = StatusFailed
		ev = log.Error().Err(res.Err)
	}
	for _, k := range model.Kinds {
		n := res.Of(k)
		ev = ev.Dict(string(k), zerolog.Dict().
			Int("attempted", n.Attempted).
			Int("succeeded", n.Succeeded).
			Int("skipped", n.Skipped).
			Int("failed", n.Failed))
	}
	ev.Str("run_id", res.RunID).Str("status", string(out.Status)).Strs("notices", res.Notices).Msg("account finished")
	return out
}

// ExitStatus maps a report onto the process exit code.
func ExitStatus(rep *Report) int {
	if rep.Interrupted {
		return ExitInterrupted
	}
	failed := 0
	for _, o := range rep.Outcomes {
		if o.Status == StatusFailed {
			failed++
		}
	}
	switch {
	case failed == 0:
		return ExitOK
	case failed == len(rep.Outcomes):
		return ExitTotalFailure
	}
	return ExitPartialFailure
}
