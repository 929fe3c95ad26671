// Package engine drives one account through the follow, like and DM phases.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"skyward/internal/bsky"
	"skyward/internal/model"
	"skyward/internal/policy"
	"skyward/internal/store"
)

// Options tunes a Pipeline. Zero values select real clocks and no hooks.
type Options struct {
	DryRun bool
	Logger zerolog.Logger
	Now    func() time.Time
	// Sleep waits d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnAction is called for every counted outcome.
	OnAction func(account string, kind model.ActionKind, outcome Outcome)
}

// Pipeline runs accounts against one Store and one Client.
type Pipeline struct {
	store  store.Store
	client bsky.Client
	opts   Options
}

func New(st store.Store, client bsky.Client, opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}
	return &Pipeline{store: st, client: client, opts: opts}
}

// Sleep waits for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes every target of acct and then the DM sweep. The caller owns
// the account lock. Fatal errors end the run and are reported in RunResult.Err.
func (p *Pipeline) Run(ctx context.Context, acct model.Account) *RunResult {
	runID := uuid.NewString()
	res := newResult(acct.Handle, runID, p.opts.DryRun, p.opts.Now())
	log := p.opts.Logger.With().Str("run_id", runID).Str("account", acct.Handle).Bool("dry_run", p.opts.DryRun).Logger()
	defer func() { res.Finished = p.opts.Now() }()

	snap, err := p.store.Load(ctx, acct.Handle)
	if err != nil {
		res.Err = fmt.Errorf("loading state: %w", err)
		return res
	}
	log.Debug().Int("records", snap.Len()).Msg("state loaded")

	sess, err := p.client.Login(ctx)
	if err != nil {
		res.Err = err
		return res
	}

	r := &run{
		p:    p,
		acct: acct,
		snap: snap,
		sess: sess,
		res:  res,
		log:  log.With().Str("did", sess.DID).Logger(),
	}
	for _, t := range acct.Targets {
		if err := r.target(ctx, t); err != nil {
			res.Err = err
			return res
		}
	}
	if acct.DM.Enabled {
		if err := r.dms(ctx); err != nil {
			res.Err = err
			return res
		}
	}
	return res
}

// run is the state of one account's pass. The snapshot doubles as the
// in-memory ledger for dry runs.
type run struct {
	p    *Pipeline
	acct model.Account
	snap *store.Snapshot
	sess *bsky.Session
	res  *RunResult
	log  zerolog.Logger
}

func (r *run) count(kind model.ActionKind, o Outcome) {
	r.res.Counts[kind].add(o)
	if r.p.opts.OnAction != nil {
		r.p.opts.OnAction(r.acct.Handle, kind, o)
	}
}

func (r *run) notice(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.res.Notices = append(r.res.Notices, msg)
	r.log.Warn().Msg(msg)
}

func (r *run) dry() bool { return r.p.opts.DryRun }

// skip reports whether cand must never be acted on.
func (r *run) skip(cand model.CandidateUser) bool {
	return cand.DID == "" || cand.DID == r.sess.DID
}

// persist records an action the API has confirmed. It ignores cancellation
// so a shutdown never loses a completed action.
func (r *run) persist(ctx context.Context, did string, kind model.ActionKind) error {
	at := r.p.opts.Now().UTC()
	if err := r.p.store.Record(context.WithoutCancel(ctx), r.acct.Handle, did, kind, at); err != nil {
		return fmt.Errorf("persisting %s for %s: %w", kind, did, err)
	}
	r.snap.Put(did, kind, at)
	return nil
}

func (r *run) pause(ctx context.Context, kind model.ActionKind) error {
	if r.dry() {
		return nil
	}
	return r.p.opts.Sleep(ctx, policy.DelayFor(kind, r.acct))
}

// retryOnce calls op, and on a retryable failure waits the action's delay and
// calls it exactly once more.
func (r *run) retryOnce(ctx context.Context, kind model.ActionKind, log zerolog.Logger, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil || ctx.Err() != nil || bsky.ClassOf(err) != bsky.ClassRetryable {
		return err
	}
	log.Warn().Err(err).Str("kind", string(kind)).Msg("retrying after transient failure")
	if serr := r.pause(ctx, kind); serr != nil {
		return serr
	}
	return op(ctx)
}

// candidateOnly reports whether err can be confined to the current candidate.
func candidateOnly(ctx context.Context, err error) bool {
	return ctx.Err() == nil && bsky.ClassOf(err) != bsky.ClassFatal
}

func (r *run) target(ctx context.Context, t model.FollowTarget) error {
	log := r.log.With().Str("target", t.Handle).Logger()
	canFollow := policy.CanFollow(0, t.FollowLimit)
	likeOnly := !canFollow && t.LikeLatestPost && policy.CanLike(0, t.LikeLimit)
	if !canFollow && !likeOnly {
		log.Info().Msg("follow limit is zero, skipping target")
		return nil
	}

	followed, liked := 0, 0
	for cand, err := range r.p.client.Followers(ctx, r.sess, t.Handle) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !candidateOnly(ctx, err) {
				return fmt.Errorf("listing followers of %s: %w", t.Handle, err)
			}
			r.notice("listing followers of %s failed: %v", t.Handle, err)
			break
		}
		if r.skip(cand) {
			continue
		}
		clog := log.With().Str("candidate", cand.DID).Str("handle", cand.Handle).Logger()

		if r.snap.Has(cand.DID, model.Followed) {
			r.count(model.Followed, Skipped)
			clog.Debug().Msg("already followed")
		} else if likeOnly {
			// follow limit is zero: only earlier follows are liked
			continue
		} else {
			ok, err := r.follow(ctx, cand, clog)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			followed++
		}

		if t.LikeLatestPost {
			ok, err := r.like(ctx, t, cand, liked, clog)
			if err != nil {
				return err
			}
			if ok {
				liked++
			}
		}
		if likeOnly {
			if !policy.CanLike(liked, t.LikeLimit) {
				log.Info().Int("limit", t.LikeLimit).Msg("reached like limit")
				break
			}
		} else if !policy.CanFollow(followed, t.FollowLimit) {
			log.Info().Int("limit", t.FollowLimit).Msg("reached follow limit")
			break
		}
	}
	log.Info().Int("followed", followed).Int("liked", liked).Msg("finished target")
	return ctx.Err()
}

// follow returns true once cand is followed (or would be, in a dry run).
func (r *run) follow(ctx context.Context, cand model.CandidateUser, log zerolog.Logger) (bool, error) {
	r.count(model.Followed, Attempted)
	if r.dry() {
		r.snap.Put(cand.DID, model.Followed, r.p.opts.Now().UTC())
		r.count(model.Followed, Succeeded)
		log.Info().Msg("would follow")
		return true, nil
	}

	err := r.retryOnce(ctx, model.Followed, log, func(ctx context.Context) error {
		return r.p.client.Follow(ctx, r.sess, cand.DID)
	})
	if err != nil {
		r.count(model.Followed, Failed)
		if candidateOnly(ctx, err) {
			log.Warn().Err(err).Msg("follow failed, skipping candidate")
			return false, nil
		}
		return false, err
	}
	if err := r.persist(ctx, cand.DID, model.Followed); err != nil {
		return false, err
	}
	r.count(model.Followed, Succeeded)
	log.Info().Msg("followed")
	return true, r.pause(ctx, model.Followed)
}

// like likes cand's newest post. It returns true when the like counts
// against the target's like limit.
func (r *run) like(ctx context.Context, t model.FollowTarget, cand model.CandidateUser, liked int, log zerolog.Logger) (bool, error) {
	if r.snap.Has(cand.DID, model.Liked) {
		return false, nil
	}
	if !policy.CanLike(liked, t.LikeLimit) {
		return false, nil
	}

	var post *model.PostRef
	err := r.retryOnce(ctx, model.Liked, log, func(ctx context.Context) error {
		var err error
		post, err = r.p.client.LatestPost(ctx, r.sess, cand.DID)
		return err
	})
	if err != nil {
		if candidateOnly(ctx, err) {
			r.count(model.Liked, Skipped)
			log.Warn().Err(err).Msg("fetching latest post failed, not liking")
			return false, nil
		}
		return false, err
	}
	if post == nil {
		r.count(model.Liked, Skipped)
		log.Debug().Msg("no post to like")
		return false, nil
	}

	r.count(model.Liked, Attempted)
	if r.dry() {
		r.snap.Put(cand.DID, model.Liked, r.p.opts.Now().UTC())
		r.count(model.Liked, Succeeded)
		log.Info().Str("uri", post.URI).Msg("would like latest post")
		return true, nil
	}

	err = r.retryOnce(ctx, model.Liked, log, func(ctx context.Context) error {
		return r.p.client.Like(ctx, r.sess, *post)
	})
	if err != nil {
		r.count(model.Liked, Failed)
		if candidateOnly(ctx, err) {
			log.Warn().Err(err).Msg("like failed")
			return false, nil
		}
		return false, err
	}
	if err := r.persist(ctx, cand.DID, model.Liked); err != nil {
		return false, err
	}
	r.count(model.Liked, Succeeded)
	log.Info().Str("uri", post.URI).Msg("liked latest post")
	return true, r.pause(ctx, model.Liked)
}

func (r *run) dms(ctx context.Context) error {
	dm := r.acct.DM
	log := r.log.With().Str("phase", "dm").Logger()
	if policy.CanDM(0, dm.LimitPerRun, time.Time{}, false, dm.CooldownHours, r.p.opts.Now()).Verdict == policy.SkippedLimitReached {
		log.Info().Msg("dm limit is zero, skipping")
		return nil
	}

	sent := 0
	for cand, err := range r.p.client.NewFollowers(ctx, r.sess) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !candidateOnly(ctx, err) {
				return fmt.Errorf("listing own followers: %w", err)
			}
			r.notice("listing own followers failed: %v", err)
			return nil
		}
		if r.skip(cand) {
			continue
		}
		clog := log.With().Str("candidate", cand.DID).Str("handle", cand.Handle).Logger()

		last, hasLast := r.snap.DMTimestamp(cand.DID)
		d := policy.CanDM(sent, dm.LimitPerRun, last, hasLast, dm.CooldownHours, r.p.opts.Now())
		switch d.Verdict {
		case policy.SkippedLimitReached:
			log.Info().Int("sent", sent).Msg("reached dm limit")
			return nil
		case policy.SkippedCooldownActive:
			r.count(model.DMSent, Skipped)
			ev := clog.Debug()
			if !d.Permanent {
				ev = ev.Dur("remaining", d.Remaining)
			}
			ev.Msg("dm cooldown active")
			continue
		}

		text, err := Render(dm.Message, cand)
		if err != nil {
			r.notice("dm phase aborted: %v", err)
			return nil
		}

		r.count(model.DMSent, Attempted)
		if r.dry() {
			r.snap.Put(cand.DID, model.DMSent, r.p.opts.Now().UTC())
			r.count(model.DMSent, Succeeded)
			sent++
			clog.Info().Msg("would send dm")
			continue
		}

		err = r.retryOnce(ctx, model.DMSent, clog, func(ctx context.Context) error {
			return r.p.client.SendDM(ctx, r.sess, cand.DID, text)
		})
		if err != nil {
			r.count(model.DMSent, Failed)
			if errors.Is(err, bsky.ErrDMUnavailable) {
				r.notice("direct messages unavailable, dm phase skipped: %v", err)
				return nil
			}
			if candidateOnly(ctx, err) {
				clog.Warn().Err(err).Msg("dm failed")
				continue
			}
			return err
		}
		if err := r.persist(ctx, cand.DID, model.DMSent); err != nil {
			return err
		}
		r.count(model.DMSent, Succeeded)
		sent++
		clog.Info().Msg("sent dm")
		if err := r.pause(ctx, model.DMSent); err != nil {
			return err
		}
	}
	return ctx.Err()
}
