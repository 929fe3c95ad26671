// Package policy decides whether an action is currently permitted.
// Nothing here performs I/O; callers pass in counts, limits and clocks.
package policy

import (
	"fmt"
	"time"

	"skyward/internal/model"
)

// CanFollow reports whether another follow fits within limit for this run.
func CanFollow(count, limit int) bool {
	return within(count, limit)
}

// CanLike reports whether another like fits within limit for this run.
func CanLike(count, limit int) bool {
	return within(count, limit)
}

func within(count, limit int) bool {
	if limit < 0 {
		return true
	}
	return count < limit
}

type Verdict int

const (
	Allowed Verdict = iota
	SkippedLimitReached
	SkippedCooldownActive
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case SkippedLimitReached:
		return "limit_reached"
	case SkippedCooldownActive:
		return "cooldown_active"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// DMDecision is the outcome of CanDM. Remaining is only meaningful for
// SkippedCooldownActive; Permanent is set when the cooldown never expires.
type DMDecision struct {
	Verdict   Verdict
	Remaining time.Duration
	Permanent bool
}

func (d DMDecision) Allowed() bool { return d.Verdict == Allowed }

// CanDM checks the per-run limit first, then the cooldown against the last
// time this recipient was messaged. A zero cooldown means a recipient is
// messaged at most once, ever.
func CanDM(count, limit int, last time.Time, hasLast bool, cooldownHours float64, now time.Time) DMDecision {
	if !within(count, limit) {
		return DMDecision{Verdict: SkippedLimitReached}
	}
	if !hasLast {
		return DMDecision{Verdict: Allowed}
	}
	if cooldownHours <= 0 {
		return DMDecision{Verdict: SkippedCooldownActive, Permanent: true}
	}
	cooldown := time.Duration(cooldownHours * float64(time.Hour))
	elapsed := now.Sub(last)
	if elapsed >= cooldown {
		return DMDecision{Verdict: Allowed}
	}
	return DMDecision{Verdict: SkippedCooldownActive, Remaining: cooldown - elapsed}
}

// DelayFor returns the pause that follows a successful action of kind.
func DelayFor(kind model.ActionKind, acct model.Account) time.Duration {
	var d time.Duration
	switch kind {
	case model.Followed:
		d = acct.FollowDelay
	case model.Liked:
		d = acct.LikeDelay
	case model.DMSent:
		d = acct.DMDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
