package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"skyward/internal/model"
)

func TestCanFollowRespectsLimit(t *testing.T) {
	assert := assert.New(t)

	assert.True(CanFollow(0, 2))
	assert.True(CanFollow(1, 2))
	assert.False(CanFollow(2, 2))
	assert.False(CanFollow(0, 0))
	assert.True(CanFollow(1000, model.NoLimit))

	assert.True(CanLike(0, 1))
	assert.False(CanLike(1, 1))
}

func TestCanDMCooldown(t *testing.T) {
	assert := assert.New(t)
	sent := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	d := CanDM(0, 5, sent, true, 24, sent.Add(time.Hour))
	assert.Equal(SkippedCooldownActive, d.Verdict)
	assert.Equal(23*time.Hour, d.Remaining)
	assert.False(d.Permanent)

	d = CanDM(0, 5, sent, true, 24, sent.Add(25*time.Hour))
	assert.True(d.Allowed())

	d = CanDM(0, 5, sent, true, 24, sent.Add(24*time.Hour))
	assert.True(d.Allowed(), "cooldown boundary is inclusive")
}

func TestCanDMNeverResendWithZeroCooldown(t *testing.T) {
	assert := assert.New(t)
	sent := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, later := range []time.Duration{time.Minute, 25 * time.Hour, 24 * 365 * time.Hour} {
		d := CanDM(0, model.NoLimit, sent, true, 0, sent.Add(later))
		assert.Equal(SkippedCooldownActive, d.Verdict)
		assert.True(d.Permanent)
	}

	d := CanDM(0, model.NoLimit, time.Time{}, false, 0, sent)
	assert.True(d.Allowed())
}

func TestCanDMLimitCheckedFirst(t *testing.T) {
	d := CanDM(3, 3, time.Time{}, false, 24, time.Now())
	assert.Equal(t, SkippedLimitReached, d.Verdict)

	d = CanDM(0, 0, time.Time{}, false, 24, time.Now())
	assert.Equal(t, SkippedLimitReached, d.Verdict)
}

func TestDelayFor(t *testing.T) {
	acct := model.Account{FollowDelay: 2 * time.Second, LikeDelay: 3 * time.Second}

	assert.Equal(t, 2*time.Second, DelayFor(model.Followed, acct))
	assert.Equal(t, 3*time.Second, DelayFor(model.Liked, acct))
	assert.Equal(t, time.Duration(0), DelayFor(model.DMSent, acct))
}
