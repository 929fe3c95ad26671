package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyward/internal/model"
)

func TestSnapshotRecords(t *testing.T) {
	assert := assert.New(t)
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	s := NewSnapshot("me.bsky.social")
	s.Put("did:plc:b", model.Followed, t0)
	s.Put("did:plc:a", model.Followed, t0)
	s.Put("did:plc:a", model.DMSent, t0.Add(time.Hour))
	s.Put("did:plc:a", model.DMSent, t0.Add(2*time.Hour))

	assert.Equal(3, s.Len())
	assert.Equal(2, s.Count(model.Followed))
	assert.True(s.Has("did:plc:a", model.Followed))
	assert.False(s.Has("did:plc:a", model.Liked))

	at, ok := s.DMTimestamp("did:plc:a")
	assert.True(ok)
	assert.Equal(t0.Add(2*time.Hour), at)

	recs := s.Records()
	require.Len(t, recs, 3)
	assert.Equal("did:plc:a", recs[0].DID)
	assert.Equal("did:plc:b", recs[1].DID)
	assert.Equal(model.DMSent, recs[2].Kind)

	c := s.Clone()
	c.Put("did:plc:c", model.Liked, t0)
	assert.False(s.Has("did:plc:c", model.Liked))
}

func TestFileLockerExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewFileLocker(t.TempDir(), 0)

	unlock, err := l.Lock(ctx, "alice.bsky.social")
	require.NoError(t, err)

	_, err = l.Lock(ctx, "alice.bsky.social")
	assert.ErrorIs(t, err, ErrLocked)

	other, err := l.Lock(ctx, "bob.bsky.social")
	require.NoError(t, err)
	require.NoError(t, other())

	require.NoError(t, unlock())
	_, err = os.Stat(l.Path("alice.bsky.social"))
	assert.True(t, os.IsNotExist(err))

	again, err := l.Lock(ctx, "alice.bsky.social")
	require.NoError(t, err)
	require.NoError(t, again())
}

func TestFileLockerBreaksStaleLock(t *testing.T) {
	ctx := context.Background()
	l := NewFileLocker(t.TempDir(), time.Hour)

	b, err := json.Marshal(lockInfo{PID: 1, Host: "elsewhere", AcquiredAt: time.Now().Add(-2 * time.Hour)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(l.Path("alice"), b, 0o644))

	unlock, err := l.Lock(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, unlock())
}
