package jsonstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyward/internal/model"
	"skyward/internal/store"
)

func TestLoadMissingIsEmpty(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	s := New(dir, 0)

	snap, err := s.Load(context.Background(), "alice.bsky.social")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len())

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "load must not create the directory")
}

func TestRecordThenLoad(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "state")
	at := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

	s := New(dir, 0)
	require.NoError(t, s.Record(ctx, "alice.bsky.social", "did:plc:1", model.Followed, at))
	require.NoError(t, s.Record(ctx, "alice.bsky.social", "did:plc:1", model.Liked, at))
	require.NoError(t, s.Record(ctx, "alice.bsky.social", "did:plc:2", model.DMSent, at))
	require.NoError(t, s.Record(ctx, "alice.bsky.social", "did:plc:2", model.DMSent, at.Add(time.Hour)))

	_, err := os.Stat(filepath.Join(dir, "alice.bsky.social.json"))
	require.NoError(t, err)

	fresh := New(dir, 0)
	snap, err := fresh.Load(ctx, "alice.bsky.social")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())
	assert.True(t, snap.Has("did:plc:1", model.Followed))
	assert.True(t, snap.Has("did:plc:1", model.Liked))
	last, ok := snap.DMTimestamp("did:plc:2")
	assert.True(t, ok)
	assert.True(t, last.Equal(at.Add(time.Hour)))

	other, err := fresh.Load(ctx, "bob.bsky.social")
	require.NoError(t, err)
	assert.Equal(t, 0, other.Len())
}

func TestRecordLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := New(dir, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, "me", "did:plc:x", model.DMSent, time.Now()))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "me.json", entries[0].Name())
}

func TestCorruptState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice.json"), []byte("{not json"), 0o644))

	s := New(dir, 0)
	_, err := s.Load(context.Background(), "alice")
	assert.ErrorIs(t, err, store.ErrStorageCorrupt)

	err = s.Record(context.Background(), "alice", "did:plc:1", model.Followed, time.Now())
	assert.ErrorIs(t, err, store.ErrStorageCorrupt)

	b, err := os.ReadFile(filepath.Join(dir, "alice.json"))
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(b), "corrupt state must not be overwritten")
}

func TestUnknownKindIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	doc := `{"version":1,"account":"a","records":{"reposted":{"did:plc:1":"2025-01-01T00:00:00Z"}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(doc), 0o644))

	_, err := New(dir, 0).Load(context.Background(), "a")
	assert.ErrorIs(t, err, store.ErrStorageCorrupt)
}

func TestLegacyDocumentImported(t *testing.T) {
	dir := t.TempDir()
	legacy := `{
  "known_followers": ["did:plc:f1"],
  "dm_history": {"did:plc:f1": "2024-05-01T10:00:00.123456+00:00", "did:plc:bad": "yesterday"},
  "targets": {
    "target.bsky.social": {
      "followed": ["did:plc:a", "did:plc:b"],
      "liked_posts": ["at://did:plc:a/app.bsky.feed.post/3kabc"]
    }
  }
}`
	path := filepath.Join(dir, "me.bsky.social.json")
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	snap, err := New(dir, 0).Load(context.Background(), "me.bsky.social")
	require.NoError(t, err)

	assert.True(t, snap.Has("did:plc:a", model.Followed))
	assert.True(t, snap.Has("did:plc:b", model.Followed))
	assert.True(t, snap.Has("did:plc:a", model.Liked))
	assert.False(t, snap.Has("did:plc:bad", model.DMSent))
	at, ok := snap.DMTimestamp("did:plc:f1")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC), at)
}

func TestAuthorityDID(t *testing.T) {
	assert.Equal(t, "did:plc:a", authorityDID("at://did:plc:a/app.bsky.feed.post/x"))
	assert.Equal(t, "", authorityDID("at://alice.bsky.social/app.bsky.feed.post/x"))
	assert.Equal(t, "", authorityDID("https://example.com"))
}
