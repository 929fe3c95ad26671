// Package jsonstore keeps one JSON document per account in a directory.
package jsonstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"skyward/internal/model"
	"skyward/internal/store"
	"skyward/internal/util"
)

const docVersion = 1

// Store is the default durable store. Documents are replaced atomically
// (temp file, fsync, rename), so a crash leaves either the old or the new
// document on disk.
type Store struct {
	dir    string
	locker *store.FileLocker

	mu   sync.Mutex
	docs map[string]*document
}

var _ store.Store = (*Store)(nil)

func New(dir string, staleLockAfter time.Duration) *Store {
	return &Store{
		dir:    dir,
		locker: store.NewFileLocker(dir, staleLockAfter),
		docs:   make(map[string]*document),
	}
}

type document struct {
	Version int                                       `json:"version"`
	Account string                                    `json:"account"`
	Records map[model.ActionKind]map[string]time.Time `json:"records"`
}

// onDisk also accepts the layout written by the earlier script-based tool.
type onDisk struct {
	document
	DMHistory map[string]string `json:"dm_history"`
	Targets   map[string]struct {
		Followed   []string `json:"followed"`
		LikedPosts []string `json:"liked_posts"`
	} `json:"targets"`
}

func newDocument(account string) *document {
	return &document{
		Version: docVersion,
		Account: account,
		Records: make(map[model.ActionKind]map[string]time.Time),
	}
}

// Path returns the state file for account.
func (s *Store) Path(account string) string {
	return filepath.Join(s.dir, util.SafeFileName(account)+".json")
}

func (s *Store) Load(ctx context.Context, account string) (*store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(account)
	if err != nil {
		return nil, err
	}
	s.docs[account] = doc

	snap := store.NewSnapshot(account)
	for kind, byDID := range doc.Records {
		for did, at := range byDID {
			snap.Put(did, kind, at)
		}
	}
	return snap, nil
}

func (s *Store) Record(ctx context.Context, account, did string, kind model.ActionKind, at time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown action kind %q", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[account]
	if !ok {
		var err error
		doc, err = s.read(account)
		if err != nil {
			return err
		}
		s.docs[account] = doc
	}

	byDID := doc.Records[kind]
	if byDID == nil {
		byDID = make(map[string]time.Time)
		doc.Records[kind] = byDID
	}
	prev, hadPrev := byDID[did]
	byDID[did] = at.UTC()

	if err := s.write(account, doc); err != nil {
		if hadPrev {
			byDID[did] = prev
		} else {
			delete(byDID, did)
		}
		return err
	}
	return nil
}

func (s *Store) Lock(ctx context.Context, account string) (store.Unlock, error) {
	return s.locker.Lock(ctx, account)
}

func (s *Store) Close() error { return nil }

func (s *Store) read(account string) (*document, error) {
	path := s.Path(account)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return newDocument(account), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state %s: %w", path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return newDocument(account), nil
	}

	var raw onDisk
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrStorageCorrupt, path, err)
	}
	if raw.Version > docVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", store.ErrStorageCorrupt, path, raw.Version)
	}

	doc := newDocument(account)
	for kind, byDID := range raw.Records {
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: %s: unknown action kind %q", store.ErrStorageCorrupt, path, kind)
		}
		m := make(map[string]time.Time, len(byDID))
		for did, at := range byDID {
			m[did] = at
		}
		doc.Records[kind] = m
	}
	if raw.Records == nil && (raw.Targets != nil || raw.DMHistory != nil) {
		var modTime time.Time
		if st, err := os.Stat(path); err == nil {
			modTime = st.ModTime().UTC()
		}
		importLegacy(doc, &raw, modTime)
	}
	return doc, nil
}

func importLegacy(doc *document, raw *onDisk, modTime time.Time) {
	put := func(kind model.ActionKind, did string, at time.Time) {
		if did == "" {
			return
		}
		if doc.Records[kind] == nil {
			doc.Records[kind] = make(map[string]time.Time)
		}
		if prev, ok := doc.Records[kind][did]; !ok || at.After(prev) {
			doc.Records[kind][did] = at
		}
	}
	for _, target := range raw.Targets {
		for _, did := range target.Followed {
			put(model.Followed, did, modTime)
		}
		for _, uri := range target.LikedPosts {
			put(model.Liked, authorityDID(uri), modTime)
		}
	}
	for did, ts := range raw.DMHistory {
		// unparseable history never blocked a resend before either
		if at, ok := parseLegacyTime(ts); ok {
			put(model.DMSent, did, at)
		}
	}
}

// authorityDID extracts the repo DID from an at:// URI.
func authorityDID(uri string) string {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return ""
	}
	authority, _, _ := strings.Cut(rest, "/")
	if !strings.HasPrefix(authority, "did:") {
		return ""
	}
	return authority
}

func parseLegacyTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func (s *Store) write(account string, doc *document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}
	return writeFileAtomic(s.Path(account), b)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("writing state %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("writing state %s: %w", path, err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("writing state %s: %w", path, err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("writing state %s: %w", path, err)
	}
	return nil
}
