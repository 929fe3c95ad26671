// Package store persists the per-account ledger of actions already taken.
//
// A record's presence is the only evidence the engine uses to decide that an
// action was done; remote state is never consulted for deduplication.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"skyward/internal/model"
)

var (
	// ErrStorageCorrupt is returned when persisted state cannot be parsed.
	ErrStorageCorrupt = errors.New("storage corrupt")
	// ErrLocked is returned when another run holds the account's lock.
	ErrLocked = errors.New("account state is locked by another run")
)

// Unlock releases a lock obtained from Store.Lock.
type Unlock func() error

// Store is the durable action ledger. One account's records never affect
// another's.
type Store interface {
	// Load returns every record for account. Missing state yields an empty
	// snapshot.
	Load(ctx context.Context, account string) (*Snapshot, error)
	// Record durably persists one action. A crash mid-write must never leave
	// the account's state unparseable.
	Record(ctx context.Context, account, did string, kind model.ActionKind, at time.Time) error
	// Lock takes the advisory single-writer lock for account.
	Lock(ctx context.Context, account string) (Unlock, error)
	Close() error
}

type recordKey struct {
	did  string
	kind model.ActionKind
}

// Snapshot is an in-memory view of one account's records. It is not safe
// for concurrent use.
type Snapshot struct {
	Account string
	records map[recordKey]time.Time
}

func NewSnapshot(account string) *Snapshot {
	return &Snapshot{Account: account, records: make(map[recordKey]time.Time)}
}

// Has reports whether an action of kind was recorded for did.
func (s *Snapshot) Has(did string, kind model.ActionKind) bool {
	_, ok := s.records[recordKey{did, kind}]
	return ok
}

// At returns the timestamp of the record for (did, kind).
func (s *Snapshot) At(did string, kind model.ActionKind) (time.Time, bool) {
	at, ok := s.records[recordKey{did, kind}]
	return at, ok
}

// DMTimestamp returns when did was last sent a direct message.
func (s *Snapshot) DMTimestamp(did string) (time.Time, bool) {
	return s.At(did, model.DMSent)
}

// Put adds or overwrites the record for (did, kind).
func (s *Snapshot) Put(did string, kind model.ActionKind, at time.Time) {
	s.records[recordKey{did, kind}] = at
}

func (s *Snapshot) Len() int { return len(s.records) }

// Count returns the number of records of kind.
func (s *Snapshot) Count(kind model.ActionKind) int {
	n := 0
	for k := range s.records {
		if k.kind == kind {
			n++
		}
	}
	return n
}

// Records returns all records ordered by time, then kind, then DID.
func (s *Snapshot) Records() []model.ActionRecord {
	out := make([]model.ActionRecord, 0, len(s.records))
	for k, at := range s.records {
		out = append(out, model.ActionRecord{Account: s.Account, DID: k.did, Kind: k.kind, At: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].DID < out[j].DID
	})
	return out
}

// Clone returns an independent copy.
func (s *Snapshot) Clone() *Snapshot {
	c := NewSnapshot(s.Account)
	for k, v := range s.records {
		c.records[k] = v
	}
	return c
}
