// Package sqlitestore keeps action records for every account in one SQLite
// database.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"skyward/internal/model"
	"skyward/internal/store"
)

// DB is a Store backed by a SQLite file. Each Record is a single upsert,
// which SQLite commits atomically.
type DB struct {
	sql    *sql.DB
	path   string
	locker *store.FileLocker
}

var _ store.Store = (*DB)(nil)

// Open opens or creates the database at path. Lock files are kept next to it.
func Open(path string, staleLockAfter time.Duration) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer keeps the upserts serialized without busy retries
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=FULL;`); err != nil {
		_ = d.Close()
		return nil, wrap(path, err)
	}
	db := &DB{sql: d, path: path, locker: store.NewFileLocker(dir, staleLockAfter)}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, wrap(path, err)
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS action_records (
	  account TEXT NOT NULL,
	  did TEXT NOT NULL,
	  kind TEXT NOT NULL,
	  at INTEGER NOT NULL,
	  PRIMARY KEY (account, did, kind)
	);
	CREATE INDEX IF NOT EXISTS idx_records_account_at ON action_records(account, at);
	`)
	return err
}

func (d *DB) Load(ctx context.Context, account string) (*store.Snapshot, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT did, kind, at FROM action_records WHERE account=?`, account)
	if err != nil {
		return nil, wrap(d.path, err)
	}
	defer rows.Close()

	snap := store.NewSnapshot(account)
	for rows.Next() {
		var did, kind string
		var ms int64
		if err := rows.Scan(&did, &kind, &ms); err != nil {
			return nil, wrap(d.path, err)
		}
		k := model.ActionKind(kind)
		if !k.Valid() {
			return nil, fmt.Errorf("%w: %s: unknown action kind %q", store.ErrStorageCorrupt, d.path, kind)
		}
		snap.Put(did, k, time.UnixMilli(ms).UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(d.path, err)
	}
	return snap, nil
}

func (d *DB) Record(ctx context.Context, account, did string, kind model.ActionKind, at time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown action kind %q", kind)
	}
	_, err := d.sql.ExecContext(ctx, `
	INSERT INTO action_records(account, did, kind, at) VALUES(?,?,?,?)
	ON CONFLICT(account, did, kind) DO UPDATE SET at=excluded.at`,
		account, did, string(kind), at.UTC().UnixMilli())
	if err != nil {
		return wrap(d.path, err)
	}
	return nil
}

func (d *DB) Lock(ctx context.Context, account string) (store.Unlock, error) {
	return d.locker.Lock(ctx, account)
}

// wrap maps SQLite corruption codes onto store.ErrStorageCorrupt.
func wrap(path string, err error) error {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			return fmt.Errorf("%w: %s: %v", store.ErrStorageCorrupt, path, err)
		}
	}
	return fmt.Errorf("sqlite %s: %w", path, err)
}
