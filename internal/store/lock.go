package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"skyward/internal/util"
)

// FileLocker hands out advisory lock files, one per account, under Dir.
// Separate invocations of the tool (overlapping cron runs) are the hazard it
// guards against, so the lock lives on disk rather than in memory.
type FileLocker struct {
	Dir string
	// StaleAfter breaks locks older than this. Zero disables the check.
	StaleAfter time.Duration

	now func() time.Time
}

func NewFileLocker(dir string, staleAfter time.Duration) *FileLocker {
	return &FileLocker{Dir: dir, StaleAfter: staleAfter, now: time.Now}
}

type lockInfo struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Path returns the lock file used for account.
func (l *FileLocker) Path(account string) string {
	return filepath.Join(l.Dir, util.SafeFileName(account)+".lock")
}

func (l *FileLocker) Lock(ctx context.Context, account string) (Unlock, error) {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	path := l.Path(account)

	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			host, _ := os.Hostname()
			info := lockInfo{PID: os.Getpid(), Host: host, AcquiredAt: l.now().UTC()}
			werr := json.NewEncoder(f).Encode(info)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("writing lock file %s: %w", path, errors.Join(werr, cerr))
			}
			return func() error {
				if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return err
				}
				return nil
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating lock file %s: %w", path, err)
		}
		if !l.stale(path) {
			break
		}
		// stale lock from a crashed run
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("removing stale lock %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
}

func (l *FileLocker) stale(path string) bool {
	if l.StaleAfter <= 0 {
		return false
	}
	acquired := time.Time{}
	if b, err := os.ReadFile(path); err == nil {
		var info lockInfo
		if json.Unmarshal(b, &info) == nil {
			acquired = info.AcquiredAt
		}
	}
	if acquired.IsZero() {
		st, err := os.Stat(path)
		if err != nil {
			return false
		}
		acquired = st.ModTime()
	}
	return l.now().Sub(acquired) > l.StaleAfter
}
