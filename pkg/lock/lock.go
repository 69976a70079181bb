// Package lock implements a cross-process advisory lock keyed by
// (operation, resource id). Locks are files in a shared directory carrying
// the holder's PID and acquisition time; a lock older than the expiry window
// is considered abandoned and may be reclaimed by any caller.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultExpiry is the window after which a held lock is treated as abandoned.
const DefaultExpiry = 10 * time.Minute

// Record is the persisted body of one lock file.
type Record struct {
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Resource  string    `json:"resource"`
	UserID    string    `json:"user_id,omitempty"`
}

// FileLock manages lock files under a single directory.
type FileLock struct {
	dir    string
	expiry time.Duration
	pid    int
	now    func() time.Time
}

// Option configures a FileLock.
type Option func(*FileLock)

// WithExpiry overrides the abandonment window.
func WithExpiry(d time.Duration) Option {
	return func(l *FileLock) { l.expiry = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *FileLock) { l.now = now }
}

// WithPID overrides the holder identity, for tests simulating two processes.
func WithPID(pid int) Option {
	return func(l *FileLock) { l.pid = pid }
}

// New creates a FileLock using dir for lock files, creating it if needed.
func New(dir string, opts ...Option) (*FileLock, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	l := &FileLock{
		dir:    dir,
		expiry: DefaultExpiry,
		pid:    os.Getpid(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *FileLock) path(operation, resource string) string {
	name := fmt.Sprintf("%s_%s.lock", sanitizeComponent(operation), sanitizeComponent(resource))
	return filepath.Join(l.dir, name)
}

// sanitizeComponent keeps lock file names to a safe charset.
func sanitizeComponent(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}

// Acquire attempts to take the lock for (operation, resource). It succeeds if
// no record exists, the existing record belongs to this process, or the
// existing record is older than the expiry window. Fresh acquisition creates
// the lock file exclusively, so concurrent acquirers resolve to exactly one
// winner.
func (l *FileLock) Acquire(operation, resource, userID string) (bool, error) {
	path := l.path(operation, resource)
	rec := Record{
		PID:       l.pid,
		Timestamp: l.now(),
		Operation: operation,
		Resource:  resource,
		UserID:    userID,
	}

	created, err := l.create(path, rec)
	if err != nil {
		return false, err
	}
	if created {
		return true, nil
	}

	existing, err := l.read(path)
	if err != nil {
		return false, err
	}
	if existing != nil {
		sameHolder := existing.PID == l.pid
		expired := l.now().Sub(existing.Timestamp) > l.expiry
		if !sameHolder && !expired {
			return false, nil
		}
	}
	// Re-entry, stale takeover, or a corrupt record: replace in place.
	if err := l.write(path, rec); err != nil {
		return false, err
	}
	return true, nil
}

// create publishes rec as a brand-new lock file. The record is written to a
// private temp file and linked into place, so the lock file appears fully
// written or not at all, and concurrent creators resolve to one winner.
func (l *FileLock) create(path string, rec Record) (bool, error) {
	tmpPath, err := l.writeTemp(rec)
	if err != nil {
		return false, err
	}
	defer os.Remove(tmpPath)

	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create lock file: %w", err)
	}
	return true, nil
}

// Release removes the lock if this process owns it. A foreign-owned lock is
// left untouched; this is not an error.
func (l *FileLock) Release(operation, resource string) error {
	path := l.path(operation, resource)
	existing, err := l.read(path)
	if err != nil {
		return err
	}
	if existing == nil || existing.PID != l.pid {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// IsLocked reports whether a live (unexpired) lock exists.
func (l *FileLock) IsLocked(operation, resource string) (bool, error) {
	rec, err := l.read(l.path(operation, resource))
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	return l.now().Sub(rec.Timestamp) <= l.expiry, nil
}

// Info returns the current lock record, or nil when no lock file exists.
// Expired records are still returned so callers can inspect abandonment.
func (l *FileLock) Info(operation, resource string) (*Record, error) {
	return l.read(l.path(operation, resource))
}

// Wait polls until the lock is acquired or the timeout elapses.
func (l *FileLock) Wait(operation, resource, userID string, timeout time.Duration) (bool, error) {
	deadline := l.now().Add(timeout)
	for {
		ok, err := l.Acquire(operation, resource, userID)
		if err != nil || ok {
			return ok, err
		}
		if l.now().After(deadline) {
			return false, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// WithLock acquires the lock, invokes fn, and releases the lock even when fn
// fails. When acquisition fails it returns (false, nil) without invoking fn.
func (l *FileLock) WithLock(operation, resource, userID string, fn func() error) (ran bool, err error) {
	ok, err := l.Acquire(operation, resource, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() {
		if relErr := l.Release(operation, resource); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return true, fn()
}

// CleanupExpired removes lock files older than the expiry window. Returns the
// number removed.
func (l *FileLock) CleanupExpired() (int, error) {
	records, err := l.list()
	if err != nil {
		return 0, err
	}
	removed := 0
	for path, rec := range records {
		if l.now().Sub(rec.Timestamp) > l.expiry {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return removed, fmt.Errorf("failed to remove expired lock: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

// ListActive returns all unexpired lock records.
func (l *FileLock) ListActive() ([]Record, error) {
	records, err := l.list()
	if err != nil {
		return nil, err
	}
	var active []Record
	for _, rec := range records {
		if l.now().Sub(rec.Timestamp) <= l.expiry {
			active = append(active, rec)
		}
	}
	return active, nil
}

// ForceRelease removes a lock regardless of ownership.
func (l *FileLock) ForceRelease(operation, resource string) error {
	if err := os.Remove(l.path(operation, resource)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to force-release lock: %w", err)
	}
	return nil
}

func (l *FileLock) list() (map[string]Record, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock directory: %w", err)
	}
	records := make(map[string]Record)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		rec, err := l.read(path)
		if err != nil || rec == nil {
			// Unreadable lock files are skipped rather than failing the scan.
			continue
		}
		records[path] = *rec
	}
	return records, nil
}

func (l *FileLock) read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt lock file is treated as absent so it can be overwritten.
		return nil, nil
	}
	return &rec, nil
}

// write atomically replaces an existing lock file. The temp name is unique
// per writer so concurrent replacers cannot clobber each other mid-write.
func (l *FileLock) write(path string, rec Record) error {
	tmpPath, err := l.writeTemp(rec)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move lock file into place: %w", err)
	}
	return nil
}

// writeTemp writes rec to a uniquely named temp file in the lock directory
// and returns its path.
func (l *FileLock) writeTemp(rec Record) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock record: %w", err)
	}
	tmp, err := os.CreateTemp(l.dir, ".lock-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary lock file: %w", err)
	}
	tmpPath := tmp.Name()

	_, werr := tmp.Write(data)
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write lock file: %w", werr)
	}
	return tmpPath, nil
}
