package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/logging"
)

// snapshotVersion is bumped when the on-disk queue format changes.
const snapshotVersion = 1

// persistLockOperation names the cross-process lock guarding snapshot writes.
const persistLockOperation = "queue_persist"

type snapshot struct {
	Version int                   `json:"version"`
	Queue   []domain.QueuedUpload `json:"queue"`
}

// load replaces the in-memory state with the on-disk snapshot. A missing file
// is an empty queue; a corrupt file is an error so we never silently drop
// queued work.
func (q *Queue) load() error {
	data, err := os.ReadFile(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return domain.WrapError(domain.CodeQueuePersistence, "cannot read queue file", err).
			WithContext("path", q.path)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.WrapError(domain.CodeQueuePersistence, "queue file is corrupt", err).
			WithContext("path", q.path)
	}
	if snap.Version != snapshotVersion {
		return domain.NewError(domain.CodeQueuePersistence,
			fmt.Sprintf("unsupported queue file version %d", snap.Version)).
			WithContext("path", q.path)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = make(map[string]*domain.QueuedUpload, len(snap.Queue))
	for i := range snap.Queue {
		job := snap.Queue[i]
		// An upload interrupted mid-flight is retried on the next run.
		if job.Status == domain.StatusUploading {
			job.Status = domain.StatusPending
		}
		q.jobs[job.ID] = &job
	}
	return nil
}

// markDirtyLocked flags unsaved changes and arms the debounce timer. Caller
// holds q.mu.
func (q *Queue) markDirtyLocked() {
	q.dirty = true
	if q.closed || q.flushTimer != nil {
		return
	}
	q.flushTimer = time.AfterFunc(q.cfg.FlushDebounce, func() {
		if err := q.Flush(); err != nil {
			logging.Error("Queue flush failed", "error", err)
		}
	})
}

// Flush writes the snapshot to disk immediately if there are unsaved changes.
func (q *Queue) Flush() error {
	q.mu.Lock()
	if q.flushTimer != nil {
		q.flushTimer.Stop()
		q.flushTimer = nil
	}
	if !q.dirty {
		q.mu.Unlock()
		return nil
	}
	snap := snapshot{Version: snapshotVersion, Queue: make([]domain.QueuedUpload, 0, len(q.jobs))}
	for _, job := range q.jobs {
		snap.Queue = append(snap.Queue, *job)
	}
	q.dirty = false
	q.mu.Unlock()

	sort.Slice(snap.Queue, func(i, j int) bool {
		return snap.Queue[i].CreatedAt.Before(snap.Queue[j].CreatedAt)
	})

	if err := q.writeSnapshot(snap); err != nil {
		q.mu.Lock()
		q.dirty = true
		q.mu.Unlock()
		return err
	}
	return nil
}

// writeSnapshot serializes the snapshot and replaces the queue file
// atomically, holding the cross-process lock when one is configured.
func (q *Queue) writeSnapshot(snap snapshot) error {
	write := func() error {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return domain.WrapError(domain.CodeQueuePersistence, "cannot encode queue", err)
		}
		if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
			return domain.WrapError(domain.CodeQueuePersistence, "cannot create queue directory", err)
		}
		tmp := q.path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return domain.WrapError(domain.CodeQueuePersistence, "cannot write queue file", err)
		}
		if err := os.Rename(tmp, q.path); err != nil {
			os.Remove(tmp)
			return domain.WrapError(domain.CodeQueuePersistence, "cannot replace queue file", err)
		}
		return nil
	}

	if q.locks == nil {
		return write()
	}
	ran, err := q.locks.WithLock(persistLockOperation, "queue", "", write)
	if err != nil {
		return err
	}
	if !ran {
		// Another process is writing. Re-arm the debounce and try again.
		q.mu.Lock()
		q.markDirtyLocked()
		q.mu.Unlock()
		logging.Debug("Queue snapshot deferred, lock held elsewhere")
	}
	return nil
}

// Close flushes pending changes and stops the debounce timer. The queue must
// not be used afterwards.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.Flush()
}
