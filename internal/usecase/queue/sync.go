package queue

import (
	"context"
	"time"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/logging"
)

// syncLockOperation scopes one queued job to a single runner across processes.
const syncLockOperation = "queue_upload"

// RunOnce drains one batch of eligible jobs through the handler. Each job is
// marked uploading first so a second runner in the same process skips it, and
// held under a cross-process lock so two sync loops sharing the queue file
// cannot race on the same job. A handler error reschedules the job with
// backoff.
func (q *Queue) RunOnce(ctx context.Context, handler Handler) (processed, failed int) {
	for _, job := range q.Pending() {
		if ctx.Err() != nil {
			return processed, failed
		}
		if err := q.UpdateStatus(job.ID, domain.StatusUploading, ""); err != nil {
			// Removed between Pending and now.
			continue
		}

		logging.Info("Processing queued upload", "job", job.ID, "attempt", job.Attempts+1)
		ran, err := q.runJob(ctx, handler, job)
		if !ran {
			logging.Info("Job held by another process, skipping", "job", job.ID)
			if rerr := q.UpdateStatus(job.ID, domain.StatusPending, ""); rerr != nil {
				logging.Error("Failed to requeue held job", "job", job.ID, "error", rerr)
			}
			continue
		}
		if err != nil {
			failed++
			if rerr := q.IncrementRetry(job.ID, err.Error()); rerr != nil {
				logging.Error("Failed to reschedule upload", "job", job.ID, "error", rerr)
			}
			continue
		}
		processed++
		if err := q.UpdateStatus(job.ID, domain.StatusCompleted, ""); err != nil {
			logging.Error("Failed to mark upload completed", "job", job.ID, "error", err)
		}
	}
	return processed, failed
}

// runJob invokes the handler, under the job lock when one is configured.
func (q *Queue) runJob(ctx context.Context, handler Handler, job domain.QueuedUpload) (bool, error) {
	if q.locks == nil {
		return true, handler(ctx, job)
	}
	var herr error
	ran, err := q.locks.WithLock(syncLockOperation, job.ID, "", func() error {
		herr = handler(ctx, job)
		return nil
	})
	if err != nil {
		return true, err
	}
	if !ran {
		return false, nil
	}
	return true, herr
}

// StartBackgroundSync processes eligible jobs on a fixed interval until the
// context is canceled. It returns a channel closed when the runner has fully
// stopped and the queue has been flushed.
func (q *Queue) StartBackgroundSync(ctx context.Context, handler Handler) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(q.cfg.SyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				if err := q.Flush(); err != nil {
					logging.Error("Final queue flush failed", "error", err)
				}
				return
			case <-ticker.C:
				processed, failed := q.RunOnce(ctx, handler)
				if processed > 0 || failed > 0 {
					logging.Info("Background sync pass finished", "processed", processed, "failed", failed)
				}
			}
		}
	}()
	return done
}
