// Package queue implements the durable local upload queue. Jobs survive
// process restarts via a debounced whole-file JSON snapshot; retries follow
// exponential backoff with jitter.
package queue

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/logging"
	"github.com/bulgogi-whopper/taptik-cli-sub005/pkg/lock"
)

// Config tunes queue behavior. Zero values fall back to the defaults below.
type Config struct {
	MaxSize          int
	MaxRetryAttempts int
	RetryBase        time.Duration
	RetryMaxDelay    time.Duration
	BatchSize        int
	FlushDebounce    time.Duration
	SyncInterval     time.Duration
}

const (
	defaultMaxSize          = 100
	defaultMaxRetryAttempts = 5
	defaultRetryBase        = 30 * time.Second
	defaultRetryMaxDelay    = time.Hour
	defaultBatchSize        = 10
	defaultFlushDebounce    = time.Second
	defaultSyncInterval     = time.Minute
)

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = defaultMaxSize
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = defaultMaxRetryAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushDebounce <= 0 {
		c.FlushDebounce = defaultFlushDebounce
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = defaultSyncInterval
	}
	return c
}

// Handler processes one queued upload. A nil return marks the job completed;
// an error reschedules it with backoff until attempts are exhausted.
type Handler func(ctx context.Context, job domain.QueuedUpload) error

// Queue is the durable local queue. It is the sole mutator of job state.
type Queue struct {
	mu   sync.Mutex
	jobs map[string]*domain.QueuedUpload

	cfg   Config
	path  string
	locks *lock.FileLock

	now    func() time.Time
	jitter func(max int64) int64

	dirty      bool
	flushTimer *time.Timer
	closed     bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithJitter overrides the backoff jitter source, for tests.
func WithJitter(jitter func(max int64) int64) Option {
	return func(q *Queue) { q.jitter = jitter }
}

// WithLock guards snapshot writes and job processing with the cross-process
// operation lock, so two processes sharing the queue file cannot interleave
// snapshot writes or run the same job.
func WithLock(locks *lock.FileLock) Option {
	return func(q *Queue) { q.locks = locks }
}

// New creates a queue persisting to path, loading any existing snapshot.
func New(path string, cfg Config, opts ...Option) (*Queue, error) {
	q := &Queue{
		jobs:   make(map[string]*domain.QueuedUpload),
		cfg:    cfg.withDefaults(),
		path:   path,
		now:    time.Now,
		jitter: rand.Int63n,
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// newJobID returns a globally unique, time-ordered job id.
func (q *Queue) newJobID() string {
	return fmt.Sprintf("%d-%s", q.now().UnixNano(), uuid.New().String()[:8])
}

// Add enqueues a publish job. Fails when the source file is missing or the
// queue already holds MaxSize non-completed items.
func (q *Queue) Add(path string, opts domain.PublishOptions) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", domain.WrapError(domain.CodeSourceFileMissing, "cannot queue missing file", err).
			WithContext("path", path)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	active := 0
	for _, job := range q.jobs {
		if job.Status != domain.StatusCompleted {
			active++
		}
	}
	if active >= q.cfg.MaxSize {
		return "", domain.NewError(domain.CodeQueueFull,
			fmt.Sprintf("queue holds %d pending items (max %d)", active, q.cfg.MaxSize))
	}

	now := q.now()
	job := &domain.QueuedUpload{
		ID:        q.newJobID(),
		FilePath:  path,
		Options:   opts,
		Status:    domain.StatusPending,
		NextRetry: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.jobs[job.ID] = job
	q.markDirtyLocked()

	logging.Info("Queued upload", "job", job.ID, "path", path)
	return job.ID, nil
}

// Remove deletes a job regardless of state.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[id]; !ok {
		return domain.NewError(domain.CodeQueueItemNotFound, "no queued upload "+id)
	}
	delete(q.jobs, id)
	q.markDirtyLocked()
	return nil
}

// Cancel removes a job that has not started uploading.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return domain.NewError(domain.CodeQueueItemNotFound, "no queued upload "+id)
	}
	if job.Status == domain.StatusUploading {
		return fmt.Errorf("%w: %s is uploading", domain.ErrJobNotCancellable, id)
	}
	delete(q.jobs, id)
	q.markDirtyLocked()
	return nil
}

// Get returns a copy of one job.
func (q *Queue) Get(id string) (domain.QueuedUpload, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return domain.QueuedUpload{}, domain.NewError(domain.CodeQueueItemNotFound, "no queued upload "+id)
	}
	return *job, nil
}

// Status returns all jobs, newest first.
func (q *Queue) Status() []domain.QueuedUpload {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]domain.QueuedUpload, 0, len(q.jobs))
	for _, job := range q.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// Pending returns up to BatchSize retryable jobs, oldest first. A job is
// eligible when it is pending, has attempts left, and its next retry time
// has passed.
func (q *Queue) Pending() []domain.QueuedUpload {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var jobs []domain.QueuedUpload
	for _, job := range q.jobs {
		if job.Status != domain.StatusPending {
			continue
		}
		if job.Attempts >= q.cfg.MaxRetryAttempts {
			continue
		}
		if job.NextRetry.After(now) {
			continue
		}
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	if len(jobs) > q.cfg.BatchSize {
		jobs = jobs[:q.cfg.BatchSize]
	}
	return jobs
}

// UpdateStatus transitions a job's lifecycle state.
func (q *Queue) UpdateStatus(id string, status domain.UploadStatus, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return domain.NewError(domain.CodeQueueItemNotFound, "no queued upload "+id)
	}
	job.Status = status
	job.LastError = lastError
	job.UpdatedAt = q.now()
	q.markDirtyLocked()
	return nil
}

// IncrementRetry bumps the attempt counter and either reschedules the job
// with exponential backoff or permanently fails it once attempts are
// exhausted.
func (q *Queue) IncrementRetry(id string, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return domain.NewError(domain.CodeQueueItemNotFound, "no queued upload "+id)
	}

	now := q.now()
	job.Attempts++
	job.LastAttempt = now
	job.LastError = lastError
	job.UpdatedAt = now

	if job.Attempts >= q.cfg.MaxRetryAttempts {
		job.Status = domain.StatusFailed
		logging.Warn("Upload permanently failed", "job", id, "attempts", job.Attempts, "error", lastError)
	} else {
		job.Status = domain.StatusPending
		job.NextRetry = now.Add(q.backoff(job.Attempts))
		logging.Info("Upload rescheduled", "job", id, "attempts", job.Attempts, "next_retry", job.NextRetry)
	}
	q.markDirtyLocked()
	return nil
}

// backoff returns min(base * 2^attempts, maxDelay) plus jitter of up to half
// the base delay.
func (q *Queue) backoff(attempts int) time.Duration {
	delay := q.cfg.RetryBase
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= q.cfg.RetryMaxDelay {
			delay = q.cfg.RetryMaxDelay
			break
		}
	}
	jitterMax := int64(q.cfg.RetryBase) / 2
	if jitterMax > 0 {
		delay += time.Duration(q.jitter(jitterMax))
	}
	return delay
}

// ClearFailed removes failed jobs older than the given number of days.
// Returns the number removed.
func (q *Queue) ClearFailed(olderThanDays int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().AddDate(0, 0, -olderThanDays)
	removed := 0
	for id, job := range q.jobs {
		if job.Status == domain.StatusFailed && job.UpdatedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		q.markDirtyLocked()
	}
	return removed
}

// ClearCompleted removes all completed jobs. Returns the number removed.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, job := range q.jobs {
		if job.Status == domain.StatusCompleted {
			delete(q.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		q.markDirtyLocked()
	}
	return removed
}
