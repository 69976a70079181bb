package publish

import (
	"context"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/usecase/queue"
)

// Pipeline is the surface exposed to the command layer: foreground publishing
// plus the durable background queue.
type Pipeline struct {
	publisher *Service
	queue     *queue.Queue
}

// NewPipeline wires the orchestrator and the queue together.
func NewPipeline(publisher *Service, q *queue.Queue) *Pipeline {
	return &Pipeline{publisher: publisher, queue: q}
}

// Publish runs the pipeline in the foreground.
func (p *Pipeline) Publish(ctx context.Context, path string, opts domain.PublishOptions, onProgress domain.ProgressFunc) (*domain.PackageMetadata, error) {
	return p.publisher.Publish(ctx, path, opts, onProgress)
}

// Enqueue adds a publish job to the durable queue for background retry.
func (p *Pipeline) Enqueue(path string, opts domain.PublishOptions) (string, error) {
	return p.queue.Add(path, opts)
}

// Status returns all queued jobs, newest first.
func (p *Pipeline) Status() []domain.QueuedUpload {
	return p.queue.Status()
}

// JobStatus returns one queued job.
func (p *Pipeline) JobStatus(jobID string) (domain.QueuedUpload, error) {
	return p.queue.Get(jobID)
}

// Cancel removes a job that has not started uploading.
func (p *Pipeline) Cancel(jobID string) error {
	return p.queue.Cancel(jobID)
}

// RunQueueOnce drains one batch of eligible jobs through the publisher.
func (p *Pipeline) RunQueueOnce(ctx context.Context) (processed, failed int) {
	return p.queue.RunOnce(ctx, p.handleJob)
}

// StartBackgroundSync processes the queue on an interval until ctx is
// canceled. The returned channel closes once the final flush completes.
func (p *Pipeline) StartBackgroundSync(ctx context.Context) <-chan struct{} {
	return p.queue.StartBackgroundSync(ctx, p.handleJob)
}

// ClearFailed removes failed jobs older than the given number of days.
func (p *Pipeline) ClearFailed(olderThanDays int) int {
	return p.queue.ClearFailed(olderThanDays)
}

// ClearCompleted removes all completed jobs.
func (p *Pipeline) ClearCompleted() int {
	return p.queue.ClearCompleted()
}

// Close flushes queue state to disk.
func (p *Pipeline) Close() error {
	return p.queue.Close()
}

func (p *Pipeline) handleJob(ctx context.Context, job domain.QueuedUpload) error {
	_, err := p.publisher.Publish(ctx, job.FilePath, job.Options, nil)
	return err
}
