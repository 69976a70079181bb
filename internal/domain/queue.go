package domain

import "time"

// UploadStatus is the lifecycle state of a queued upload.
type UploadStatus string

const (
	StatusPending   UploadStatus = "pending"
	StatusUploading UploadStatus = "uploading"
	StatusCompleted UploadStatus = "completed"
	StatusFailed    UploadStatus = "failed"
)

// QueuedUpload is a durable publish job. The queue is the sole mutator of job
// state; everything else only reads jobs handed to it by the queue.
type QueuedUpload struct {
	ID          string         `json:"id"`
	FilePath    string         `json:"file_path"`
	Options     PublishOptions `json:"options"`
	Attempts    int            `json:"attempts"`
	Status      UploadStatus   `json:"status"`
	LastAttempt time.Time      `json:"last_attempt,omitempty"`
	NextRetry   time.Time      `json:"next_retry,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Terminal reports whether the job has reached a final state.
func (q *QueuedUpload) Terminal() bool {
	return q.Status == StatusCompleted || q.Status == StatusFailed
}
