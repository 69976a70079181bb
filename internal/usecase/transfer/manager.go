// Package transfer moves sanitized package bytes to the blob store, choosing
// between a single direct write and a resumable chunked transfer, with
// content-checksum duplicate avoidance in front of both paths.
package transfer

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/boundaries/out"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/logging"
)

const packageContentType = "application/gzip"

// Config tunes the transfer paths. Zero values fall back to the defaults.
type Config struct {
	// ChunkedThreshold is the size above which uploads are chunked.
	ChunkedThreshold int64
	// ChunkSize is the fixed chunk length for chunked uploads.
	ChunkSize int64
	// ChunkConcurrency bounds the chunk upload worker pool.
	ChunkConcurrency int
}

const (
	defaultChunkedThreshold = 10 << 20
	defaultChunkSize        = 5 << 20
	defaultChunkConcurrency = 4
)

func (c Config) withDefaults() Config {
	if c.ChunkedThreshold <= 0 {
		c.ChunkedThreshold = defaultChunkedThreshold
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.ChunkConcurrency <= 0 {
		c.ChunkConcurrency = defaultChunkConcurrency
	}
	return c
}

// Result is the outcome of a transfer.
type Result struct {
	StorageURL string
	// Deduplicated is set when an identical non-archived package already
	// existed for the user and no bytes were transferred.
	Deduplicated bool
	// Existing is the registry record that satisfied the duplicate check.
	Existing *domain.PackageMetadata
}

// Manager uploads package content to the blob store.
type Manager struct {
	blobs    out.BlobStore
	registry out.RegistryStore
	sessions *SessionStore
	cfg      Config
}

// New creates a transfer manager.
func New(blobs out.BlobStore, registry out.RegistryStore, sessions *SessionStore, cfg Config) *Manager {
	return &Manager{
		blobs:    blobs,
		registry: registry,
		sessions: sessions,
		cfg:      cfg.withDefaults(),
	}
}

// ObjectPath returns the deterministic storage path for a package version.
func ObjectPath(meta *domain.PackageMetadata) string {
	return fmt.Sprintf("%s/%s/%s/package", meta.UserID, meta.ConfigID, meta.Version)
}

// CheckDuplicate returns the existing non-archived package with the same
// content checksum owned by the user, or nil.
func (m *Manager) CheckDuplicate(ctx context.Context, checksum, userID string) (*domain.PackageMetadata, error) {
	existing, err := m.registry.FindByChecksum(ctx, checksum, userID)
	if err != nil {
		return nil, domain.WrapError(domain.CodeRegistryError, "duplicate check failed", err).
			WithContext("checksum", checksum)
	}
	return existing, nil
}

// Upload transfers data to the blob store and returns the storage URL.
// Identical content already registered for the user short-circuits without a
// transfer. Content larger than the chunked threshold goes through the
// resumable chunked path; on a chunk failure the error context carries
// "session_id" for ResumeUpload.
func (m *Manager) Upload(ctx context.Context, data []byte, meta *domain.PackageMetadata, onProgress domain.ProgressFunc) (Result, error) {
	existing, err := m.CheckDuplicate(ctx, meta.Checksum, meta.UserID)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		logging.Info("Identical content already uploaded, skipping transfer",
			"checksum", meta.Checksum, "url", existing.StorageURL)
		onProgress.Report(domain.Progress{
			Stage:         domain.StageUploading,
			Percentage:    100,
			BytesUploaded: int64(len(data)),
			TotalBytes:    int64(len(data)),
			Message:       "identical content already uploaded",
		})
		return Result{StorageURL: existing.StorageURL, Deduplicated: true, Existing: existing}, nil
	}

	path := ObjectPath(meta)
	if int64(len(data)) > m.cfg.ChunkedThreshold {
		return m.uploadChunked(ctx, data, path, onProgress)
	}
	return m.uploadDirect(ctx, data, path, onProgress)
}

// uploadDirect performs a single atomic write.
func (m *Manager) uploadDirect(ctx context.Context, data []byte, path string, onProgress domain.ProgressFunc) (Result, error) {
	total := int64(len(data))
	onProgress.Report(domain.Progress{Stage: domain.StageUploading, TotalBytes: total, Message: "uploading"})

	if err := m.blobs.Upload(ctx, path, bytes.NewReader(data), packageContentType); err != nil {
		return Result{}, domain.WrapError(domain.CodeUploadFailed, "direct upload failed", err).
			WithContext("path", path)
	}

	onProgress.Report(domain.Progress{
		Stage:         domain.StageUploading,
		Percentage:    100,
		BytesUploaded: total,
		TotalBytes:    total,
	})
	return Result{StorageURL: m.blobs.PublicURL(path)}, nil
}

// uploadChunked creates a session and runs a chunk pass over all chunks.
func (m *Manager) uploadChunked(ctx context.Context, data []byte, path string, onProgress domain.ProgressFunc) (Result, error) {
	total := int64(len(data))
	chunkCount := int((total + m.cfg.ChunkSize - 1) / m.cfg.ChunkSize)
	session := m.sessions.Create(path, m.cfg.ChunkSize, total, chunkCount)

	logging.Info("Starting chunked upload",
		"session", session.ID, "chunks", chunkCount, "chunk_size", m.cfg.ChunkSize, "total", total)
	return m.runChunkPass(ctx, session, data, onProgress)
}

// ResumeUpload continues an interrupted chunked upload, transferring only the
// chunks not yet confirmed. The data must be the same bytes handed to the
// original Upload call.
func (m *Manager) ResumeUpload(ctx context.Context, sessionID string, data []byte, onProgress domain.ProgressFunc) (Result, error) {
	session := m.sessions.Get(sessionID)
	if session == nil {
		return Result{}, domain.NewError(domain.CodeUploadFailed, "unknown upload session").
			WithContext("session_id", sessionID)
	}
	if int64(len(data)) != session.TotalBytes {
		return Result{}, domain.NewError(domain.CodeUploadFailed, "content does not match upload session").
			WithContext("session_id", sessionID)
	}

	logging.Info("Resuming chunked upload",
		"session", session.ID, "uploaded", session.UploadedCount(), "chunks", session.ChunkCount)
	return m.runChunkPass(ctx, session, data, onProgress)
}

// runChunkPass uploads every missing chunk with a bounded worker pool, then
// writes the combined object and removes the chunk objects best-effort.
func (m *Manager) runChunkPass(ctx context.Context, session *Session, data []byte, onProgress domain.ProgressFunc) (Result, error) {
	total := session.TotalBytes
	reporter := newMonotonicReporter(onProgress, session.ChunkSize, total)
	reporter.report(session.UploadedCount())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.ChunkConcurrency)
	for i := 0; i < session.ChunkCount; i++ {
		if session.Uploaded[i] {
			continue
		}
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			start := int64(i) * session.ChunkSize
			end := start + session.ChunkSize
			if end > total {
				end = total
			}
			if err := m.blobs.Upload(gctx, chunkPath(session, i), bytes.NewReader(data[start:end]), packageContentType); err != nil {
				return domain.WrapError(domain.CodeChunkFailed, fmt.Sprintf("chunk %d failed", i), err).
					WithContext("chunk", i)
			}
			reporter.report(m.sessions.MarkUploaded(session.ID, i))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, domain.AsPipelineError(err).WithContext("session_id", session.ID)
	}

	// All chunks confirmed; write the final combined object.
	if err := m.blobs.Upload(ctx, session.ObjectPath, bytes.NewReader(data), packageContentType); err != nil {
		return Result{}, domain.WrapError(domain.CodeUploadFailed, "final object write failed", err).
			WithContext("session_id", session.ID).
			WithContext("path", session.ObjectPath)
	}

	m.cleanupChunks(ctx, session)
	m.sessions.Delete(session.ID)

	onProgress.Report(domain.Progress{
		Stage:         domain.StageUploading,
		Percentage:    100,
		BytesUploaded: total,
		TotalBytes:    total,
	})
	return Result{StorageURL: m.blobs.PublicURL(session.ObjectPath)}, nil
}

// cleanupChunks removes temporary chunk objects. Failures are logged, never
// escalated, so they cannot mask the transfer outcome.
func (m *Manager) cleanupChunks(ctx context.Context, session *Session) {
	paths := make([]string, 0, session.ChunkCount)
	for i := 0; i < session.ChunkCount; i++ {
		paths = append(paths, chunkPath(session, i))
	}
	if err := m.blobs.Remove(ctx, paths); err != nil {
		logging.Warn("Chunk cleanup failed", "session", session.ID, "error", err)
	}
}

// chunkPath returns the temporary blob path for one chunk.
func chunkPath(session *Session, index int) string {
	return fmt.Sprintf("%s.chunks/%s/%05d", session.ObjectPath, session.ID, index)
}

// monotonicReporter serializes progress events and clamps the percentage so
// it never decreases, even with chunks completing out of order.
type monotonicReporter struct {
	mu        sync.Mutex
	fn        domain.ProgressFunc
	chunkSize int64
	total     int64
	lastPct   float64
}

func newMonotonicReporter(fn domain.ProgressFunc, chunkSize, total int64) *monotonicReporter {
	return &monotonicReporter{fn: fn, chunkSize: chunkSize, total: total}
}

func (r *monotonicReporter) report(uploadedChunks int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	uploaded := int64(uploadedChunks) * r.chunkSize
	if uploaded > r.total {
		uploaded = r.total
	}
	pct := float64(uploaded) / float64(r.total) * 100
	if pct < r.lastPct {
		pct = r.lastPct
	}
	r.lastPct = pct

	r.fn.Report(domain.Progress{
		Stage:         domain.StageUploading,
		Percentage:    pct,
		BytesUploaded: uploaded,
		TotalBytes:    r.total,
		Message:       fmt.Sprintf("uploaded %d chunks", uploadedChunks),
	})
}
