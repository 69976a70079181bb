package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/boundaries/out"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
)

// fakeBlobStore records every successful upload and can be programmed to
// fail uploads whose path ends with a given suffix.
type fakeBlobStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	uploads    []string
	failSuffix string
	failErr    error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (f *fakeBlobStore) setFailSuffix(suffix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSuffix = suffix
	f.failErr = err
}

func (f *fakeBlobStore) Upload(ctx context.Context, path string, data io.Reader, contentType string) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSuffix != "" && strings.HasSuffix(path, f.failSuffix) {
		return f.failErr
	}
	f.objects[path] = content
	f.uploads = append(f.uploads, path)
	return nil
}

func (f *fakeBlobStore) PublicURL(path string) string {
	return "https://blobs.example/" + path
}

func (f *fakeBlobStore) SignedUploadURL(ctx context.Context, path string) (out.SignedUpload, error) {
	return out.SignedUpload{}, errors.New("not supported")
}

func (f *fakeBlobStore) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	return "", errors.New("not supported")
}

func (f *fakeBlobStore) Remove(ctx context.Context, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		delete(f.objects, p)
	}
	return nil
}

func (f *fakeBlobStore) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakeBlobStore) object(path string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[path]
}

func (f *fakeBlobStore) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var paths []string
	for p := range f.objects {
		paths = append(paths, p)
	}
	return paths
}

type fakeRegistry struct {
	byChecksum map[string]*domain.PackageMetadata
	err        error
}

func (f *fakeRegistry) FindByChecksum(ctx context.Context, checksum, userID string) (*domain.PackageMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byChecksum[checksum], nil
}

func (f *fakeRegistry) Insert(ctx context.Context, meta *domain.PackageMetadata) error { return nil }

func (f *fakeRegistry) Update(ctx context.Context, configID string, patch out.MetadataPatch) error {
	return nil
}

func (f *fakeRegistry) SoftDelete(ctx context.Context, configID string) error { return nil }

func (f *fakeRegistry) ListByUser(ctx context.Context, userID string, filters out.ListFilters) ([]domain.PackageMetadata, error) {
	return nil, nil
}

func testMeta() *domain.PackageMetadata {
	return &domain.PackageMetadata{
		ConfigID: "cfg-1",
		Version:  "1.0.0",
		UserID:   "user-1",
		Checksum: "abc123",
	}
}

func testManager(t *testing.T, blobs *fakeBlobStore, registry *fakeRegistry, cfg Config) *Manager {
	t.Helper()
	sessions, err := NewSessionStore("")
	require.NoError(t, err)
	return New(blobs, registry, sessions, cfg)
}

func content(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func collectProgress(mu *sync.Mutex, events *[]domain.Progress) domain.ProgressFunc {
	return func(p domain.Progress) {
		mu.Lock()
		*events = append(*events, p)
		mu.Unlock()
	}
}

func TestUpload_DirectPath(t *testing.T) {
	blobs := newFakeBlobStore()
	m := testManager(t, blobs, &fakeRegistry{}, Config{})

	data := content(2 << 20)
	var mu sync.Mutex
	var events []domain.Progress

	result, err := m.Upload(context.Background(), data, testMeta(), collectProgress(&mu, &events))
	require.NoError(t, err)
	assert.False(t, result.Deduplicated)
	assert.Equal(t, "https://blobs.example/user-1/cfg-1/1.0.0/package", result.StorageURL)

	// One physical write, byte-identical.
	assert.Equal(t, 1, blobs.uploadCount())
	assert.Equal(t, data, blobs.object("user-1/cfg-1/1.0.0/package"))

	require.NotEmpty(t, events)
	assert.Equal(t, float64(100), events[len(events)-1].Percentage)
}

func TestUpload_Deduplicates(t *testing.T) {
	blobs := newFakeBlobStore()
	registry := &fakeRegistry{byChecksum: map[string]*domain.PackageMetadata{
		"abc123": {ConfigID: "cfg-0", StorageURL: "https://blobs.example/existing"},
	}}
	m := testManager(t, blobs, registry, Config{})

	result, err := m.Upload(context.Background(), content(1024), testMeta(), nil)
	require.NoError(t, err)
	assert.True(t, result.Deduplicated)
	assert.Equal(t, "https://blobs.example/existing", result.StorageURL)
	assert.Equal(t, "cfg-0", result.Existing.ConfigID)
	assert.Zero(t, blobs.uploadCount(), "duplicate content must not transfer")
}

func TestUpload_DuplicateCheckError(t *testing.T) {
	m := testManager(t, newFakeBlobStore(), &fakeRegistry{err: errors.New("registry down")}, Config{})

	_, err := m.Upload(context.Background(), content(1024), testMeta(), nil)
	require.Error(t, err)
	assert.Equal(t, domain.CodeRegistryError, domain.AsPipelineError(err).Code)
}

func TestUpload_DirectFailure(t *testing.T) {
	blobs := newFakeBlobStore()
	blobs.setFailSuffix("package", errors.New("507 insufficient storage"))
	m := testManager(t, blobs, &fakeRegistry{}, Config{})

	_, err := m.Upload(context.Background(), content(1024), testMeta(), nil)
	require.Error(t, err)
	perr := domain.AsPipelineError(err)
	assert.Equal(t, domain.CodeUploadFailed, perr.Code)
	assert.ErrorContains(t, perr.Cause, "507")
}

func TestUpload_ChunkedReassembly(t *testing.T) {
	// Exact multiple and non-multiple of the chunk size.
	for _, size := range []int{15 << 20, 15<<20 + 1337} {
		blobs := newFakeBlobStore()
		m := testManager(t, blobs, &fakeRegistry{}, Config{ChunkedThreshold: 10 << 20, ChunkSize: 5 << 20})

		data := content(size)
		result, err := m.Upload(context.Background(), data, testMeta(), nil)
		require.NoError(t, err)
		assert.NotEmpty(t, result.StorageURL)

		// Final object is byte-identical to the input.
		assert.True(t, bytes.Equal(data, blobs.object("user-1/cfg-1/1.0.0/package")))

		// Temporary chunk objects were removed.
		for _, path := range blobs.paths() {
			assert.NotContains(t, path, ".chunks/")
		}
	}
}

func TestUpload_ChunkFailureAndResume(t *testing.T) {
	blobs := newFakeBlobStore()
	m := testManager(t, blobs, &fakeRegistry{}, Config{
		ChunkedThreshold: 10 << 20,
		ChunkSize:        5 << 20,
		ChunkConcurrency: 1,
	})

	// 17 MiB splits into four 5 MiB chunks (the last one short).
	data := content(17 << 20)

	// Fail chunk index 2 on the first pass. With a single worker, chunks run
	// in order, so 0 and 1 land and 3 is never attempted.
	blobs.setFailSuffix("00002", errors.New("connection reset"))

	_, err := m.Upload(context.Background(), data, testMeta(), nil)
	require.Error(t, err)
	perr := domain.AsPipelineError(err)
	assert.Equal(t, domain.CodeChunkFailed, perr.Code)
	sessionID, ok := perr.Context["session_id"].(string)
	require.True(t, ok, "chunk failures must carry the session id for resume")

	session := m.sessions.Get(sessionID)
	require.NotNil(t, session)
	assert.True(t, session.Uploaded[0])
	assert.True(t, session.Uploaded[1])
	assert.False(t, session.Uploaded[2])
	assert.False(t, session.Uploaded[3])

	uploadsBefore := blobs.uploadCount()
	blobs.setFailSuffix("", nil)

	result, err := m.ResumeUpload(context.Background(), sessionID, data, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.example/user-1/cfg-1/1.0.0/package", result.StorageURL)

	// Resume transferred chunks 2 and 3 plus the final object, nothing else.
	assert.Equal(t, uploadsBefore+3, blobs.uploadCount())
	assert.True(t, bytes.Equal(data, blobs.object("user-1/cfg-1/1.0.0/package")))

	// The session is discarded after completion.
	assert.Nil(t, m.sessions.Get(sessionID))
}

func TestResumeUpload_UnknownSession(t *testing.T) {
	m := testManager(t, newFakeBlobStore(), &fakeRegistry{}, Config{})

	_, err := m.ResumeUpload(context.Background(), "nope", content(1024), nil)
	require.Error(t, err)
	assert.Equal(t, domain.CodeUploadFailed, domain.AsPipelineError(err).Code)
}

func TestResumeUpload_SizeMismatch(t *testing.T) {
	m := testManager(t, newFakeBlobStore(), &fakeRegistry{}, Config{})
	session := m.sessions.Create("u/c/1.0.0/package", 5<<20, 15<<20, 3)

	_, err := m.ResumeUpload(context.Background(), session.ID, content(1024), nil)
	require.Error(t, err)
	assert.Equal(t, domain.CodeUploadFailed, domain.AsPipelineError(err).Code)
}

func TestUpload_ProgressMonotonic(t *testing.T) {
	blobs := newFakeBlobStore()
	m := testManager(t, blobs, &fakeRegistry{}, Config{ChunkedThreshold: 10 << 20, ChunkSize: 5 << 20})

	var mu sync.Mutex
	var events []domain.Progress
	_, err := m.Upload(context.Background(), content(17<<20), testMeta(), collectProgress(&mu, &events))
	require.NoError(t, err)

	prev := float64(-1)
	for _, p := range events {
		assert.GreaterOrEqual(t, p.Percentage, prev)
		prev = p.Percentage
	}
	assert.Equal(t, float64(100), prev)
}

func TestSessionStore_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	store, err := NewSessionStore(path)
	require.NoError(t, err)
	session := store.Create("u/c/1.0.0/package", 5<<20, 15<<20, 3)
	store.MarkUploaded(session.ID, 0)
	store.MarkUploaded(session.ID, 2)

	reloaded, err := NewSessionStore(path)
	require.NoError(t, err)
	got := reloaded.Get(session.ID)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.UploadedCount())
	assert.True(t, got.Uploaded[0])
	assert.True(t, got.Uploaded[2])

	reloaded.Delete(session.ID)
	again, err := NewSessionStore(path)
	require.NoError(t, err)
	assert.Nil(t, again.Get(session.ID))
}
