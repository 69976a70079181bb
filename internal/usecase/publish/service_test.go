package publish

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"io"
	mrand "math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/boundaries/out"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/usecase/quota"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/usecase/safety"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/usecase/transfer"
)

type fakeSessions struct {
	session *domain.Session
	err     error
}

func (f *fakeSessions) Session(ctx context.Context) (*domain.Session, error) {
	return f.session, f.err
}

type fakeSubs struct {
	tier domain.Tier
}

func (f *fakeSubs) Tier(ctx context.Context, userID string) (domain.Tier, error) {
	return f.tier, nil
}

type fakeLedger struct {
	usage    out.DayUsage
	recorded []int64
}

func (f *fakeLedger) Usage(ctx context.Context, userID string, at time.Time) (out.DayUsage, error) {
	return f.usage, nil
}

func (f *fakeLedger) RecordUpload(ctx context.Context, userID string, size int64, at time.Time) error {
	f.recorded = append(f.recorded, size)
	return nil
}

type fakeRegistry struct {
	byChecksum map[string]*domain.PackageMetadata
	existing   []domain.PackageMetadata
	inserted   []*domain.PackageMetadata
	insertErr  error
}

func (f *fakeRegistry) FindByChecksum(ctx context.Context, checksum, userID string) (*domain.PackageMetadata, error) {
	return f.byChecksum[checksum], nil
}

func (f *fakeRegistry) Insert(ctx context.Context, meta *domain.PackageMetadata) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, meta)
	return nil
}

func (f *fakeRegistry) Update(ctx context.Context, configID string, patch out.MetadataPatch) error {
	return nil
}

func (f *fakeRegistry) SoftDelete(ctx context.Context, configID string) error { return nil }

func (f *fakeRegistry) ListByUser(ctx context.Context, userID string, filters out.ListFilters) ([]domain.PackageMetadata, error) {
	return f.existing, nil
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (f *fakeBlobStore) Upload(ctx context.Context, path string, data io.Reader, contentType string) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = content
	f.uploads++
	return nil
}

func (f *fakeBlobStore) PublicURL(path string) string { return "https://blobs.example/" + path }

func (f *fakeBlobStore) SignedUploadURL(ctx context.Context, path string) (out.SignedUpload, error) {
	return out.SignedUpload{}, errors.New("not supported")
}

func (f *fakeBlobStore) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	return "", errors.New("not supported")
}

func (f *fakeBlobStore) Remove(ctx context.Context, paths []string) error { return nil }

type fixture struct {
	service  *Service
	sessions *fakeSessions
	ledger   *fakeLedger
	registry *fakeRegistry
	blobs    *fakeBlobStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sessions := &fakeSessions{session: &domain.Session{UserID: "user-1", Email: "u@example.com"}}
	subs := &fakeSubs{tier: domain.TierFree}
	ledger := &fakeLedger{}
	registry := &fakeRegistry{byChecksum: make(map[string]*domain.PackageMetadata)}
	blobs := newFakeBlobStore()

	sessionStore, err := transfer.NewSessionStore("")
	require.NoError(t, err)

	service := New(
		sessions,
		subs,
		registry,
		safety.New(),
		quota.New(ledger, subs, quota.WithSleeper(func(ctx context.Context, d time.Duration) {})),
		transfer.New(blobs, registry, sessionStore, transfer.Config{}),
		nil,
	)
	return &fixture{service: service, sessions: sessions, ledger: ledger, registry: registry, blobs: blobs}
}

// packageFile writes a gzip-envelope package and returns its path.
func packageFile(t *testing.T, payload string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "my-settings.taptik")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func defaultOptions() domain.PublishOptions {
	return domain.PublishOptions{
		Version:    "1.0.0",
		Platform:   domain.PlatformClaudeCode,
		Visibility: domain.VisibilityPublic,
	}
}

const cleanPayload = `{"metadata":{"name":"my-settings"},"payload":{"settings":{"theme":"dark"}}}`

const secretPayload = `{"metadata":{"name":"my-settings"},"payload":{"api_key":"sk-abcdefghij0123456789XYZA"}}`

func TestPublish_Success(t *testing.T) {
	f := newFixture(t)
	path := packageFile(t, cleanPayload)

	var mu sync.Mutex
	var events []domain.Progress
	meta, err := f.service.Publish(context.Background(), path, defaultOptions(), func(p domain.Progress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, "my-settings", meta.Name)
	assert.Equal(t, "1.0.0", meta.Version)
	assert.NotEmpty(t, meta.Checksum)
	assert.NotEmpty(t, meta.StorageURL)
	assert.Equal(t, domain.LevelSafe, meta.SanitizeLevel)

	require.Len(t, f.registry.inserted, 1)
	assert.Equal(t, meta, f.registry.inserted[0])
	assert.Equal(t, 1, f.blobs.uploads)
	require.Len(t, f.ledger.recorded, 1)

	// Stages run in order and the percentage never decreases, ending at 100.
	require.NotEmpty(t, events)
	prev := float64(-1)
	for _, p := range events {
		assert.GreaterOrEqual(t, p.Percentage, prev)
		prev = p.Percentage
	}
	last := events[len(events)-1]
	assert.Equal(t, domain.StageComplete, last.Stage)
	assert.Equal(t, float64(100), last.Percentage)
}

func TestPublish_NoSession(t *testing.T) {
	f := newFixture(t)
	f.sessions.session = nil
	path := packageFile(t, cleanPayload)

	_, err := f.service.Publish(context.Background(), path, defaultOptions(), nil)
	require.Error(t, err)
	perr := domain.AsPipelineError(err)
	assert.Equal(t, domain.CodeAuthRequired, perr.Code)
	assert.Equal(t, domain.KindAuth, perr.Kind)
	assert.Zero(t, f.blobs.uploads)
}

func TestPublish_InvalidStructure(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "my-settings.taptik")
	require.NoError(t, os.WriteFile(path, []byte("not an archive"), 0o644))

	_, err := f.service.Publish(context.Background(), path, defaultOptions(), nil)
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidPackage, domain.AsPipelineError(err).Code)
	assert.Zero(t, f.blobs.uploads)
}

func TestPublish_QuotaExhaustedBeforeTransfer(t *testing.T) {
	f := newFixture(t)
	f.ledger.usage = out.DayUsage{Uploads: 100}
	path := packageFile(t, cleanPayload)

	_, err := f.service.Publish(context.Background(), path, defaultOptions(), nil)
	require.Error(t, err)
	perr := domain.AsPipelineError(err)
	assert.Equal(t, domain.CodeRateLimitExceeded, perr.Code)
	assert.Equal(t, domain.KindQuota, perr.Kind)
	assert.Zero(t, f.blobs.uploads, "quota failures must occur before any transfer")
}

func TestPublish_BlockedContent(t *testing.T) {
	f := newFixture(t)
	path := packageFile(t, secretPayload)

	_, err := f.service.Publish(context.Background(), path, defaultOptions(), nil)
	require.Error(t, err)
	perr := domain.AsPipelineError(err)
	assert.Equal(t, domain.CodeSensitiveDataDetected, perr.Code)
	assert.Equal(t, domain.KindSecurity, perr.Kind)
	assert.Zero(t, f.blobs.uploads, "blocked content must not transfer")
}

func TestPublish_BlockedContentForced(t *testing.T) {
	f := newFixture(t)
	path := packageFile(t, secretPayload)

	opts := defaultOptions()
	opts.Force = true
	meta, err := f.service.Publish(context.Background(), path, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.LevelBlocked, meta.SanitizeLevel)
	assert.Equal(t, 1, f.blobs.uploads)

	// The uploaded object carries the redacted content, not the secret.
	var uploaded []byte
	for _, obj := range f.blobs.objects {
		uploaded = obj
	}
	zr, err := gzip.NewReader(bytes.NewReader(uploaded))
	require.NoError(t, err)
	inner, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.NotContains(t, string(inner), "sk-abcdefghij")
	assert.Contains(t, string(inner), "[REDACTED_API_KEY]")
}

func TestPublish_DeduplicatesIdenticalContent(t *testing.T) {
	f := newFixture(t)
	path := packageFile(t, cleanPayload)

	first, err := f.service.Publish(context.Background(), path, defaultOptions(), nil)
	require.NoError(t, err)

	// Register the first record so the duplicate check can find it.
	f.registry.byChecksum[first.Checksum] = first

	second, err := f.service.Publish(context.Background(), path, defaultOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, first.StorageURL, second.StorageURL)
	assert.Equal(t, 1, f.blobs.uploads, "identical content must transfer exactly once")
	assert.Len(t, f.registry.inserted, 1, "duplicate publishes must not insert twice")
}

func TestPublish_PackageTooLarge(t *testing.T) {
	f := newFixture(t)

	// A valid envelope whose payload is incompressible, so the file stays
	// above the free-tier ceiling after gzip.
	random := make([]byte, 55<<20)
	_, err := mrand.New(mrand.NewSource(1)).Read(random)
	require.NoError(t, err)
	payload := `{"metadata":{"name":"huge"},"payload":{"blob":"` +
		base64.StdEncoding.EncodeToString(random) + `"}}`
	path := packageFile(t, payload)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(50<<20))

	_, err = f.service.Publish(context.Background(), path, defaultOptions(), nil)
	require.Error(t, err)
	assert.Equal(t, domain.CodePackageTooLarge, domain.AsPipelineError(err).Code)
}

func TestPublish_ReusesConfigIDForSameName(t *testing.T) {
	f := newFixture(t)
	f.registry.existing = []domain.PackageMetadata{
		{ConfigID: "cfg-existing", Name: "my-settings", Version: "0.9.0"},
	}
	path := packageFile(t, cleanPayload)

	meta, err := f.service.Publish(context.Background(), path, defaultOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, "cfg-existing", meta.ConfigID)
}

func TestPublish_RegistryInsertFailure(t *testing.T) {
	f := newFixture(t)
	f.registry.insertErr = errors.New("db down")
	path := packageFile(t, cleanPayload)

	_, err := f.service.Publish(context.Background(), path, defaultOptions(), nil)
	require.Error(t, err)
	perr := domain.AsPipelineError(err)
	assert.Equal(t, domain.CodeRegistryError, perr.Code)
	assert.True(t, perr.Retryable)
}
