// Package publish orchestrates the full publishing pipeline: authenticate,
// validate, enforce quota, sanitize, transfer, and register, reporting
// staged progress along the way.
package publish

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/boundaries/out"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/logging"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/usecase/quota"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/usecase/safety"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/usecase/transfer"
	"github.com/bulgogi-whopper/taptik-cli-sub005/pkg/bytesize"
	"github.com/bulgogi-whopper/taptik-cli-sub005/pkg/lock"
)

// Per-tier package size ceilings.
var sizeCeilingForTier = map[domain.Tier]int64{
	domain.TierFree: 50 << 20,
	domain.TierPro:  500 << 20,
}

// Stage anchor percentages within one publish call. The transfer's own
// 0-100 progress is rescaled into the uploading band.
const (
	pctValidating     = 10
	pctSanitizing     = 25
	pctUploadingStart = 30
	pctUploadingEnd   = 80
	pctRegistering    = 90
	pctComplete       = 100
)

// publishLockOperation names the cross-process lock held during a transfer.
const publishLockOperation = "publish"

// Service is the upload orchestrator.
type Service struct {
	sessions out.SessionProvider
	subs     out.SubscriptionLookup
	registry out.RegistryStore
	safety   *safety.Engine
	quota    *quota.Enforcer
	transfer *transfer.Manager
	locks    *lock.FileLock
}

// New creates a publish orchestrator.
func New(
	sessions out.SessionProvider,
	subs out.SubscriptionLookup,
	registry out.RegistryStore,
	safetyEngine *safety.Engine,
	quotaEnforcer *quota.Enforcer,
	transferManager *transfer.Manager,
	locks *lock.FileLock,
) *Service {
	return &Service{
		sessions: sessions,
		subs:     subs,
		registry: registry,
		safety:   safetyEngine,
		quota:    quotaEnforcer,
		transfer: transferManager,
		locks:    locks,
	}
}

// Publish runs the full pipeline for the package file at path and returns the
// registered metadata. Every error leaving this method is a *PipelineError.
func (s *Service) Publish(ctx context.Context, path string, opts domain.PublishOptions, onProgress domain.ProgressFunc) (*domain.PackageMetadata, error) {
	meta, err := s.publish(ctx, path, opts, newProgressSink(onProgress))
	if err != nil {
		return nil, domain.AsPipelineError(err)
	}
	return meta, nil
}

func (s *Service) publish(ctx context.Context, path string, opts domain.PublishOptions, progress *progressSink) (*domain.PackageMetadata, error) {
	session, err := s.sessions.Session(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.CodeAuthRequired, "session lookup failed", err)
	}
	if session == nil {
		return nil, domain.NewError(domain.CodeAuthRequired, "no active session")
	}

	// Validation.
	progress.report(domain.StageValidating, 0, "validating package")
	if err := s.safety.ValidateFilePath(path); err != nil {
		return nil, err
	}
	name := packageName(path)
	if err := s.safety.ValidateInput(name, opts); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.CodeSourceFileMissing, "cannot read package file", err).
			WithContext("path", path)
	}
	if err := s.safety.ValidateStructure(data); err != nil {
		return nil, err
	}
	if err := s.safety.DetectMaliciousContent(data); err != nil {
		return nil, err
	}

	size := int64(len(data))
	tier := s.tier(ctx, session.UserID)
	if ceiling := sizeCeilingForTier[tier]; size > ceiling {
		return nil, domain.NewError(domain.CodePackageTooLarge,
			fmt.Sprintf("package is %s, the %s tier allows %s",
				bytesize.Format(size), tier, bytesize.Format(ceiling))).
			WithContext("size", size).
			WithContext("ceiling", ceiling)
	}
	progress.report(domain.StageValidating, pctValidating, "package validated")

	// Quota admission. Read failures inside the enforcer resolve to allow.
	decision := s.quota.CheckQuota(ctx, session.UserID, size)
	if !decision.Allowed {
		code := domain.CodeRateLimitExceeded
		if decision.Uploads.Allowed {
			code = domain.CodeBandwidthLimitExceeded
		}
		return nil, domain.NewError(code, decision.Message).
			WithContext("suggestion", decision.Suggestion)
	}
	for _, warning := range s.quota.ApproachingLimitWarnings(ctx, session.UserID) {
		logging.Warn(warning, "user", session.UserID)
	}

	// Sanitization. Strict mode: high-severity findings block the publish
	// unless the caller forces it through.
	progress.report(domain.StageSanitizing, pctValidating, "scanning for sensitive data")
	uploadBytes, sanitized, err := s.sanitizeContent(data)
	if err != nil {
		return nil, err
	}
	if sanitized.Level == domain.LevelBlocked && !opts.Force {
		return nil, domain.NewError(domain.CodeSensitiveDataDetected,
			fmt.Sprintf("%d high-severity findings", sanitized.Report.HighCount)).
			WithContext("high", sanitized.Report.HighCount).
			WithContext("total", sanitized.Report.TotalIssues)
	}
	if sanitized.Level == domain.LevelBlocked {
		logging.Warn("Publishing blocked content under --force",
			"user", session.UserID, "high", sanitized.Report.HighCount)
	}
	progress.report(domain.StageSanitizing, pctSanitizing, "sanitization complete")

	meta := s.buildMetadata(ctx, name, session, opts, sanitized, size)

	// Near-ceiling users are slowed before the heavy work starts.
	s.quota.GracefulDegradation(ctx, session.UserID, size)

	// Transfer, exclusive per configId across processes.
	progress.report(domain.StageUploading, pctUploadingStart, "uploading package")
	result, err := s.upload(ctx, uploadBytes, meta, progress)
	if err != nil {
		return nil, err
	}
	meta.StorageURL = result.StorageURL
	meta.PackageSize = int64(len(uploadBytes))

	// Registration.
	progress.report(domain.StageRegistering, pctRegistering, "registering package")
	if result.Deduplicated {
		// The registry record already exists; nothing to insert.
		meta = result.Existing
	} else if err := s.registry.Insert(ctx, meta); err != nil {
		return nil, domain.WrapError(domain.CodeRegistryError, "failed to register package", err).
			WithContext("config_id", meta.ConfigID)
	}

	s.quota.RecordUpload(ctx, session.UserID, size)

	progress.report(domain.StageComplete, pctComplete, "published "+meta.Name+"@"+meta.Version)
	logging.Info("Package published",
		"name", meta.Name, "version", meta.Version, "url", meta.StorageURL, "dedup", result.Deduplicated)
	return meta, nil
}

// maxDecompressedSize caps gzip expansion while sanitizing, guarding against
// decompression bombs.
const maxDecompressedSize = 512 << 20

// sanitizeContent runs the safety engine over the package content. Gzip
// envelopes are unpacked so the scanner sees the inner document, then
// repacked from the sanitized output; anything else is scanned as-is. The
// returned bytes are what gets uploaded.
func (s *Service) sanitizeContent(data []byte) ([]byte, *safety.SanitizeResult, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		result, err := s.safety.SanitizePackage(data, safety.SanitizeOptions{Strict: true})
		if err != nil {
			return nil, nil, err
		}
		return result.Sanitized, result, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, domain.WrapError(domain.CodeInvalidPackage, "cannot decompress package", err)
	}
	inner, err := io.ReadAll(io.LimitReader(zr, maxDecompressedSize))
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, nil, domain.WrapError(domain.CodeInvalidPackage, "cannot decompress package", err)
	}

	result, err := s.safety.SanitizePackage(inner, safety.SanitizeOptions{Strict: true})
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(result.Sanitized); err != nil {
		return nil, nil, domain.WrapError(domain.CodeSanitizationFailed, "cannot recompress package", err)
	}
	if err := zw.Close(); err != nil {
		return nil, nil, domain.WrapError(domain.CodeSanitizationFailed, "cannot recompress package", err)
	}
	return buf.Bytes(), result, nil
}

// upload runs the transfer while holding the publish lock for the configId.
// A held lock means another process is already uploading this package.
func (s *Service) upload(ctx context.Context, data []byte, meta *domain.PackageMetadata, progress *progressSink) (transfer.Result, error) {
	onTransfer := func(p domain.Progress) {
		pct := pctUploadingStart + p.Percentage*(pctUploadingEnd-pctUploadingStart)/100
		progress.reportBytes(domain.StageUploading, pct, p.BytesUploaded, p.TotalBytes, p.Message)
	}

	var result transfer.Result
	run := func() error {
		var err error
		result, err = s.transfer.Upload(ctx, data, meta, onTransfer)
		return err
	}
	if s.locks == nil {
		return result, run()
	}

	ran, err := s.locks.WithLock(publishLockOperation, meta.ConfigID, meta.UserID, run)
	if err != nil {
		return transfer.Result{}, err
	}
	if !ran {
		return transfer.Result{}, domain.NewError(domain.CodeUploadFailed,
			"another process is publishing this package").
			WithContext("config_id", meta.ConfigID)
	}
	return result, nil
}

// buildMetadata assembles the registry record for a new publish. The configId
// is reused from an existing package with the same name so versions stay
// grouped; otherwise a new identity is minted.
func (s *Service) buildMetadata(ctx context.Context, name string, session *domain.Session, opts domain.PublishOptions, sanitized *safety.SanitizeResult, rawSize int64) *domain.PackageMetadata {
	now := time.Now().UTC()

	var parsed any
	if err := json.Unmarshal(sanitized.Sanitized, &parsed); err != nil {
		parsed = nil
	}

	return &domain.PackageMetadata{
		ID:            uuid.New().String(),
		ConfigID:      s.resolveConfigID(ctx, name, session.UserID),
		Name:          name,
		Title:         opts.Title,
		Description:   opts.Description,
		Version:       opts.Version,
		Platform:      opts.Platform,
		Visibility:    opts.Visibility,
		SanitizeLevel: sanitized.Level,
		Checksum:      sanitized.Report.Checksum,
		PackageSize:   rawSize,
		UserID:        session.UserID,
		TeamID:        opts.TeamID,
		AutoTags:      s.safety.GenerateAutoTags(parsed, rawSize, opts.Version),
		UserTags:      opts.Tags,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// resolveConfigID returns the configId of an existing package with the same
// name, or a fresh one. Registry errors just mint a new identity; the insert
// will surface real failures.
func (s *Service) resolveConfigID(ctx context.Context, name, userID string) string {
	existing, err := s.registry.ListByUser(ctx, userID, out.ListFilters{})
	if err != nil {
		logging.Debug("Config id lookup failed, minting new identity", "error", err)
		return uuid.New().String()
	}
	for _, pkg := range existing {
		if pkg.Name == name {
			return pkg.ConfigID
		}
	}
	return uuid.New().String()
}

func (s *Service) tier(ctx context.Context, userID string) domain.Tier {
	tier, err := s.subs.Tier(ctx, userID)
	if err != nil {
		return domain.TierFree
	}
	if _, ok := sizeCeilingForTier[tier]; !ok {
		return domain.TierFree
	}
	return tier
}

// packageName derives the package name from the file path.
func packageName(path string) string {
	base := filepath.Base(path)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

// progressSink serializes progress events and clamps the percentage so it
// never decreases within one publish call.
type progressSink struct {
	mu   sync.Mutex
	fn   domain.ProgressFunc
	last float64
}

func newProgressSink(fn domain.ProgressFunc) *progressSink {
	return &progressSink{fn: fn}
}

func (p *progressSink) report(stage domain.Stage, pct float64, message string) {
	p.reportBytes(stage, pct, 0, 0, message)
}

func (p *progressSink) reportBytes(stage domain.Stage, pct float64, uploaded, total int64, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pct < p.last {
		pct = p.last
	}
	p.last = pct
	p.fn.Report(domain.Progress{
		Stage:         stage,
		Percentage:    pct,
		BytesUploaded: uploaded,
		TotalBytes:    total,
		Message:       message,
	})
}
