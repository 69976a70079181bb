// Package quota implements the per-user daily upload-count and bandwidth
// ledger checks with graceful degradation near the ceiling.
//
// Checks fail open: an error reaching the external ledger resolves to an
// allow decision so infrastructure hiccups never block users, and recording
// errors are swallowed after logging since a lost usage record must never
// fail an otherwise-successful upload.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/boundaries/out"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/logging"
	"github.com/bulgogi-whopper/taptik-cli-sub005/pkg/bytesize"
)

// tierLimits are the per-day ceilings for each subscription tier.
type tierLimits struct {
	uploads int
	bytes   int64
}

var limitsForTier = map[domain.Tier]tierLimits{
	domain.TierFree: {uploads: 100, bytes: 1 << 30},
	domain.TierPro:  {uploads: 1000, bytes: 10 << 30},
}

// Degradation thresholds: usage at or above each fraction of either ceiling
// delays the caller by the paired duration.
var degradationSteps = []struct {
	fraction float64
	delay    time.Duration
}{
	{0.90, 5 * time.Second},
	{0.80, 2 * time.Second},
	{0.70, 1 * time.Second},
}

// warnFraction is the usage fraction at which warnings are surfaced.
const warnFraction = 0.80

// Decision is the combined quota admission result.
type Decision struct {
	Allowed    bool
	Uploads    domain.RateLimitStatus
	Bandwidth  domain.BandwidthStatus
	Message    string
	Suggestion string
}

// Enforcer checks and records daily usage against the external ledger.
type Enforcer struct {
	ledger out.UsageLedger
	subs   out.SubscriptionLookup
	now    func() time.Time
	sleep  func(context.Context, time.Duration)

	// Per-user burst guard in front of ledger reads.
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

// WithSleeper overrides the degradation delay, for tests.
func WithSleeper(sleep func(context.Context, time.Duration)) Option {
	return func(e *Enforcer) { e.sleep = sleep }
}

// New creates a quota enforcer backed by the given ledger and subscription
// lookup.
func New(ledger out.UsageLedger, subs out.SubscriptionLookup, opts ...Option) *Enforcer {
	e := &Enforcer{
		ledger:   ledger,
		subs:     subs,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
		rps:      10,
		burst:    20,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// tier resolves the user's subscription tier, defaulting to free on any
// lookup failure.
func (e *Enforcer) tier(ctx context.Context, userID string) domain.Tier {
	tier, err := e.subs.Tier(ctx, userID)
	if err != nil {
		logging.Warn("Subscription lookup failed, defaulting to free tier", "user", userID, "error", err)
		return domain.TierFree
	}
	if _, ok := limitsForTier[tier]; !ok {
		return domain.TierFree
	}
	return tier
}

// resetAt returns the next midnight UTC after t. Windows are fixed calendar
// days, not sliding.
func resetAt(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// usage reads today's counters, applying the burst guard first.
func (e *Enforcer) usage(ctx context.Context, userID string) (out.DayUsage, error) {
	if !e.guard(userID).Allow() {
		// The guard only smooths ledger traffic; being throttled is a read
		// failure and therefore resolves open.
		return out.DayUsage{}, fmt.Errorf("ledger read throttled for user %s", userID)
	}
	return e.ledger.Usage(ctx, userID, e.now())
}

func (e *Enforcer) guard(userID string) *rate.Limiter {
	e.mu.RLock()
	limiter, exists := e.limiters[userID]
	e.mu.RUnlock()
	if exists {
		return limiter
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if limiter, exists = e.limiters[userID]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(e.rps, e.burst)
	e.limiters[userID] = limiter
	return limiter
}

// CheckUploadLimit checks the daily upload-count ceiling. Ledger errors
// resolve to an allow decision.
func (e *Enforcer) CheckUploadLimit(ctx context.Context, userID string) domain.RateLimitStatus {
	limits := limitsForTier[e.tier(ctx, userID)]
	reset := resetAt(e.now())

	usage, err := e.usage(ctx, userID)
	if err != nil {
		logging.Warn("Upload limit check failed, allowing (fail-open)", "user", userID, "error", err)
		return domain.RateLimitStatus{Allowed: true, Limit: limits.uploads, Remaining: limits.uploads, ResetAt: reset}
	}

	remaining := limits.uploads - usage.Uploads
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitStatus{
		Allowed:   usage.Uploads < limits.uploads,
		Current:   usage.Uploads,
		Limit:     limits.uploads,
		Remaining: remaining,
		ResetAt:   reset,
	}
}

// CheckBandwidthLimit checks the daily byte ceiling for an upload of size
// bytes. Ledger errors resolve to an allow decision.
func (e *Enforcer) CheckBandwidthLimit(ctx context.Context, userID string, size int64) domain.BandwidthStatus {
	limits := limitsForTier[e.tier(ctx, userID)]
	reset := resetAt(e.now())

	usage, err := e.usage(ctx, userID)
	if err != nil {
		logging.Warn("Bandwidth limit check failed, allowing (fail-open)", "user", userID, "error", err)
		return domain.BandwidthStatus{Allowed: true, LimitBytes: limits.bytes, RemainingBytes: limits.bytes, ResetAt: reset}
	}

	remaining := limits.bytes - usage.Bytes
	if remaining < 0 {
		remaining = 0
	}
	return domain.BandwidthStatus{
		Allowed:        usage.Bytes+size <= limits.bytes,
		UsedBytes:      usage.Bytes,
		LimitBytes:     limits.bytes,
		RemainingBytes: remaining,
		ResetAt:        reset,
	}
}

// CheckQuota combines both ceilings and synthesizes a human-readable message
// and suggestion for the CLI.
func (e *Enforcer) CheckQuota(ctx context.Context, userID string, size int64) Decision {
	uploads := e.CheckUploadLimit(ctx, userID)
	bandwidth := e.CheckBandwidthLimit(ctx, userID, size)

	d := Decision{
		Allowed:   uploads.Allowed && bandwidth.Allowed,
		Uploads:   uploads,
		Bandwidth: bandwidth,
	}
	switch {
	case !uploads.Allowed:
		d.Message = fmt.Sprintf("Daily upload limit reached (%d/%d)", uploads.Current, uploads.Limit)
		d.Suggestion = fmt.Sprintf("The limit resets at %s. Upgrading to pro raises it to %d uploads per day.",
			uploads.ResetAt.Format(time.RFC3339), limitsForTier[domain.TierPro].uploads)
	case !bandwidth.Allowed:
		d.Message = fmt.Sprintf("Daily bandwidth limit reached (%s of %s used)",
			bytesize.Format(bandwidth.UsedBytes), bytesize.Format(bandwidth.LimitBytes))
		d.Suggestion = fmt.Sprintf("The limit resets at %s. Upgrading to pro raises it to %s per day.",
			bandwidth.ResetAt.Format(time.RFC3339), bytesize.Format(limitsForTier[domain.TierPro].bytes))
	default:
		d.Message = fmt.Sprintf("%d uploads and %s remaining today",
			uploads.Remaining, bytesize.Format(bandwidth.RemainingBytes))
	}
	return d
}

// RecordUpload records one completed upload against the ledger. Errors are
// reported and swallowed.
func (e *Enforcer) RecordUpload(ctx context.Context, userID string, size int64) {
	if err := e.ledger.RecordUpload(ctx, userID, size, e.now()); err != nil {
		logging.Error("Failed to record upload usage", "user", userID, "size", size, "error", err)
	}
}

// ApproachingLimitWarnings returns human-readable warnings when usage is at
// or above 80% of either ceiling.
func (e *Enforcer) ApproachingLimitWarnings(ctx context.Context, userID string) []string {
	limits := limitsForTier[e.tier(ctx, userID)]
	usage, err := e.usage(ctx, userID)
	if err != nil {
		logging.Warn("Limit warning check failed", "user", userID, "error", err)
		return nil
	}

	var warnings []string
	if frac := float64(usage.Uploads) / float64(limits.uploads); frac >= warnFraction {
		warnings = append(warnings, fmt.Sprintf("You have used %d of %d daily uploads (%.0f%%)",
			usage.Uploads, limits.uploads, frac*100))
	}
	if frac := float64(usage.Bytes) / float64(limits.bytes); frac >= warnFraction {
		warnings = append(warnings, fmt.Sprintf("You have used %s of %s daily bandwidth (%.0f%%)",
			bytesize.Format(usage.Bytes), bytesize.Format(limits.bytes), frac*100))
	}
	return warnings
}

// GracefulDegradation delays the caller in proportion to how close they are
// to either ceiling: >=90% waits 5s, >=80% waits 2s, >=70% waits 1s. Returns
// the applied delay.
func (e *Enforcer) GracefulDegradation(ctx context.Context, userID string, size int64) time.Duration {
	limits := limitsForTier[e.tier(ctx, userID)]
	usage, err := e.usage(ctx, userID)
	if err != nil {
		return 0
	}

	uploadFrac := float64(usage.Uploads) / float64(limits.uploads)
	byteFrac := float64(usage.Bytes+size) / float64(limits.bytes)
	frac := uploadFrac
	if byteFrac > frac {
		frac = byteFrac
	}

	for _, step := range degradationSteps {
		if frac >= step.fraction {
			logging.Debug("Applying graceful degradation delay", "user", userID, "delay", step.delay)
			e.sleep(ctx, step.delay)
			return step.delay
		}
	}
	return 0
}
