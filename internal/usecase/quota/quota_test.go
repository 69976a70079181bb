package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/boundaries/out"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
)

type fakeLedger struct {
	usage    out.DayUsage
	usageErr error

	recorded  []int64
	recordErr error
}

func (f *fakeLedger) Usage(ctx context.Context, userID string, at time.Time) (out.DayUsage, error) {
	return f.usage, f.usageErr
}

func (f *fakeLedger) RecordUpload(ctx context.Context, userID string, size int64, at time.Time) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, size)
	return nil
}

type fakeSubs struct {
	tier domain.Tier
	err  error
}

func (f *fakeSubs) Tier(ctx context.Context, userID string) (domain.Tier, error) {
	return f.tier, f.err
}

func newEnforcer(ledger *fakeLedger, subs *fakeSubs) (*Enforcer, *[]time.Duration) {
	var delays []time.Duration
	e := New(ledger, subs, WithSleeper(func(ctx context.Context, d time.Duration) {
		delays = append(delays, d)
	}))
	return e, &delays
}

func TestCheckUploadLimit_FreeTierExhausted(t *testing.T) {
	ledger := &fakeLedger{usage: out.DayUsage{Uploads: 100}}
	e, _ := newEnforcer(ledger, &fakeSubs{tier: domain.TierFree})

	status := e.CheckUploadLimit(context.Background(), "user-1")
	assert.False(t, status.Allowed)
	assert.Equal(t, 100, status.Current)
	assert.Equal(t, 100, status.Limit)
	assert.Equal(t, 0, status.Remaining)
	assert.True(t, status.ResetAt.After(time.Now().UTC().Truncate(24*time.Hour)))
}

func TestCheckUploadLimit_ProTier(t *testing.T) {
	ledger := &fakeLedger{usage: out.DayUsage{Uploads: 500}}
	e, _ := newEnforcer(ledger, &fakeSubs{tier: domain.TierPro})

	status := e.CheckUploadLimit(context.Background(), "user-1")
	assert.True(t, status.Allowed)
	assert.Equal(t, 1000, status.Limit)
	assert.Equal(t, 500, status.Remaining)
}

func TestCheckUploadLimit_FailOpen(t *testing.T) {
	ledger := &fakeLedger{usageErr: errors.New("ledger down")}
	e, _ := newEnforcer(ledger, &fakeSubs{tier: domain.TierFree})

	status := e.CheckUploadLimit(context.Background(), "user-1")
	assert.True(t, status.Allowed, "ledger read failures must resolve to allow")
	assert.Equal(t, 100, status.Remaining)
}

func TestCheckBandwidthLimit(t *testing.T) {
	ledger := &fakeLedger{usage: out.DayUsage{Bytes: 1 << 30}}
	e, _ := newEnforcer(ledger, &fakeSubs{tier: domain.TierFree})

	status := e.CheckBandwidthLimit(context.Background(), "user-1", 1)
	assert.False(t, status.Allowed)
	assert.Equal(t, int64(0), status.RemainingBytes)

	// Exactly filling the remaining allowance is allowed.
	ledger.usage = out.DayUsage{Bytes: 1<<30 - 100}
	status = e.CheckBandwidthLimit(context.Background(), "user-1", 100)
	assert.True(t, status.Allowed)
}

func TestCheckQuota_SynthesizesMessage(t *testing.T) {
	ledger := &fakeLedger{usage: out.DayUsage{Uploads: 100}}
	e, _ := newEnforcer(ledger, &fakeSubs{tier: domain.TierFree})

	d := e.CheckQuota(context.Background(), "user-1", 1024)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Message, "Daily upload limit reached")
	assert.Contains(t, d.Suggestion, "pro")
}

func TestCheckQuota_Allowed(t *testing.T) {
	ledger := &fakeLedger{usage: out.DayUsage{Uploads: 2, Bytes: 4096}}
	e, _ := newEnforcer(ledger, &fakeSubs{tier: domain.TierFree})

	d := e.CheckQuota(context.Background(), "user-1", 1024)
	assert.True(t, d.Allowed)
	assert.Contains(t, d.Message, "remaining today")
}

func TestTierLookupFailureDefaultsToFree(t *testing.T) {
	ledger := &fakeLedger{usage: out.DayUsage{Uploads: 150}}
	e, _ := newEnforcer(ledger, &fakeSubs{err: errors.New("subscription service down")})

	status := e.CheckUploadLimit(context.Background(), "user-1")
	assert.Equal(t, 100, status.Limit, "lookup failure must default to free tier")
	assert.False(t, status.Allowed)
}

func TestRecordUpload_SwallowsErrors(t *testing.T) {
	ledger := &fakeLedger{recordErr: errors.New("write failed")}
	e, _ := newEnforcer(ledger, &fakeSubs{tier: domain.TierFree})

	// Must not panic or propagate; a lost usage record never fails an upload.
	e.RecordUpload(context.Background(), "user-1", 1024)

	ledger.recordErr = nil
	e.RecordUpload(context.Background(), "user-1", 2048)
	require.Equal(t, []int64{2048}, ledger.recorded)
}

func TestApproachingLimitWarnings(t *testing.T) {
	ledger := &fakeLedger{usage: out.DayUsage{Uploads: 85, Bytes: 900 << 20}}
	e, _ := newEnforcer(ledger, &fakeSubs{tier: domain.TierFree})

	warnings := e.ApproachingLimitWarnings(context.Background(), "user-1")
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "85 of 100")

	ledger.usage = out.DayUsage{Uploads: 10, Bytes: 1 << 20}
	warnings = e.ApproachingLimitWarnings(context.Background(), "user-1")
	assert.Empty(t, warnings)
}

func TestGracefulDegradation(t *testing.T) {
	tests := []struct {
		name    string
		uploads int
		want    time.Duration
	}{
		{"below threshold", 50, 0},
		{"at 70 percent", 70, time.Second},
		{"at 80 percent", 80, 2 * time.Second},
		{"at 90 percent", 95, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &fakeLedger{usage: out.DayUsage{Uploads: tt.uploads}}
			e, delays := newEnforcer(ledger, &fakeSubs{tier: domain.TierFree})

			got := e.GracefulDegradation(context.Background(), "user-1", 0)
			assert.Equal(t, tt.want, got)
			if tt.want == 0 {
				assert.Empty(t, *delays)
			} else {
				require.Len(t, *delays, 1)
				assert.Equal(t, tt.want, (*delays)[0])
			}
		})
	}
}
