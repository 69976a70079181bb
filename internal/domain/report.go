package domain

import "time"

// Severity grades a sensitive-content match.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// PatternMatch records one sensitive-content hit. Value is truncated to at
// most 20 characters plus an ellipsis; full secrets are never stored or logged.
type PatternMatch struct {
	Pattern  string   `json:"pattern"`
	Severity Severity `json:"severity"`
	Value    string   `json:"value"`
	Path     string   `json:"path"`
}

// SanitizationReport summarizes one sanitization pass.
//
// Invariants: TotalIssues == HighCount+MediumCount+LowCount; Level == safe
// requires TotalIssues == 0; Level == blocked requires HighCount > 0 and is
// only produced under strict mode.
type SanitizationReport struct {
	Level         SanitizeLevel  `json:"level"`
	TotalIssues   int            `json:"total_issues"`
	HighCount     int            `json:"high_count"`
	MediumCount   int            `json:"medium_count"`
	LowCount      int            `json:"low_count"`
	Matches       []PatternMatch `json:"matches,omitempty"`
	RedactedPaths []string       `json:"redacted_paths,omitempty"`
	Checksum      string         `json:"checksum"`
	ProcessedAt   time.Time      `json:"processed_at"`
}

// RateLimitStatus is the upload-count admission decision for one user.
// Computed fresh per check from the external ledger; never cached beyond a
// single admission decision.
type RateLimitStatus struct {
	Allowed   bool
	Current   int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// BandwidthStatus is the bytes-per-day admission decision for one user.
type BandwidthStatus struct {
	Allowed        bool
	UsedBytes      int64
	LimitBytes     int64
	RemainingBytes int64
	ResetAt        time.Time
}
