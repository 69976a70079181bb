// Package safety implements the content safety engine: structural validation,
// checksum, malware and secret scanning, redaction, and auto-tagging.
package safety

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/logging"
)

// maxDisplayLen bounds how much of a matched value is kept in the report.
// Full secrets are never stored or logged.
const maxDisplayLen = 20

// secretPattern is one named sensitive-content pattern. KeyRegex matches
// object keys whose values are redacted outright; ValueRegex matches the
// values themselves.
type secretPattern struct {
	Name        string
	Severity    domain.Severity
	Replacement string
	KeyRegex    *regexp.Regexp
	ValueRegex  *regexp.Regexp
}

// secretPatterns is the fixed, ordered pattern list. Order matters: the first
// matching pattern claims the value.
var secretPatterns = []secretPattern{
	{
		Name:        "api_key",
		Severity:    domain.SeverityHigh,
		Replacement: "[REDACTED_API_KEY]",
		KeyRegex:    regexp.MustCompile(`(?i)^(?:api[_-]?key|apikey|access[_-]?key|secret[_-]?key)$`),
		ValueRegex:  regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`),
	},
	{
		Name:        "password",
		Severity:    domain.SeverityHigh,
		Replacement: "[REDACTED_PASSWORD]",
		KeyRegex:    regexp.MustCompile(`(?i)^(?:password|passwd|pwd|passphrase)$`),
	},
	{
		Name:        "database_url",
		Severity:    domain.SeverityHigh,
		Replacement: "[REDACTED_DATABASE_URL]",
		ValueRegex:  regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis)://[^\s"']+`),
	},
	{
		Name:        "aws_credential",
		Severity:    domain.SeverityHigh,
		Replacement: "[REDACTED_AWS_CREDENTIAL]",
		ValueRegex:  regexp.MustCompile(`\b(?:AKIA|ASIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA)[A-Z0-9]{16}\b`),
	},
	{
		Name:        "github_token",
		Severity:    domain.SeverityHigh,
		Replacement: "[REDACTED_GITHUB_TOKEN]",
		ValueRegex:  regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
	},
	{
		Name:        "generic_secret",
		Severity:    domain.SeverityMedium,
		Replacement: "[REDACTED_SECRET]",
		KeyRegex:    regexp.MustCompile(`(?i)^(?:secret|token|credential|auth[_-]?token|private[_-]?key)$`),
	},
	{
		Name:        "email",
		Severity:    domain.SeverityLow,
		Replacement: "[REDACTED_EMAIL]",
		ValueRegex:  regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	},
}

// SanitizeOptions configures one sanitization pass.
type SanitizeOptions struct {
	// Strict escalates high-severity findings to the blocked level.
	Strict bool
}

// SanitizeResult is the output of SanitizePackage.
type SanitizeResult struct {
	Sanitized []byte
	Report    domain.SanitizationReport
	Level     domain.SanitizeLevel
}

// Engine is the content safety engine. The zero value is usable; New applies
// options.
type Engine struct {
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a content safety engine.
func New(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SanitizePackage scans content for sensitive data, redacts matches in place,
// and classifies the result. JSON content is walked as a tree so redaction
// locations are reported as JSON paths; unparsable content falls back to a
// raw-text pass.
func (e *Engine) SanitizePackage(content []byte, opts SanitizeOptions) (*SanitizeResult, error) {
	report := domain.SanitizationReport{ProcessedAt: e.now()}

	var sanitized []byte
	var tree any
	if err := json.Unmarshal(content, &tree); err == nil {
		redacted := e.redactTree(tree, "$", &report, newVisited())
		out, err := json.Marshal(redacted)
		if err != nil {
			return nil, domain.WrapError(domain.CodeSanitizationFailed, "failed to re-encode sanitized content", err)
		}
		sanitized = out
	} else {
		sanitized = e.redactRaw(content, &report)
	}

	report.TotalIssues = report.HighCount + report.MediumCount + report.LowCount
	report.Level = classify(&report, opts.Strict)
	report.Checksum = Checksum(sanitized)

	logging.Debug("Sanitization pass complete",
		"issues", report.TotalIssues,
		"high", report.HighCount,
		"level", report.Level,
	)

	return &SanitizeResult{
		Sanitized: sanitized,
		Report:    report,
		Level:     report.Level,
	}, nil
}

// classify derives the level from the aggregated counts.
func classify(report *domain.SanitizationReport, strict bool) domain.SanitizeLevel {
	switch {
	case report.TotalIssues == 0:
		return domain.LevelSafe
	case report.HighCount > 0 && strict:
		return domain.LevelBlocked
	default:
		return domain.LevelWarning
	}
}

// redactTree walks the parsed content tree, replacing matched values and
// recording their locations. The visited set guarantees termination on
// cyclic graphs: each node is visited at most once.
func (e *Engine) redactTree(node any, path string, report *domain.SanitizationReport, seen *visited) any {
	switch v := node.(type) {
	case map[string]any:
		if !seen.enter(v) {
			return v
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			childPath := path + "." + k
			if s, ok := v[k].(string); ok {
				if replaced, match := redactString(k, s, childPath); match != nil {
					v[k] = replaced
					record(report, *match)
					continue
				}
			}
			v[k] = e.redactTree(v[k], childPath, report, seen)
		}
		return v
	case []any:
		if !seen.enter(v) {
			return v
		}
		for i := range v {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			if s, ok := v[i].(string); ok {
				if replaced, match := redactString("", s, childPath); match != nil {
					v[i] = replaced
					record(report, *match)
					continue
				}
			}
			v[i] = e.redactTree(v[i], childPath, report, seen)
		}
		return v
	default:
		return node
	}
}

// redactString tries every pattern in order against a key/value pair.
// Returns the replacement value and the recorded match, or ("", nil).
func redactString(key, value, path string) (string, *domain.PatternMatch) {
	if value == "" {
		return "", nil
	}
	for _, p := range secretPatterns {
		if p.KeyRegex != nil && key != "" && p.KeyRegex.MatchString(key) {
			return p.Replacement, &domain.PatternMatch{
				Pattern:  p.Name,
				Severity: p.Severity,
				Value:    truncate(value),
				Path:     path,
			}
		}
		if p.ValueRegex != nil {
			if loc := p.ValueRegex.FindStringIndex(value); loc != nil {
				matched := value[loc[0]:loc[1]]
				return p.ValueRegex.ReplaceAllLiteralString(value, p.Replacement), &domain.PatternMatch{
					Pattern:  p.Name,
					Severity: p.Severity,
					Value:    truncate(matched),
					Path:     path,
				}
			}
		}
	}
	return "", nil
}

// redactRaw applies the value patterns to unparsable content as plain text.
func (e *Engine) redactRaw(content []byte, report *domain.SanitizationReport) []byte {
	text := string(content)
	for _, p := range secretPatterns {
		if p.ValueRegex == nil {
			continue
		}
		p := p
		text = p.ValueRegex.ReplaceAllStringFunc(text, func(m string) string {
			record(report, domain.PatternMatch{
				Pattern:  p.Name,
				Severity: p.Severity,
				Value:    truncate(m),
				Path:     "$raw",
			})
			return p.Replacement
		})
	}
	return []byte(text)
}

func record(report *domain.SanitizationReport, match domain.PatternMatch) {
	report.Matches = append(report.Matches, match)
	report.RedactedPaths = append(report.RedactedPaths, match.Path)
	switch match.Severity {
	case domain.SeverityHigh:
		report.HighCount++
	case domain.SeverityMedium:
		report.MediumCount++
	default:
		report.LowCount++
	}
}

func truncate(s string) string {
	if len(s) <= maxDisplayLen {
		return s
	}
	return s[:maxDisplayLen] + "..."
}

// Checksum returns the SHA-256 hex digest of data. This is the content
// address used for duplicate detection; it is always computed over sanitized
// bytes.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidateChecksum verifies data against an expected SHA-256 hex digest.
func ValidateChecksum(data []byte, expected string) error {
	actual := Checksum(data)
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: expected %s, got %s", domain.ErrChecksumMismatch, expected, actual)
	}
	return nil
}
