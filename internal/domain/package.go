package domain

import "time"

// Visibility controls who can see a published package.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// SanitizeLevel classifies the outcome of a sanitization pass.
type SanitizeLevel string

const (
	LevelSafe    SanitizeLevel = "safe"
	LevelWarning SanitizeLevel = "warning"
	LevelBlocked SanitizeLevel = "blocked"
)

// Platform is the IDE configuration dialect a package targets.
type Platform string

const (
	PlatformClaudeCode Platform = "claude-code"
	PlatformKiro       Platform = "kiro"
	PlatformCursor     Platform = "cursor"
	PlatformWindsurf   Platform = "windsurf"
	PlatformUniversal  Platform = "universal"
)

// KnownPlatforms lists every accepted target platform tag.
var KnownPlatforms = []Platform{
	PlatformClaudeCode,
	PlatformKiro,
	PlatformCursor,
	PlatformWindsurf,
	PlatformUniversal,
}

// ComponentInfo describes one component bundled inside a package.
type ComponentInfo struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// PackageMetadata is the identity and descriptive record for one publishable
// artifact. Checksum is computed over the sanitized byte stream, never the raw
// input, and uniquely determines whether a remote duplicate exists.
type PackageMetadata struct {
	ID            string          `json:"id"`
	ConfigID      string          `json:"config_id"`
	Name          string          `json:"name"`
	Title         string          `json:"title,omitempty"`
	Description   string          `json:"description,omitempty"`
	Version       string          `json:"version"`
	Platform      Platform        `json:"platform"`
	Visibility    Visibility      `json:"visibility"`
	SanitizeLevel SanitizeLevel   `json:"sanitize_level"`
	Checksum      string          `json:"checksum"`
	StorageURL    string          `json:"storage_url,omitempty"`
	PackageSize   int64           `json:"package_size"`
	UserID        string          `json:"user_id"`
	TeamID        string          `json:"team_id,omitempty"`
	Components    []ComponentInfo `json:"components,omitempty"`
	AutoTags      []string        `json:"auto_tags,omitempty"`
	UserTags      []string        `json:"user_tags,omitempty"`
	Archived      bool            `json:"archived"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PublishOptions carries the caller-supplied knobs for one publish.
type PublishOptions struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Version     string     `json:"version,omitempty"`
	Platform    Platform   `json:"platform,omitempty"`
	Visibility  Visibility `json:"visibility,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	TeamID      string     `json:"team_id,omitempty"`
	// Force publishes even when sanitization classifies the content as blocked.
	Force bool `json:"force,omitempty"`
}

// Session identifies the authenticated caller.
type Session struct {
	UserID string
	Email  string
}

// Tier is a subscription plan governing daily quota ceilings.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)
