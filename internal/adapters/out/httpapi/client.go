// Package httpapi implements the registry store, session provider,
// subscription lookup, and usage ledger against the registry's REST API.
// Responses are decoded into typed records at this boundary; nothing
// loosely-typed leaks past it.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/boundaries/out"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
)

const defaultTimeout = 15 * time.Second

// Client talks to the registry API over HTTP.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// New creates a registry API client.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// packageRecord is the wire form of a registry row.
type packageRecord struct {
	ID            string                 `json:"id"`
	ConfigID      string                 `json:"config_id"`
	Name          string                 `json:"name"`
	Title         string                 `json:"title"`
	Description   string                 `json:"description"`
	Version       string                 `json:"version"`
	Platform      string                 `json:"platform"`
	Visibility    string                 `json:"visibility"`
	SanitizeLevel string                 `json:"sanitize_level"`
	Checksum      string                 `json:"checksum"`
	StorageURL    string                 `json:"storage_url"`
	PackageSize   int64                  `json:"package_size"`
	UserID        string                 `json:"user_id"`
	TeamID        string                 `json:"team_id,omitempty"`
	Components    []domain.ComponentInfo `json:"components"`
	AutoTags      []string               `json:"auto_tags"`
	UserTags      []string               `json:"user_tags"`
	Archived      bool                   `json:"archived"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func (r *packageRecord) toDomain() *domain.PackageMetadata {
	return &domain.PackageMetadata{
		ID:            r.ID,
		ConfigID:      r.ConfigID,
		Name:          r.Name,
		Title:         r.Title,
		Description:   r.Description,
		Version:       r.Version,
		Platform:      domain.Platform(r.Platform),
		Visibility:    domain.Visibility(r.Visibility),
		SanitizeLevel: domain.SanitizeLevel(r.SanitizeLevel),
		Checksum:      r.Checksum,
		StorageURL:    r.StorageURL,
		PackageSize:   r.PackageSize,
		UserID:        r.UserID,
		TeamID:        r.TeamID,
		Components:    r.Components,
		AutoTags:      r.AutoTags,
		UserTags:      r.UserTags,
		Archived:      r.Archived,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func fromDomain(meta *domain.PackageMetadata) packageRecord {
	return packageRecord{
		ID:            meta.ID,
		ConfigID:      meta.ConfigID,
		Name:          meta.Name,
		Title:         meta.Title,
		Description:   meta.Description,
		Version:       meta.Version,
		Platform:      string(meta.Platform),
		Visibility:    string(meta.Visibility),
		SanitizeLevel: string(meta.SanitizeLevel),
		Checksum:      meta.Checksum,
		StorageURL:    meta.StorageURL,
		PackageSize:   meta.PackageSize,
		UserID:        meta.UserID,
		TeamID:        meta.TeamID,
		Components:    meta.Components,
		AutoTags:      meta.AutoTags,
		UserTags:      meta.UserTags,
		Archived:      meta.Archived,
		CreatedAt:     meta.CreatedAt,
		UpdatedAt:     meta.UpdatedAt,
	}
}

// Session resolves the authenticated user from the bearer token. A 401
// resolves to a nil session, not an error.
func (c *Client) Session(ctx context.Context) (*domain.Session, error) {
	if c.token == "" {
		return nil, nil
	}
	var user struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, &user)
	if isStatus(err, http.StatusUnauthorized) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.Session{UserID: user.ID, Email: user.Email}, nil
}

// Tier resolves the user's subscription tier.
func (c *Client) Tier(ctx context.Context, userID string) (domain.Tier, error) {
	var sub struct {
		Tier string `json:"tier"`
	}
	err := c.do(ctx, http.MethodGet, "/rest/v1/subscriptions/"+url.PathEscape(userID), nil, &sub)
	if isStatus(err, http.StatusNotFound) {
		return domain.TierFree, nil
	}
	if err != nil {
		return "", err
	}
	return domain.Tier(sub.Tier), nil
}

// Usage reads the user's daily counters.
func (c *Client) Usage(ctx context.Context, userID string, at time.Time) (out.DayUsage, error) {
	path := fmt.Sprintf("/rest/v1/usage/%s?day=%s",
		url.PathEscape(userID), at.UTC().Format("2006-01-02"))
	var usage struct {
		Uploads int   `json:"uploads"`
		Bytes   int64 `json:"bytes"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &usage)
	if isStatus(err, http.StatusNotFound) {
		return out.DayUsage{}, nil
	}
	if err != nil {
		return out.DayUsage{}, err
	}
	return out.DayUsage{Uploads: usage.Uploads, Bytes: usage.Bytes}, nil
}

// RecordUpload adds one upload to the user's daily counters.
func (c *Client) RecordUpload(ctx context.Context, userID string, size int64, at time.Time) error {
	payload := map[string]any{
		"user_id": userID,
		"size":    size,
		"day":     at.UTC().Format("2006-01-02"),
	}
	return c.do(ctx, http.MethodPost, "/rest/v1/usage", payload, nil)
}

// FindByChecksum returns the non-archived package owned by userID with the
// given content checksum, or nil.
func (c *Client) FindByChecksum(ctx context.Context, checksum, userID string) (*domain.PackageMetadata, error) {
	path := fmt.Sprintf("/rest/v1/packages?checksum=%s&user_id=%s&archived=false",
		url.QueryEscape(checksum), url.QueryEscape(userID))
	var records []packageRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0].toDomain(), nil
}

// Insert records a newly published package.
func (c *Client) Insert(ctx context.Context, meta *domain.PackageMetadata) error {
	return c.do(ctx, http.MethodPost, "/rest/v1/packages", fromDomain(meta), nil)
}

// Update applies a partial update to the package identified by configID.
func (c *Client) Update(ctx context.Context, configID string, patch out.MetadataPatch) error {
	payload := map[string]any{}
	if patch.Title != nil {
		payload["title"] = *patch.Title
	}
	if patch.Description != nil {
		payload["description"] = *patch.Description
	}
	if patch.Visibility != nil {
		payload["visibility"] = string(*patch.Visibility)
	}
	if patch.StorageURL != nil {
		payload["storage_url"] = *patch.StorageURL
	}
	if patch.UserTags != nil {
		payload["user_tags"] = patch.UserTags
	}
	return c.do(ctx, http.MethodPatch, "/rest/v1/packages/"+url.PathEscape(configID), payload, nil)
}

// SoftDelete archives the package identified by configID.
func (c *Client) SoftDelete(ctx context.Context, configID string) error {
	payload := map[string]any{"archived": true}
	return c.do(ctx, http.MethodPatch, "/rest/v1/packages/"+url.PathEscape(configID), payload, nil)
}

// ListByUser returns the user's packages, newest first.
func (c *Client) ListByUser(ctx context.Context, userID string, filters out.ListFilters) ([]domain.PackageMetadata, error) {
	query := url.Values{"user_id": {userID}, "order": {"created_at.desc"}}
	if !filters.IncludeArchived {
		query.Set("archived", "false")
	}
	if filters.Platform != "" {
		query.Set("platform", string(filters.Platform))
	}
	if filters.Visibility != "" {
		query.Set("visibility", string(filters.Visibility))
	}

	var records []packageRecord
	if err := c.do(ctx, http.MethodGet, "/rest/v1/packages?"+query.Encode(), nil, &records); err != nil {
		return nil, err
	}
	packages := make([]domain.PackageMetadata, 0, len(records))
	for i := range records {
		packages = append(packages, *records[i].toDomain())
	}
	return packages, nil
}

// statusError carries the HTTP status for sentinel checks.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("registry returned %d: %s", e.status, e.body)
}

func isStatus(err error, status int) bool {
	serr, ok := err.(*statusError)
	return ok && serr.status == status
}

func (c *Client) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}
	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}
