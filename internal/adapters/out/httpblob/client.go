// Package httpblob implements the blob store against the registry's HTTP
// object-storage API.
package httpblob

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
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/logging"
)

const (
	defaultTimeout = 30 * time.Second
	maxAttempts    = 3
	retryBaseDelay = 500 * time.Millisecond
	bucket         = "packages"
)

// Client talks to the storage API over HTTP.
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

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.client.Timeout = timeout }
}

// New creates a storage client for the given API base URL.
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

// Upload writes an object, retrying transient failures.
func (c *Client) Upload(ctx context.Context, path string, data io.Reader, contentType string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read upload data: %w", err)
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, escapePath(path))
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			logging.Debug("Retrying upload", "path", path, "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("storage returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			// Client errors will not improve with retries.
			return lastErr
		}
	}
	return fmt.Errorf("upload failed after %d attempts: %w", maxAttempts, lastErr)
}

// PublicURL returns the public URL for an object path.
func (c *Client) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, bucket, escapePath(path))
}

// SignedUploadURL issues a pre-signed upload destination.
func (c *Client) SignedUploadURL(ctx context.Context, path string) (out.SignedUpload, error) {
	endpoint := fmt.Sprintf("%s/storage/v1/object/upload/sign/%s/%s", c.baseURL, bucket, escapePath(path))

	var result struct {
		URL   string `json:"url"`
		Token string `json:"token"`
	}
	if err := c.postJSON(ctx, endpoint, nil, &result); err != nil {
		return out.SignedUpload{}, err
	}
	return out.SignedUpload{URL: result.URL, Token: result.Token}, nil
}

// SignedURL issues a time-limited read URL.
func (c *Client) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	endpoint := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", c.baseURL, bucket, escapePath(path))

	payload := map[string]any{"expiresIn": int(ttl.Seconds())}
	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := c.postJSON(ctx, endpoint, payload, &result); err != nil {
		return "", err
	}
	if strings.HasPrefix(result.SignedURL, "/") {
		return c.baseURL + "/storage/v1" + result.SignedURL, nil
	}
	return result.SignedURL, nil
}

// Remove deletes objects in one batch call. Missing objects are not an error.
func (c *Client) Remove(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s", c.baseURL, bucket)

	payload, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return fmt.Errorf("failed to encode delete request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("storage returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("storage returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// escapePath escapes each path segment while keeping the separators.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
