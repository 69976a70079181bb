// Package sqlitestore implements the registry store, usage ledger, and
// subscription lookup on a local SQLite database. It backs local mode, where
// the whole registry lives on the developer's machine.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/boundaries/out"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS packages (
	id             TEXT PRIMARY KEY,
	config_id      TEXT NOT NULL,
	name           TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	version        TEXT NOT NULL,
	platform       TEXT NOT NULL,
	visibility     TEXT NOT NULL,
	sanitize_level TEXT NOT NULL,
	checksum       TEXT NOT NULL,
	storage_url    TEXT NOT NULL DEFAULT '',
	package_size   INTEGER NOT NULL DEFAULT 0,
	user_id        TEXT NOT NULL,
	team_id        TEXT NOT NULL DEFAULT '',
	components     TEXT NOT NULL DEFAULT '[]',
	auto_tags      TEXT NOT NULL DEFAULT '[]',
	user_tags      TEXT NOT NULL DEFAULT '[]',
	archived       INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_packages_checksum ON packages(user_id, checksum, archived);
CREATE INDEX IF NOT EXISTS idx_packages_config ON packages(config_id);

CREATE TABLE IF NOT EXISTS usage_daily (
	user_id TEXT NOT NULL,
	day     TEXT NOT NULL,
	uploads INTEGER NOT NULL DEFAULT 0,
	bytes   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, day)
);

CREATE TABLE IF NOT EXISTS subscriptions (
	user_id TEXT PRIMARY KEY,
	tier    TEXT NOT NULL
);
`

// Store is a SQLite-backed registry store, usage ledger, and subscription
// lookup.
type Store struct {
	db *sql.DB
}

// Open opens (and bootstraps, if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to bootstrap database: %w", err)
	}
	logging.Debug("Local registry database opened", "path", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const packageColumns = `id, config_id, name, title, description, version, platform, visibility,
	sanitize_level, checksum, storage_url, package_size, user_id, team_id,
	components, auto_tags, user_tags, archived, created_at, updated_at`

// FindByChecksum returns the non-archived package owned by userID with the
// given content checksum, or nil.
func (s *Store) FindByChecksum(ctx context.Context, checksum, userID string) (*domain.PackageMetadata, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+packageColumns+` FROM packages
		 WHERE user_id = ? AND checksum = ? AND archived = 0
		 ORDER BY created_at DESC LIMIT 1`, userID, checksum)

	meta, err := scanPackage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query package by checksum: %w", err)
	}
	return meta, nil
}

// Insert records a newly published package.
func (s *Store) Insert(ctx context.Context, meta *domain.PackageMetadata) error {
	components, err := json.Marshal(meta.Components)
	if err != nil {
		return fmt.Errorf("failed to encode components: %w", err)
	}
	autoTags, err := json.Marshal(meta.AutoTags)
	if err != nil {
		return fmt.Errorf("failed to encode auto tags: %w", err)
	}
	userTags, err := json.Marshal(meta.UserTags)
	if err != nil {
		return fmt.Errorf("failed to encode user tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO packages (`+packageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.ConfigID, meta.Name, meta.Title, meta.Description,
		meta.Version, string(meta.Platform), string(meta.Visibility),
		string(meta.SanitizeLevel), meta.Checksum, meta.StorageURL, meta.PackageSize,
		meta.UserID, meta.TeamID, string(components), string(autoTags), string(userTags),
		boolToInt(meta.Archived), meta.CreatedAt.UTC().Format(time.RFC3339Nano),
		meta.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert package: %w", err)
	}
	return nil
}

// Update applies a partial update to the newest record of configID.
func (s *Store) Update(ctx context.Context, configID string, patch out.MetadataPatch) error {
	set := "updated_at = ?"
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}

	if patch.Title != nil {
		set += ", title = ?"
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		set += ", description = ?"
		args = append(args, *patch.Description)
	}
	if patch.Visibility != nil {
		set += ", visibility = ?"
		args = append(args, string(*patch.Visibility))
	}
	if patch.StorageURL != nil {
		set += ", storage_url = ?"
		args = append(args, *patch.StorageURL)
	}
	if patch.UserTags != nil {
		tags, err := json.Marshal(patch.UserTags)
		if err != nil {
			return fmt.Errorf("failed to encode user tags: %w", err)
		}
		set += ", user_tags = ?"
		args = append(args, string(tags))
	}
	args = append(args, configID)

	result, err := s.db.ExecContext(ctx, `UPDATE packages SET `+set+` WHERE config_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update package: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("no package with config id %s", configID)
	}
	return nil
}

// SoftDelete archives every version of configID.
func (s *Store) SoftDelete(ctx context.Context, configID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE packages SET archived = 1, updated_at = ? WHERE config_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), configID)
	if err != nil {
		return fmt.Errorf("failed to archive package: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("no package with config id %s", configID)
	}
	return nil
}

// ListByUser returns the user's packages, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, filters out.ListFilters) ([]domain.PackageMetadata, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE user_id = ?`
	args := []any{userID}

	if !filters.IncludeArchived {
		query += ` AND archived = 0`
	}
	if filters.Platform != "" {
		query += ` AND platform = ?`
		args = append(args, string(filters.Platform))
	}
	if filters.Visibility != "" {
		query += ` AND visibility = ?`
		args = append(args, string(filters.Visibility))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	var packages []domain.PackageMetadata
	for rows.Next() {
		meta, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package row: %w", err)
		}
		packages = append(packages, *meta)
	}
	return packages, rows.Err()
}

// Usage reads the user's counters for the calendar day containing at (UTC).
func (s *Store) Usage(ctx context.Context, userID string, at time.Time) (out.DayUsage, error) {
	var usage out.DayUsage
	err := s.db.QueryRowContext(ctx,
		`SELECT uploads, bytes FROM usage_daily WHERE user_id = ? AND day = ?`,
		userID, dayKey(at)).Scan(&usage.Uploads, &usage.Bytes)
	if err == sql.ErrNoRows {
		return out.DayUsage{}, nil
	}
	if err != nil {
		return out.DayUsage{}, fmt.Errorf("failed to read usage: %w", err)
	}
	return usage, nil
}

// RecordUpload adds one upload of size bytes to the user's daily counters.
func (s *Store) RecordUpload(ctx context.Context, userID string, size int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_daily (user_id, day, uploads, bytes) VALUES (?, ?, 1, ?)
		 ON CONFLICT (user_id, day) DO UPDATE SET uploads = uploads + 1, bytes = bytes + excluded.bytes`,
		userID, dayKey(at), size)
	if err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

// Tier returns the user's subscription tier, defaulting to free when no
// subscription row exists.
func (s *Store) Tier(ctx context.Context, userID string) (domain.Tier, error) {
	var tier string
	err := s.db.QueryRowContext(ctx,
		`SELECT tier FROM subscriptions WHERE user_id = ?`, userID).Scan(&tier)
	if err == sql.ErrNoRows {
		return domain.TierFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read subscription: %w", err)
	}
	return domain.Tier(tier), nil
}

// SetTier records the user's subscription tier.
func (s *Store) SetTier(ctx context.Context, userID string, tier domain.Tier) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, tier) VALUES (?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET tier = excluded.tier`,
		userID, string(tier))
	if err != nil {
		return fmt.Errorf("failed to set subscription tier: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (*domain.PackageMetadata, error) {
	var meta domain.PackageMetadata
	var platform, visibility, level string
	var components, autoTags, userTags string
	var archived int
	var createdAt, updatedAt string

	err := row.Scan(&meta.ID, &meta.ConfigID, &meta.Name, &meta.Title, &meta.Description,
		&meta.Version, &platform, &visibility, &level, &meta.Checksum, &meta.StorageURL,
		&meta.PackageSize, &meta.UserID, &meta.TeamID, &components, &autoTags, &userTags,
		&archived, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	meta.Platform = domain.Platform(platform)
	meta.Visibility = domain.Visibility(visibility)
	meta.SanitizeLevel = domain.SanitizeLevel(level)
	meta.Archived = archived != 0
	if err := json.Unmarshal([]byte(components), &meta.Components); err != nil {
		return nil, fmt.Errorf("corrupt components column: %w", err)
	}
	if err := json.Unmarshal([]byte(autoTags), &meta.AutoTags); err != nil {
		return nil, fmt.Errorf("corrupt auto_tags column: %w", err)
	}
	if err := json.Unmarshal([]byte(userTags), &meta.UserTags); err != nil {
		return nil, fmt.Errorf("corrupt user_tags column: %w", err)
	}
	if meta.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at column: %w", err)
	}
	if meta.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("corrupt updated_at column: %w", err)
	}
	return &meta, nil
}

// dayKey buckets a timestamp into its UTC calendar day.
func dayKey(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
