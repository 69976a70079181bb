// Package config loads the taptik CLI configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/logging"
	"github.com/bulgogi-whopper/taptik-cli-sub005/pkg/bytesize"
)

// Config is the full CLI configuration.
type Config struct {
	Registry RegistryConfig `yaml:"registry"`
	Upload   UploadConfig   `yaml:"upload"`
	Queue    QueueConfig    `yaml:"queue"`
	Lock     LockConfig     `yaml:"lock"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RegistryConfig points at the remote registry and blob store.
type RegistryConfig struct {
	BaseURL   string `yaml:"base_url"`
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
	// Local switches to the filesystem blob store and sqlite registry.
	Local   bool   `yaml:"local"`
	DataDir string `yaml:"data_dir"`
}

// UploadConfig tunes the transfer manager.
type UploadConfig struct {
	ChunkedThreshold string        `yaml:"chunked_threshold"`
	ChunkSize        string        `yaml:"chunk_size"`
	ChunkConcurrency int           `yaml:"chunk_concurrency"`
	MaxPackageSize   string        `yaml:"max_package_size"`
	Timeout          time.Duration `yaml:"timeout"`
}

// QueueConfig tunes the durable offline queue.
type QueueConfig struct {
	MaxSize          int           `yaml:"max_size"`
	MaxRetryAttempts int           `yaml:"max_retry_attempts"`
	RetryBase        time.Duration `yaml:"retry_base"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`
	SyncInterval     time.Duration `yaml:"sync_interval"`
	FlushDebounce    time.Duration `yaml:"flush_debounce"`
}

// LockConfig tunes the cross-process operation lock.
type LockConfig struct {
	Expiry time.Duration `yaml:"expiry"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default values applied before the file and environment are read.
const (
	defaultChunkedThreshold = "10MB"
	defaultChunkSize        = "5MB"
	defaultChunkConcurrency = 4
	defaultMaxPackageSize   = "50MB"
	defaultQueueMaxSize     = 100
	defaultMaxRetryAttempts = 5
	defaultRetryBase        = 30 * time.Second
	defaultRetryMaxDelay    = time.Hour
	defaultSyncInterval     = time.Minute
	defaultFlushDebounce    = time.Second
	defaultLockExpiry       = 10 * time.Minute
	defaultUploadTimeout    = 30 * time.Minute
)

// DefaultDir returns the per-user config directory.
func DefaultDir() string {
	if dir := os.Getenv("TAPTIK_CONFIG_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "taptik")
}

// QueueFile returns the path of the durable queue snapshot.
func (c *Config) QueueFile() string {
	return filepath.Join(DefaultDir(), "queue.json")
}

// SessionFile returns the path of the chunked-session snapshot.
func (c *Config) SessionFile() string {
	return filepath.Join(DefaultDir(), "sessions.json")
}

// LockDir returns the directory holding operation lock files.
func (c *Config) LockDir() string {
	return filepath.Join(DefaultDir(), "locks")
}

// Load reads the config file at path (or the default location when path is
// empty), applies defaults, environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	// A .env next to the working directory may carry TAPTIK_* overrides.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logging.Debug("No .env file loaded", "error", err)
	}

	cfg := defaults()

	if path == "" {
		path = filepath.Join(DefaultDir(), "config.yaml")
	}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		logging.Debug("Config file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Registry: RegistryConfig{
			BaseURL: "https://registry.taptik.dev",
			DataDir: filepath.Join(DefaultDir(), "registry"),
		},
		Upload: UploadConfig{
			ChunkedThreshold: defaultChunkedThreshold,
			ChunkSize:        defaultChunkSize,
			ChunkConcurrency: defaultChunkConcurrency,
			MaxPackageSize:   defaultMaxPackageSize,
			Timeout:          defaultUploadTimeout,
		},
		Queue: QueueConfig{
			MaxSize:          defaultQueueMaxSize,
			MaxRetryAttempts: defaultMaxRetryAttempts,
			RetryBase:        defaultRetryBase,
			RetryMaxDelay:    defaultRetryMaxDelay,
			SyncInterval:     defaultSyncInterval,
			FlushDebounce:    defaultFlushDebounce,
		},
		Lock: LockConfig{
			Expiry: defaultLockExpiry,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TAPTIK_REGISTRY_URL"); v != "" {
		cfg.Registry.BaseURL = v
	}
	if v := os.Getenv("TAPTIK_TOKEN"); v != "" {
		cfg.Registry.Token = v
	}
	if v := os.Getenv("TAPTIK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the loaded configuration for consistency.
func (c *Config) Validate() error {
	if c.Registry.BaseURL == "" && !c.Registry.Local {
		return fmt.Errorf("registry.base_url is required unless registry.local is set")
	}
	if _, err := c.ChunkedThresholdBytes(); err != nil {
		return fmt.Errorf("upload.chunked_threshold: %w", err)
	}
	chunk, err := c.ChunkSizeBytes()
	if err != nil {
		return fmt.Errorf("upload.chunk_size: %w", err)
	}
	if chunk <= 0 {
		return fmt.Errorf("upload.chunk_size must be positive")
	}
	if _, err := c.MaxPackageSizeBytes(); err != nil {
		return fmt.Errorf("upload.max_package_size: %w", err)
	}
	if c.Upload.ChunkConcurrency < 1 || c.Upload.ChunkConcurrency > 16 {
		return fmt.Errorf("upload.chunk_concurrency must be between 1 and 16")
	}
	if c.Queue.MaxSize < 1 {
		return fmt.Errorf("queue.max_size must be positive")
	}
	if c.Queue.MaxRetryAttempts < 1 {
		return fmt.Errorf("queue.max_retry_attempts must be positive")
	}
	if c.Lock.Expiry <= 0 {
		return fmt.Errorf("lock.expiry must be positive")
	}
	return nil
}

// ChunkedThresholdBytes returns the size above which uploads are chunked.
func (c *Config) ChunkedThresholdBytes() (int64, error) {
	return bytesize.Parse(c.Upload.ChunkedThreshold)
}

// ChunkSizeBytes returns the fixed chunk size.
func (c *Config) ChunkSizeBytes() (int64, error) {
	return bytesize.Parse(c.Upload.ChunkSize)
}

// MaxPackageSizeBytes returns the package size ceiling.
func (c *Config) MaxPackageSizeBytes() (int64, error) {
	return bytesize.Parse(c.Upload.MaxPackageSize)
}

// ResolveToken returns the auth token, reading token_file when set.
func (c *Config) ResolveToken() (string, error) {
	if c.Registry.Token != "" {
		return c.Registry.Token, nil
	}
	if c.Registry.TokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Registry.TokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return string(data[:len(data)-countTrailingNewlines(data)]), nil
}

func countTrailingNewlines(data []byte) int {
	n := 0
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] == '\n' || data[i] == '\r' {
			n++
			continue
		}
		break
	}
	return n
}
