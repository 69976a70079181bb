// Package cli wires the configuration, adapters, and publishing pipeline into
// the taptik command tree.
package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/adapters/out/fsblob"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/adapters/out/httpapi"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/adapters/out/httpblob"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/adapters/out/sqlitestore"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/adapters/out/staticauth"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/boundaries/out"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/config"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/logging"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/usecase/publish"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/usecase/queue"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/usecase/quota"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/usecase/safety"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/usecase/transfer"
	"github.com/bulgogi-whopper/taptik-cli-sub005/pkg/lock"
)

// App holds everything a command needs. Init builds it after flag parsing so
// --config is honored.
type App struct {
	Config   *config.Config
	Pipeline *publish.Pipeline
	Sessions out.SessionProvider
	Registry out.RegistryStore
	Locks    *lock.FileLock

	closers []io.Closer
}

// NewApp returns an empty app; call Init before using it.
func NewApp() *App {
	return &App{}
}

// Init loads the configuration and wires the full pipeline. Local mode uses
// the filesystem blob store and sqlite registry; remote mode talks to the
// registry API. forceLocal overrides the configured mode.
func (a *App) Init(configPath string, forceLocal bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if forceLocal {
		cfg.Registry.Local = true
	}
	a.Config = cfg
	logging.GetLogger().SetLogLevel(cfg.Logging.Level)

	var (
		blobs    out.BlobStore
		registry out.RegistryStore
		sessions out.SessionProvider
		subs     out.SubscriptionLookup
		ledger   out.UsageLedger
	)
	if cfg.Registry.Local {
		store, err := sqlitestore.Open(filepath.Join(cfg.Registry.DataDir, "registry.db"))
		if err != nil {
			return fmt.Errorf("failed to open local registry: %w", err)
		}
		a.closers = append(a.closers, store)
		fs, err := fsblob.New(cfg.Registry.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open local blob store: %w", err)
		}
		blobs, registry, subs, ledger = fs, store, store, store
		sessions = staticauth.New("local", "local@localhost")
	} else {
		token, err := cfg.ResolveToken()
		if err != nil {
			return err
		}
		api := httpapi.New(cfg.Registry.BaseURL, token)
		blobs = httpblob.New(cfg.Registry.BaseURL, token,
			httpblob.WithTimeout(cfg.Upload.Timeout))
		registry, sessions, subs, ledger = api, api, api, api
	}
	a.Sessions = sessions
	a.Registry = registry

	locks, err := lock.New(cfg.LockDir(), lock.WithExpiry(cfg.Lock.Expiry))
	if err != nil {
		return fmt.Errorf("failed to set up operation locks: %w", err)
	}
	a.Locks = locks

	chunkedThreshold, err := cfg.ChunkedThresholdBytes()
	if err != nil {
		return err
	}
	chunkSize, err := cfg.ChunkSizeBytes()
	if err != nil {
		return err
	}
	chunkSessions, err := transfer.NewSessionStore(cfg.SessionFile())
	if err != nil {
		return fmt.Errorf("failed to load upload sessions: %w", err)
	}
	transferManager := transfer.New(blobs, registry, chunkSessions, transfer.Config{
		ChunkedThreshold: chunkedThreshold,
		ChunkSize:        chunkSize,
		ChunkConcurrency: cfg.Upload.ChunkConcurrency,
	})

	publisher := publish.New(
		sessions,
		subs,
		registry,
		safety.New(),
		quota.New(ledger, subs),
		transferManager,
		locks,
	)

	q, err := queue.New(cfg.QueueFile(), queue.Config{
		MaxSize:          cfg.Queue.MaxSize,
		MaxRetryAttempts: cfg.Queue.MaxRetryAttempts,
		RetryBase:        cfg.Queue.RetryBase,
		RetryMaxDelay:    cfg.Queue.RetryMaxDelay,
		FlushDebounce:    cfg.Queue.FlushDebounce,
		SyncInterval:     cfg.Queue.SyncInterval,
	}, queue.WithLock(locks))
	if err != nil {
		return err
	}

	a.Pipeline = publish.NewPipeline(publisher, q)
	return nil
}

// Close flushes the queue and releases held resources.
func (a *App) Close() error {
	var first error
	if a.Pipeline != nil {
		first = a.Pipeline.Close()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
