package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/store/postgres"
	"github.com/mscatalog/catalogrelay/internal/catalog/store/rediscache"
	"github.com/mscatalog/catalogrelay/internal/catalog/store/sqlite"
	"github.com/mscatalog/catalogrelay/internal/config"
)

// ErrInvalidProfile reports a config.Profile/config.StoreBackend
// combination the factory does not know how to build.
type ErrInvalidProfile struct {
	Profile string
	Backend string
	Cause   error
}

func (e *ErrInvalidProfile) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid store profile %q/backend %q: %v", e.Profile, e.Backend, e.Cause)
	}
	return fmt.Sprintf("invalid store profile %q/backend %q", e.Profile, e.Backend)
}

func (e *ErrInvalidProfile) Unwrap() error { return e.Cause }

// ErrStoreInitFailed wraps a backend's initialization error with the
// profile/backend context that produced it.
type ErrStoreInitFailed struct {
	Backend string
	Cause   error
}

func (e *ErrStoreInitFailed) Error() string {
	return fmt.Sprintf("store initialization failed (backend=%s): %v", e.Backend, e.Cause)
}

func (e *ErrStoreInitFailed) Unwrap() error { return e.Cause }

// decoderFunc is the XML decoder every backend needs wired in before Get
// calls can rehydrate a typed identity.Update from stored bytes.
type decoderFunc = func([]byte, identity.PackageIdentity) (*identity.Update, error)

// New builds the store pair selected by cfg.Store.Profile: an embedded
// SQLite store for the lite profile, or a pooled Postgres store — optionally
// fronted by a shared Redis anchor cache — for the standard profile. decode
// is the XML decoder (xmlcodec.Decode in production) used to rehydrate
// stored payloads on Get.
//
// The returned MetadataStore is what callers write through and close; the
// returned IndexReader is always the concrete backend (never the Redis
// wrapper, which only fronts anchor lookups) since every derived index read
// goes straight to the backing store regardless of anchor caching.
func New(ctx context.Context, cfg *config.Config, decode decoderFunc, logger *slog.Logger) (MetadataStore, IndexReader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, &ErrInvalidProfile{Profile: string(cfg.Store.Profile), Backend: string(cfg.Store.Backend), Cause: err}
	}

	logger.Info("initializing metadata store", "profile", cfg.Store.Profile, "backend", cfg.Store.Backend)

	switch {
	case cfg.IsLiteProfile():
		sqlite.SetDecoder(decode)
		s, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, &ErrStoreInitFailed{Backend: "sqlite", Cause: err}
		}
		logger.Info("sqlite metadata store ready", "path", s.Path())
		return s, s, nil

	case cfg.IsStandardProfile():
		postgres.SetDecoder(decode)
		pgCfg := postgres.Config{
			URL:             cfg.GetDatabaseURL(),
			MaxConns:        int32(cfg.Store.Postgres.MaxConnections),
			MinConns:        int32(cfg.Store.Postgres.MinConnections),
			MaxConnLifetime: cfg.Store.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Store.Postgres.MaxConnIdleTime,
			ConnectTimeout:  cfg.Store.Postgres.ConnectTimeout,
		}
		pgStore, err := postgres.Open(ctx, pgCfg, logger)
		if err != nil {
			return nil, nil, &ErrStoreInitFailed{Backend: "postgres", Cause: err}
		}

		if !cfg.UsesRedisCache() {
			return pgStore, pgStore, nil
		}

		anchorCache, err := rediscache.New(rediscache.Config{
			Addr:            cfg.Store.Redis.Addr,
			Password:        cfg.Store.Redis.Password,
			DB:              cfg.Store.Redis.DB,
			PoolSize:        cfg.Store.Redis.PoolSize,
			MinIdleConns:    cfg.Store.Redis.MinIdleConns,
			DialTimeout:     cfg.Store.Redis.DialTimeout,
			ReadTimeout:     cfg.Store.Redis.ReadTimeout,
			WriteTimeout:    cfg.Store.Redis.WriteTimeout,
			MaxRetries:      cfg.Store.Redis.MaxRetries,
			MinRetryBackoff: cfg.Store.Redis.MinRetryBackoff,
			MaxRetryBackoff: cfg.Store.Redis.MaxRetryBackoff,
			TTL:             cfg.Upstream.CookieLifetime,
		}, logger)
		if err != nil {
			logger.Warn("redis anchor cache unavailable, continuing without it", "error", err)
			return pgStore, pgStore, nil
		}
		logger.Info("postgres metadata store ready with redis anchor cache")
		return rediscache.NewCachedStore(pgStore, anchorCache), pgStore, nil

	default:
		return nil, nil, &ErrInvalidProfile{
			Profile: string(cfg.Store.Profile),
			Backend: string(cfg.Store.Backend),
			Cause:   fmt.Errorf("unknown profile"),
		}
	}
}
