package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the relay process configuration.
type Config struct {
	// Upstream holds the upstream catalog server root URL and account
	// credentials used for the server-to-server auth exchange (spec §4.1).
	Upstream UpstreamConfig `mapstructure:"upstream"`

	// Store selects and configures the metadata store backend (spec §3).
	Store StoreConfig `mapstructure:"store"`

	// ClientSync bounds the downstream client-sync protocol (spec §4.5).
	ClientSync ClientSyncConfig `mapstructure:"client_sync"`

	// Content configures the content HTTP surface serving package payloads.
	Content ContentConfig `mapstructure:"content"`

	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// UpstreamConfig holds the connection details for the upstream catalog
// server this relay syncs from.
type UpstreamConfig struct {
	// RootURL is the upstream catalog server's base URL (e.g. its
	// ServerSyncWebService endpoint root).
	RootURL string `mapstructure:"root_url"`

	// AccountName and AccountKey authenticate the server-to-server
	// GetAuthConfig/GetAuthorizationCookie exchange (spec §4.1).
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`

	// K8sSecretName, when set, resolves RootURL/AccountName/AccountKey from
	// a Kubernetes Secret instead of (or in addition to) the static values
	// above, via internal/infrastructure/k8sconfig.
	K8sNamespace  string `mapstructure:"k8s_namespace"`
	K8sSecretName string `mapstructure:"k8s_secret_name"`

	// RequestTimeout bounds a single upstream RPC.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// CookieLifetime caps the assumed validity window of an issued access
	// cookie; after it, the access cookie is re-exchanged (spec §4.1).
	CookieLifetime time.Duration `mapstructure:"cookie_lifetime"`

	// BatchParallelism bounds concurrent GetUpdateData batch fetches.
	BatchParallelism int `mapstructure:"batch_parallelism"`
}

// StoreBackend selects the metadata store implementation.
type StoreBackend string

const (
	// StoreBackendSQLite is the embedded, single-node store (lite profile).
	StoreBackendSQLite StoreBackend = "sqlite"

	// StoreBackendPostgres is the external, HA-capable store (standard profile).
	StoreBackendPostgres StoreBackend = "postgres"
)

// Profile represents the deployment profile type.
type Profile string

const (
	// ProfileLite is single-node deployment with an embedded SQLite store.
	// No external dependencies; persistent via PVC or local filesystem.
	ProfileLite Profile = "lite"

	// ProfileStandard is HA-ready deployment with Postgres (+ optional Redis
	// anchor cache shared across replicas).
	ProfileStandard Profile = "standard"
)

// StoreConfig holds metadata store backend configuration.
type StoreConfig struct {
	// Profile selects the deployment profile, which in turn constrains Backend.
	Profile Profile `mapstructure:"profile"`

	// Backend determines the store implementation ("sqlite" or "postgres").
	Backend StoreBackend `mapstructure:"backend"`

	// SQLitePath is the database file path for the lite profile.
	SQLitePath string `mapstructure:"sqlite_path"`

	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis optionally backs a shared delta-anchor / sync-cursor cache across
	// relay replicas; empty Addr disables it for either profile.
	Redis RedisConfig `mapstructure:"redis"`
}

// PostgresConfig holds Postgres connection configuration for the standard profile.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	URL             string        `mapstructure:"url"`
}

// RedisConfig holds Redis-related configuration for the shared anchor cache.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// ClientSyncConfig bounds the downstream client-sync protocol (spec §4.5).
type ClientSyncConfig struct {
	// MaxUpdatesPerResponse is the hard cap N on SyncUpdates response size.
	MaxUpdatesPerResponse int `mapstructure:"max_updates_per_response"`

	// MaxDriversPerRequest caps the number of driver candidates ranked per
	// device request (spec §4.6).
	MaxDriversPerRequest int `mapstructure:"max_drivers_per_request"`

	// SessionCacheSize is the LRU size for the per-session revision-index to
	// identity cache shared with the driver-candidate cache.
	SessionCacheSize int `mapstructure:"session_cache_size"`
}

// ContentConfig configures the content HTTP surface serving package payloads.
type ContentConfig struct {
	// BaseDir is the root directory package content is served from.
	BaseDir string `mapstructure:"base_dir"`

	// RootURL is the externally visible URL prefix content is served under
	// (e.g. "https://relay.example.com/microsoftupdate/content"). Empty
	// means content is not mirrored locally: extended-info file locations
	// fall back to each file's original upstream SourceURL (spec §4.5).
	RootURL string `mapstructure:"root_url"`

	// EnableRange is loaded from config but not read by the content server,
	// which answers HTTP Range and HEAD requests whatever its value.
	EnableRange bool `mapstructure:"enable_range"`

	// MaxRequestsPerSecond rate-limits the content surface as a whole: one
	// limiter is shared by all clients, with no per-client accounting.
	MaxRequestsPerSecond float64 `mapstructure:"max_requests_per_second"`
}

// ServerConfig holds HTTP server configuration shared by the client-sync and
// content surfaces.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// LogConfig holds logging-related configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig holds metrics-related configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables only.
func LoadConfigFromEnv() (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	// Upstream defaults
	viper.SetDefault("upstream.request_timeout", "30s")
	viper.SetDefault("upstream.cookie_lifetime", "8h")
	viper.SetDefault("upstream.batch_parallelism", 4)

	// Store defaults
	viper.SetDefault("store.profile", "standard")
	viper.SetDefault("store.backend", "postgres")
	viper.SetDefault("store.sqlite_path", "/data/catalogrelay.db")

	viper.SetDefault("store.postgres.host", "localhost")
	viper.SetDefault("store.postgres.port", 5432)
	viper.SetDefault("store.postgres.database", "catalogrelay")
	viper.SetDefault("store.postgres.username", "dev")
	viper.SetDefault("store.postgres.password", "dev")
	viper.SetDefault("store.postgres.ssl_mode", "disable")
	viper.SetDefault("store.postgres.max_connections", 25)
	viper.SetDefault("store.postgres.min_connections", 5)
	viper.SetDefault("store.postgres.max_conn_lifetime", "1h")
	viper.SetDefault("store.postgres.max_conn_idle_time", "30m")
	viper.SetDefault("store.postgres.connect_timeout", "10s")
	viper.SetDefault("store.postgres.query_timeout", "30s")

	viper.SetDefault("store.redis.addr", "")
	viper.SetDefault("store.redis.password", "")
	viper.SetDefault("store.redis.db", 0)
	viper.SetDefault("store.redis.pool_size", 10)
	viper.SetDefault("store.redis.min_idle_conns", 5)
	viper.SetDefault("store.redis.dial_timeout", "5s")
	viper.SetDefault("store.redis.read_timeout", "3s")
	viper.SetDefault("store.redis.write_timeout", "3s")
	viper.SetDefault("store.redis.max_retries", 3)
	viper.SetDefault("store.redis.min_retry_backoff", "100ms")
	viper.SetDefault("store.redis.max_retry_backoff", "500ms")

	// Client-sync defaults
	viper.SetDefault("client_sync.max_updates_per_response", 50)
	viper.SetDefault("client_sync.max_drivers_per_request", 10)
	viper.SetDefault("client_sync.session_cache_size", 4096)

	// Content defaults
	viper.SetDefault("content.base_dir", "/data/content")
	viper.SetDefault("content.root_url", "")
	viper.SetDefault("content.enable_range", true)
	viper.SetDefault("content.max_requests_per_second", 50.0)

	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.filename", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 8080)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateProfile(); err != nil {
		return fmt.Errorf("profile validation failed: %w", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if c.Store.Profile == ProfileStandard {
		if c.Store.Postgres.Host == "" {
			return fmt.Errorf("postgres host cannot be empty (required for standard profile)")
		}
		if c.Store.Postgres.Database == "" {
			return fmt.Errorf("postgres database cannot be empty (required for standard profile)")
		}
	}

	if c.Upstream.RootURL == "" && c.Upstream.K8sSecretName == "" {
		return fmt.Errorf("upstream.root_url or upstream.k8s_secret_name must be set")
	}

	if c.ClientSync.MaxUpdatesPerResponse <= 0 {
		return fmt.Errorf("client_sync.max_updates_per_response must be positive")
	}

	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}

	return nil
}

// validateProfile validates deployment profile configuration.
func (c *Config) validateProfile() error {
	if c.Store.Profile != ProfileLite && c.Store.Profile != ProfileStandard {
		return fmt.Errorf("invalid deployment profile: %s (must be 'lite' or 'standard')", c.Store.Profile)
	}

	if c.Store.Backend != StoreBackendSQLite && c.Store.Backend != StoreBackendPostgres {
		return fmt.Errorf("invalid store backend: %s (must be 'sqlite' or 'postgres')", c.Store.Backend)
	}

	switch c.Store.Profile {
	case ProfileLite:
		if c.Store.Backend != StoreBackendSQLite {
			return fmt.Errorf("lite profile requires store.backend='sqlite' (got '%s')", c.Store.Backend)
		}
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("lite profile requires store.sqlite_path (e.g., /data/catalogrelay.db)")
		}

	case ProfileStandard:
		if c.Store.Backend != StoreBackendPostgres {
			return fmt.Errorf("standard profile requires store.backend='postgres' (got '%s')", c.Store.Backend)
		}
	}

	return nil
}

// GetDatabaseURL constructs the Postgres connection URL from configuration.
func (c *Config) GetDatabaseURL() string {
	if c.Store.Postgres.URL != "" {
		return c.Store.Postgres.URL
	}

	sslMode := c.Store.Postgres.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Store.Postgres.Username,
		c.Store.Postgres.Password,
		c.Store.Postgres.Host,
		c.Store.Postgres.Port,
		c.Store.Postgres.Database,
		sslMode,
	)
}

// IsLiteProfile returns true if running in the lite deployment profile.
func (c *Config) IsLiteProfile() bool {
	return c.Store.Profile == ProfileLite
}

// IsStandardProfile returns true if running in the standard deployment profile.
func (c *Config) IsStandardProfile() bool {
	return c.Store.Profile == ProfileStandard
}

// UsesSQLiteStore returns true if using the embedded SQLite store.
func (c *Config) UsesSQLiteStore() bool {
	return c.Store.Backend == StoreBackendSQLite
}

// UsesPostgresStore returns true if using the Postgres store.
func (c *Config) UsesPostgresStore() bool {
	return c.Store.Backend == StoreBackendPostgres
}

// UsesRedisCache returns true if a Redis anchor cache address is configured.
func (c *Config) UsesRedisCache() bool {
	return c.Store.Redis.Addr != ""
}

// GetProfileName returns a human-readable profile name.
func (c *Config) GetProfileName() string {
	switch c.Store.Profile {
	case ProfileLite:
		return "Lite (Embedded SQLite)"
	case ProfileStandard:
		return "Standard (Postgres, HA-Ready)"
	default:
		return string(c.Store.Profile)
	}
}
