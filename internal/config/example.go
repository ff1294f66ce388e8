package config

import (
	"fmt"
	"log"
	"os"
)

// ExampleLoadConfig demonstrates how to load configuration
func ExampleLoadConfig() {
	cfg, err := LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf("Upstream: %s\n", cfg.Upstream.RootURL)
	fmt.Printf("Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Store: %s (%s)\n", cfg.Store.Backend, cfg.GetProfileName())
	fmt.Printf("Redis: %s\n", cfg.Store.Redis.Addr)
}

// ExampleLoadConfigFromEnv demonstrates loading config from environment only
func ExampleLoadConfigFromEnv() {
	os.Setenv("SERVER_PORT", "9090")
	os.Setenv("STORE_POSTGRES_HOST", "prod-db.example.com")
	os.Setenv("UPSTREAM_ROOT_URL", "https://upstream.example.com/ServerSyncWebService")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config from env: %v", err)
	}

	fmt.Printf("Server port from env: %d\n", cfg.Server.Port)
	fmt.Printf("Postgres host from env: %s\n", cfg.Store.Postgres.Host)
	fmt.Printf("Upstream root URL from env: %s\n", cfg.Upstream.RootURL)
}

// ExampleConfigValidation demonstrates config validation
func ExampleConfigValidation() {
	cfg := &Config{
		Upstream: UpstreamConfig{
			RootURL: "https://upstream.example.com/ServerSyncWebService",
		},
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Store: StoreConfig{
			Profile: ProfileStandard,
			Backend: StoreBackendPostgres,
			Postgres: PostgresConfig{
				Host:     "localhost",
				Database: "catalogrelay",
			},
		},
		ClientSync: ClientSyncConfig{
			MaxUpdatesPerResponse: 50,
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	fmt.Println("Configuration is valid!")
}

// ExampleGetDatabaseURL demonstrates database URL construction
func ExampleGetDatabaseURL() {
	cfg := &Config{
		Store: StoreConfig{
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "catalogrelay",
				Username: "dev",
				Password: "dev",
				SSLMode:  "disable",
			},
		},
	}

	url := cfg.GetDatabaseURL()
	fmt.Printf("Database URL: %s\n", url)
}

// ExampleProfileHelpers demonstrates deployment-profile helper methods
func ExampleProfileHelpers() {
	liteCfg := &Config{
		Store: StoreConfig{
			Profile: ProfileLite,
			Backend: StoreBackendSQLite,
		},
	}

	fmt.Printf("Is Lite: %t\n", liteCfg.IsLiteProfile())
	fmt.Printf("Uses SQLite: %t\n", liteCfg.UsesSQLiteStore())
	fmt.Printf("Uses Redis cache: %t\n", liteCfg.UsesRedisCache())

	standardCfg := &Config{
		Store: StoreConfig{
			Profile: ProfileStandard,
			Backend: StoreBackendPostgres,
			Redis:   RedisConfig{Addr: "redis:6379"},
		},
	}

	fmt.Printf("Is Standard: %t\n", standardCfg.IsStandardProfile())
	fmt.Printf("Uses Postgres: %t\n", standardCfg.UsesPostgresStore())
	fmt.Printf("Uses Redis cache: %t\n", standardCfg.UsesRedisCache())
}

// ExampleConfigWithDefaults demonstrates loading config with defaults
func ExampleConfigWithDefaults() {
	os.Setenv("UPSTREAM_ROOT_URL", "https://upstream.example.com/ServerSyncWebService")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf("Default server port: %d\n", cfg.Server.Port)
	fmt.Printf("Default store backend: %s\n", cfg.Store.Backend)
	fmt.Printf("Default max updates per response: %d\n", cfg.ClientSync.MaxUpdatesPerResponse)
}

// ExampleConfigOverride demonstrates how environment variables override file values
func ExampleConfigOverride() {
	os.Setenv("SERVER_PORT", "9090")
	os.Setenv("STORE_POSTGRES_HOST", "env-override.example.com")
	os.Setenv("STORE_REDIS_ADDR", "env-redis.example.com:6380")

	cfg, err := LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf("Server port (env override): %d\n", cfg.Server.Port)
	fmt.Printf("Postgres host (env override): %s\n", cfg.Store.Postgres.Host)
	fmt.Printf("Redis addr (env override): %s\n", cfg.Store.Redis.Addr)
}
