package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Metadata repository backends.
const (
	StateBolt     = "bolt"
	StateSQLite   = "sqlite"
	StatePostgres = "postgres"
)

// Remote store backends.
const (
	StoreS3    = "s3"
	StoreLocal = "local"
)

// Config holds all environment-based configuration for bucket-sync.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// LogLevel overrides the environment's default level when set.
	LogLevel string `env:"LOG_LEVEL"`

	// Metadata repository. STATE_PATH is the bolt or sqlite file and
	// defaults to ~/.bucket-sync/<backend file>.
	StateBackend string `env:"STATE_BACKEND" envDefault:"bolt"`
	StatePath    string `env:"STATE_PATH"`
	DatabaseURL  string `env:"DATABASE_URL"`

	// Remote store.
	StoreBackend  string `env:"STORE_BACKEND" envDefault:"s3"`
	S3Endpoint    string `env:"S3_ENDPOINT"`
	S3Bucket      string `env:"S3_BUCKET"`
	S3Region      string `env:"S3_REGION" envDefault:"us-east-1"`
	S3AccessKey   string `env:"S3_ACCESS_KEY"`
	S3SecretKey   string `env:"S3_SECRET_KEY"`
	S3PathStyle   bool   `env:"S3_PATH_STYLE" envDefault:"true"`
	LocalStoreDir string `env:"LOCAL_STORE_DIR"`

	// Daemon behaviour. A zero SyncInterval disables periodic passes and
	// an empty WatchDir disables the upload watcher.
	WatchDir          string        `env:"WATCH_DIR"`
	SyncInterval      time.Duration `env:"SYNC_INTERVAL" envDefault:"5m"`
	DownloadDir       string        `env:"DOWNLOAD_DIR" envDefault:"./downloads"`
	UploadConcurrency int           `env:"UPLOAD_CONCURRENCY" envDefault:"4"`

	// MCP server settings (required when MCP is enabled)
	EnableMCP     bool   `env:"ENABLE_MCP" envDefault:"false"`
	MCPListenAddr string `env:"MCP_LISTEN_ADDR" envDefault:":8090"`
	MCPAPIKeyHash string `env:"MCP_API_KEY_HASH"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.StateBackend = strings.ToLower(strings.TrimSpace(cfg.StateBackend))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath == "" && cfg.StateBackend != StatePostgres {
		path, err := DefaultStatePath(cfg.StateBackend)
		if err != nil {
			return nil, err
		}

		cfg.StatePath = path
	}

	// Directories are made absolute once at startup so the watcher and
	// the download path checks compare like with like.
	for _, dir := range []*string{&cfg.WatchDir, &cfg.DownloadDir, &cfg.LocalStoreDir} {
		if *dir == "" {
			continue
		}

		abs, err := filepath.Abs(*dir)
		if err != nil {
			return nil, fmt.Errorf("resolving %s to absolute path: %w", *dir, err)
		}

		*dir = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StateBackend {
	case StateBolt, StateSQLite:
	case StatePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STATE_BACKEND is postgres")
		}
	default:
		return fmt.Errorf("STATE_BACKEND must be one of bolt, sqlite or postgres, got %q", c.StateBackend)
	}

	switch c.StoreBackend {
	case StoreS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORE_BACKEND is s3")
		}

		if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
		}
	case StoreLocal:
		if c.LocalStoreDir == "" {
			return fmt.Errorf("LOCAL_STORE_DIR is required when STORE_BACKEND is local")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be s3 or local, got %q", c.StoreBackend)
	}

	if c.SyncInterval < 0 {
		return fmt.Errorf("SYNC_INTERVAL must not be negative")
	}

	if c.UploadConcurrency < 1 {
		return fmt.Errorf("UPLOAD_CONCURRENCY must be at least 1")
	}

	if c.EnableMCP {
		if c.MCPAPIKeyHash == "" {
			return fmt.Errorf("MCP_API_KEY_HASH is required when MCP is enabled (generate one with bucket-sync hash-password)")
		}

		if !strings.HasPrefix(c.MCPAPIKeyHash, "$2") {
			return fmt.Errorf("MCP_API_KEY_HASH must be a bcrypt hash")
		}
	}

	return nil
}

// DefaultStatePath returns the default database file for a local state
// backend: ~/.bucket-sync/state.db for bolt, ~/.bucket-sync/cloud_store.db
// for sqlite.
func DefaultStatePath(backend string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	file := "state.db"
	if backend == StateSQLite {
		file = "cloud_store.db"
	}

	return filepath.Join(home, ".bucket-sync", file), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
