package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	errs "github.com/alexjbarnes/authgate/internal/errors"
)

// Store backends selectable via AUTHGATE_STORE.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreBolt   = "bolt"
	StoreRedis  = "redis"
)

// Config holds all environment-based configuration for authgate.
type Config struct {
	// Refresh endpoint the gateway posts refresh credentials to.
	RefreshURL string `env:"AUTHGATE_REFRESH_URL"`

	// Address the sidecar listens on.
	ListenAddr string `env:"AUTHGATE_LISTEN_ADDR" envDefault:":8090"`

	// Path to the YAML route table mapping prefixes to upstreams.
	RoutesPath string `env:"AUTHGATE_ROUTES" envDefault:"routes.yaml"`

	// Credential store backend: memory, file, bolt, or redis.
	StoreBackend string `env:"AUTHGATE_STORE" envDefault:"memory"`

	// Path for the file and bolt backends. When empty it defaults to
	// a file under ~/.authgate/.
	StorePath string `env:"AUTHGATE_STORE_PATH"`

	// Redis backend settings.
	RedisAddr   string `env:"AUTHGATE_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int    `env:"AUTHGATE_REDIS_DB" envDefault:"0"`
	RedisPrefix string `env:"AUTHGATE_REDIS_PREFIX" envDefault:"authgate"`

	// When both are set, stored credential values are encrypted at rest
	// with a key derived from the passphrase.
	SealPassphrase string `env:"AUTHGATE_SEAL_PASSPHRASE"`
	SealSalt       string `env:"AUTHGATE_SEAL_SALT"`

	// Skips the pre-send expiry peek for JWT access credentials.
	DisableExpiryCheck bool `env:"AUTHGATE_DISABLE_EXPIRY_CHECK" envDefault:"false"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
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

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StorePath != "" {
		absPath, err := filepath.Abs(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("resolving store path to absolute path: %w", err)
		}

		cfg.StorePath = absPath
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.RefreshURL == "" {
		return fmt.Errorf("AUTHGATE_REFRESH_URL is required")
	}

	u, err := url.Parse(c.RefreshURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("AUTHGATE_REFRESH_URL must be an absolute URL")
	}

	switch c.StoreBackend {
	case StoreMemory, StoreFile, StoreBolt:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("AUTHGATE_REDIS_ADDR is required when the redis store is selected")
		}
	default:
		return fmt.Errorf("unknown store backend %q (expected memory, file, bolt, or redis)", c.StoreBackend)
	}

	// Sealing needs both halves of the key material: a passphrase alone
	// would need a fixed salt, and a salt alone does nothing.
	if (c.SealPassphrase == "") != (c.SealSalt == "") {
		return fmt.Errorf("AUTHGATE_SEAL_PASSPHRASE and AUTHGATE_SEAL_SALT must be set together")
	}

	return nil
}

// Sealed reports whether at-rest credential encryption is configured.
func (c *Config) Sealed() bool {
	return c.SealPassphrase != ""
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DefaultStorePath returns the default on-disk location for the given
// backend: ~/.authgate/credentials.db for bolt, ~/.authgate/credentials.json
// for file.
func DefaultStorePath(backend string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	name := "credentials.json"
	if backend == StoreBolt {
		name = "credentials.db"
	}

	return filepath.Join(home, ".authgate", name), nil
}

// Route maps a request path prefix to an upstream base URL.
type Route struct {
	Prefix   string `yaml:"prefix"`
	Upstream string `yaml:"upstream"`
}

type routeFile struct {
	Routes []Route `yaml:"routes"`
}

// LoadRoutes reads the YAML route table at path. At least one route is
// required, prefixes must be absolute, and upstreams must be absolute
// URLs.
func LoadRoutes(path string) ([]Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading route table: %w", err)
	}

	var rf routeFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing route table: %w", err)
	}

	if len(rf.Routes) == 0 {
		return nil, errs.ErrNoRoutes
	}

	seen := make(map[string]struct{})

	for i, r := range rf.Routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return nil, fmt.Errorf("route %d: prefix %q must start with '/'", i+1, r.Prefix)
		}

		if _, dup := seen[r.Prefix]; dup {
			return nil, fmt.Errorf("route %d: duplicate prefix %q", i+1, r.Prefix)
		}

		seen[r.Prefix] = struct{}{}

		u, err := url.Parse(r.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("route %d: upstream %q must be an absolute URL", i+1, r.Upstream)
		}
	}

	return rf.Routes, nil
}
