// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
)

const (
	defaultListenAddr           = "127.0.0.1:8080"
	defaultMaxUploadBytes       = 64 << 20
	defaultMaxConcurrentUploads = 64
	secretKeyLen                = 32
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr           string
	DBPath               string
	SecretKey            []byte
	LocalRoot            string
	APIToken             string
	MaxUploadBytes       int64
	MaxConcurrentUploads int
	GitHubAPIURL         string
}

// Persistent reports whether credentials are kept in a SQLite database
// rather than in process memory.
func (c *Config) Persistent() bool {
	return c.DBPath != ""
}

// LocalEnabled reports whether the local filesystem provider is served.
func (c *Config) LocalEnabled() bool {
	return c.LocalRoot != ""
}

// Load reads configuration from environment variables and returns a validated Config.
// Every variable is optional:
//
//	STORAGEIO_LISTEN_ADDR             (127.0.0.1:8080)
//	STORAGEIO_DB_PATH                 empty keeps credentials in memory
//	STORAGEIO_SECRET_KEY              64 hex chars, required with a DB path
//	STORAGEIO_LOCAL_ROOT              empty disables the local provider
//	STORAGEIO_API_TOKEN               empty disables bearer auth
//	STORAGEIO_MAX_UPLOAD_BYTES        (64 MiB), accepts "10MB", "1GiB"
//	STORAGEIO_MAX_CONCURRENT_UPLOADS  (64)
//	STORAGEIO_GITHUB_API_URL          GitHub Enterprise base URL
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:           defaultListenAddr,
		MaxUploadBytes:       defaultMaxUploadBytes,
		MaxConcurrentUploads: defaultMaxConcurrentUploads,
	}

	if v, ok := os.LookupEnv("STORAGEIO_LISTEN_ADDR"); ok && v != "" {
		cfg.ListenAddr = v
	}
	cfg.DBPath = os.Getenv("STORAGEIO_DB_PATH")
	cfg.APIToken = os.Getenv("STORAGEIO_API_TOKEN")

	if v := os.Getenv("STORAGEIO_SECRET_KEY"); v != "" {
		key, err := hex.DecodeString(v)
		if err != nil || len(key) != secretKeyLen {
			return nil, fmt.Errorf("STORAGEIO_SECRET_KEY must be %d hex characters", secretKeyLen*2)
		}
		cfg.SecretKey = key
	}
	if cfg.Persistent() && cfg.SecretKey == nil {
		return nil, fmt.Errorf("STORAGEIO_SECRET_KEY is required when STORAGEIO_DB_PATH is set")
	}

	if v := os.Getenv("STORAGEIO_LOCAL_ROOT"); v != "" {
		root, err := filepath.Abs(v)
		if err != nil {
			return nil, fmt.Errorf("STORAGEIO_LOCAL_ROOT %q: %w", v, err)
		}
		cfg.LocalRoot = root
	}

	if v := os.Getenv("STORAGEIO_MAX_UPLOAD_BYTES"); v != "" {
		n, err := humanize.ParseBytes(v)
		if err != nil {
			return nil, fmt.Errorf("STORAGEIO_MAX_UPLOAD_BYTES has invalid size %q: %w", v, err)
		}
		if n == 0 || n > 1<<40 {
			return nil, fmt.Errorf("STORAGEIO_MAX_UPLOAD_BYTES %q is out of range", v)
		}
		cfg.MaxUploadBytes = int64(n)
	}

	if v := os.Getenv("STORAGEIO_MAX_CONCURRENT_UPLOADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("STORAGEIO_MAX_CONCURRENT_UPLOADS must be a positive integer, got %q", v)
		}
		cfg.MaxConcurrentUploads = n
	}

	if v := os.Getenv("STORAGEIO_GITHUB_API_URL"); v != "" {
		u, err := url.Parse(v)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("STORAGEIO_GITHUB_API_URL %q is not an absolute URL", v)
		}
		cfg.GitHubAPIURL = v
	}

	return cfg, nil
}
