package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every STORAGEIO_ env var that Load() reads.
var allConfigKeys = []string{
	"STORAGEIO_LISTEN_ADDR",
	"STORAGEIO_DB_PATH",
	"STORAGEIO_SECRET_KEY",
	"STORAGEIO_LOCAL_ROOT",
	"STORAGEIO_API_TOKEN",
	"STORAGEIO_MAX_UPLOAD_BYTES",
	"STORAGEIO_MAX_CONCURRENT_UPLOADS",
	"STORAGEIO_GITHUB_API_URL",
}

var testSecretHex = strings.Repeat("ab", 32)

// isolateConfigEnv saves and unsets all STORAGEIO_ env vars so tests don't
// inherit values from the host environment (e.g. a running dev server).
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	root := t.TempDir()
	t.Setenv("STORAGEIO_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("STORAGEIO_DB_PATH", "/tmp/storageio.db")
	t.Setenv("STORAGEIO_SECRET_KEY", testSecretHex)
	t.Setenv("STORAGEIO_LOCAL_ROOT", root)
	t.Setenv("STORAGEIO_API_TOKEN", "s3cret")
	t.Setenv("STORAGEIO_MAX_UPLOAD_BYTES", "10MB")
	t.Setenv("STORAGEIO_MAX_CONCURRENT_UPLOADS", "8")
	t.Setenv("STORAGEIO_GITHUB_API_URL", "https://ghe.example.com/api/v3/")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/storageio.db", cfg.DBPath)
	assert.True(t, cfg.Persistent())
	assert.Len(t, cfg.SecretKey, 32)
	assert.Equal(t, byte(0xab), cfg.SecretKey[0])
	assert.Equal(t, root, cfg.LocalRoot)
	assert.True(t, cfg.LocalEnabled())
	assert.Equal(t, "s3cret", cfg.APIToken)
	assert.Equal(t, int64(10_000_000), cfg.MaxUploadBytes)
	assert.Equal(t, 8, cfg.MaxConcurrentUploads)
	assert.Equal(t, "https://ghe.example.com/api/v3/", cfg.GitHubAPIURL)
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.False(t, cfg.Persistent())
	assert.False(t, cfg.LocalEnabled())
	assert.Nil(t, cfg.SecretKey)
	assert.Empty(t, cfg.APIToken)
	assert.Equal(t, int64(64<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 64, cfg.MaxConcurrentUploads)
	assert.Empty(t, cfg.GitHubAPIURL)
}

func TestLoad_RelativeLocalRootIsMadeAbsolute(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("STORAGEIO_LOCAL_ROOT", "data")

	cfg, err := Load()

	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.LocalRoot))
	assert.Equal(t, "data", filepath.Base(cfg.LocalRoot))
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"db path without key", map[string]string{"STORAGEIO_DB_PATH": "x.db"}, "STORAGEIO_SECRET_KEY is required"},
		{"key not hex", map[string]string{"STORAGEIO_SECRET_KEY": strings.Repeat("zz", 32)}, "STORAGEIO_SECRET_KEY"},
		{"key too short", map[string]string{"STORAGEIO_SECRET_KEY": "abcd"}, "STORAGEIO_SECRET_KEY"},
		{"bad upload size", map[string]string{"STORAGEIO_MAX_UPLOAD_BYTES": "lots"}, "STORAGEIO_MAX_UPLOAD_BYTES"},
		{"zero upload size", map[string]string{"STORAGEIO_MAX_UPLOAD_BYTES": "0"}, "STORAGEIO_MAX_UPLOAD_BYTES"},
		{"bad concurrency", map[string]string{"STORAGEIO_MAX_CONCURRENT_UPLOADS": "0"}, "STORAGEIO_MAX_CONCURRENT_UPLOADS"},
		{"relative github url", map[string]string{"STORAGEIO_GITHUB_API_URL": "ghe/api"}, "STORAGEIO_GITHUB_API_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
