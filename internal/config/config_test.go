package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/alexjbarnes/authgate/internal/errors"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"AUTHGATE_REFRESH_URL",
		"AUTHGATE_LISTEN_ADDR",
		"AUTHGATE_ROUTES",
		"AUTHGATE_STORE",
		"AUTHGATE_STORE_PATH",
		"AUTHGATE_REDIS_ADDR",
		"AUTHGATE_REDIS_DB",
		"AUTHGATE_REDIS_PREFIX",
		"AUTHGATE_SEAL_PASSPHRASE",
		"AUTHGATE_SEAL_SALT",
		"AUTHGATE_DISABLE_EXPIRY_CHECK",
		"ENVIRONMENT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// setMinimalEnv sets the env vars without which Load fails.
func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTHGATE_REFRESH_URL", "https://auth.example.com/token")
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com/token", cfg.RefreshURL)
	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, "routes.yaml", cfg.RoutesPath)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.False(t, cfg.DisableExpiryCheck)
	assert.False(t, cfg.Sealed())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_MissingRefreshURL(t *testing.T) {
	clearConfigEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTHGATE_REFRESH_URL")
}

func TestLoad_RelativeRefreshURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("AUTHGATE_REFRESH_URL", "/token")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute URL")
}

func TestLoad_UnknownStoreBackend(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("AUTHGATE_STORE", "etcd")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
}

func TestLoad_SealRequiresBothVars(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("AUTHGATE_SEAL_PASSPHRASE", "correct horse battery staple")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTHGATE_SEAL_SALT")
}

func TestLoad_SealedWhenBothSet(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("AUTHGATE_SEAL_PASSPHRASE", "correct horse battery staple")
	t.Setenv("AUTHGATE_SEAL_SALT", "per-install-salt")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Sealed())
}

func TestLoad_StorePathResolvedToAbsolute(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("AUTHGATE_STORE", StoreBolt)
	t.Setenv("AUTHGATE_STORE_PATH", "data/creds.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.StorePath))
}

func TestLoad_Production(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

// --- DefaultStorePath ---

func TestDefaultStorePath(t *testing.T) {
	boltPath, err := DefaultStorePath(StoreBolt)
	require.NoError(t, err)
	assert.Equal(t, "credentials.db", filepath.Base(boltPath))

	filePath, err := DefaultStorePath(StoreFile)
	require.NoError(t, err)
	assert.Equal(t, "credentials.json", filepath.Base(filePath))
}

// --- LoadRoutes ---

func writeRoutes(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadRoutes(t *testing.T) {
	path := writeRoutes(t, `
routes:
  - prefix: /api
    upstream: https://api.example.com
  - prefix: /billing
    upstream: https://billing.example.com/v2
`)

	routes, err := LoadRoutes(path)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, "/api", routes[0].Prefix)
	assert.Equal(t, "https://api.example.com", routes[0].Upstream)
	assert.Equal(t, "/billing", routes[1].Prefix)
}

func TestLoadRoutes_Empty(t *testing.T) {
	path := writeRoutes(t, "routes: []\n")

	_, err := LoadRoutes(path)
	require.ErrorIs(t, err, errs.ErrNoRoutes)
}

func TestLoadRoutes_MissingFile(t *testing.T) {
	_, err := LoadRoutes(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRoutes_RelativePrefix(t *testing.T) {
	path := writeRoutes(t, `
routes:
  - prefix: api
    upstream: https://api.example.com
`)

	_, err := LoadRoutes(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must start with '/'")
}

func TestLoadRoutes_DuplicatePrefix(t *testing.T) {
	path := writeRoutes(t, `
routes:
  - prefix: /api
    upstream: https://one.example.com
  - prefix: /api
    upstream: https://two.example.com
`)

	_, err := LoadRoutes(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate prefix")
}

func TestLoadRoutes_RelativeUpstream(t *testing.T) {
	path := writeRoutes(t, `
routes:
  - prefix: /api
    upstream: api.example.com
`)

	_, err := LoadRoutes(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute URL")
}

func TestLoadRoutes_MalformedYAML(t *testing.T) {
	path := writeRoutes(t, "routes: [unclosed\n")

	_, err := LoadRoutes(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing route table")
}
