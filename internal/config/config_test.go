package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	LoadDefault()

	assert.Equal(t, "info", Logger().Level)
	assert.Equal(t, "json", Logger().Format)
	assert.Equal(t, 8000, Http().Port)
	assert.Equal(t, []string{"http://localhost:3000"}, Cors().Origins)
	assert.Equal(t, 24, Session().ExpirationHours)
	assert.Equal(t, "postgres", Session().Store)
	assert.Equal(t, "localhost:6379", Redis().Addr())
	assert.Contains(t, Postgres().DSN(), "postgres://codeinterview:")
}

func TestLoadFromFileMergesOverDefaults(t *testing.T) {
	content := `
common:
  http:
    port: 9000
  session:
    expiration_hours: 2
    store: memory
  cors:
    origins:
      - https://interview.example.com
`
	path := filepath.Join(t.TempDir(), "codeinterview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	require.NoError(t, LoadFromFile(path))

	assert.Equal(t, 9000, Http().Port)
	assert.Equal(t, 2, Session().ExpirationHours)
	assert.Equal(t, "memory", Session().Store)
	assert.Equal(t, []string{"https://interview.example.com"}, Cors().Origins)

	// Unset sections keep their defaults
	assert.Equal(t, "0.0.0.0", Http().Host)
	assert.Equal(t, "codeinterview", Postgres().Database)
}

func TestLoadFromFileMissing(t *testing.T) {
	err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	LoadDefault()

	t.Setenv("CODEINTERVIEW_HTTP_PORT", "8081")
	t.Setenv("CODEINTERVIEW_SESSION_EXPIRATION_HOURS", "48")
	t.Setenv("CODEINTERVIEW_SESSION_STORE", "redis")
	t.Setenv("CODEINTERVIEW_CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("CODEINTERVIEW_DB_HOST", "db.internal")

	ApplyEnvOverrides()

	assert.Equal(t, 8081, Http().Port)
	assert.Equal(t, 48, Session().ExpirationHours)
	assert.Equal(t, "redis", Session().Store)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, Cors().Origins)
	assert.Equal(t, "db.internal", Postgres().Host)
}

func TestEnvOverridesDoNotDirtyDefaults(t *testing.T) {
	t.Setenv("CODEINTERVIEW_HTTP_PORT", "8081")
	t.Setenv("CODEINTERVIEW_SESSION_STORE", "memory")

	Load()
	require.Equal(t, 8081, Http().Port)
	require.Equal(t, "memory", Session().Store)

	// A fresh default load starts from pristine defaults
	LoadDefault()
	assert.Equal(t, 8000, Http().Port)
	assert.Equal(t, "postgres", Session().Store)
}

func TestEnvOverridesIgnoreInvalidNumbers(t *testing.T) {
	LoadDefault()

	t.Setenv("CODEINTERVIEW_HTTP_PORT", "not-a-port")
	t.Setenv("CODEINTERVIEW_SESSION_EXPIRATION_HOURS", "-1")

	ApplyEnvOverrides()

	assert.Equal(t, 8000, Http().Port)
	assert.Equal(t, 24, Session().ExpirationHours)
}
