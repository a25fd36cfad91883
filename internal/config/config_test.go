package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })
	_, err = tmpfile.WriteString(content)
	require.NoError(t, err)
	tmpfile.Close()
	return tmpfile.Name()
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		path := writeTempConfig(t, `
database:
  type: sqlite
  dsn: keygate.db
`)
		config, warning, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 8080, config.Port)
		assert.Equal(t, "x-api-key", config.Access.HeaderName)
		assert.True(t, config.Access.CountOnlySuccess())
		assert.Equal(t, "/dashboard", config.Dashboard.Path)
		assert.Equal(t, "/dashboard", config.Session.CookiePath)
		assert.Equal(t, "apikey_session", config.Session.CookieName)
		assert.Equal(t, 24*time.Hour, config.Session.ExpiryDuration)
		assert.Equal(t, "database", config.Session.Backend)
		assert.Equal(t, "@hourly", config.Scheduler.SessionSweep)
		assert.Contains(t, warning, "session.secret not set")
	})

	t.Run("explicit values", func(t *testing.T) {
		path := writeTempConfig(t, `
port: 3000
debug: true
database:
  type: sqlite
  dsn: keygate.db
access:
  header_name: x-token
  count_only_200: false
session:
  secret: s3cret
  expiry: 30m
  cookie_path: /ui
dashboard:
  path: /panel
`)
		config, warning, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Empty(t, warning)
		assert.Equal(t, 3000, config.Port)
		assert.True(t, config.Debug)
		assert.Equal(t, "x-token", config.Access.HeaderName)
		assert.False(t, config.Access.CountOnlySuccess())
		assert.Equal(t, 30*time.Minute, config.Session.ExpiryDuration)
		assert.Equal(t, "/ui", config.Session.CookiePath)
		assert.Equal(t, "/panel", config.Dashboard.Path)
	})

	t.Run("non-existent file falls back to env", func(t *testing.T) {
		t.Setenv("KEYGATE_DATABASE_TYPE", "sqlite")
		t.Setenv("KEYGATE_DATABASE_DSN", "file::memory:")
		config, _, err := LoadConfig("non-existent-file.yaml")
		require.NoError(t, err)
		assert.Equal(t, "sqlite", config.Database.Type)
	})

	t.Run("missing database", func(t *testing.T) {
		_, _, err := LoadConfig(writeTempConfig(t, `port: 8080`))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, _, err := LoadConfig(writeTempConfig(t, "database: [sqlite\nport: 8080\n  debug: true"))
		assert.Error(t, err)
	})

	t.Run("invalid session expiry", func(t *testing.T) {
		_, _, err := LoadConfig(writeTempConfig(t, `
database: {type: sqlite, dsn: x.db}
session: {expiry: soon}
`))
		assert.Error(t, err)
	})

	t.Run("redis backend needs an address", func(t *testing.T) {
		_, _, err := LoadConfig(writeTempConfig(t, `
database: {type: sqlite, dsn: x.db}
session: {backend: redis}
`))
		assert.Error(t, err)

		_, _, err = LoadConfig(writeTempConfig(t, `
database: {type: sqlite, dsn: x.db}
session: {backend: memcached}
`))
		assert.Error(t, err)
	})
}
