package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestMustLoadPath_Defaults(t *testing.T) {
	path := writeConfig(t, `
env: "local"
token:
  secret: "s3cret"
`)

	cfg := MustLoadPath(path)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, TokenStoreRedis, cfg.TokenStore)
	assert.Equal(t, 15*time.Minute, cfg.Token.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Token.RefreshTTL)
	assert.Equal(t, 3*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Verification.CodeTTL)
	assert.Equal(t, 30*time.Minute, cfg.Verification.VerifiedTTL)
	assert.True(t, cfg.HTTP.CookieSecure)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 10*time.Second, cfg.Mail.Timeout)
}

func TestMustLoadPath_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
env: "local"
token:
  secret: "from-file"
`)
	t.Setenv("TOKEN_SECRET", "from-env")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg := MustLoadPath(path)

	assert.Equal(t, "from-env", cfg.Token.Secret)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestMustLoadPath_MissingSecret(t *testing.T) {
	path := writeConfig(t, `env: "prod"`)

	assert.Panics(t, func() { MustLoadPath(path) })
}

func TestMustLoadPath_MissingFile(t *testing.T) {
	assert.Panics(t, func() { MustLoadPath(filepath.Join(t.TempDir(), "nope.yaml")) })
}
