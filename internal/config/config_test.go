package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "ENV", "JWT_SECRET", "JWT_EXPIRY", "LOG_LEVEL", "LOG_FORMAT",
		"STORE_DRIVER", "MONGODB_URI", "MONGODB_DATABASE", "MYSQL_DSN",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "CORS_ORIGIN", "AUTH_RATE_LIMIT", "AUTH_RATE_BURST",
		"API_URL", "IRRIGCTL_SESSION", "TRUSTED_PROXIES",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_DefaultsWithMemoryStore(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5.0, cfg.RateLimit.RPS)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
}

func TestLoad_MongoRequiresURI(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("MONGODB_URI", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGODB_URI")
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("CORS_ORIGIN", "http://a.test, http://b.test ,")
	t.Setenv("JWT_EXPIRY", "2h")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("AUTH_RATE_LIMIT", "1.5")
	t.Setenv("AUTH_RATE_BURST", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Store.MongoURI)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, 2*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 1.5, cfg.RateLimit.RPS)
	assert.Equal(t, 4, cfg.RateLimit.Burst)
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_EXPIRY", "seven days")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_ProductionRejectsDevSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
port: "5000"
jwt_expiry: 24h
cors_origins:
  - https://farm.example
store:
  driver: mysql
  mysql_dsn: user:pw@tcp(db:3306)/irrigation
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "6000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "6000", cfg.Port, "env should win over file")
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, []string{"https://farm.example"}, cfg.CORSOrigins)
	assert.Equal(t, "mysql", cfg.Store.Driver)
	assert.Equal(t, "user:pw@tcp(db:3306)/irrigation", cfg.Store.MySQLDSN)
	assert.Equal(t, "irrigation", cfg.Store.MongoDatabase, "unset file keys keep defaults")
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestLoadClient(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_URL", "")
	assert.Equal(t, "http://localhost:4000", LoadClient().APIURL)

	t.Setenv("API_URL", "https://api.farm.example")
	t.Setenv("IRRIGCTL_SESSION", "/tmp/irrigctl.json")
	cfg := LoadClient()
	assert.Equal(t, "https://api.farm.example", cfg.APIURL)
	assert.Equal(t, "/tmp/irrigctl.json", cfg.SessionFile)
}

func TestLoad_TrustedProxies(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.TrustedProxies, "forwarding headers are ignored unless configured")

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.7")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.7"}, cfg.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "lb.internal")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_RateLimitMustBePositive(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("AUTH_RATE_LIMIT", "0")

	_, err := Load()
	require.Error(t, err)
}
