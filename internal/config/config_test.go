package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"LISTEN_ADDR",
		"ENVIRONMENT",
		"FIELDGATE_DB",
		"DATABASE_URL",
		"SCHEMA_PATH",
		"DATASET_DIR",
		"WATCH_DATASET",
		"STATE_SECRET",
		"ACCESS_TOKEN_TTL",
		"REFRESH_TOKEN_TTL",
		"AUTH_CODE_TTL",
		"STATE_TTL",
		"PRUNE_INTERVAL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// setMinimumEnv sets the only variable without a usable default.
func setMinimumEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STATE_SECRET", testSecret)
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	setMinimumEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "fieldgate.db", cfg.BoltPath)
	assert.Equal(t, "", cfg.DatabaseURL)
	assert.Equal(t, "schema.yaml", cfg.SchemaPath)
	assert.Equal(t, "dataset", cfg.DatasetDir)
	assert.True(t, cfg.WatchDataset)
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 720*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 5*time.Minute, cfg.AuthCodeTTL)
	assert.Equal(t, 10*time.Minute, cfg.StateTTL)
	assert.Equal(t, 5*time.Minute, cfg.PruneInterval)
}

func TestLoad_Overrides(t *testing.T) {
	clearConfigEnv(t)
	setMinimumEnv(t)
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DATABASE_URL", "postgres://fieldgate:pw@localhost:5432/fieldgate")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")
	t.Setenv("WATCH_DATASET", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.UsesPostgres())
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	assert.False(t, cfg.WatchDataset)
}

func TestLoad_MissingStateSecret(t *testing.T) {
	clearConfigEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STATE_SECRET")
}

func TestLoad_ShortStateSecret(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("STATE_SECRET", "tooshort")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestLoad_BadDuration(t *testing.T) {
	clearConfigEnv(t)
	setMinimumEnv(t)
	t.Setenv("ACCESS_TOKEN_TTL", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

// --- validate ---

func TestValidate_AllPresent(t *testing.T) {
	cfg := &Config{
		StateSecret:     testSecret,
		SchemaPath:      "schema.yaml",
		DatasetDir:      "dataset",
		BoltPath:        "fieldgate.db",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 720 * time.Hour,
		AuthCodeTTL:     5 * time.Minute,
		StateTTL:        10 * time.Minute,
		PruneInterval:   5 * time.Minute,
	}
	assert.NoError(t, cfg.validate())
}

func TestValidate_NoStore(t *testing.T) {
	cfg := &Config{
		StateSecret:     testSecret,
		SchemaPath:      "schema.yaml",
		DatasetDir:      "dataset",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 720 * time.Hour,
		AuthCodeTTL:     5 * time.Minute,
		StateTTL:        10 * time.Minute,
		PruneInterval:   5 * time.Minute,
	}

	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FIELDGATE_DB or DATABASE_URL")
}

func TestValidate_NonPositiveTTL(t *testing.T) {
	cfg := &Config{
		StateSecret:     testSecret,
		SchemaPath:      "schema.yaml",
		DatasetDir:      "dataset",
		BoltPath:        "fieldgate.db",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: -time.Hour,
		AuthCodeTTL:     5 * time.Minute,
		StateTTL:        10 * time.Minute,
		PruneInterval:   5 * time.Minute,
	}

	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REFRESH_TOKEN_TTL must be positive")
}

// --- Helpers ---

func TestIsProduction(t *testing.T) {
	assert.True(t, (&Config{Environment: "production"}).IsProduction())
	assert.False(t, (&Config{Environment: "development"}).IsProduction())
}

func TestUsesPostgres(t *testing.T) {
	assert.True(t, (&Config{DatabaseURL: "postgres://x"}).UsesPostgres())
	assert.False(t, (&Config{}).UsesPostgres())
}
