package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "webp", cfg.TargetFormat)
	assert.Equal(t, "local", cfg.BackupBackend)
	assert.Equal(t, 30*24*time.Hour, cfg.BackupRetention)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Len(t, cfg.VariantSizes, 3)
	assert.Contains(t, cfg.ReservedKeys, "_transient")
	assert.Equal(t, filepath.Join("./data", "queue.db"), cfg.QueueDBPath())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MEDIAGENT_DATA_DIR", "/var/lib/mediagent")
	t.Setenv("MEDIAGENT_TARGET_FORMAT", "AVIF")
	t.Setenv("MEDIAGENT_BASE_URL", "https://cdn.example.com/uploads/")
	t.Setenv("MEDIAGENT_BACKUP_BACKEND", "s3")
	t.Setenv("MEDIAGENT_BACKUP_ACCESS_KEY", "AKIA")
	t.Setenv("MEDIAGENT_BACKUP_SECRET_KEY", "shh")
	t.Setenv("MEDIAGENT_BACKUP_CREDENTIALS_JSON", "e30=")
	t.Setenv("MEDIAGENT_BACKUP_RETENTION", "48h")
	t.Setenv("MEDIAGENT_VARIANT_SIZES", "100x50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/mediagent", cfg.DataDir)
	assert.Equal(t, "avif", cfg.TargetFormat)
	assert.Equal(t, "https://cdn.example.com/uploads", cfg.BaseURL)
	assert.Equal(t, "s3", cfg.BackupBackend)
	assert.Equal(t, 48*time.Hour, cfg.BackupRetention)
	assert.Equal(t, []Size{{Width: 100, Height: 50}}, cfg.VariantSizes)
	assert.Equal(t, "AKIA", cfg.BackupAccessInfo["accessKey"])
	assert.Equal(t, "shh", cfg.BackupAccessInfo["secretKey"])
	assert.Equal(t, "e30=", cfg.BackupAccessInfo["credentialsJSON"])
	assert.NotContains(t, cfg.BackupAccessInfo, "backend")
	assert.NotContains(t, cfg.BackupAccessInfo, "retention")
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("format", func(t *testing.T) {
		t.Setenv("MEDIAGENT_TARGET_FORMAT", "bmp")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("duration", func(t *testing.T) {
		t.Setenv("MEDIAGENT_POLL_INTERVAL", "soon")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("sizes", func(t *testing.T) {
		t.Setenv("MEDIAGENT_VARIANT_SIZES", "100")
		_, err := Load()
		assert.Error(t, err)
	})
}
