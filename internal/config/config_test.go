package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(50<<20), cfg.MaxInputBytes)
	assert.Equal(t, 64, cfg.QueueDepth)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 5, cfg.IDSThreshold)
	assert.Equal(t, 100, cfg.IDSScoreCeiling)
	assert.Equal(t, 2*time.Second, cfg.FormatDeadline)
	assert.Equal(t, 5*time.Second, cfg.IDSDeadline)
	assert.Equal(t, 10*time.Second, cfg.AMLDeadline)
	assert.Equal(t, 30*time.Second, cfg.PersistDeadline)
	assert.Equal(t, 30*time.Second, cfg.AnalyzeDeadline)
	assert.Equal(t, 604800*time.Second, cfg.RetentionPeriod)
	assert.Equal(t, "aes256gcm", cfg.Algorithm)
	assert.Equal(t, "filesystem", cfg.BlobBackend)
	assert.Equal(t, "sqlite", cfg.MetaBackend)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAX_INPUT_BYTES", "1024")
	t.Setenv("QUEUE_DEPTH", "2")
	t.Setenv("WORKERS", "1")
	t.Setenv("IDS_THRESHOLD", "9")
	t.Setenv("STAGE_DEADLINE_FORMAT", "250ms")
	t.Setenv("STORE_ALGORITHM", "xor-hmac-sha256")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(1024), cfg.MaxInputBytes)
	assert.Equal(t, 2, cfg.QueueDepth)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 9, cfg.IDSThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.FormatDeadline)
	assert.Equal(t, "xor-hmac-sha256", cfg.Algorithm)
}

func TestLoadPathsFollowDataDir(t *testing.T) {
	t.Setenv("DATA_DIR", "/srv/genomevault")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/srv/genomevault", "blobs"), cfg.BlobDir)
	assert.Equal(t, filepath.Join("/srv/genomevault", "meta.db"), cfg.MetaPath)
	assert.Equal(t, filepath.Join("/srv/genomevault", "models", "aml.bin"), cfg.ModelPath)
}

func TestLoadTOMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genomevault.toml")
	content := `
queue_depth = 16
workers = 2
server_secret = "file-secret"

[store]
algorithm = "xor-hmac-sha256"
blob_backend = "s3"
s3_bucket = "genomes"
s3_region = "eu-west-1"

[metadata]
backend = "postgres"
postgres_dsn = "postgres://localhost/genomevault"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("GENOMEVAULT_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.QueueDepth)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "file-secret", cfg.ServerSecret)
	assert.Equal(t, "xor-hmac-sha256", cfg.Algorithm)
	assert.Equal(t, "s3", cfg.BlobBackend)
	assert.Equal(t, "genomes", cfg.S3Bucket)
	assert.Equal(t, "eu-west-1", cfg.S3Region)
	assert.Equal(t, "postgres", cfg.MetaBackend)
	assert.Equal(t, "postgres://localhost/genomevault", cfg.PostgresDSN)
	// Untouched settings keep env defaults.
	assert.Equal(t, int64(50<<20), cfg.MaxInputBytes)
}

func TestLoadBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid"), 0600))
	t.Setenv("GENOMEVAULT_CONFIG", path)
	_, err := Load()
	assert.Error(t, err)
}

func TestStageDeadline(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.FormatDeadline, cfg.StageDeadline("format"))
	assert.Equal(t, cfg.PersistDeadline, cfg.StageDeadline("persist"))
	assert.Zero(t, cfg.StageDeadline("finalize"))
}
