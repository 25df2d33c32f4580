package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
	assert.Equal(t, 1500, cfg.Ingest.ChunkSize)
	assert.Equal(t, 300, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 100, cfg.Ingest.MinChunkChars)
	assert.Equal(t, 24, cfg.Ingest.SessionTTLHours)
	assert.Equal(t, 2000, cfg.Client.PollIntervalMS)
	assert.Equal(t, 450, cfg.Client.MaxPollAttempts)
	// The backend address must come from deployment config.
	assert.Empty(t, cfg.Client.APIBaseURL)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[app]
port = 9000

[mysql]
host = "db.internal"
user = "finrag"
password = "secret"
db = "finrag_prod"

[ingest]
workers = 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.App.Port)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Contains(t, cfg.MySQLDSN(), "finrag:secret@tcp(db.internal:3306)/finrag_prod")
	// Untouched sections keep their defaults.
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[app]\nport = 9000\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("APP_PORT", "9100")
	t.Setenv("FINRAG_API_BASE", "http://api.internal:8080")
	t.Setenv("INGEST_MAX_UPLOAD_MB", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.App.Port)
	assert.Equal(t, "http://api.internal:8080", cfg.Client.APIBaseURL)
	// Unparseable numbers fall back instead of failing startup.
	assert.Equal(t, 20, cfg.Ingest.MaxUploadMB)
}
