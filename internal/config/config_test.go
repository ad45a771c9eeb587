package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
graph:
  client_id: "test-client"
  tenant_id: "test-tenant"
  base_url: "https://graph.microsoft.com/v1.0"

batch:
  fetch_interval_seconds: 45
  group_size: 5
  retry_sweep_every_loops: 10

database:
  url: "postgres://triage@localhost/triage"
  max_open_conns: 20
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "test-client", cfg.Graph.ClientID)
	assert.Equal(t, 45, cfg.Batch.FetchIntervalSeconds)
	assert.Equal(t, 5, cfg.Batch.GroupSize)
	assert.Equal(t, 10, cfg.Batch.RetrySweepEveryLoops)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("graph:\n  client_id: \"x\"\n"), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Batch.FetchIntervalSeconds)
	assert.Equal(t, 3, cfg.Batch.GroupSize)
	assert.Equal(t, 5, cfg.Batch.RetrySweepEveryLoops)
	assert.Equal(t, "gpt-4o", cfg.LLM.PrimaryDeployment)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.CheapDeployment)
	assert.Equal(t, "[TEST]", cfg.Report.TestSubjectPrefix)
}

func TestLoadFromEnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("graph:\n  client_id: \"file-client\"\n"), 0644)
	require.NoError(t, err)

	os.Setenv("CLIENT_ID", "env-client")
	os.Setenv("EMAIL_FETCH_INTERVAL", "15")
	defer func() {
		os.Unsetenv("CLIENT_ID")
		os.Unsetenv("EMAIL_FETCH_INTERVAL")
	}()

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "env-client", cfg.Graph.ClientID)
	assert.Equal(t, 15, cfg.Batch.FetchIntervalSeconds)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestFetchInterval(t *testing.T) {
	cfg := BatchConfig{FetchIntervalSeconds: 45}
	assert.Equal(t, 45, int(cfg.FetchInterval().Seconds()))
}

func TestFolderMappingByEnv(t *testing.T) {
	dev := MailConfig{EnvType: "DEV"}.FolderMapping()
	assert.Equal(t, "claims", dev["claims-aitest"])

	prod := MailConfig{EnvType: "PROD"}.FolderMapping()
	assert.Equal(t, "claims", prod["claims"])
}
