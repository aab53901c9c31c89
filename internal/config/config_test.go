package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "tenor.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Evaluation.MaxFlowSteps)
	assert.Equal(t, 32, cfg.Evaluation.MaxSubFlowDepth)
	assert.Equal(t, 256, cfg.Elaboration.MaxImportFiles)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
evaluation:
  max_flow_steps: 50
logging:
  level: debug
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Evaluation.MaxFlowSteps)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, 32, cfg.Evaluation.MaxSubFlowDepth)
}

func TestLoadRejectsInvalidLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("evaluation:\n  max_flow_steps: 0\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_flow_steps must be >= 1")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TENOR_MAX_FLOW_STEPS", "77")
	t.Setenv("TENOR_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "tenor.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 77, cfg.Evaluation.MaxFlowSteps)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("TENOR_MAX_FLOW_STEPS", "lots")

	cfg, err := Load(filepath.Join(t.TempDir(), "tenor.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Evaluation.MaxFlowSteps)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "tenor.yaml")

	cfg := DefaultConfig()
	cfg.Evaluation.MaxFlowSteps = 123
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 123, loaded.Evaluation.MaxFlowSteps)
}
