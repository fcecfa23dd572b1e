package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadIniStyle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "teal.conf")
	require.NoError(t, os.WriteFile(path, []byte(`
; comment
region = us-east-1
dispatcher_function = peer-dispatch
session_timeout = 30s
log_enabled = false
workers = 8
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "us-east-1", cfg.Region)
	require.Equal(t, "peer-dispatch", cfg.DispatcherFunction)
	require.False(t, cfg.LogEnabled)
	require.Equal(t, 8, cfg.Workers)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "teal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("region: eu-west-1\nworkers: 2\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "eu-west-1", cfg.Region)
	require.Equal(t, 2, cfg.Workers)
}

func TestApplyEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "teal.conf")
	require.NoError(t, os.WriteFile(path, []byte("region = us-east-1\n"), 0o644))
	t.Setenv("TEAL_REGION", "ap-south-1")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ap-south-1", cfg.Region)
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().Region, cfg.Region)
}
