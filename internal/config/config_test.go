package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultDBPath, cfg.DBPath)
	assert.Equal(t, defaultDB, cfg.Database)
	assert.Equal(t, defaultOutput, cfg.Output)
}

func TestLoadReadsProjectFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".overseer"), 0o755))
	content := `
db_path = "/srv/overseer/db"
default_repo = "repo_01ABC"
output = "json"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".overseer", configFileName), []byte(content), 0o644))

	cfg, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "/srv/overseer/db", cfg.DBPath)
	assert.Equal(t, "repo_01ABC", cfg.DefaultRepo)
	assert.Equal(t, "json", cfg.Output)
}

func TestLoadFlagOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".overseer"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".overseer", configFileName), []byte(`db_path = "/from/file"`), 0o644))

	cfg, err := Load(dir, map[string]string{"db_path": "/from/flag"})
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.DBPath)
}

func TestLoadEnvOverridesFileButNotFlag(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".overseer"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".overseer", configFileName), []byte(`output = "text"`), 0o644))

	t.Setenv("OVERSEER_OUTPUT", "json")
	cfg, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Output)

	cfg, err = Load(dir, map[string]string{"output": "text"})
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Output)
}
