package gateconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-dev/overseer/internal/gate"
	"github.com/overseer-dev/overseer/internal/storage/memstore"
)

func writeGateFile(t *testing.T, repoPath, content string) {
	t.Helper()
	dir := filepath.Join(repoPath, ".overseer")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
}

func TestLoadMissingFileReturnsNoEntries(t *testing.T) {
	entries, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadParsesEntries(t *testing.T) {
	repoPath := t.TempDir()
	writeGateFile(t, repoPath, `
gates:
  - name: lint
    command: "make lint"
    timeout_secs: 60
  - name: test
    command: "make test"
    max_retries: 2
`)
	entries, err := Load(repoPath)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "lint", entries[0].Name)
	assert.Equal(t, 60, entries[0].TimeoutSecs)
	assert.Equal(t, 2, entries[1].MaxRetries)
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	repoPath := t.TempDir()
	writeGateFile(t, repoPath, `
gates:
  - name: lint
    command: "make lint"
  - name: lint
    command: "make lint2"
`)
	_, err := Load(repoPath)
	assert.Error(t, err)
}

func TestSyncCreatesAndUpdatesGates(t *testing.T) {
	store := memstore.New()
	scheduler := gate.New(store)
	repoPath := t.TempDir()
	ctx := context.Background()

	writeGateFile(t, repoPath, `
gates:
  - name: lint
    command: "make lint"
    timeout_secs: 30
`)
	require.NoError(t, Sync(ctx, scheduler, "repo_1", repoPath))
	gates, err := scheduler.ListGates(ctx, "Repo", "repo_1")
	require.NoError(t, err)
	require.Len(t, gates, 1)
	assert.Equal(t, "make lint", gates[0].Command)

	writeGateFile(t, repoPath, `
gates:
  - name: lint
    command: "make lint --fix"
    timeout_secs: 30
`)
	require.NoError(t, Sync(ctx, scheduler, "repo_1", repoPath))
	gates, err = scheduler.ListGates(ctx, "Repo", "repo_1")
	require.NoError(t, err)
	require.Len(t, gates, 1)
	assert.Equal(t, "make lint --fix", gates[0].Command)
}
