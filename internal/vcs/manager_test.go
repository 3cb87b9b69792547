package vcs

import (
	"context"
	"testing"
	"time"

	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/storage/memstore"
	"github.com/overseer-dev/overseer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	head string
	diff string
}

func (f *fakeBackend) CreateRef(ctx context.Context, repoPath, refName, baseCommit string) error {
	return nil
}

func (f *fakeBackend) Head(ctx context.Context, repoPath, refName string) (string, error) {
	return f.head, nil
}

func (f *fakeBackend) Diff(ctx context.Context, repoPath, baseCommit, headCommit string) (string, error) {
	return f.diff, nil
}

func seedVcs(t *testing.T, store storage.Store) *types.TaskVcs {
	t.Helper()
	v := &types.TaskVcs{
		TaskID: "task_a", RepoID: "repo_a", VcsType: types.VcsGit,
		RefName: "overseer/task_a", BaseCommit: "base123", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.RunInTransaction(context.Background(), func(tx storage.Tx) error {
		return tx.PutTaskVcs(context.Background(), v)
	}))
	return v
}

func TestRecordHeadUpdatesCommit(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedVcs(t, store)
	m := New(store)

	v, err := m.RecordHead(ctx, "task_a", "head456")
	require.NoError(t, err)
	assert.Equal(t, "head456", v.HeadCommit)

	got, err := m.Get(ctx, "task_a")
	require.NoError(t, err)
	assert.Equal(t, "head456", got.HeadCommit)
}

func TestDiffWithoutBackendFails(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedVcs(t, store)
	m := New(store)

	_, err := m.Diff(ctx, "/repo", "task_a")
	assert.Error(t, err)
}

func TestDiffUsesLiveHeadWhenUnsubmitted(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedVcs(t, store)
	m := New(store).WithBackend(&fakeBackend{head: "live789", diff: "diff --git a/x b/x\n"})

	diff, err := m.Diff(ctx, "/repo", "task_a")
	require.NoError(t, err)
	assert.Contains(t, diff, "diff --git")
}

func TestArchiveSetsArchivedAt(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedVcs(t, store)
	m := New(store)

	require.NoError(t, m.Archive(ctx, "task_a"))

	got, err := m.Get(ctx, "task_a")
	require.NoError(t, err)
	require.NotNil(t, got.ArchivedAt)
}
