package learning

import (
	"context"
	"testing"

	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/storage/memstore"
	"github.com/overseer-dev/overseer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedChain(t *testing.T, store storage.Store) (ms, tk, sub *types.Task) {
	t.Helper()
	ms = &types.Task{ID: "ms_a", RepoID: "repo_a", Kind: types.KindMilestone, Description: "m", Priority: types.PriorityNormal, Status: types.StatusInProgress}
	tk = &types.Task{ID: "task_a", RepoID: "repo_a", ParentID: "ms_a", Kind: types.KindTask, Description: "t", Priority: types.PriorityNormal, Status: types.StatusInProgress}
	sub = &types.Task{ID: "sub_a", RepoID: "repo_a", ParentID: "task_a", Kind: types.KindSubtask, Description: "s", Priority: types.PriorityNormal, Status: types.StatusInProgress}
	require.NoError(t, store.RunInTransaction(context.Background(), func(tx storage.Tx) error {
		for _, task := range []*types.Task{ms, tk, sub} {
			if err := tx.CreateTask(context.Background(), task); err != nil {
				return err
			}
		}
		return nil
	}))
	return
}

func TestAddBubblesUpToRoot(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	_, _, sub := seedChain(t, store)
	e := New(store)

	_, err := e.Add(ctx, sub.ID, "watch out for X")
	require.NoError(t, err)

	subLearnings, err := e.ListForTask(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, subLearnings, 1)
	assert.Empty(t, subLearnings[0].SourceTaskID)

	taskLearnings, err := e.ListForTask(ctx, "task_a")
	require.NoError(t, err)
	require.Len(t, taskLearnings, 1)
	assert.Equal(t, sub.ID, taskLearnings[0].SourceTaskID)

	msLearnings, err := e.ListForTask(ctx, "ms_a")
	require.NoError(t, err)
	require.Len(t, msLearnings, 1)
	assert.Equal(t, sub.ID, msLearnings[0].SourceTaskID)
}

func TestInheritedReturnsAncestorChainRootFirst(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	_, tk, sub := seedChain(t, store)
	e := New(store)

	_, err := e.Add(ctx, tk.ID, "lesson from the task level")
	require.NoError(t, err)

	inherited, err := e.Inherited(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, inherited, 2) // bubbled onto ms_a, plus the original on task_a
	assert.Equal(t, "ms_a", inherited[0].TaskID)
	assert.Equal(t, "task_a", inherited[1].TaskID)
}
