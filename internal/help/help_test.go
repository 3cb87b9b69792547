package help

import (
	"context"
	"testing"

	"github.com/overseer-dev/overseer/internal/errs"
	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/storage/memstore"
	"github.com/overseer-dev/overseer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTask(t *testing.T, store storage.Store, status types.TaskStatus) *types.Task {
	t.Helper()
	tk := &types.Task{ID: "task_a", RepoID: "repo_a", Kind: types.KindTask, Description: "d", Priority: types.PriorityNormal, Status: status}
	require.NoError(t, store.RunInTransaction(context.Background(), func(tx storage.Tx) error {
		return tx.CreateTask(context.Background(), tk)
	}))
	return tk
}

func TestRequestMovesTaskToAwaitingHuman(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedTask(t, store, types.StatusInProgress)
	e := New(store)

	h, err := e.Request(ctx, RequestInput{TaskID: "task_a", Category: types.HelpDecision, Reason: "which approach?", SuggestedOptions: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, h.FromStatus)

	task, err := store.GetTask(ctx, "task_a")
	require.NoError(t, err)
	assert.Equal(t, types.StatusAwaitingHuman, task.Status)
}

func TestSecondActiveRequestRejected(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedTask(t, store, types.StatusInProgress)
	e := New(store)

	_, err := e.Request(ctx, RequestInput{TaskID: "task_a", Category: types.HelpDecision, Reason: "r1"})
	require.NoError(t, err)

	_, err = e.Request(ctx, RequestInput{TaskID: "task_a", Category: types.HelpDecision, Reason: "r2"})
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.CodeOf(err))
}

func TestRespondThenResumeRestoresStatus(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedTask(t, store, types.StatusInProgress)
	e := New(store)

	h, err := e.Request(ctx, RequestInput{TaskID: "task_a", Category: types.HelpTechnicalBlocker, Reason: "stuck", SuggestedOptions: []string{"retry", "skip"}})
	require.NoError(t, err)

	chosen := 1
	h, err = e.Respond(ctx, h.ID, "skip it", &chosen)
	require.NoError(t, err)
	assert.Equal(t, types.HelpResponded, h.Status)

	_, task, err := e.Resume(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, task.Status)
}

func TestResumeBeforeRespondRejected(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedTask(t, store, types.StatusPending)
	e := New(store)

	h, err := e.Request(ctx, RequestInput{TaskID: "task_a", Category: types.HelpClarification, Reason: "?"})
	require.NoError(t, err)

	_, _, err = e.Resume(ctx, h.ID)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidState, errs.CodeOf(err))
}
