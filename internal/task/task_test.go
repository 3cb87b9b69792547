package task

import (
	"context"
	"testing"

	"github.com/overseer-dev/overseer/internal/errs"
	"github.com/overseer-dev/overseer/internal/storage/memstore"
	"github.com/overseer-dev/overseer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	return New(memstore.New(), nil)
}

func TestCreateRejectsSubtaskUnderMilestone(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	ms, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindMilestone, Description: "m1"})
	require.NoError(t, err)

	_, err = e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindSubtask, ParentID: ms.ID, Description: "s1"})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.CodeOf(err))
}

func TestCreateHierarchyAcceptsValidNesting(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	ms, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindMilestone, Description: "m1"})
	require.NoError(t, err)
	tk, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindTask, ParentID: ms.ID, Description: "t1"})
	require.NoError(t, err)
	sub, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindSubtask, ParentID: tk.ID, Description: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 2, sub.Depth())
}

func TestBlockerCycleRejected(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	a, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindTask, Description: "a"})
	require.NoError(t, err)
	b, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindTask, Description: "b", BlockedBy: []string{a.ID}})
	require.NoError(t, err)

	err = e.Block(ctx, a.ID, b.ID)
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.CodeOf(err))
}

func TestSelfBlockRejected(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindTask, Description: "a"})
	require.NoError(t, err)

	err = e.Block(ctx, a.ID, a.ID)
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.CodeOf(err))
}

func TestStartBlockedByUncompletedBlockerFails(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindTask, Description: "a"})
	require.NoError(t, err)
	b, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindTask, Description: "b", BlockedBy: []string{a.ID}})
	require.NoError(t, err)

	_, _, err = e.Start(ctx, b.ID)
	require.Error(t, err)
	assert.Equal(t, errs.PreconditionFailed, errs.CodeOf(err))
}

func TestStartSucceedsOnceBlockerCancelled(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindTask, Description: "a"})
	require.NoError(t, err)
	b, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindTask, Description: "b", BlockedBy: []string{a.ID}})
	require.NoError(t, err)

	_, err = e.Cancel(ctx, a.ID)
	require.NoError(t, err)

	started, vcs, err := e.Start(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, started.Status)
	assert.Equal(t, b.ID, vcs.TaskID)
}

func TestSubmitThenApproveCompletesTask(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindTask, Description: "a"})
	require.NoError(t, err)
	_, _, err = e.Start(ctx, a.ID)
	require.NoError(t, err)

	submitted, _, err := e.MarkSubmitted(ctx, a.ID, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInReview, submitted.Status)

	completed, err := e.Complete(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
}

func TestChangesRequestedReturnsTaskToInProgress(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindTask, Description: "a"})
	require.NoError(t, err)
	_, _, err = e.Start(ctx, a.ID)
	require.NoError(t, err)
	_, _, err = e.MarkSubmitted(ctx, a.ID, "deadbeef")
	require.NoError(t, err)

	back, err := e.ReturnToInProgress(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, back.Status)
}

func TestNextReadyPrefersDeepestUnblockedTask(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	ms, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindMilestone, Description: "m"})
	require.NoError(t, err)
	_, _, err = e.Start(ctx, ms.ID)
	require.NoError(t, err)
	tk, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindTask, ParentID: ms.ID, Description: "t"})
	require.NoError(t, err)
	_, _, err = e.Start(ctx, tk.ID)
	require.NoError(t, err)
	sub, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindSubtask, ParentID: tk.ID, Description: "s", Priority: types.PriorityUrgent})
	require.NoError(t, err)

	next, err := e.NextReady(ctx, "repo_a", "")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, sub.ID, next.ID)
}

func TestProgressTallies(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a, err := e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindTask, Description: "a"})
	require.NoError(t, err)
	_, err = e.Create(ctx, CreateInput{RepoID: "repo_a", Kind: types.KindTask, Description: "b"})
	require.NoError(t, err)
	_, err = e.Cancel(ctx, a.ID)
	require.NoError(t, err)

	counts, err := e.Progress(ctx, "repo_a", "")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.StatusPending])
	assert.Equal(t, 1, counts[types.StatusCancelled])
}
