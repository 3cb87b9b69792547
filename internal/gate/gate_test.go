package gate

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/storage/memstore"
	"github.com/overseer-dev/overseer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls    atomic.Int32
	exitCode int
	stdout   string
}

func (f *fakeRunner) Run(ctx context.Context, g *types.Gate, env []string) (int, string, string, error) {
	f.calls.Add(1)
	return f.exitCode, f.stdout, "", nil
}

func mustTask(t *testing.T, repoID string) *types.Task {
	return &types.Task{ID: "task_a", RepoID: repoID, Kind: types.KindTask, Description: "d", Priority: types.PriorityNormal, Status: types.StatusInReview}
}

func TestEffectiveGatesOrdering(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	sched := New(store)

	_, err := sched.CreateGate(ctx, CreateInput{ScopeType: types.ScopeRepo, ScopeID: "repo_a", Name: "lint", Command: "true", TimeoutSecs: 5, MaxRetries: 1, PollIntervalSecs: 1, MaxPendingSecs: 5})
	require.NoError(t, err)

	root := &types.Task{ID: "ms_a", RepoID: "repo_a", Kind: types.KindMilestone, Description: "m", Priority: types.PriorityNormal, Status: types.StatusInProgress}
	require.NoError(t, store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.CreateTask(ctx, root)
	}))

	_, err = sched.CreateGate(ctx, CreateInput{ScopeType: types.ScopeTask, ScopeID: "ms_a", Name: "build", Command: "true", TimeoutSecs: 5, MaxRetries: 1, PollIntervalSecs: 1, MaxPendingSecs: 5})
	require.NoError(t, err)

	task := mustTask(t, "repo_a")
	task.ParentID = "ms_a"

	gates, err := sched.EffectiveGates(ctx, task)
	require.NoError(t, err)
	require.Len(t, gates, 2)
	assert.Equal(t, "lint", gates[0].Name)
	assert.Equal(t, "build", gates[1].Name)
}

func TestRunReviewAllPass(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	sched := New(store).WithRunner(&fakeRunner{exitCode: 0})

	_, err := sched.CreateGate(ctx, CreateInput{ScopeType: types.ScopeRepo, ScopeID: "repo_a", Name: "lint", Command: "true", TimeoutSecs: 5, MaxRetries: 2, PollIntervalSecs: 1, MaxPendingSecs: 5})
	require.NoError(t, err)

	review := &types.Review{ID: "rev_a", TaskID: "task_a", Status: types.ReviewGatesPending}
	task := mustTask(t, "repo_a")

	out, err := sched.RunReview(ctx, review, task)
	require.NoError(t, err)
	assert.True(t, out.AllPassed)
	assert.False(t, out.Escalated)
}

func TestRunReviewFailsRetryableWithoutAutoRetrying(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	runner := &fakeRunner{exitCode: 1}
	sched := New(store).WithRunner(runner)

	_, err := sched.CreateGate(ctx, CreateInput{ScopeType: types.ScopeRepo, ScopeID: "repo_a", Name: "lint", Command: "false", TimeoutSecs: 5, MaxRetries: 2, PollIntervalSecs: 1, MaxPendingSecs: 5})
	require.NoError(t, err)

	review := &types.Review{ID: "rev_a", TaskID: "task_a", Status: types.ReviewGatesPending}
	task := mustTask(t, "repo_a")

	// A single RunReview call spends exactly one attempt: the gate
	// fails but MaxRetries isn't exhausted yet, so it comes back
	// retryable rather than escalated, and the runner is invoked once.
	out, err := sched.RunReview(ctx, review, task)
	require.NoError(t, err)
	assert.False(t, out.Escalated)
	assert.False(t, out.AllPassed)
	require.Len(t, out.Results, 1)
	assert.Equal(t, types.GateFailed, out.Results[0].Status)
	assert.Equal(t, 1, out.Results[0].Attempt)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestRunReviewEscalatesOnceRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	runner := &fakeRunner{exitCode: 1}
	sched := New(store).WithRunner(runner)

	_, err := sched.CreateGate(ctx, CreateInput{ScopeType: types.ScopeRepo, ScopeID: "repo_a", Name: "lint", Command: "false", TimeoutSecs: 5, MaxRetries: 2, PollIntervalSecs: 1, MaxPendingSecs: 5})
	require.NoError(t, err)

	review := &types.Review{ID: "rev_a", TaskID: "task_a", Status: types.ReviewGatesPending}
	task := mustTask(t, "repo_a")

	out1, err := sched.RunReview(ctx, review, task)
	require.NoError(t, err)
	assert.False(t, out1.Escalated)

	// The attempt counter only advances because the agent resubmitted,
	// driving a second RunReview call against the same review.
	out2, err := sched.RunReview(ctx, review, task)
	require.NoError(t, err)
	assert.True(t, out2.Escalated)
	assert.False(t, out2.AllPassed)
	require.Len(t, out2.Results, 1)
	assert.Equal(t, 2, out2.Results[0].Attempt)
	assert.Equal(t, int32(2), runner.calls.Load())
}

func TestRerunResetsAttemptCounter(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	runner := &fakeRunner{exitCode: 1}
	sched := New(store).WithRunner(runner)

	_, err := sched.CreateGate(ctx, CreateInput{ScopeType: types.ScopeRepo, ScopeID: "repo_a", Name: "lint", Command: "false", TimeoutSecs: 5, MaxRetries: 1, PollIntervalSecs: 1, MaxPendingSecs: 5})
	require.NoError(t, err)

	review := &types.Review{ID: "rev_a", TaskID: "task_a", Status: types.ReviewGatesPending}
	task := mustTask(t, "repo_a")

	out, err := sched.RunReview(ctx, review, task)
	require.NoError(t, err)
	assert.True(t, out.Escalated)
	require.Len(t, out.Results, 1)
	assert.Equal(t, 1, out.Results[0].Attempt)

	runner.exitCode = 0
	out2, err := sched.Rerun(ctx, review, task)
	require.NoError(t, err)
	assert.True(t, out2.AllPassed)
	assert.Equal(t, 1, out2.Results[0].Attempt)
}
