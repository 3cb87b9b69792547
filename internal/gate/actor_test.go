package gate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/overseer-dev/overseer/internal/storage/memstore"
	"github.com/overseer-dev/overseer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcomeCapture struct {
	ch chan *Outcome
}

func newOutcomeCapture() *outcomeCapture {
	return &outcomeCapture{ch: make(chan *Outcome, 4)}
}

func (c *outcomeCapture) handle(ctx context.Context, review *types.Review, task *types.Task, outcome *Outcome) {
	c.ch <- outcome
}

func startedActor(t *testing.T, sched *Scheduler, onDone OutcomeHandler) *Actor {
	t.Helper()
	a := NewActor(sched, onDone)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	t.Cleanup(func() {
		cancel()
		a.Stop()
	})
	return a
}

func TestActorScheduleReviewResolvesImmediateOutcome(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	sched := New(store).WithRunner(&fakeRunner{exitCode: 0})

	_, err := sched.CreateGate(ctx, CreateInput{ScopeType: types.ScopeRepo, ScopeID: "repo_a", Name: "lint", Command: "true", TimeoutSecs: 5, MaxRetries: 2, PollIntervalSecs: 1, MaxPendingSecs: 5})
	require.NoError(t, err)

	capture := newOutcomeCapture()
	a := startedActor(t, sched, capture.handle)

	review := &types.Review{ID: "rev_a", TaskID: "task_a", Status: types.ReviewGatesPending}
	task := mustTask(t, "repo_a")
	a.ScheduleReview(review, task)

	select {
	case out := <-capture.ch:
		assert.True(t, out.AllPassed)
	case <-time.After(2 * time.Second):
		t.Fatal("actor never reported an outcome")
	}
}

// pendingThenPassRunner reports Pending on its first call and Passed on
// every call after, letting a test exercise Actor's timer-driven repoll
// without a real external process.
type pendingThenPassRunner struct {
	calls atomic.Int32
}

func (r *pendingThenPassRunner) Run(ctx context.Context, g *types.Gate, env []string) (int, string, string, error) {
	if r.calls.Add(1) == 1 {
		return exitCodePending, "", "", nil
	}
	return 0, "ok", "", nil
}

func TestActorPollsPendingGateUntilItSettles(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	runner := &pendingThenPassRunner{}
	sched := New(store).WithRunner(runner)

	_, err := sched.CreateGate(ctx, CreateInput{ScopeType: types.ScopeRepo, ScopeID: "repo_a", Name: "slow", Command: "true", TimeoutSecs: 5, MaxRetries: 2, PollIntervalSecs: 1, MaxPendingSecs: 10})
	require.NoError(t, err)

	capture := newOutcomeCapture()
	a := startedActor(t, sched, capture.handle)

	review := &types.Review{ID: "rev_a", TaskID: "task_a", Status: types.ReviewGatesPending}
	task := mustTask(t, "repo_a")
	a.ScheduleReview(review, task)

	select {
	case out := <-capture.ch:
		assert.True(t, out.AllPassed)
		assert.GreaterOrEqual(t, runner.calls.Load(), int32(2))
	case <-time.After(4 * time.Second):
		t.Fatal("actor never repolled the pending gate to a settled outcome")
	}
}

func TestActorCancelDropsInFlightStateWithoutReportingOutcome(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	runner := &fakeRunner{exitCode: exitCodePending}
	sched := New(store).WithRunner(runner)

	_, err := sched.CreateGate(ctx, CreateInput{ScopeType: types.ScopeRepo, ScopeID: "repo_a", Name: "slow", Command: "true", TimeoutSecs: 5, MaxRetries: 2, PollIntervalSecs: 1, MaxPendingSecs: 10})
	require.NoError(t, err)

	capture := newOutcomeCapture()
	a := startedActor(t, sched, capture.handle)

	review := &types.Review{ID: "rev_a", TaskID: "task_a", Status: types.ReviewGatesPending}
	task := mustTask(t, "repo_a")
	a.ScheduleReview(review, task)
	a.Cancel(review.ID)

	select {
	case out := <-capture.ch:
		t.Fatalf("expected no outcome after Cancel, got %+v", out)
	case <-time.After(2 * time.Second):
	}
}
