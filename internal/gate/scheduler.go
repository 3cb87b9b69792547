package gate

import (
	"context"
	"time"

	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/types"
	"golang.org/x/sync/errgroup"
)

// RunReview runs exactly one execution pass of every effective gate for
// review (spec.md §4.5 "retries are not spontaneous"): each gate is
// spawned once for its current attempt and the pass returns as soon as
// every gate has reported *some* status for that attempt -- Passed,
// Failed/Timeout (retryable, under the retry budget), Escalated (budget
// exhausted or the process never started), or Pending (the command
// asked to be polled again). A Pending result is never awaited here;
// arming the next poll and re-examining it later is Actor's job (see
// actor.go), not this method's -- RunReview itself never sleeps.
func (s *Scheduler) RunReview(ctx context.Context, review *types.Review, task *types.Task) (*Outcome, error) {
	return s.runPass(ctx, review, task, false)
}

// Rerun resets every effective gate's attempt counter to 1 before
// running the same single pass RunReview does, per the explicit
// spec.md §4.5 rerun semantics (a deliberate deviation from the
// original implementation's continue-or-synthesize-escalation
// behavior; see DESIGN.md).
func (s *Scheduler) Rerun(ctx context.Context, review *types.Review, task *types.Task) (*Outcome, error) {
	return s.runPass(ctx, review, task, true)
}

func (s *Scheduler) runPass(ctx context.Context, review *types.Review, task *types.Task, forceReset bool) (*Outcome, error) {
	gates, err := s.EffectiveGates(ctx, task)
	if err != nil {
		return nil, err
	}
	if len(gates) == 0 {
		return &Outcome{AllPassed: true}, nil
	}
	if err := s.emitGatesStarted(ctx, review.ID, gates); err != nil {
		return nil, err
	}

	repoPath := repoPathFor(ctx, s.store, task.RepoID)
	results := make([]*types.GateResult, len(gates))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, g := range gates {
		i, g := i, g
		eg.Go(func() error {
			r, err := s.runOneAttempt(egCtx, review, task, repoPath, g, forceReset)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return outcomeFrom(results), nil
}

// pollGate re-examines a single still-Pending gate for review's
// already in-flight attempt. It is called by Actor once per timer
// fire per pending gate, and never sleeps itself: if the attempt has
// been running longer than MaxPendingSecs it settles as Timeout
// (subject to the same escalation check as any other failure);
// otherwise the command is spawned again for the SAME attempt number
// and the GateResult for that attempt is written again whether this
// spawn settles or is still Pending. Results are keyed by gate, review
// and attempt, so each poll overwrites the previous poll's row for the
// attempt; earlier polls of the same attempt are not kept.
func (s *Scheduler) pollGate(ctx context.Context, review *types.Review, task *types.Task, repoPath string, g *types.Gate, attempt int, firstStarted time.Time) (*types.GateResult, error) {
	if s.now().Sub(firstStarted) >= time.Duration(g.MaxPendingSecs)*time.Second {
		now := s.now()
		result := &types.GateResult{
			GateID: g.ID, ReviewID: review.ID, TaskID: task.ID, Attempt: attempt,
			Status: types.GateTimeout, StartedAt: firstStarted, CompletedAt: &now,
		}
		return s.finalizeAttempt(ctx, result, g)
	}

	result, spawnErr := s.execute(ctx, g, review, task, repoPath, attempt)
	if spawnErr != nil {
		return s.escalateSpawnFailure(ctx, review, task, g, attempt, spawnErr)
	}
	return s.finalizeAttempt(ctx, result, g)
}

// runOneAttempt spawns g for review's current (or reset) attempt and
// persists whatever terminal-or-Pending result comes back, applying the
// retry/escalation budget check along the way.
func (s *Scheduler) runOneAttempt(ctx context.Context, review *types.Review, task *types.Task, repoPath string, g *types.Gate, forceReset bool) (*types.GateResult, error) {
	attempt := nextAttemptOrReset(ctx, s.store, g.ID, review.ID, forceReset)
	result, spawnErr := s.execute(ctx, g, review, task, repoPath, attempt)
	if spawnErr != nil {
		return s.escalateSpawnFailure(ctx, review, task, g, attempt, spawnErr)
	}
	return s.finalizeAttempt(ctx, result, g)
}

// escalateSpawnFailure handles a process that never started: it
// consumes no retry budget (spec.md §4.5 "spawn failures escalate
// immediately").
func (s *Scheduler) escalateSpawnFailure(ctx context.Context, review *types.Review, task *types.Task, g *types.Gate, attempt int, spawnErr error) (*types.GateResult, error) {
	now := s.now()
	esc := &types.GateResult{
		GateID: g.ID, ReviewID: review.ID, TaskID: task.ID, Attempt: attempt,
		Status: types.GateEscalated, Stderr: types.TailBytes(spawnErr.Error()),
		StartedAt: now, CompletedAt: &now,
	}
	if err := s.persist(ctx, esc, g.Name); err != nil {
		return nil, err
	}
	return esc, nil
}

// finalizeAttempt applies the retry/escalation budget check to a
// terminal result (a still-Pending result passes through unchanged)
// and persists it either way.
func (s *Scheduler) finalizeAttempt(ctx context.Context, result *types.GateResult, g *types.Gate) (*types.GateResult, error) {
	if result.Status != types.GatePassed && result.Status != types.GatePending && result.Attempt >= g.MaxRetries {
		result.Status = types.GateEscalated
	}
	if err := s.persist(ctx, result, g.Name); err != nil {
		return nil, err
	}
	return result, nil
}

// outcomeFrom summarizes a set of per-gate results into one Outcome.
// AllPassed requires literally every result to be Passed -- a
// Failed-but-not-yet-escalated result is neither passed nor escalated,
// so it must not be miscounted as "ready to advance".
func outcomeFrom(results []*types.GateResult) *Outcome {
	out := &Outcome{Results: results}
	allPassed := true
	for _, r := range results {
		switch r.Status {
		case types.GatePending:
			out.Pending = true
			allPassed = false
		case types.GateEscalated:
			out.Escalated = true
			allPassed = false
		case types.GatePassed:
		default:
			// Failed/Timeout, not yet escalated: retryable, waiting on
			// the agent to fix and resubmit.
			allPassed = false
		}
	}
	out.AllPassed = allPassed
	return out
}

// emitGatesStarted records one GateStarted event per gate in the
// effective list snapshotted for this pass (spec.md §4.5 step 1 and the
// "rerun" section, "emits new GateStarted events").
func (s *Scheduler) emitGatesStarted(ctx context.Context, reviewID string, gates []*types.Gate) error {
	return s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		for _, g := range gates {
			if err := appendEvent(ctx, tx, types.EventGateStarted, map[string]any{"gate_id": g.ID, "review_id": reviewID, "name": g.Name}); err != nil {
				return err
			}
		}
		return nil
	})
}
