package gate

import (
	"context"
	"sync"
	"time"

	"github.com/overseer-dev/overseer/internal/types"
)

// OutcomeHandler is called once a review's gate pass fully resolves --
// every effective gate reached a terminal status for this pass (Passed,
// or retryable Failed/Timeout, or Escalated). It runs on Actor's own
// goroutine, so it must not block long or call back into Actor
// synchronously.
type OutcomeHandler func(ctx context.Context, review *types.Review, task *types.Task, outcome *Outcome)

// Actor is the background gate-scheduler activity described by
// spec.md §9: a single goroutine driven by an in-process command
// channel, owning a per-review timer map instead of blocking a
// caller's goroutine in a sleep loop. HTTP/CLI callers enqueue
// ScheduleReview/Rerun/Cancel; PollFired is produced internally by the
// timers Actor arms for itself once a gate reports Pending.
type Actor struct {
	sched  *Scheduler
	onDone OutcomeHandler

	cmds    chan actorCmd
	stop    chan struct{}
	stopped chan struct{}

	mu      sync.Mutex
	reviews map[string]*reviewState
	timers  map[string]*time.Timer
}

// reviewState tracks one review's in-flight gate pass across poll
// fires: which gates are still Pending (and since when, for the
// MaxPendingSecs deadline), and every gate's latest result so an
// Outcome can be assembled once nothing is Pending anymore.
type reviewState struct {
	review   *types.Review
	task     *types.Task
	repoPath string
	gates    []*types.Gate
	pending  map[string]*pendingGate
	results  map[string]*types.GateResult
}

type pendingGate struct {
	gate         *types.Gate
	attempt      int
	firstStarted time.Time
}

type actorCmd interface{ isActorCmd() }

type scheduleCmd struct {
	review     *types.Review
	task       *types.Task
	forceReset bool
}

type cancelCmd struct{ reviewID string }

type pollFiredCmd struct{ reviewID string }

func (scheduleCmd) isActorCmd()  {}
func (cancelCmd) isActorCmd()    {}
func (pollFiredCmd) isActorCmd() {}

// cmdQueueDepth bounds the number of in-flight commands before
// ScheduleReview/Rerun/Cancel start blocking their caller; sized well
// above any realistic burst of concurrent submits.
const cmdQueueDepth = 256

// NewActor builds an Actor over sched. onDone fires from Actor's own
// goroutine once a review's gate pass resolves. Run must be started
// (typically `go actor.Run(ctx)`) before ScheduleReview/Rerun/Cancel
// are called.
func NewActor(sched *Scheduler, onDone OutcomeHandler) *Actor {
	return &Actor{
		sched:   sched,
		onDone:  onDone,
		cmds:    make(chan actorCmd, cmdQueueDepth),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		reviews: map[string]*reviewState{},
		timers:  map[string]*time.Timer{},
	}
}

// Run drives the command loop until ctx is cancelled or Stop is
// called.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.stopped)
	for {
		select {
		case <-ctx.Done():
			a.stopAllTimers()
			return
		case <-a.stop:
			a.stopAllTimers()
			return
		case cmd := <-a.cmds:
			a.handle(ctx, cmd)
		}
	}
}

// Stop halts the command loop and cancels every armed timer.
func (a *Actor) Stop() {
	close(a.stop)
	<-a.stopped
}

// ScheduleReview enqueues a fresh gate pass for review; the caller's
// goroutine is never blocked on gate execution (spec.md §9 "Drive via
// an in-process channel").
func (a *Actor) ScheduleReview(review *types.Review, task *types.Task) {
	a.cmds <- scheduleCmd{review: review, task: task}
}

// Rerun enqueues a gate pass with every gate's attempt counter reset to
// 1 (spec.md §4.5 "rerun").
func (a *Actor) Rerun(review *types.Review, task *types.Task) {
	a.cmds <- scheduleCmd{review: review, task: task, forceReset: true}
}

// Cancel drops any in-flight polling state for reviewID and disarms its
// timer without resolving an outcome.
func (a *Actor) Cancel(reviewID string) {
	a.cmds <- cancelCmd{reviewID: reviewID}
}

func (a *Actor) handle(ctx context.Context, cmd actorCmd) {
	switch c := cmd.(type) {
	case scheduleCmd:
		a.runPass(ctx, c.review, c.task, c.forceReset)
	case cancelCmd:
		a.clearTimer(c.reviewID)
		a.mu.Lock()
		delete(a.reviews, c.reviewID)
		a.mu.Unlock()
	case pollFiredCmd:
		a.pollReview(ctx, c.reviewID)
	}
}

func (a *Actor) runPass(ctx context.Context, review *types.Review, task *types.Task, forceReset bool) {
	gates, err := a.sched.EffectiveGates(ctx, task)
	if err != nil {
		return
	}
	if len(gates) == 0 {
		a.onDone(ctx, review, task, &Outcome{AllPassed: true})
		return
	}
	if err := a.sched.emitGatesStarted(ctx, review.ID, gates); err != nil {
		return
	}

	rs := &reviewState{
		review: review, task: task,
		repoPath: repoPathFor(ctx, a.sched.store, task.RepoID),
		gates:    gates,
		pending:  map[string]*pendingGate{},
		results:  map[string]*types.GateResult{},
	}
	results := make([]*types.GateResult, len(gates))
	var wg sync.WaitGroup
	for i, g := range gates {
		wg.Add(1)
		go func(i int, g *types.Gate) {
			defer wg.Done()
			if r, err := a.sched.runOneAttempt(ctx, review, task, rs.repoPath, g, forceReset); err == nil {
				results[i] = r
			}
		}(i, g)
	}
	wg.Wait()
	for i, g := range gates {
		result := results[i]
		if result == nil {
			continue
		}
		rs.results[g.ID] = result
		if result.Status == types.GatePending {
			rs.pending[g.ID] = &pendingGate{gate: g, attempt: result.Attempt, firstStarted: result.StartedAt}
		}
	}
	a.settle(ctx, rs)
}

func (a *Actor) pollReview(ctx context.Context, reviewID string) {
	a.mu.Lock()
	rs := a.reviews[reviewID]
	a.mu.Unlock()
	if rs == nil {
		// Already resolved or cancelled between arming this timer and
		// it firing.
		return
	}
	for gateID, pg := range rs.pending {
		result, err := a.sched.pollGate(ctx, rs.review, rs.task, rs.repoPath, pg.gate, pg.attempt, pg.firstStarted)
		if err != nil {
			continue
		}
		rs.results[gateID] = result
		if result.Status != types.GatePending {
			delete(rs.pending, gateID)
		}
	}
	a.settle(ctx, rs)
}

// settle either resolves rs's outcome (nothing left Pending) or
// re-arms review's single timer at the shortest remaining poll
// interval among its still-Pending gates (spec.md §4.5 "A single
// background timer wheel holds the next poll time per active
// Review").
func (a *Actor) settle(ctx context.Context, rs *reviewState) {
	if len(rs.pending) == 0 {
		a.clearTimer(rs.review.ID)
		a.mu.Lock()
		delete(a.reviews, rs.review.ID)
		a.mu.Unlock()

		results := make([]*types.GateResult, 0, len(rs.gates))
		for _, g := range rs.gates {
			if r, ok := rs.results[g.ID]; ok {
				results = append(results, r)
			}
		}
		a.onDone(ctx, rs.review, rs.task, outcomeFrom(results))
		return
	}

	a.mu.Lock()
	a.reviews[rs.review.ID] = rs
	a.mu.Unlock()

	var interval time.Duration
	for _, pg := range rs.pending {
		d := time.Duration(pg.gate.PollIntervalSecs) * time.Second
		if interval == 0 || d < interval {
			interval = d
		}
	}
	a.armTimer(rs.review.ID, interval)
}

func (a *Actor) armTimer(reviewID string, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.timers[reviewID]; ok {
		t.Stop()
	}
	a.timers[reviewID] = time.AfterFunc(d, func() {
		select {
		case a.cmds <- pollFiredCmd{reviewID: reviewID}:
		case <-a.stop:
		}
	})
}

func (a *Actor) clearTimer(reviewID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.timers[reviewID]; ok {
		t.Stop()
		delete(a.timers, reviewID)
	}
}

func (a *Actor) stopAllTimers() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, t := range a.timers {
		t.Stop()
		delete(a.timers, id)
	}
}
