// Package overseer is the composition root: it wires together every
// entity engine (task, review, gate, help, idempotency, learning,
// repo, session, vcs, gitai) against one storage.Store and one
// eventbus.Bus, and implements the compound operations that span more
// than one engine -- submit, approve, request_changes, and the gate
// pipeline's phase routing -- which task.Engine, review.Engine, and
// gate.Scheduler each deliberately stop short of, per the split
// os-core/src/overseer.rs draws between its per-entity *Api traits and
// the composing Overseer struct itself.
package overseer

import (
	"context"
	"log/slog"

	"github.com/overseer-dev/overseer/internal/eventbus"
	"github.com/overseer-dev/overseer/internal/gate"
	"github.com/overseer-dev/overseer/internal/gitai"
	"github.com/overseer-dev/overseer/internal/help"
	"github.com/overseer-dev/overseer/internal/idempotency"
	"github.com/overseer-dev/overseer/internal/learning"
	"github.com/overseer-dev/overseer/internal/repo"
	"github.com/overseer-dev/overseer/internal/review"
	"github.com/overseer-dev/overseer/internal/session"
	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/task"
	"github.com/overseer-dev/overseer/internal/types"
	"github.com/overseer-dev/overseer/internal/vcs"
)

// Overseer composes every entity engine. Fields are public so a
// caller (cmd/overseer, or an HTTP/MCP transport layer) can reach a
// primitive operation directly when no cross-entity effect is needed;
// the methods below are for the operations that touch more than one
// engine.
type Overseer struct {
	Bus    *eventbus.Bus
	Tasks  *task.Engine
	Review *review.Engine
	Gates  *gate.Scheduler
	Help   *help.Engine
	Idem   *idempotency.Layer
	Learn  *learning.Engine
	Repos  *repo.Engine
	Sess   *session.Engine
	Vcs    *vcs.Manager

	GitAI      *gitai.Reviewer
	log        *slog.Logger
	vcsBackend vcs.Backend
	gateActor  *gate.Actor
}

// Option configures optional collaborators at construction time.
type Option func(*Overseer)

// WithGitAI installs an agent-assisted review pass that runs during the
// (always-visited) AgentPending phase (SPEC_FULL.md "Agent-assisted
// review"). Without this option the pipeline behaves exactly as
// gitai.ModeOff describes: AgentPending resolves immediately to
// HumanPending without an automated verdict.
func WithGitAI(r *gitai.Reviewer) Option {
	return func(o *Overseer) { o.GitAI = r }
}

// WithVcsBackend installs a concrete vcs.Backend so the GitAI pass and
// other callers can compute a real diff. Without it, diff retrieval is
// best-effort and silently degrades to an empty diff.
func WithVcsBackend(b vcs.Backend) Option {
	return func(o *Overseer) {
		o.Vcs = o.Vcs.WithBackend(b)
		o.vcsBackend = b
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(o *Overseer) { o.log = log }
}

// WithGateRunner overrides how gate commands execute, used by tests to
// substitute a fake Runner instead of shelling out.
func WithGateRunner(r gate.Runner) Option {
	return func(o *Overseer) { o.Gates = o.Gates.WithRunner(r) }
}

// New builds an Overseer against rawStore, publishing every
// transaction's events to bus after commit (see WithEvents). It also
// starts the gate scheduler's background Actor (spec.md §9), which
// runs for the lifetime of the process rather than the caller's
// request -- Submit and RerunGates only ever enqueue commands to it.
func New(rawStore storage.Store, bus *eventbus.Bus, opts ...Option) *Overseer {
	store := WithEvents(rawStore, bus)
	o := &Overseer{
		Bus:    bus,
		Tasks:  task.New(store, bus),
		Review: review.New(store),
		Gates:  gate.New(store),
		Help:   help.New(store),
		Idem:   idempotency.New(store),
		Learn:  learning.New(store),
		Repos:  repo.New(store),
		Sess:   session.New(store),
		Vcs:    vcs.New(store),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.gateActor = gate.NewActor(o.Gates, o.handleGateOutcome)
	go o.gateActor.Run(context.Background())
	return o
}

// Submit implements spec.md §4.3's compound submit effect list:
// MarkSubmitted's task-side commit/status change, followed by opening
// a fresh Review in GatesPending, followed by enqueuing the gate
// pipeline for that review onto the background Actor. Submit returns
// as soon as the Review row exists in GatesPending; the gate pass
// itself, and the phase transition it drives, happen asynchronously
// and are observable by re-fetching the Review (spec.md §2 "submit's
// effect is to enqueue a gate run", §9 "gate scheduler as background
// activity").
func (o *Overseer) Submit(ctx context.Context, taskID, headCommit string) (*types.Task, *types.Review, error) {
	t, _, err := o.Tasks.MarkSubmitted(ctx, taskID, headCommit)
	if err != nil {
		return nil, nil, err
	}
	r, err := o.Review.Create(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	o.gateActor.ScheduleReview(r, t)
	return t, r, nil
}

// RerunGates enqueues a fresh gate pass for review with every gate's
// attempt counter reset to 1 (spec.md §4.5 "rerun"). Like Submit, it
// returns immediately; the resulting phase transition happens on the
// Actor's goroutine via handleGateOutcome.
func (o *Overseer) RerunGates(ctx context.Context, reviewID string) error {
	r, err := o.Review.Get(ctx, reviewID)
	if err != nil {
		return err
	}
	t, err := o.Tasks.Get(ctx, r.TaskID)
	if err != nil {
		return err
	}
	o.gateActor.Rerun(r, t)
	return nil
}

// handleGateOutcome is gate.Actor's OutcomeHandler: it routes review's
// phase once a gate pass fully resolves.
func (o *Overseer) handleGateOutcome(ctx context.Context, r *types.Review, t *types.Task, outcome *gate.Outcome) {
	switch {
	case outcome.Escalated:
		if _, err := o.Review.Escalate(ctx, r.ID); err != nil {
			o.log.Error("overseer: failed to escalate review after gate outcome", "review_id", r.ID, "err", err)
		}
	case outcome.AllPassed:
		if err := o.advancePastGates(ctx, r, t); err != nil {
			o.log.Error("overseer: failed to advance review past gates", "review_id", r.ID, "err", err)
		}
	default:
		// Retryable failure: the review stays in GatesPending, waiting
		// on the agent to fix and resubmit (spec.md §4.5 "retries are
		// not spontaneous").
	}
}

// advancePastGates always moves the review into AgentPending first --
// that phase is mandatory regardless of whether a GitAI reviewer is
// configured (spec.md §4.4's state diagram, §8 Scenario 1: "Submit
// with no gates skips directly to AgentPending"). GitAI only decides
// how that phase resolves: with no reviewer configured (or ModeOff) it
// resolves immediately to HumanPending, standing in for the human
// agent-review step spec.md describes as waiting on an explicit
// approve/request_changes call; with a reviewer configured, its
// verdict drives the same transition automatically.
func (o *Overseer) advancePastGates(ctx context.Context, r *types.Review, t *types.Task) error {
	agentPending, err := o.Review.MoveToAgentPending(ctx, r.ID)
	if err != nil {
		return err
	}

	if o.GitAI == nil || o.GitAI.Mode() == gitai.ModeOff {
		_, err := o.Review.MoveToHumanPending(ctx, agentPending.ID)
		return err
	}

	diff := o.bestEffortDiff(ctx, t)
	learnings := o.bestEffortLearnings(ctx, t.ID)
	verdict, err := o.GitAI.Run(ctx, gitai.Request{Task: t, Diff: diff, Learnings: learnings})
	if err != nil {
		// The agent pass failing is not fatal to the pipeline: fall
		// through to a human review exactly as if GitAI were off.
		o.log.Warn("overseer: gitai review failed, falling back to human review", "review_id", r.ID, "err", err)
		_, err := o.Review.MoveToHumanPending(ctx, r.ID)
		return err
	}
	if verdict == nil || verdict.Approve {
		_, err := o.Review.MoveToHumanPending(ctx, r.ID)
		return err
	}
	_, err = o.Review.RequestChanges(ctx, r.ID)
	if err != nil {
		return err
	}
	_, err = o.Tasks.ReturnToInProgress(ctx, t.ID)
	return err
}

// ApproveAgentPhase lets a human manually resolve an AgentPending
// review straight to HumanPending, bypassing whatever GitAI verdict
// would otherwise have run. This is the explicit override path a
// CLI/HTTP caller needs when GitAI is configured but a particular
// review's automated pass should not gate progress (spec.md §4.4 "a
// human may always override the automated step").
func (o *Overseer) ApproveAgentPhase(ctx context.Context, reviewID string) (*types.Review, error) {
	return o.Review.MoveToHumanPending(ctx, reviewID)
}

func (o *Overseer) bestEffortDiff(ctx context.Context, t *types.Task) string {
	repoPath := ""
	if r, err := o.Repos.Get(ctx, t.RepoID); err == nil {
		repoPath = r.Path
	}
	diff, err := o.Vcs.Diff(ctx, repoPath, t.ID)
	if err != nil {
		o.log.Debug("overseer: no diff available for gitai pass", "task_id", t.ID, "err", err)
		return ""
	}
	return diff
}

func (o *Overseer) bestEffortLearnings(ctx context.Context, taskID string) []string {
	ls, err := o.Learn.Inherited(ctx, taskID)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Content)
	}
	return out
}

// ResumeFromEscalation is the human operation that clears a
// GatesEscalated review and lets the pipeline continue, routing back
// through AgentPending exactly like a first pass so GitAI (if
// configured) still gets a chance to verdict the work (spec.md §4.4).
func (o *Overseer) ResumeFromEscalation(ctx context.Context, reviewID string) (*types.Review, error) {
	r, err := o.Review.Get(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	t, err := o.Tasks.Get(ctx, r.TaskID)
	if err != nil {
		return nil, err
	}
	if err := o.advancePastGates(ctx, r, t); err != nil {
		return nil, err
	}
	return o.Review.Get(ctx, reviewID)
}

// Approve implements approve's compound effect: the review moves to
// Approved and the task moves InReview -> Completed in the same
// logical operation (spec.md §4.4).
func (o *Overseer) Approve(ctx context.Context, reviewID string) (*types.Review, *types.Task, error) {
	r, err := o.Review.Approve(ctx, reviewID)
	if err != nil {
		return nil, nil, err
	}
	t, err := o.Tasks.Complete(ctx, r.TaskID)
	if err != nil {
		return r, nil, err
	}
	return r, t, nil
}

// RequestChanges implements request_changes' compound effect: the
// review freezes in ChangesRequired and the task moves InReview ->
// InProgress (spec.md §4.4).
func (o *Overseer) RequestChanges(ctx context.Context, reviewID string) (*types.Review, *types.Task, error) {
	r, err := o.Review.RequestChanges(ctx, reviewID)
	if err != nil {
		return nil, nil, err
	}
	t, err := o.Tasks.ReturnToInProgress(ctx, r.TaskID)
	if err != nil {
		return r, nil, err
	}
	return r, t, nil
}

// RequestHelp wraps help.Engine.Request; no second engine is touched
// beyond the task status flip help.Engine already performs internally,
// so this exists only to keep Overseer the single entrypoint a
// transport layer calls against.
func (o *Overseer) RequestHelp(ctx context.Context, in help.RequestInput) (*types.HelpRequest, error) {
	return o.Help.Request(ctx, in)
}

// ResumeFromHelp wraps help.Engine.Resume.
func (o *Overseer) ResumeFromHelp(ctx context.Context, helpID string) (*types.HelpRequest, *types.Task, error) {
	return o.Help.Resume(ctx, helpID)
}

// StartTask materializes a TaskVcs row and, if a vcs.Backend is
// configured, asks it to actually create the ref. Ref creation failing
// does not roll back the task transition -- the row still lets a later
// retry or manual fixup target the right ref name.
func (o *Overseer) StartTask(ctx context.Context, taskID string) (*types.Task, *types.TaskVcs, error) {
	t, v, err := o.Tasks.Start(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if o.vcsBackend != nil {
		repoPath := ""
		if r, err := o.Repos.Get(ctx, t.RepoID); err == nil {
			repoPath = r.Path
		}
		if err := o.vcsBackend.CreateRef(ctx, repoPath, v.RefName, v.BaseCommit); err != nil {
			o.log.Warn("overseer: vcs backend failed to create ref", "task_id", taskID, "ref", v.RefName, "err", err)
		}
	}
	return t, v, nil
}

// CleanupIdempotency runs idempotency.Layer.Cleanup, intended to be
// called periodically (e.g. from a cron-style background loop in
// cmd/overseer).
func (o *Overseer) CleanupIdempotency(ctx context.Context) (int, error) {
	return o.Idem.Cleanup(ctx)
}
