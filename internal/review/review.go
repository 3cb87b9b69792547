// Package review implements the three-phase review pipeline (spec.md
// §4.4): GatesPending -> (AgentPending | GatesEscalated) -> HumanPending
// -> Approved, with ChangesRequested freezing the review from
// AgentPending, HumanPending or GatesEscalated. Grounded on the ReviewsApi surface of
// original_source/crates/os-core/src/overseer.rs, generalized the same
// way package task generalizes TasksApi.
package review

import (
	"context"
	"time"

	"github.com/overseer-dev/overseer/internal/errs"
	"github.com/overseer-dev/overseer/internal/ids"
	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/types"
)

type Engine struct {
	store storage.Store
	now   func() time.Time
}

func New(store storage.Store) *Engine {
	return &Engine{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// phaseTransitions enumerates every allowed (from, to) review phase
// pair. ChangesRequested is reachable from every non-terminal phase
// except GatesPending, since a human may reject work once gates settle
// (spec.md §4.4 "a human may request changes from AgentPending,
// HumanPending, or a GatesEscalated review").
var phaseTransitions = map[[2]types.ReviewStatus]bool{
	{types.ReviewGatesPending, types.ReviewAgentPending}:   true,
	{types.ReviewGatesPending, types.ReviewGatesEscalated}: true,
	{types.ReviewAgentPending, types.ReviewHumanPending}:   true,
	{types.ReviewGatesEscalated, types.ReviewHumanPending}: true,
	{types.ReviewGatesEscalated, types.ReviewAgentPending}: true,
	{types.ReviewHumanPending, types.ReviewApproved}:       true,

	{types.ReviewAgentPending, types.ReviewChangesRequired}:   true,
	{types.ReviewHumanPending, types.ReviewChangesRequired}:   true,
	{types.ReviewGatesEscalated, types.ReviewChangesRequired}: true,
}

func validatePhase(from, to types.ReviewStatus) error {
	if phaseTransitions[[2]types.ReviewStatus{from, to}] {
		return nil
	}
	return errs.New(errs.InvalidState, "cannot move review from %s to %s", from, to)
}

// Create opens a new Review for taskID in GatesPending. Exactly one
// Review per task may be non-terminal at a time; the caller (package
// overseer) is responsible for having already verified no active
// review exists before calling this.
func (e *Engine) Create(ctx context.Context, taskID string) (*types.Review, error) {
	r := &types.Review{
		ID:          ids.New(ids.Review),
		TaskID:      taskID,
		Status:      types.ReviewGatesPending,
		SubmittedAt: e.now(),
	}
	if err := r.Validate(); err != nil {
		return nil, errs.New(errs.InvalidInput, "%v", err)
	}
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.CreateReview(ctx, r); err != nil {
			return errs.Wrap(errs.Internal, err, "creating review")
		}
		return appendEvent(ctx, tx, types.EventReviewCreated, map[string]any{"review_id": r.ID, "task_id": taskID})
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*types.Review, error) {
	r, err := e.store.GetReview(ctx, id)
	if err != nil {
		return nil, notFoundOrWrap(err, "review %s not found", id)
	}
	return r, nil
}

func (e *Engine) GetActiveForTask(ctx context.Context, taskID string) (*types.Review, error) {
	r, err := e.store.GetActiveReviewForTask(ctx, taskID)
	if err != nil {
		return nil, notFoundOrWrap(err, "no active review for task %s", taskID)
	}
	return r, nil
}

func (e *Engine) ListForTask(ctx context.Context, taskID string) ([]*types.Review, error) {
	return e.store.ListReviewsForTask(ctx, taskID)
}

// MoveToAgentPending is the GateScheduler's callback once every
// effective gate has Passed for this Review.
func (e *Engine) MoveToAgentPending(ctx context.Context, reviewID string) (*types.Review, error) {
	now := e.now()
	return e.move(ctx, reviewID, types.ReviewAgentPending, func(r *types.Review) { r.GatesCompletedAt = &now })
}

// MoveToHumanPending transitions from AgentPending once the agent pass
// finishes (whether that pass ran a real GitAI verdict or resolved
// immediately because no reviewer is configured), or from
// GatesEscalated once a human manually clears the escalation to
// continue the pipeline. AgentPending is always visited between gates
// passing and HumanPending -- there is no direct GatesPending ->
// HumanPending edge.
func (e *Engine) MoveToHumanPending(ctx context.Context, reviewID string) (*types.Review, error) {
	now := e.now()
	return e.move(ctx, reviewID, types.ReviewHumanPending, func(r *types.Review) {
		if r.Status == types.ReviewAgentPending {
			r.AgentCompletedAt = &now
		}
		if r.GatesCompletedAt == nil {
			r.GatesCompletedAt = &now
		}
	})
}

// Escalate is the GateScheduler's callback once a gate has exhausted
// its retry budget without passing.
func (e *Engine) Escalate(ctx context.Context, reviewID string) (*types.Review, error) {
	return e.move(ctx, reviewID, types.ReviewGatesEscalated, nil, types.EventGateEscalated)
}

// Approve is the human-only terminal action; its task-side effect
// (InReview -> Completed) is applied by the caller via task.Engine.
func (e *Engine) Approve(ctx context.Context, reviewID string) (*types.Review, error) {
	now := e.now()
	return e.move(ctx, reviewID, types.ReviewApproved, func(r *types.Review) { r.HumanCompletedAt = &now }, types.EventReviewApproved)
}

// RequestChanges freezes the review; its task-side effect (InReview ->
// InProgress) is applied by the caller via task.Engine.
func (e *Engine) RequestChanges(ctx context.Context, reviewID string) (*types.Review, error) {
	now := e.now()
	return e.move(ctx, reviewID, types.ReviewChangesRequired, func(r *types.Review) { r.HumanCompletedAt = &now }, types.EventChangesRequested)
}

func (e *Engine) move(ctx context.Context, reviewID string, to types.ReviewStatus, mutate func(*types.Review), evt ...types.EventType) (*types.Review, error) {
	evtType := types.EventReviewApproved
	if len(evt) > 0 {
		evtType = evt[0]
	}
	var out *types.Review
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		r, err := tx.GetReview(ctx, reviewID)
		if err != nil {
			return errs.New(errs.NotFound, "review %s not found", reviewID)
		}
		from := r.Status
		if err := validatePhase(from, to); err != nil {
			return err
		}
		r.Status = to
		if mutate != nil {
			mutate(r)
		}
		if err := tx.UpdateReview(ctx, r); err != nil {
			return errs.Wrap(errs.Internal, err, "updating review")
		}
		out = r
		return appendEvent(ctx, tx, evtType, map[string]any{"review_id": reviewID, "from": from, "to": to})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddComment appends a comment to reviewID (spec.md §4.4 "add_comment";
// comments are append-only, ResolvedAt is the only later mutation).
func (e *Engine) AddComment(ctx context.Context, reviewID, taskID string, author types.CommentAuthor, filePath string, lineStart, lineEnd *int, side types.DiffSide, body string) (*types.ReviewComment, error) {
	c := &types.ReviewComment{
		ID:        ids.New(ids.Comment),
		ReviewID:  reviewID,
		TaskID:    taskID,
		Author:    author,
		FilePath:  filePath,
		LineStart: lineStart,
		LineEnd:   lineEnd,
		Side:      side,
		Body:      body,
		CreatedAt: e.now(),
	}
	if err := c.Validate(); err != nil {
		return nil, errs.New(errs.InvalidInput, "%v", err)
	}
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetReview(ctx, reviewID); err != nil {
			return errs.New(errs.NotFound, "review %s not found", reviewID)
		}
		if err := tx.AddComment(ctx, c); err != nil {
			return errs.Wrap(errs.Internal, err, "adding comment")
		}
		return appendEvent(ctx, tx, types.EventCommentAdded, map[string]any{"comment_id": c.ID, "review_id": reviewID})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (e *Engine) ResolveComment(ctx context.Context, commentID string) error {
	var reviewID string
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		c, err := tx.GetComment(ctx, commentID)
		if err != nil {
			return errs.New(errs.NotFound, "comment %s not found", commentID)
		}
		reviewID = c.ReviewID
		if err := tx.ResolveComment(ctx, commentID); err != nil {
			return errs.Wrap(errs.Internal, err, "resolving comment")
		}
		return appendEvent(ctx, tx, types.EventCommentResolved, map[string]any{"comment_id": commentID, "review_id": reviewID})
	})
	return err
}

func (e *Engine) ListComments(ctx context.Context, reviewID string) ([]*types.ReviewComment, error) {
	return e.store.ListComments(ctx, reviewID)
}

func appendEvent(ctx context.Context, tx storage.Tx, t types.EventType, body map[string]any) error {
	seq, err := tx.AllocateEventSeq(ctx)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "allocating event seq")
	}
	e := &types.Event{ID: ids.New(ids.Event), Seq: seq, Type: t, At: time.Now().UTC(), Body: body}
	if err := tx.AppendEvent(ctx, e); err != nil {
		return errs.Wrap(errs.Internal, err, "appending event")
	}
	return nil
}

func notFoundOrWrap(err error, format string, args ...any) error {
	if err == storage.ErrNotFound {
		return errs.New(errs.NotFound, format, args...)
	}
	return errs.Wrap(errs.Internal, err, format, args...)
}
