// Package help implements the help-request escalation mini-workflow
// (spec.md §4.6): an agent requests human input, the human responds,
// and the task resumes at the status it was escalated from. Grounded
// on the HelpApi surface of original_source/crates/os-core/src/
// overseer.rs (request/respond/resume).
package help

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

// RequestInput names the writable fields of request_help.
type RequestInput struct {
	TaskID           string
	Category         types.HelpCategory
	Reason           string
	SuggestedOptions []string
}

// Request opens a HelpRequest and moves the task to AwaitingHuman,
// capturing its current status so Resume can restore it (spec.md §4.6
// "request_help"). Only one non-terminal HelpRequest may exist per
// task at a time.
func (e *Engine) Request(ctx context.Context, in RequestInput) (*types.HelpRequest, error) {
	h := &types.HelpRequest{
		ID:               ids.New(ids.HelpRequest),
		TaskID:           in.TaskID,
		Category:         in.Category,
		Reason:           in.Reason,
		SuggestedOptions: append([]string(nil), in.SuggestedOptions...),
		Status:           types.HelpPending,
		CreatedAt:        e.now(),
	}

	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetActiveHelpForTask(ctx, in.TaskID); err == nil {
			return errs.New(errs.Conflict, "task %s already has an active help request", in.TaskID)
		}
		t, err := tx.GetTask(ctx, in.TaskID)
		if err != nil {
			return errs.New(errs.NotFound, "task %s not found", in.TaskID)
		}
		switch t.Status {
		case types.StatusPending, types.StatusInProgress, types.StatusInReview:
		default:
			return errs.New(errs.InvalidState, "task %s cannot request help from status %s", in.TaskID, t.Status)
		}
		h.FromStatus = t.Status
		if err := h.Validate(); err != nil {
			return errs.New(errs.InvalidInput, "%v", err)
		}
		if err := tx.CreateHelpRequest(ctx, h); err != nil {
			return errs.Wrap(errs.Internal, err, "creating help request")
		}

		from := t.Status
		t.Status = types.StatusAwaitingHuman
		t.UpdatedAt = e.now()
		if err := tx.UpdateTask(ctx, t); err != nil {
			return errs.Wrap(errs.Internal, err, "updating task")
		}

		if err := appendEvent(ctx, tx, types.EventHelpRequested, map[string]any{"help_id": h.ID, "task_id": in.TaskID, "category": in.Category}); err != nil {
			return err
		}
		return appendEvent(ctx, tx, types.EventTaskStatusChanged, map[string]any{"task_id": in.TaskID, "from": from, "to": types.StatusAwaitingHuman})
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Respond records the human's answer without resuming the task; Resume
// is a separate, explicit step (spec.md §4.6 "respond").
func (e *Engine) Respond(ctx context.Context, id, response string, chosenOption *int) (*types.HelpRequest, error) {
	var out *types.HelpRequest
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		h, err := tx.GetHelpRequest(ctx, id)
		if err != nil {
			return errs.New(errs.NotFound, "help request %s not found", id)
		}
		if h.Status != types.HelpPending {
			return errs.New(errs.InvalidState, "help request %s is not Pending", id)
		}
		h.Response = response
		h.ChosenOption = chosenOption
		h.Status = types.HelpResponded
		now := e.now()
		h.RespondedAt = &now
		if err := h.Validate(); err != nil {
			return errs.New(errs.InvalidInput, "%v", err)
		}
		if err := tx.UpdateHelpRequest(ctx, h); err != nil {
			return errs.Wrap(errs.Internal, err, "updating help request")
		}
		out = h
		return appendEvent(ctx, tx, types.EventHelpResponded, map[string]any{"help_id": id})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Resume restores the task to its pre-escalation status and closes the
// help request (spec.md §4.6 "resume").
func (e *Engine) Resume(ctx context.Context, id string) (*types.HelpRequest, *types.Task, error) {
	var outHelp *types.HelpRequest
	var outTask *types.Task
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		h, err := tx.GetHelpRequest(ctx, id)
		if err != nil {
			return errs.New(errs.NotFound, "help request %s not found", id)
		}
		if h.Status != types.HelpResponded {
			return errs.New(errs.InvalidState, "help request %s has not been responded to", id)
		}
		now := e.now()
		h.Status = types.HelpResolved
		h.ResumedAt = &now
		if err := tx.UpdateHelpRequest(ctx, h); err != nil {
			return errs.Wrap(errs.Internal, err, "updating help request")
		}

		t, err := tx.GetTask(ctx, h.TaskID)
		if err != nil {
			return errs.New(errs.NotFound, "task %s not found", h.TaskID)
		}
		t.Status = h.FromStatus
		t.UpdatedAt = now
		if err := tx.UpdateTask(ctx, t); err != nil {
			return errs.Wrap(errs.Internal, err, "updating task")
		}

		outHelp, outTask = h, t
		if err := appendEvent(ctx, tx, types.EventHelpResumed, map[string]any{"help_id": id, "task_id": h.TaskID}); err != nil {
			return err
		}
		return appendEvent(ctx, tx, types.EventTaskStatusChanged, map[string]any{"task_id": h.TaskID, "from": types.StatusAwaitingHuman, "to": h.FromStatus})
	})
	if err != nil {
		return nil, nil, err
	}
	return outHelp, outTask, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*types.HelpRequest, error) {
	h, err := e.store.GetHelpRequest(ctx, id)
	if err != nil {
		return nil, notFoundOrWrap(err, "help request %s not found", id)
	}
	return h, nil
}

func (e *Engine) ListForTask(ctx context.Context, taskID string) ([]*types.HelpRequest, error) {
	return e.store.ListHelpForTask(ctx, taskID)
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
