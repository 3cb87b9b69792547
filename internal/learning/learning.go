// Package learning implements the learning bubble-up supplemented
// feature (SPEC_FULL.md "Learning bubble-up"): a durable note attached
// to a task can be copied onto every ancestor so a milestone
// accumulates the lessons learned by its descendants, and a new
// subtask inherits its ancestors' learnings as context at creation
// time.
package learning

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

// Add records a learning on taskID and bubbles a copy onto every
// ancestor up to the root milestone, each copy carrying SourceTaskID so
// callers can tell an original from a bubbled note.
func (e *Engine) Add(ctx context.Context, taskID, content string) (*types.Learning, error) {
	l := &types.Learning{ID: ids.New(ids.Learning), TaskID: taskID, Content: content, CreatedAt: e.now()}
	if err := l.Validate(); err != nil {
		return nil, errs.New(errs.InvalidInput, "%v", err)
	}

	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		t, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return errs.New(errs.NotFound, "task %s not found", taskID)
		}
		if err := tx.CreateLearning(ctx, l); err != nil {
			return errs.Wrap(errs.Internal, err, "creating learning")
		}
		if err := appendEvent(ctx, tx, types.EventLearningAdded, map[string]any{"learning_id": l.ID, "task_id": taskID}); err != nil {
			return err
		}

		cur := t
		for cur.ParentID != "" {
			parent, err := tx.GetTask(ctx, cur.ParentID)
			if err != nil {
				break
			}
			bubbled := &types.Learning{
				ID: ids.New(ids.Learning), TaskID: parent.ID, Content: content,
				SourceTaskID: taskID, CreatedAt: e.now(),
			}
			if err := tx.CreateLearning(ctx, bubbled); err != nil {
				return errs.Wrap(errs.Internal, err, "bubbling learning")
			}
			if err := appendEvent(ctx, tx, types.EventLearningBubbled, map[string]any{"learning_id": bubbled.ID, "task_id": parent.ID, "source_task_id": taskID}); err != nil {
				return err
			}
			cur = parent
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Inherited returns every learning attached to taskID's ancestor chain
// (root first), the context handed to a newly created subtask.
func (e *Engine) Inherited(ctx context.Context, taskID string) ([]*types.Learning, error) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, errs.New(errs.NotFound, "task %s not found", taskID)
	}

	var chain []string
	cur := t
	for cur.ParentID != "" {
		chain = append([]string{cur.ParentID}, chain...)
		parent, err := e.store.GetTask(ctx, cur.ParentID)
		if err != nil {
			break
		}
		cur = parent
	}

	var out []*types.Learning
	for _, ancestorID := range chain {
		ls, err := e.store.ListLearnings(ctx, ancestorID)
		if err != nil {
			return nil, err
		}
		out = append(out, ls...)
	}
	return out, nil
}

func (e *Engine) ListForTask(ctx context.Context, taskID string) ([]*types.Learning, error) {
	return e.store.ListLearnings(ctx, taskID)
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
