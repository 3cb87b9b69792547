// Package task implements the task engine: hierarchy and blocker
// invariants, ready-work selection, and the status machine (spec.md
// §4.3). Cross-entity orchestration that spans Task, Review, and Gate
// (namely submit's review creation and gate enqueue) lives one layer up
// in package overseer, the same split the original implementation
// draws between TasksApi and the composing Overseer struct in
// os-core/src/overseer.rs.
package task

import (
	"context"
	"time"

	"github.com/overseer-dev/overseer/internal/errs"
	"github.com/overseer-dev/overseer/internal/eventbus"
	"github.com/overseer-dev/overseer/internal/ids"
	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/types"
)

// Engine implements the task operations table of spec.md §4.3 against
// a storage.Store, publishing every state-changing operation's event to
// an eventbus.Bus after commit.
type Engine struct {
	store storage.Store
	bus   *eventbus.Bus
	now   func() time.Time
}

func New(store storage.Store, bus *eventbus.Bus) *Engine {
	return &Engine{store: store, bus: bus, now: func() time.Time { return time.Now().UTC() }}
}

// CreateInput names the writable fields of create (spec.md §4.3).
type CreateInput struct {
	RepoID      string
	Kind        types.TaskKind
	ParentID    string
	Description string
	Context     string
	Priority    types.Priority
	BlockedBy   []string
}

func prefixFor(kind types.TaskKind) ids.Prefix {
	switch kind {
	case types.KindMilestone:
		return ids.Milestone
	case types.KindSubtask:
		return ids.Subtask
	default:
		return ids.Task
	}
}

// Create validates hierarchy and the blocker graph, then inserts a
// Pending task and emits TaskCreated.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*types.Task, error) {
	if in.Priority == 0 {
		in.Priority = types.PriorityNormal
	}
	if in.Description == "" {
		return nil, errs.New(errs.InvalidInput, "description is required")
	}

	var parent *types.Task
	if in.ParentID != "" {
		p, err := e.store.GetTask(ctx, in.ParentID)
		if err != nil {
			return nil, notFoundOrWrap(err, "parent task %s not found", in.ParentID)
		}
		if p.RepoID != in.RepoID {
			return nil, errs.New(errs.InvalidInput, "parent task %s belongs to a different repo", in.ParentID)
		}
		parent = p
	}
	var parentKind types.TaskKind
	if parent != nil {
		parentKind = parent.Kind
	}
	if err := types.ValidateHierarchy(in.Kind, in.ParentID != "", parentKind); err != nil {
		return nil, errs.New(errs.InvalidInput, "%v", err)
	}

	now := e.now()
	t := &types.Task{
		ID:          ids.New(prefixFor(in.Kind)),
		RepoID:      in.RepoID,
		ParentID:    in.ParentID,
		Kind:        in.Kind,
		Description: in.Description,
		Context:     in.Context,
		Priority:    in.Priority,
		Status:      types.StatusPending,
		BlockedBy:   append([]string(nil), in.BlockedBy...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if parent != nil && t.Context == "" {
		t.Context = parent.Context
	}
	if err := t.Validate(); err != nil {
		return nil, errs.New(errs.InvalidInput, "%v", err)
	}

	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		blockedByIdx, err := tx.BlockedByIndex(ctx, in.RepoID)
		if err != nil {
			return errs.Wrap(errs.Internal, err, "loading blocker graph")
		}
		for _, blockerID := range in.BlockedBy {
			if blockerID == t.ID {
				return errs.New(errs.Conflict, "task cannot block itself")
			}
			if _, err := tx.GetTask(ctx, blockerID); err != nil {
				return errs.New(errs.InvalidInput, "blocker %s not found", blockerID)
			}
			if err := checkCycle(t.ID, blockerID, blockedByIdx); err != nil {
				return err
			}
		}
		if err := tx.CreateTask(ctx, t); err != nil {
			return errs.Wrap(errs.Internal, err, "creating task")
		}
		for _, blockerID := range in.BlockedBy {
			if err := tx.AddBlocker(ctx, t.ID, blockerID); err != nil {
				return errs.Wrap(errs.Internal, err, "adding blocker")
			}
		}
		if parent != nil && parent.Status == types.StatusInProgress {
			if err := bubbleDownLearnings(ctx, tx, parent, t.ID, now); err != nil {
				return err
			}
		}
		return appendEvent(ctx, tx, types.EventTaskCreated, map[string]any{"task_id": t.ID, "repo_id": t.RepoID, "kind": t.Kind})
	})
	if err != nil {
		return nil, err
	}
	e.publishLast(ctx)
	return t, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*types.Task, error) {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, notFoundOrWrap(err, "task %s not found", id)
	}
	return t, nil
}

func (e *Engine) List(ctx context.Context, f storage.TaskFilter) ([]*types.Task, error) {
	return e.store.ListTasks(ctx, f)
}

// Update mutates the patchable fields (spec.md §4.3 "update").
func (e *Engine) Update(ctx context.Context, id string, patch types.TaskPatch) (*types.Task, error) {
	var out *types.Task
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		t, err := tx.GetTask(ctx, id)
		if err != nil {
			return errs.New(errs.NotFound, "task %s not found", id)
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.Context != nil {
			t.Context = *patch.Context
		}
		if patch.Priority != nil {
			t.Priority = *patch.Priority
		}
		t.UpdatedAt = e.now()
		if err := t.Validate(); err != nil {
			return errs.New(errs.InvalidInput, "%v", err)
		}
		if err := tx.UpdateTask(ctx, t); err != nil {
			return errs.Wrap(errs.Internal, err, "updating task")
		}
		out = t
		return appendEvent(ctx, tx, types.EventTaskUpdated, map[string]any{"task_id": id})
	})
	if err != nil {
		return nil, err
	}
	e.publishLast(ctx)
	return out, nil
}

// Delete cascades to children's dependent records but leaves other
// tasks' blocked_by entries dangling, per spec.md §4.3.
func (e *Engine) Delete(ctx context.Context, id string) error {
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetTask(ctx, id); err != nil {
			return errs.New(errs.NotFound, "task %s not found", id)
		}
		if err := tx.DeleteTask(ctx, id); err != nil {
			return errs.Wrap(errs.Internal, err, "deleting task")
		}
		return appendEvent(ctx, tx, types.EventTaskDeleted, map[string]any{"task_id": id})
	})
	if err != nil {
		return err
	}
	e.publishLast(ctx)
	return nil
}

// Start transitions a Pending task to InProgress once its blockers are
// clear and its parent (if any) has started, then materializes its
// TaskVcs at base_commit = parent.head_commit or the repo's main head.
func (e *Engine) Start(ctx context.Context, id string) (*types.Task, *types.TaskVcs, error) {
	var task *types.Task
	var vcs *types.TaskVcs
	mainHead := ""
	if pre, err := e.store.GetTask(ctx, id); err == nil && pre.ParentID == "" {
		if r, err := e.store.GetRepo(ctx, pre.RepoID); err == nil {
			mainHead = r.MainHead
		}
	}
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		t, err := tx.GetTask(ctx, id)
		if err != nil {
			return errs.New(errs.NotFound, "task %s not found", id)
		}
		if t.Status != types.StatusPending {
			return errs.New(errs.InvalidState, "task %s is not Pending", id)
		}
		blocked, err := isEffectivelyBlockedTx(ctx, tx, t)
		if err != nil {
			return err
		}
		if blocked {
			return errs.New(errs.PreconditionFailed, "task %s has uncompleted blockers", id)
		}
		if t.ParentID != "" {
			parent, err := tx.GetTask(ctx, t.ParentID)
			if err != nil {
				return errs.New(errs.NotFound, "parent %s not found", t.ParentID)
			}
			if parent.Status == types.StatusPending {
				return errs.New(errs.PreconditionFailed, "parent task %s has not started", t.ParentID)
			}
		}

		now := e.now()
		t.Status = types.StatusInProgress
		t.StartedAt = &now
		t.UpdatedAt = now
		if err := tx.UpdateTask(ctx, t); err != nil {
			return errs.Wrap(errs.Internal, err, "updating task")
		}

		baseCommit := ""
		if t.ParentID != "" {
			if parentVcs, err := tx.GetTaskVcs(ctx, t.ParentID); err == nil {
				baseCommit = parentVcs.HeadCommit
			}
		} else {
			baseCommit = mainHead
		}
		v := &types.TaskVcs{
			TaskID:      t.ID,
			RepoID:      t.RepoID,
			VcsType:     types.VcsGit,
			RefName:     "task/" + t.ID,
			BaseCommit:  baseCommit,
			StartCommit: baseCommit,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.PutTaskVcs(ctx, v); err != nil {
			return errs.Wrap(errs.Internal, err, "creating task vcs")
		}

		if err := appendEvent(ctx, tx, types.EventTaskStarted, map[string]any{"task_id": t.ID}); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, types.EventRefCreated, map[string]any{"task_id": t.ID, "ref": v.RefName}); err != nil {
			return err
		}
		task, vcs = t, v
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	e.publishLast(ctx)
	return task, vcs, nil
}

// MarkSubmitted sets head_commit (first time) or updates it (resubmit)
// and moves the task to InReview. It does not create the Review itself;
// package overseer calls this and then review.Engine.Create within the
// same higher-level operation, matching submit's compound effect list
// in spec.md §4.3.
func (e *Engine) MarkSubmitted(ctx context.Context, id, headCommit string) (*types.Task, *types.TaskVcs, error) {
	var task *types.Task
	var vcs *types.TaskVcs
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		t, err := tx.GetTask(ctx, id)
		if err != nil {
			return errs.New(errs.NotFound, "task %s not found", id)
		}
		if t.Status != types.StatusInProgress {
			return errs.New(errs.InvalidState, "task %s is not InProgress", id)
		}
		v, err := tx.GetTaskVcs(ctx, id)
		if err != nil {
			return errs.New(errs.PreconditionFailed, "task %s has no vcs ref; call Start first", id)
		}
		v.HeadCommit = headCommit
		v.UpdatedAt = e.now()
		if err := tx.PutTaskVcs(ctx, v); err != nil {
			return errs.Wrap(errs.Internal, err, "updating task vcs")
		}

		t.Status = types.StatusInReview
		t.UpdatedAt = e.now()
		if err := tx.UpdateTask(ctx, t); err != nil {
			return errs.Wrap(errs.Internal, err, "updating task")
		}

		if err := appendEvent(ctx, tx, types.EventCommitted, map[string]any{"task_id": id, "rev": headCommit}); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, types.EventTaskSubmitted, map[string]any{"task_id": id}); err != nil {
			return err
		}
		task, vcs = t, v
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	e.publishLast(ctx)
	return task, vcs, nil
}

// ReturnToInProgress implements the ChangesRequested side effect on the
// task's status machine (spec.md §4.3, §4.4).
func (e *Engine) ReturnToInProgress(ctx context.Context, id string) (*types.Task, error) {
	return e.transition(ctx, id, types.StatusInProgress, nil)
}

// Complete implements approve's terminal effect on the task.
func (e *Engine) Complete(ctx context.Context, id string) (*types.Task, error) {
	now := e.now()
	return e.transition(ctx, id, types.StatusCompleted, func(t *types.Task) {
		t.CompletedAt = &now
	}, types.EventTaskCompleted)
}

func (e *Engine) Cancel(ctx context.Context, id string) (*types.Task, error) {
	var out *types.Task
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		t, err := tx.GetTask(ctx, id)
		if err != nil {
			return errs.New(errs.NotFound, "task %s not found", id)
		}
		if t.Status == types.StatusCompleted {
			return errs.New(errs.InvalidState, "task %s is already completed", id)
		}
		t.Status = types.StatusCancelled
		t.UpdatedAt = e.now()
		if err := tx.UpdateTask(ctx, t); err != nil {
			return errs.Wrap(errs.Internal, err, "updating task")
		}
		out = t
		return appendEvent(ctx, tx, types.EventTaskCancelled, map[string]any{"task_id": id})
	})
	if err != nil {
		return nil, err
	}
	e.publishLast(ctx)
	return out, nil
}

// ForceComplete is human-caller-only per spec.md §4.3; authorization is
// enforced by the caller (CLI/HTTP layer), not this engine.
func (e *Engine) ForceComplete(ctx context.Context, id string) (*types.Task, error) {
	now := e.now()
	var out *types.Task
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		t, err := tx.GetTask(ctx, id)
		if err != nil {
			return errs.New(errs.NotFound, "task %s not found", id)
		}
		t.Status = types.StatusCompleted
		t.CompletedAt = &now
		t.UpdatedAt = now
		if err := tx.UpdateTask(ctx, t); err != nil {
			return errs.Wrap(errs.Internal, err, "updating task")
		}
		out = t
		return appendEvent(ctx, tx, types.EventTaskCompleted, map[string]any{"task_id": id, "forced": true})
	})
	if err != nil {
		return nil, err
	}
	e.publishLast(ctx)
	return out, nil
}

// SetStatus is the human-only forced transition; unlike the other
// operations it does not check validTransitions (spec.md §4.3 "forced
// transition").
func (e *Engine) SetStatus(ctx context.Context, id string, status types.TaskStatus) (*types.Task, error) {
	if !status.IsValid() {
		return nil, errs.New(errs.InvalidInput, "invalid status %q", status)
	}
	var out *types.Task
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		t, err := tx.GetTask(ctx, id)
		if err != nil {
			return errs.New(errs.NotFound, "task %s not found", id)
		}
		from := t.Status
		t.Status = status
		t.UpdatedAt = e.now()
		if status == types.StatusCompleted && t.CompletedAt == nil {
			now := e.now()
			t.CompletedAt = &now
		}
		if status == types.StatusInProgress && t.StartedAt == nil {
			now := e.now()
			t.StartedAt = &now
		}
		if err := tx.UpdateTask(ctx, t); err != nil {
			return errs.Wrap(errs.Internal, err, "updating task")
		}
		out = t
		return appendEvent(ctx, tx, types.EventTaskStatusChanged, map[string]any{"task_id": id, "from": from, "to": status})
	})
	if err != nil {
		return nil, err
	}
	e.publishLast(ctx)
	return out, nil
}

// transition applies a status change checked by
// types.ValidateStatusTransition plus an optional mutation, used by Complete/ReturnToInProgress which are driven by the
// review engine rather than a direct caller.
func (e *Engine) transition(ctx context.Context, id string, to types.TaskStatus, mutate func(*types.Task), evt ...types.EventType) (*types.Task, error) {
	evtType := types.EventTaskStatusChanged
	if len(evt) > 0 {
		evtType = evt[0]
	}
	var out *types.Task
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		t, err := tx.GetTask(ctx, id)
		if err != nil {
			return errs.New(errs.NotFound, "task %s not found", id)
		}
		from := t.Status
		if err := types.ValidateStatusTransition(from, to); err != nil {
			return errs.New(errs.InvalidState, "%v", err)
		}
		t.Status = to
		t.UpdatedAt = e.now()
		if mutate != nil {
			mutate(t)
		}
		if err := tx.UpdateTask(ctx, t); err != nil {
			return errs.Wrap(errs.Internal, err, "updating task")
		}
		out = t
		return appendEvent(ctx, tx, evtType, map[string]any{"task_id": id, "from": from, "to": to})
	})
	if err != nil {
		return nil, err
	}
	e.publishLast(ctx)
	return out, nil
}

// Block adds a blocker edge after checking for self-block and cycles
// (spec.md §4.3 "block / unblock").
func (e *Engine) Block(ctx context.Context, id, blockerID string) error {
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		t, err := tx.GetTask(ctx, id)
		if err != nil {
			return errs.New(errs.NotFound, "task %s not found", id)
		}
		if _, err := tx.GetTask(ctx, blockerID); err != nil {
			return errs.New(errs.NotFound, "task %s not found", blockerID)
		}
		blockedByIdx, err := tx.BlockedByIndex(ctx, t.RepoID)
		if err != nil {
			return errs.Wrap(errs.Internal, err, "loading blocker graph")
		}
		if err := checkCycle(id, blockerID, blockedByIdx); err != nil {
			return err
		}
		if err := tx.AddBlocker(ctx, id, blockerID); err != nil {
			return errs.Wrap(errs.Internal, err, "adding blocker")
		}
		return appendEvent(ctx, tx, types.EventBlockerAdded, map[string]any{"task_id": id, "blocker_id": blockerID})
	})
	if err != nil {
		return err
	}
	e.publishLast(ctx)
	return nil
}

func (e *Engine) Unblock(ctx context.Context, id, blockerID string) error {
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.RemoveBlocker(ctx, id, blockerID); err != nil {
			return errs.Wrap(errs.Internal, err, "removing blocker")
		}
		return appendEvent(ctx, tx, types.EventBlockerRemoved, map[string]any{"task_id": id, "blocker_id": blockerID})
	})
	if err != nil {
		return err
	}
	e.publishLast(ctx)
	return nil
}

// checkCycle rejects a proposed task -> blockerID edge if task is
// reachable from blockerID over the blocked_by relation, an explicit
// stack DFS ported from validate_blocker_cycle in
// os-core/src/validation.rs (spec.md §4.3 "Cycle detection").
func checkCycle(taskID, blockerID string, blockedBy map[string][]string) error {
	if taskID == blockerID {
		return errs.New(errs.Conflict, "task cannot block itself")
	}
	visited := map[string]bool{}
	stack := []string{blockerID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, child := range blockedBy[cur] {
			if child == taskID {
				return errs.New(errs.Conflict, "cycle detected adding %s as blocker of %s", blockerID, taskID)
			}
			stack = append(stack, child)
		}
	}
	return nil
}

func appendEvent(ctx context.Context, tx storage.Tx, t types.EventType, body map[string]any) error {
	seq, err := tx.AllocateEventSeq(ctx)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "allocating event seq")
	}
	e := &types.Event{
		ID:   ids.New(ids.Event),
		Seq:  seq,
		Type: t,
		At:   time.Now().UTC(),
		Body: body,
	}
	if err := tx.AppendEvent(ctx, e); err != nil {
		return errs.Wrap(errs.Internal, err, "appending event")
	}
	return nil
}

// publishLast is a placeholder hook point: production wiring publishes
// events to the bus from the same transaction boundary via
// overseer.WithEvents (see package overseer), which reads back
// everything appended during the transaction and calls bus.Publish once
// per event, strictly after commit. Engines constructed directly (as in
// this package's own tests) may pass a nil bus and skip publication.
func (e *Engine) publishLast(ctx context.Context) {
	// Publication is centralized in package overseer so a single
	// submit-style operation that appends multiple events (e.g. Start's
	// TaskStarted + RefCreated) publishes them in the same commit-order
	// they were appended. See overseer.WithEvents.
	_ = ctx
}

// bubbleDownLearnings copies every learning attached to parent and its
// own ancestors onto a freshly created subtask, so work that starts
// under an active parent inherits what has already been learned instead
// of rediscovering it (SPEC_FULL.md "Learning bubble-up", item 2; runs
// from Create).
// Only fires while parent is InProgress -- a subtask created under a
// Pending or already-Completed parent has nothing active to inherit
// from yet.
func bubbleDownLearnings(ctx context.Context, tx storage.Tx, parent *types.Task, newTaskID string, now time.Time) error {
	var chain []string
	for cur := parent; ; {
		chain = append([]string{cur.ID}, chain...)
		if cur.ParentID == "" {
			break
		}
		p, err := tx.GetTask(ctx, cur.ParentID)
		if err != nil {
			break
		}
		cur = p
	}

	for _, ancestorID := range chain {
		ls, err := tx.ListLearnings(ctx, ancestorID)
		if err != nil {
			return errs.Wrap(errs.Internal, err, "loading learnings to bubble down")
		}
		for _, l := range ls {
			bubbled := &types.Learning{
				ID:           ids.New(ids.Learning),
				TaskID:       newTaskID,
				Content:      l.Content,
				SourceTaskID: ancestorID,
				CreatedAt:    now,
			}
			if err := tx.CreateLearning(ctx, bubbled); err != nil {
				return errs.Wrap(errs.Internal, err, "bubbling learning down to new subtask")
			}
			if err := appendEvent(ctx, tx, types.EventLearningBubbled, map[string]any{
				"learning_id": bubbled.ID, "task_id": newTaskID, "source_task_id": ancestorID,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func notFoundOrWrap(err error, format string, args ...any) error {
	if err == storage.ErrNotFound {
		return errs.New(errs.NotFound, format, args...)
	}
	return errs.Wrap(errs.Internal, err, format, args...)
}
