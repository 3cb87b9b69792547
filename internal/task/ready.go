package task

import (
	"context"
	"sort"

	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/types"
)

// EffectivelyBlocked reports whether t, or any ancestor reached via
// ParentID, has at least one blocker that has neither completed nor
// been cancelled. A Cancelled blocker can never
// complete, so it no longer counts against the blocked task (spec.md
// §4.3 "effectively blocked").
func (e *Engine) EffectivelyBlocked(ctx context.Context, id string) (bool, error) {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return false, notFoundOrWrap(err, "task %s not found", id)
	}
	return isEffectivelyBlocked(ctx, e.store, t)
}

func isEffectivelyBlocked(ctx context.Context, store storage.Store, t *types.Task) (bool, error) {
	return effectivelyBlockedWalk(ctx, store.GetTask, t)
}

// isEffectivelyBlockedTx is the transaction-scoped counterpart used by
// Start, which must see blockers as of the in-flight write transaction.
func isEffectivelyBlockedTx(ctx context.Context, tx storage.Tx, t *types.Task) (bool, error) {
	return effectivelyBlockedWalk(ctx, tx.GetTask, t)
}

// effectivelyBlockedWalk mirrors the original's is_effectively_blocked
// (os-db/src/task_repo.rs): "effectively blocked" is recursive over the
// ParentID chain -- a subtask under a blocked milestone is blocked too,
// not just a task with its own active blocker. It walks t and each
// ancestor reached via ParentID, OR-ing each one's own blocker check.
func effectivelyBlockedWalk(ctx context.Context, get func(ctx context.Context, id string) (*types.Task, error), t *types.Task) (bool, error) {
	current := t
	for current != nil {
		for _, blockerID := range current.BlockedBy {
			b, err := get(ctx, blockerID)
			if err != nil {
				// A dangling blocker reference (its task was deleted) no
				// longer blocks anything.
				continue
			}
			if b.Status != types.StatusCompleted && b.Status != types.StatusCancelled {
				return true, nil
			}
		}
		if current.ParentID == "" {
			return false, nil
		}
		parent, err := get(ctx, current.ParentID)
		if err != nil {
			return false, nil
		}
		current = parent
	}
	return false, nil
}

// NextReady selects the single best task to work on next within repoID
// (optionally narrowed to the subtree rooted at scopeID), implementing
// spec.md §4.3's ready-selection algorithm: prefer the deepest
// (Subtask over Task over Milestone) Pending, unblocked task; break
// ties by Priority (Urgent first) then by CreatedAt (oldest first).
func (e *Engine) NextReady(ctx context.Context, repoID, scopeID string) (*types.Task, error) {
	tasks, err := e.store.ListTasks(ctx, storage.TaskFilter{RepoID: repoID, Status: types.StatusPending})
	if err != nil {
		return nil, err
	}

	var inScope map[string]bool
	if scopeID != "" {
		all, err := e.store.ListTasks(ctx, storage.TaskFilter{RepoID: repoID})
		if err != nil {
			return nil, err
		}
		inScope = descendantSet(all, scopeID)
	}

	var candidates []*types.Task
	for _, t := range tasks {
		if inScope != nil && !inScope[t.ID] {
			continue
		}
		if t.ParentID != "" {
			parent, err := e.store.GetTask(ctx, t.ParentID)
			if err != nil || parent.Status == types.StatusPending {
				continue
			}
		}
		blocked, err := isEffectivelyBlocked(ctx, e.store, t)
		if err != nil {
			return nil, err
		}
		if blocked {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if da, db := a.Depth(), b.Depth(); da != db {
			return da > db
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return candidates[0], nil
}

func descendantSet(all []*types.Task, rootID string) map[string]bool {
	byParent := map[string][]string{}
	for _, t := range all {
		if t.ParentID != "" {
			byParent[t.ParentID] = append(byParent[t.ParentID], t.ID)
		}
	}
	set := map[string]bool{rootID: true}
	stack := []string{rootID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range byParent[cur] {
			if !set[child] {
				set[child] = true
				stack = append(stack, child)
			}
		}
	}
	return set
}

// Progress tallies task counts by status within repoID (optionally
// narrowed to scopeID's subtree), spec.md §4.3 "progress".
func (e *Engine) Progress(ctx context.Context, repoID, scopeID string) (map[types.TaskStatus]int, error) {
	all, err := e.store.ListTasks(ctx, storage.TaskFilter{RepoID: repoID})
	if err != nil {
		return nil, err
	}
	var inScope map[string]bool
	if scopeID != "" {
		inScope = descendantSet(all, scopeID)
	}
	counts := map[types.TaskStatus]int{}
	for _, t := range all {
		if inScope != nil && !inScope[t.ID] {
			continue
		}
		counts[t.Status]++
	}
	return counts, nil
}

// Tree returns every descendant of id (not including id itself),
// ordered parent-before-child then by CreatedAt.
func (e *Engine) Tree(ctx context.Context, repoID, rootID string) ([]*types.Task, error) {
	all, err := e.store.ListTasks(ctx, storage.TaskFilter{RepoID: repoID})
	if err != nil {
		return nil, err
	}
	set := descendantSet(all, rootID)
	byID := map[string]*types.Task{}
	for _, t := range all {
		byID[t.ID] = t
	}
	var out []*types.Task
	for id := range set {
		if id == rootID {
			continue
		}
		out = append(out, byID[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth() != out[j].Depth() {
			return out[i].Depth() < out[j].Depth()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
