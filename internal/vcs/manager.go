package vcs

import (
	"context"
	"time"

	"github.com/overseer-dev/overseer/internal/errs"
	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/types"
)

// Manager owns TaskVcs CRUD and defers actual ref/diff mechanics to a
// Backend. task.Engine.Start creates the row; Manager only mutates it
// afterward (recording a new head, archiving it) and reads it back.
type Manager struct {
	store   storage.Store
	backend Backend
	now     func() time.Time
}

// New builds a Manager with no backend wired in. Diff and ParsedDiff
// calls fail with errs.PreconditionFailed until WithBackend supplies one;
// TaskVcs bookkeeping works regardless, since it never shells out.
func New(store storage.Store) *Manager {
	return &Manager{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (m *Manager) WithBackend(b Backend) *Manager {
	m.backend = b
	return m
}

func (m *Manager) Get(ctx context.Context, taskID string) (*types.TaskVcs, error) {
	v, err := m.store.GetTaskVcs(ctx, taskID)
	if err != nil {
		return nil, notFoundOrWrap(err, "no vcs ref for task %s", taskID)
	}
	return v, nil
}

func (m *Manager) ListForRepo(ctx context.Context, repoID string) ([]*types.TaskVcs, error) {
	return m.store.ListTaskVcs(ctx, repoID)
}

// RecordHead updates the ref's head commit after a submit, without
// touching CreatedAt/BaseCommit.
func (m *Manager) RecordHead(ctx context.Context, taskID, headCommit string) (*types.TaskVcs, error) {
	var out *types.TaskVcs
	err := m.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		v, err := tx.GetTaskVcs(ctx, taskID)
		if err != nil {
			return errs.New(errs.NotFound, "no vcs ref for task %s", taskID)
		}
		v.HeadCommit = headCommit
		v.UpdatedAt = m.now()
		if err := tx.PutTaskVcs(ctx, v); err != nil {
			return errs.Wrap(errs.Internal, err, "recording head commit")
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Archive marks a task's ref as no longer live, once its task is
// completed or cancelled and its worktree is reclaimable.
func (m *Manager) Archive(ctx context.Context, taskID string) error {
	return m.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		v, err := tx.GetTaskVcs(ctx, taskID)
		if err != nil {
			return errs.New(errs.NotFound, "no vcs ref for task %s", taskID)
		}
		now := m.now()
		v.ArchivedAt = &now
		v.UpdatedAt = now
		if err := tx.PutTaskVcs(ctx, v); err != nil {
			return errs.Wrap(errs.Internal, err, "archiving vcs ref")
		}
		return nil
	})
}

// Diff returns the unified diff for a task's current ref, from
// BaseCommit to HeadCommit (or to the live working head if the task
// hasn't submitted yet, per the backend's own Head semantics).
func (m *Manager) Diff(ctx context.Context, repoPath, taskID string) (string, error) {
	if m.backend == nil {
		return "", errs.New(errs.PreconditionFailed, "no vcs backend configured")
	}
	v, err := m.Get(ctx, taskID)
	if err != nil {
		return "", err
	}
	head := v.HeadCommit
	if head == "" {
		head, err = m.backend.Head(ctx, repoPath, v.RefName)
		if err != nil {
			return "", errs.Wrap(errs.Internal, err, "resolving live head")
		}
	}
	diff, err := m.backend.Diff(ctx, repoPath, v.BaseCommit, head)
	if err != nil {
		return "", errs.Wrap(errs.Internal, err, "computing diff")
	}
	return diff, nil
}

// ParsedDiff is Diff plus ParseUnifiedDiff, the shape review comments
// anchor against.
func (m *Manager) ParsedDiff(ctx context.Context, repoPath, taskID string) ([]FileDiff, error) {
	raw, err := m.Diff(ctx, repoPath, taskID)
	if err != nil {
		return nil, err
	}
	files, err := ParseUnifiedDiff(raw)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "parsing diff")
	}
	return files, nil
}

func notFoundOrWrap(err error, format string, args ...any) error {
	if err == storage.ErrNotFound {
		return errs.New(errs.NotFound, format, args...)
	}
	return errs.Wrap(errs.Internal, err, format, args...)
}
