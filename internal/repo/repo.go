// Package repo implements repository registration (SPEC_FULL.md
// "Repository registration"): the set of version-controlled
// repositories Overseer manages tasks against.
package repo

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

func (e *Engine) Register(ctx context.Context, path string, vcsType types.VcsKind, mainHead string) (*types.Repo, error) {
	r := &types.Repo{ID: ids.New(ids.Repo), Path: path, VcsType: vcsType, MainHead: mainHead, CreatedAt: e.now()}
	if err := r.Validate(); err != nil {
		return nil, errs.New(errs.InvalidInput, "%v", err)
	}
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.PutRepo(ctx, r); err != nil {
			return errs.Wrap(errs.Internal, err, "registering repo")
		}
		return appendEvent(ctx, tx, types.EventRepoRegistered, map[string]any{"repo_id": r.ID, "path": path})
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*types.Repo, error) {
	r, err := e.store.GetRepo(ctx, id)
	if err != nil {
		return nil, notFoundOrWrap(err, "repo %s not found", id)
	}
	return r, nil
}

func (e *Engine) List(ctx context.Context) ([]*types.Repo, error) {
	return e.store.ListRepos(ctx)
}

// Unregister marks the repo unregistered without deleting its history;
// ListRepos filters unregistered repos out but Get still resolves them,
// since tasks and gates still reference the repo id.
func (e *Engine) Unregister(ctx context.Context, id string) error {
	r, err := e.store.GetRepo(ctx, id)
	if err != nil {
		return errs.New(errs.NotFound, "repo %s not found", id)
	}
	return e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		r.Unregistered = true
		if err := tx.PutRepo(ctx, r); err != nil {
			return errs.Wrap(errs.Internal, err, "unregistering repo")
		}
		return appendEvent(ctx, tx, types.EventRepoUnregistered, map[string]any{"repo_id": id})
	})
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
