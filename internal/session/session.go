// Package session implements the broker session and harness registry
// supplemented feature (SPEC_FULL.md "Broker session protocol"): the
// state machine that couples a connected agent harness to a task for
// the duration of one piece of work. Framing and transport for the
// broker protocol itself belong to an external collaborator; this
// package owns only the state machine and its storage.
package session

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

// RegisterHarness upserts a harness by id and marks it connected.
func (e *Engine) RegisterHarness(ctx context.Context, id string, capabilities []string) (*types.Harness, error) {
	h := &types.Harness{ID: id, Capabilities: capabilities, Connected: true, LastSeenAt: e.now()}
	if err := h.Validate(); err != nil {
		return nil, errs.New(errs.InvalidInput, "%v", err)
	}
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.PutHarness(ctx, h); err != nil {
			return errs.Wrap(errs.Internal, err, "registering harness")
		}
		return appendEvent(ctx, tx, types.EventHarnessConnected, map[string]any{"harness_id": id})
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (e *Engine) ListHarnesses(ctx context.Context) ([]*types.Harness, error) {
	return e.store.ListHarnesses(ctx)
}

func (e *Engine) GetHarness(ctx context.Context, id string) (*types.Harness, error) {
	h, err := e.store.GetHarness(ctx, id)
	if err != nil {
		return nil, notFoundOrWrap(err, "harness %s not found", id)
	}
	return h, nil
}

// SetHarnessConnected flips a harness's connectivity flag, emitting
// EventHarnessConnected or EventHarnessDisconnected as appropriate. A
// harness going offline does not itself fail its in-flight session;
// that is judged by heartbeat staleness (see Heartbeat).
func (e *Engine) SetHarnessConnected(ctx context.Context, id string, connected bool) (*types.Harness, error) {
	var out *types.Harness
	h, err := e.store.GetHarness(ctx, id)
	if err != nil {
		return nil, errs.New(errs.NotFound, "harness %s not found", id)
	}
	err = e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		h.Connected = connected
		h.LastSeenAt = e.now()
		if err := tx.PutHarness(ctx, h); err != nil {
			return errs.Wrap(errs.Internal, err, "updating harness")
		}
		evt := types.EventHarnessDisconnected
		if connected {
			evt = types.EventHarnessConnected
		}
		out = h
		return appendEvent(ctx, tx, evt, map[string]any{"harness_id": id})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StartSession opens a new session pairing harnessID to taskID. At
// most one non-terminal session may exist per task.
func (e *Engine) StartSession(ctx context.Context, taskID, harnessID string) (*types.Session, error) {
	var out *types.Session
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if existing, err := tx.GetActiveSessionForTask(ctx, taskID); err == nil && existing != nil {
			return errs.New(errs.Conflict, "task %s already has an active session", taskID)
		}
		now := e.now()
		s := &types.Session{
			ID: ids.New(ids.Session), TaskID: taskID, HarnessID: harnessID,
			Status: types.SessionPending, StartedAt: now, LastHeartbeatAt: &now,
		}
		if err := s.Validate(); err != nil {
			return errs.New(errs.InvalidInput, "%v", err)
		}
		if err := tx.CreateSession(ctx, s); err != nil {
			return errs.Wrap(errs.Internal, err, "creating session")
		}
		s.Status = types.SessionActive
		if err := tx.UpdateSession(ctx, s); err != nil {
			return errs.Wrap(errs.Internal, err, "activating session")
		}
		out = s
		return appendEvent(ctx, tx, types.EventSessionStarted, map[string]any{"session_id": s.ID, "task_id": taskID, "harness_id": harnessID})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Heartbeat refreshes LastHeartbeatAt for a still-active session. It
// is a no-op error if the session has already reached a terminal
// status, since a straggling heartbeat from a harness that already
// reported completion carries no new information.
func (e *Engine) Heartbeat(ctx context.Context, id string) (*types.Session, error) {
	var out *types.Session
	s, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, errs.New(errs.NotFound, "session %s not found", id)
	}
	if s.Status.Terminal() {
		return nil, errs.New(errs.PreconditionFailed, "session %s already %s", id, s.Status)
	}
	err = e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		now := e.now()
		s.LastHeartbeatAt = &now
		if err := tx.UpdateSession(ctx, s); err != nil {
			return errs.Wrap(errs.Internal, err, "recording heartbeat")
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Complete transitions a session to a terminal status. errMsg is
// stored only when status is SessionFailed.
func (e *Engine) Complete(ctx context.Context, id string, status types.SessionStatus, errMsg string) (*types.Session, error) {
	if !status.Terminal() {
		return nil, errs.New(errs.InvalidInput, "complete requires a terminal status, got %s", status)
	}
	var out *types.Session
	s, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, errs.New(errs.NotFound, "session %s not found", id)
	}
	if s.Status.Terminal() {
		return nil, errs.New(errs.PreconditionFailed, "session %s already %s", id, s.Status)
	}
	err = e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		now := e.now()
		s.Status = status
		s.CompletedAt = &now
		if status == types.SessionFailed {
			s.Error = errMsg
		}
		if err := tx.UpdateSession(ctx, s); err != nil {
			return errs.Wrap(errs.Internal, err, "completing session")
		}
		out = s
		evt := types.EventSessionCompleted
		if status == types.SessionFailed {
			evt = types.EventSessionFailed
		}
		return appendEvent(ctx, tx, evt, map[string]any{"session_id": id, "status": string(status)})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*types.Session, error) {
	s, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, notFoundOrWrap(err, "session %s not found", id)
	}
	return s, nil
}

func (e *Engine) ActiveForTask(ctx context.Context, taskID string) (*types.Session, error) {
	s, err := e.store.GetActiveSessionForTask(ctx, taskID)
	if err != nil {
		return nil, notFoundOrWrap(err, "no active session for task %s", taskID)
	}
	return s, nil
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
