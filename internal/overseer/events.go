package overseer

import (
	"context"

	"github.com/overseer-dev/overseer/internal/eventbus"
	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/types"
)

// WithEvents wraps store so every transaction's appended events are
// published to bus, in append order, strictly after commit. Every
// sub-engine (task, review, gate, help, learning, repo, session) is
// constructed against the wrapped store rather than the raw one, which
// is how publishLast's deferred-to-package-overseer comment in
// internal/task/task.go is actually discharged: there is no per-engine
// publish call, only this one decorator at the storage seam.
func WithEvents(store storage.Store, bus *eventbus.Bus) storage.Store {
	return &capturingStore{Store: store, bus: bus}
}

type capturingStore struct {
	storage.Store
	bus *eventbus.Bus
}

func (s *capturingStore) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	var captured []*types.Event
	err := s.Store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return fn(&capturingTx{Tx: tx, captured: &captured})
	})
	if err != nil {
		return err
	}
	for _, e := range captured {
		s.bus.Publish(e)
	}
	return nil
}

type capturingTx struct {
	storage.Tx
	captured *[]*types.Event
}

func (t *capturingTx) AppendEvent(ctx context.Context, e *types.Event) error {
	if err := t.Tx.AppendEvent(ctx, e); err != nil {
		return err
	}
	*t.captured = append(*t.captured, e)
	return nil
}
