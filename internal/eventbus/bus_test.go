package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/storage/memstore"
	"github.com/overseer-dev/overseer/internal/types"
	"github.com/stretchr/testify/require"
)

func commitEvent(t *testing.T, store storage.Store, evtType types.EventType) *types.Event {
	t.Helper()
	var out *types.Event
	err := store.RunInTransaction(context.Background(), func(tx storage.Tx) error {
		seq, err := tx.AllocateEventSeq(context.Background())
		if err != nil {
			return err
		}
		e := &types.Event{ID: "evt_x", Seq: seq, Type: evtType, At: time.Now()}
		if err := tx.AppendEvent(context.Background(), e); err != nil {
			return err
		}
		out = e
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestSubscribeReplaysThenTails(t *testing.T) {
	store := memstore.New()
	e1 := commitEvent(t, store, types.EventTaskCreated)
	bus := New(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := bus.Subscribe(ctx, 0)

	got := <-sub.Events()
	require.Equal(t, e1.Seq, got.Seq)

	e2 := commitEvent(t, store, types.EventTaskStarted)
	bus.Publish(e2)

	got2 := <-sub.Events()
	require.Equal(t, e2.Seq, got2.Seq)
}

func TestSlowSubscriberDisconnected(t *testing.T) {
	store := memstore.New()
	bus := New(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := bus.Subscribe(ctx, 0)
	// let replay-then-tail settle before flooding
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < subscriberQueueDepth+10; i++ {
		e := commitEvent(t, store, types.EventTaskUpdated)
		bus.Publish(e)
	}

	// Channel should eventually close because the subscriber never
	// drains it and gets disconnected.
	closed := false
	timeout := time.After(2 * time.Second)
	for !closed {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				closed = true
			}
		case <-timeout:
			t.Fatal("subscriber was never disconnected")
		}
	}
}
