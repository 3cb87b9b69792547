// Package eventbus is the in-process fan-out layer described in
// spec.md §4.7. It never allocates sequence numbers or owns the
// durable log itself -- that lives in storage.Store, per
// original_source/crates/os-events/src/bus.rs, whose EventBus is
// confirmed to be nothing more than a thin broadcast-channel wrapper
// around events the store already committed. This package generalizes
// beads' internal/eventbus/bus.go handler-dispatch shape into ordered,
// cursor-based, replay-capable subscriptions.
package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/types"
)

// subscriberQueueDepth bounds each subscriber's live channel. A
// subscriber that cannot keep up is disconnected rather than allowed to
// block the publisher (spec.md §4.7 "Backpressure").
const subscriberQueueDepth = 256

// Bus fans committed events out to subscribers. Publish must only be
// called after the transaction that produced the event has committed.
type Bus struct {
	store storage.Store
	log   *slog.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// New returns a Bus whose subscriptions replay their backlog from store
// before streaming live events; the Bus keeps no in-memory event buffer
// of its own.
func New(store storage.Store, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{store: store, log: log, subs: map[*Subscription]struct{}{}}
}

// Publish hands a committed event to every live subscriber. It never
// blocks: a subscriber whose queue is full is disconnected immediately
// so the publisher's caller (a core operation that just committed a
// write transaction) is never stalled by a slow reader.
func (b *Bus) Publish(event *types.Event) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if !s.deliver(event) {
			b.log.Warn("eventbus: subscriber queue full, disconnecting", "cursor", s.Cursor())
			b.disconnect(s)
		}
	}
}

// Subscribe opens a subscription that first replays every committed
// event with seq > cursor from the store (store-backed replay covers
// both a cold start at cursor=0 and a reconnect after a disconnect,
// spec.md §4.7 "Subscribers ... reconnect by cursor and the bus resumes
// replay from the store") and then streams new events live as Publish
// delivers them.
func (b *Bus) Subscribe(ctx context.Context, cursor uint64) *Subscription {
	sub := &Subscription{
		bus:       b,
		ch:        make(chan *types.Event, subscriberQueueDepth),
		done:      make(chan struct{}),
		cursor:    cursor,
		replaying: true,
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.replayThenTail(ctx)
	return sub
}

func (b *Bus) disconnect(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	close(s.done)
}

// Snapshot returns a bounded range of the durable log directly from the
// store, the "snapshot" subscription shape of spec.md §4.7.
func (b *Bus) Snapshot(ctx context.Context, fromSeq, toSeq uint64) ([]*types.Event, error) {
	return b.store.GetEventsRange(ctx, fromSeq, toSeq)
}

// Subscription is a tail-from-seq stream. Events arrive in seq order;
// the consumer must call Cursor before reconnecting after Events()
// closes so replay resumes exactly where it left off.
type Subscription struct {
	bus  *Bus
	ch   chan *types.Event
	done chan struct{}

	mu        sync.Mutex
	cursor    uint64
	replaying bool
	buffered  []*types.Event
}

// Events yields committed events in strictly increasing seq order.
// The channel closes when the subscription is disconnected (backpressure
// or Close). It never skips or reorders events.
func (s *Subscription) Events() <-chan *types.Event { return s.ch }

// Cursor returns the seq of the last event delivered (or the initial
// cursor, if none has been delivered yet).
func (s *Subscription) Cursor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Subscription) setCursor(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.cursor {
		s.cursor = seq
	}
}

// deliver hands event to the subscriber. While replayThenTail's backlog
// fetch is still in flight, the event is held in buffered instead of
// written to ch, since the backlog query may independently return this
// same event -- writing it to ch here first would race replayThenTail
// over delivery order and risk a duplicate. Returns false if the
// subscriber's queue is full and should be disconnected.
func (s *Subscription) deliver(event *types.Event) bool {
	s.mu.Lock()
	if s.replaying {
		s.buffered = append(s.buffered, event)
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	select {
	case s.ch <- event:
		s.setCursor(event.Seq)
		return true
	default:
		return false
	}
}

// Close disconnects the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	_, live := s.bus.subs[s]
	if live {
		delete(s.bus.subs, s)
	}
	s.bus.mu.Unlock()
	if live {
		close(s.done)
	}
}

// replayThenTail drains the durable log from the subscription's
// starting cursor before handing control to Publish for live delivery.
// Events Publish receives while replay is in flight are held in
// s.buffered instead of racing the backlog query for delivery order;
// once the backlog is drained, buffered events with seq beyond the
// backlog are flushed in order before Publish is allowed to write to ch
// directly.
func (s *Subscription) replayThenTail(ctx context.Context) {
	defer close(s.ch)
	backlog, err := s.bus.store.GetEventsFromSeq(ctx, s.Cursor(), 0)
	if err != nil {
		s.bus.log.Error("eventbus: replay failed", "err", err)
		s.Close()
		return
	}
	for _, e := range backlog {
		select {
		case s.ch <- e:
			s.setCursor(e.Seq)
		case <-s.done:
			return
		case <-ctx.Done():
			s.Close()
			return
		}
	}

	for {
		s.mu.Lock()
		buffered := s.buffered
		s.buffered = nil
		if len(buffered) == 0 {
			s.replaying = false
			s.mu.Unlock()
			break
		}
		replayedThrough := s.cursor
		s.mu.Unlock()

		for _, e := range buffered {
			if e.Seq <= replayedThrough {
				continue
			}
			select {
			case s.ch <- e:
				s.setCursor(e.Seq)
			case <-s.done:
				return
			case <-ctx.Done():
				s.Close()
				return
			}
		}
	}

	// Live events now flow directly from Publish into s.ch. Watch for
	// cancellation or disconnect so ch is closed once no one drains it.
	select {
	case <-ctx.Done():
		s.Close()
	case <-s.done:
	}
}
