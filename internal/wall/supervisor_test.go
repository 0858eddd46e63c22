package wall

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSubscription struct {
	events chan Event
	status chan FeedStatus

	mu     sync.Mutex
	closed int
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		events: make(chan Event, 16),
		status: make(chan FeedStatus, 16),
	}
}

func (f *fakeSubscription) Events() <-chan Event      { return f.events }
func (f *fakeSubscription) Status() <-chan FeedStatus { return f.status }

func (f *fakeSubscription) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSubscription) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFeed hands out queued subscriptions first, then falls back to sub,
// so tests can model a dead subscription being replaced by a fresh one.
type fakeFeed struct {
	mu           sync.Mutex
	sub          *fakeSubscription
	queue        []*fakeSubscription
	subscribeErr error
	calls        int
}

func (f *fakeFeed) Subscribe(ctx context.Context, wallID string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	if len(f.queue) > 0 {
		next := f.queue[0]
		f.queue = f.queue[1:]
		return next, nil
	}
	return f.sub, nil
}

func (f *fakeFeed) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeReader struct {
	mu    sync.Mutex
	items []Item
	err   error
	calls int
}

func (f *fakeReader) ListItems(ctx context.Context, wallID string) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]Item(nil), f.items...), nil
}

func (f *fakeReader) set(items []Item, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
	f.err = err
}

func (f *fakeReader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastConfig() SupervisorConfig {
	return SupervisorConfig{
		GracePeriod:  20 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		PollTimeout:  time.Second,
	}
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestGraceTimeoutActivatesPollingFallback(t *testing.T) {
	sub := newFakeSubscription()
	reader := &fakeReader{items: []Item{photo("from-poll")}}
	store := NewStore()

	sup := NewSupervisor("w1", store, &fakeFeed{sub: sub}, reader, fastConfig())
	sup.Start(context.Background())
	defer sup.Close()

	// subscription never confirms; after the grace period the supervisor
	// must degrade and populate the store from a poll alone
	eventually(t, time.Second, func() bool {
		return sup.State() == StateDegraded
	}, "supervisor never degraded")
	eventually(t, time.Second, func() bool {
		_, ok := store.Snapshot().Items["from-poll"]
		return ok
	}, "poll never populated the store")
	if reader.callCount() == 0 {
		t.Error("no poll was issued while degraded")
	}
}

func TestSubscriptionConfirmationGoesLiveAndStopsPolling(t *testing.T) {
	sub := newFakeSubscription()
	reader := &fakeReader{items: []Item{photo("pre-existing")}}
	store := NewStore()

	sup := NewSupervisor("w1", store, &fakeFeed{sub: sub}, reader, fastConfig())
	sup.Start(context.Background())
	defer sup.Close()

	sub.status <- FeedSubscribed
	eventually(t, time.Second, func() bool {
		return sup.State() == StateLive
	}, "supervisor never went live")

	// going live issues exactly one resync read, then polling stays off
	eventually(t, time.Second, func() bool {
		return reader.callCount() >= 1
	}, "resync read never issued")
	calls := reader.callCount()
	time.Sleep(80 * time.Millisecond)
	if reader.callCount() != calls {
		t.Errorf("polling continued while live: %d -> %d calls", calls, reader.callCount())
	}

	// the resync read brings in membership that predates the subscription
	eventually(t, time.Second, func() bool {
		_, ok := store.Snapshot().Items["pre-existing"]
		return ok
	}, "resync never populated the store")

	sub.events <- Event{Type: EventAdded, Item: photo("pushed")}
	eventually(t, time.Second, func() bool {
		_, ok := store.Snapshot().Items["pushed"]
		return ok
	}, "push event never applied")
}

func TestFeedErrorDegradesAndSnapshotWins(t *testing.T) {
	sub := newFakeSubscription()
	// the catalog already contains X, matching the push event below
	reader := &fakeReader{items: []Item{photo("X")}}
	store := NewStore()

	sup := NewSupervisor("w1", store, &fakeFeed{sub: sub}, reader, fastConfig())
	sup.Start(context.Background())
	defer sup.Close()

	sub.status <- FeedSubscribed
	sub.events <- Event{Type: EventAdded, Item: photo("X")}
	eventually(t, time.Second, func() bool {
		_, ok := store.Snapshot().Items["X"]
		return ok
	}, "push insert never applied")

	// the authoritative snapshot does not contain X
	reader.set([]Item{photo("Y")}, nil)
	sub.status <- FeedError

	eventually(t, time.Second, func() bool {
		return sup.State() == StateDegraded
	}, "feed error did not degrade")
	eventually(t, time.Second, func() bool {
		snap := store.Snapshot()
		_, hasX := snap.Items["X"]
		_, hasY := snap.Items["Y"]
		return !hasX && hasY
	}, "snapshot reconciliation did not converge to the polled set")
}

func TestResubscriptionRecoversFromDegraded(t *testing.T) {
	sub := newFakeSubscription()
	reader := &fakeReader{}
	store := NewStore()

	sup := NewSupervisor("w1", store, &fakeFeed{sub: sub}, reader, fastConfig())
	sup.Start(context.Background())
	defer sup.Close()

	sub.status <- FeedError
	eventually(t, time.Second, func() bool {
		return sup.State() == StateDegraded
	}, "never degraded")

	sub.status <- FeedSubscribed
	eventually(t, time.Second, func() bool {
		return sup.State() == StateLive
	}, "resubscription did not recover to live")

	// allow the single resync read, then the ticker must stay silent
	time.Sleep(20 * time.Millisecond)
	calls := reader.callCount()
	time.Sleep(80 * time.Millisecond)
	if reader.callCount() != calls {
		t.Error("polling continued after recovery")
	}
}

func TestFreshSubscribeRecoversAfterSubscriptionDies(t *testing.T) {
	first := newFakeSubscription()
	second := newFakeSubscription()
	reader := &fakeReader{items: []Item{photo("catalog")}}
	store := NewStore()

	feed := &fakeFeed{queue: []*fakeSubscription{first}, sub: second}
	sup := NewSupervisor("w1", store, feed, reader, fastConfig())
	sup.Start(context.Background())
	defer sup.Close()

	first.status <- FeedSubscribed
	eventually(t, time.Second, func() bool {
		return sup.State() == StateLive
	}, "never went live on the first subscription")

	// the transport dies for good: terminal status, then both channels close
	first.status <- FeedError
	close(first.status)
	close(first.events)

	eventually(t, time.Second, func() bool {
		return sup.State() == StateDegraded
	}, "dead subscription did not degrade")
	eventually(t, time.Second, func() bool {
		return feed.subscribeCount() >= 2
	}, "no fresh subscribe was attempted")
	if first.closeCount() == 0 {
		t.Error("dead subscription was not released")
	}

	second.status <- FeedSubscribed
	eventually(t, time.Second, func() bool {
		return sup.State() == StateLive
	}, "fresh subscription did not recover to live")

	// recovery resync covers whatever the dead channel missed
	eventually(t, time.Second, func() bool {
		_, ok := store.Snapshot().Items["catalog"]
		return ok
	}, "recovery resync never landed")

	second.events <- Event{Type: EventAdded, Item: photo("after-recovery")}
	eventually(t, time.Second, func() bool {
		_, ok := store.Snapshot().Items["after-recovery"]
		return ok
	}, "events on the fresh subscription were not applied")
}

func TestFailedPollKeepsLastKnownGoodState(t *testing.T) {
	sub := newFakeSubscription()
	reader := &fakeReader{items: []Item{photo("good")}}
	store := NewStore()

	sup := NewSupervisor("w1", store, &fakeFeed{sub: sub}, reader, fastConfig())
	sup.Start(context.Background())
	defer sup.Close()

	sub.status <- FeedError
	eventually(t, time.Second, func() bool {
		_, ok := store.Snapshot().Items["good"]
		return ok
	}, "initial poll never landed")

	reader.set(nil, errors.New("backend unavailable"))
	time.Sleep(80 * time.Millisecond)

	if _, ok := store.Snapshot().Items["good"]; !ok {
		t.Error("failed poll cleared last-known-good state")
	}
	if sup.State() != StateDegraded {
		t.Errorf("expected degraded during poll failures, got %v", sup.State())
	}
}

func TestSubscribeErrorFallsStraightToPolling(t *testing.T) {
	reader := &fakeReader{items: []Item{photo("polled")}}
	store := NewStore()

	sup := NewSupervisor("w1", store, &fakeFeed{subscribeErr: errors.New("transport down")}, reader, fastConfig())
	sup.Start(context.Background())
	defer sup.Close()

	eventually(t, time.Second, func() bool {
		_, ok := store.Snapshot().Items["polled"]
		return ok
	}, "polling fallback never populated the store")
}

func TestCloseStopsEverything(t *testing.T) {
	sub := newFakeSubscription()
	reader := &fakeReader{items: []Item{photo("a")}}
	store := NewStore()

	sup := NewSupervisor("w1", store, &fakeFeed{sub: sub}, reader, fastConfig())
	sup.Start(context.Background())

	sub.status <- FeedError
	eventually(t, time.Second, func() bool {
		return reader.callCount() > 0
	}, "never polled")

	sup.Close()
	sup.Close() // must be safe twice

	if sup.State() != StateDisconnected {
		t.Errorf("expected disconnected after close, got %v", sup.State())
	}
	if sub.closeCount() == 0 {
		t.Error("subscription was not released on teardown")
	}

	version := store.Snapshot().Version
	calls := reader.callCount()
	time.Sleep(80 * time.Millisecond)
	if reader.callCount() != calls {
		t.Error("polling survived teardown")
	}
	if store.Snapshot().Version != version {
		t.Error("store mutated after teardown")
	}
}
