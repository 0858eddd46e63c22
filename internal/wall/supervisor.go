package wall

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ConnState is the supervisor's view of how the wall is being kept in sync.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateLive
	StateDegraded
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

type SupervisorConfig struct {
	// GracePeriod bounds how long the supervisor waits for the push
	// subscription to confirm before falling back to polling. It also
	// spaces re-subscribe attempts while the push channel is down.
	GracePeriod time.Duration
	// PollInterval is the snapshot-poll cadence while degraded.
	PollInterval time.Duration
	// PollTimeout caps one snapshot read. A poll that times out is not an
	// escalation; the next tick simply retries.
	PollTimeout time.Duration
}

func (c *SupervisorConfig) applyDefaults() {
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Second
	}
}

type pollResult struct {
	epoch uint64
	items []Item
	err   error
}

// Supervisor owns the Store for one wall. It subscribes to the change feed,
// applies events, and falls back to fixed-interval snapshot polling when the
// push channel cannot be trusted. All Store mutation happens on the run
// loop goroutine; transport failures drive the connection state machine and
// never surface as errors to readers of the Store.
type Supervisor struct {
	wallID string
	store  *Store
	feed   ChangeFeed
	reader SnapshotReader
	cfg    SupervisorConfig

	state  atomic.Int32
	polls  chan pollResult
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewSupervisor(wallID string, store *Store, feed ChangeFeed, reader SnapshotReader, cfg SupervisorConfig) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		wallID: wallID,
		store:  store,
		feed:   feed,
		reader: reader,
		cfg:    cfg,
		polls:  make(chan pollResult, 1),
		done:   make(chan struct{}),
	}
}

// Store returns the store this supervisor owns. Callers must only read
// through Store.Snapshot.
func (s *Supervisor) Store() *Store {
	return s.store
}

// State reports the current connection state. Safe from any goroutine.
func (s *Supervisor) State() ConnState {
	return ConnState(s.state.Load())
}

func (s *Supervisor) setState(st ConnState) {
	prev := ConnState(s.state.Swap(int32(st)))
	if prev != st {
		log.Printf("wall %s: connection %s -> %s", s.wallID, prev, st)
	}
}

// Start launches the run loop. The supervisor stops when ctx is cancelled
// or Close is called, whichever comes first.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// Close tears the supervisor down: cancels timers, stops polling, releases
// the subscription, and waits for the run loop to exit. Safe to call more
// than once. A poll response arriving after Close never mutates the Store.
func (s *Supervisor) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
	})
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateDisconnected)

	grace := time.NewTimer(s.cfg.GracePeriod)
	defer grace.Stop()
	poll := time.NewTicker(s.cfg.PollInterval)
	poll.Stop()
	defer poll.Stop()
	resub := time.NewTimer(s.cfg.GracePeriod)
	stopTimer(resub)
	defer resub.Stop()

	// epoch tags in-flight poll requests; results carrying an old epoch
	// are discarded so a slow poll from a degraded period cannot clobber
	// state after the feed has gone live again.
	var epoch uint64
	polling := false

	startPolling := func() {
		if polling {
			return
		}
		polling = true
		poll.Reset(s.cfg.PollInterval)
		s.requestPoll(ctx, epoch)
	}
	stopPolling := func() {
		if polling {
			polling = false
			poll.Stop()
		}
	}

	var sub Subscription
	var events <-chan Event
	var status <-chan FeedStatus
	defer func() {
		if sub != nil {
			sub.Close()
		}
	}()

	// dropSubscription releases a dead subscription, degrades to the polling
	// fallback, and schedules the next subscribe attempt. The resub timer is
	// only ever armed while no subscription is held.
	dropSubscription := func() {
		if sub != nil {
			sub.Close()
			sub = nil
		}
		events, status = nil, nil
		s.setState(StateDegraded)
		startPolling()
		resub.Reset(s.cfg.GracePeriod)
	}

	subscribe := func() {
		next, err := s.feed.Subscribe(ctx, s.wallID)
		if err != nil {
			log.Printf("wall %s: subscribe failed: %v", s.wallID, err)
			dropSubscription()
			return
		}
		sub = next
		events = next.Events()
		status = next.Status()
	}

	s.setState(StateConnecting)
	subscribe()

	for {
		select {
		case <-ctx.Done():
			return

		case st, ok := <-status:
			if !ok {
				// subscription goroutine exited without a terminal status
				dropSubscription()
				continue
			}
			switch st {
			case FeedSubscribed:
				epoch++
				stopPolling()
				stopTimer(grace)
				s.setState(StateLive)
				// one-shot resync: the feed only carries changes from now
				// on, so the membership present before this subscription
				// (cold start or a reconnect gap) comes from one snapshot
				// read; periodic polling stays off while live
				s.requestPoll(ctx, epoch)
			case FeedError, FeedClosed:
				dropSubscription()
			case FeedConnecting:
				// grace timer still governs how long we wait
			}

		case <-grace.C:
			if s.State() != StateLive {
				s.setState(StateDegraded)
				startPolling()
			}

		case <-resub.C:
			if sub == nil {
				subscribe()
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.store.Apply(ev)

		case <-poll.C:
			s.requestPoll(ctx, epoch)

		case res := <-s.polls:
			if res.epoch != epoch {
				continue
			}
			if res.err != nil {
				// keep last-known-good state, retry on the next tick
				log.Printf("wall %s: snapshot poll failed: %v", s.wallID, res.err)
				continue
			}
			added, removed := s.store.ApplySnapshot(res.items)
			if added > 0 || removed > 0 {
				log.Printf("wall %s: snapshot reconciled (+%d -%d, %d items)", s.wallID, added, removed, s.store.Len())
			}
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func (s *Supervisor) requestPoll(ctx context.Context, epoch uint64) {
	go func() {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
		defer cancel()
		items, err := s.reader.ListItems(pctx, s.wallID)
		select {
		case s.polls <- pollResult{epoch: epoch, items: items, err: err}:
		case <-ctx.Done():
		}
	}()
}
