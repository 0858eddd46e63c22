// Package feed carries wall membership events over Redis pub/sub: one
// channel per wall, JSON-encoded events. It is the push transport behind
// the reconciliation supervisor and the publish side of the write path.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"photowall/api/internal/wall"
)

// Client wraps one Redis connection pool for publishing and subscribing.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to Redis and verifies the connection.
func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientWithRedis wraps an existing Redis client.
func NewClientWithRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func channelFor(wallID string) string {
	return "wall:events:" + wallID
}

// Publish sends one membership event to every subscriber of the wall.
func (c *Client) Publish(ctx context.Context, wallID string, ev wall.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := c.rdb.Publish(ctx, channelFor(wallID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe opens a change-feed subscription for one wall. Status
// transitions (connecting, subscribed, error, closed) arrive on the
// subscription's status channel; the caller decides what to do with them.
func (c *Client) Subscribe(ctx context.Context, wallID string) (wall.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		pubsub: c.rdb.Subscribe(ctx, channelFor(wallID)),
		events: make(chan wall.Event, 16),
		status: make(chan wall.FeedStatus, 8),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.run(ctx, wallID)
	return sub, nil
}

// Ping checks Redis reachability.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Subscription is one wall's live event stream.
type Subscription struct {
	pubsub *redis.PubSub
	events chan wall.Event
	status chan wall.FeedStatus
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) Events() <-chan wall.Event {
	return s.events
}

func (s *Subscription) Status() <-chan wall.FeedStatus {
	return s.status
}

// Close tears the subscription down. Safe to call more than once and
// before the subscription ever confirmed.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.pubsub.Close()
		<-s.done
	})
	return nil
}

func (s *Subscription) run(ctx context.Context, wallID string) {
	defer close(s.done)
	defer close(s.events)
	defer close(s.status)

	s.emit(ctx, wall.FeedConnecting)

	// Receive blocks until Redis acknowledges the SUBSCRIBE; only then is
	// the push channel trusted.
	if _, err := s.pubsub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			log.Printf("feed %s: subscribe confirmation failed: %v", wallID, err)
			s.emit(ctx, wall.FeedError)
		}
		return
	}
	s.emit(ctx, wall.FeedSubscribed)

	// ReceiveMessage rather than Channel: Channel retries transport
	// failures internally and emits nothing, which would leave the
	// supervisor trusting a dead push channel. Errors must surface so it
	// can degrade, poll, and re-subscribe.
	for {
		msg, err := s.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.emit(context.Background(), wall.FeedClosed)
				return
			}
			log.Printf("feed %s: receive failed: %v", wallID, err)
			s.emit(context.Background(), wall.FeedError)
			return
		}
		var ev wall.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Printf("feed %s: dropping malformed event: %v", wallID, err)
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			s.emit(context.Background(), wall.FeedClosed)
			return
		}
	}
}

func (s *Subscription) emit(ctx context.Context, st wall.FeedStatus) {
	select {
	case s.status <- st:
	case <-ctx.Done():
	}
}
