// Package wall holds the live membership state of one photo wall and keeps
// it eventually consistent with the remote source of truth, combining a
// push-based change feed with a polling fallback.
package wall

import (
	"context"
	"time"
)

// Item is one contributed photograph as the wall sees it. Items are
// immutable: they are replaced wholesale on update, never edited in place.
type Item struct {
	ID          string    `json:"id"`
	LocationRef string    `json:"locationRef"`
	CreatedAt   time.Time `json:"createdAt"`
}

type EventType string

const (
	EventAdded   EventType = "photo.added"
	EventRemoved EventType = "photo.removed"
	EventUpdated EventType = "photo.updated"
)

// Event is a single membership change delivered over the change feed.
type Event struct {
	Type EventType `json:"type"`
	Item Item      `json:"item"`
}

// FeedStatus reports the transport-level state of a feed subscription.
type FeedStatus int

const (
	FeedConnecting FeedStatus = iota
	FeedSubscribed
	FeedError
	FeedClosed
)

func (s FeedStatus) String() string {
	switch s {
	case FeedConnecting:
		return "connecting"
	case FeedSubscribed:
		return "subscribed"
	case FeedError:
		return "error"
	case FeedClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Subscription is a live change-feed subscription for one wall. Close must
// be safe to call more than once and from the teardown path even if the
// subscription never confirmed.
type Subscription interface {
	Events() <-chan Event
	Status() <-chan FeedStatus
	Close() error
}

// ChangeFeed is the push transport the supervisor subscribes through.
type ChangeFeed interface {
	Subscribe(ctx context.Context, wallID string) (Subscription, error)
}

// SnapshotReader is the pull side: an idempotent, side-effect-free read of
// the full membership of one wall, used by the polling fallback.
type SnapshotReader interface {
	ListItems(ctx context.Context, wallID string) ([]Item, error)
}
