package wall

import (
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of the wall at one version. The Items map
// must be treated as read-only by every consumer; the store hands out a
// fresh map on every mutation and never writes to a published one.
type Snapshot struct {
	Items        map[string]Item
	Version      uint64
	LastSyncedAt time.Time
}

// Store holds the current membership of one wall. It is written by exactly
// one owner (the Supervisor's run loop); everyone else reads through
// Snapshot, which is an atomic pointer load and safe from any goroutine.
type Store struct {
	items   map[string]Item
	version uint64
	synced  time.Time
	snap    atomic.Pointer[Snapshot]
}

func NewStore() *Store {
	s := &Store{items: make(map[string]Item)}
	s.publish()
	return s
}

// Snapshot returns the latest published view. Never nil.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Apply dispatches one feed event. Insert and remove are idempotent;
// an update for an unknown id is treated as an insert so that a late
// update cannot be silently dropped when its insert was missed.
func (s *Store) Apply(ev Event) bool {
	switch ev.Type {
	case EventAdded:
		return s.ApplyInsert(ev.Item)
	case EventRemoved:
		return s.ApplyRemove(ev.Item.ID)
	case EventUpdated:
		return s.ApplyUpdate(ev.Item)
	default:
		return false
	}
}

// ApplyInsert adds the item if its id is not already present. Duplicate
// delivery is expected under reconnection and is ignored.
func (s *Store) ApplyInsert(item Item) bool {
	if item.ID == "" {
		return false
	}
	if _, ok := s.items[item.ID]; ok {
		return false
	}
	s.items[item.ID] = item
	s.bump()
	return true
}

// ApplyRemove deletes the item if present. Removal is idempotent.
func (s *Store) ApplyRemove(id string) bool {
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	s.bump()
	return true
}

// ApplyUpdate replaces the stored item, inserting if absent.
func (s *Store) ApplyUpdate(item Item) bool {
	if item.ID == "" {
		return false
	}
	s.items[item.ID] = item
	s.bump()
	return true
}

// ApplySnapshot reconciles the store to set equality with the polled
// membership: ids missing locally are inserted, ids no longer present
// remotely are removed, and items whose fields changed are replaced. The
// whole batch bumps the version once. The snapshot is authoritative over
// any push-event history, which is what makes the store convergent even
// when individual events were lost, reordered, or duplicated.
func (s *Store) ApplySnapshot(items []Item) (added, removed int) {
	seen := make(map[string]bool, len(items))
	changed := false
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		seen[item.ID] = true
		if prev, ok := s.items[item.ID]; !ok {
			s.items[item.ID] = item
			added++
			changed = true
		} else if prev != item {
			s.items[item.ID] = item
			changed = true
		}
	}
	for id := range s.items {
		if !seen[id] {
			delete(s.items, id)
			removed++
			changed = true
		}
	}
	s.synced = time.Now()
	if changed {
		s.version++
	}
	s.publish()
	return added, removed
}

// Len reports the current membership size.
func (s *Store) Len() int {
	return len(s.items)
}

func (s *Store) bump() {
	s.version++
	s.publish()
}

func (s *Store) publish() {
	items := make(map[string]Item, len(s.items))
	for id, item := range s.items {
		items[id] = item
	}
	s.snap.Store(&Snapshot{
		Items:        items,
		Version:      s.version,
		LastSyncedAt: s.synced,
	})
}
