// Package slots maps a churning set of photo ids onto a bounded range of
// stable display slots. An id keeps its slot for as long as it remains a
// member; only ids without a slot consume free ones, in a deterministic
// order, so independent processes observing the same membership agree on
// every assignment.
package slots

import (
	"sort"

	"photowall/api/internal/wall"
)

// Assignment is an immutable snapshot of the slot table: id -> slot index,
// injective over [0, Capacity).
type Assignment struct {
	Capacity int
	Slots    map[string]int
}

// SlotFor returns the assigned slot for id, or -1 when the id holds none
// (unknown id, or membership exceeded capacity).
func (a Assignment) SlotFor(id string) int {
	if slot, ok := a.Slots[id]; ok {
		return slot
	}
	return -1
}

// Allocator owns the slot table for one wall. It is not safe for concurrent
// use; the layout engine serializes Reconcile and Resize on its tick.
type Allocator struct {
	capacity int
	assigned map[string]int
	free     []int // ascending; lowest index is drawn first
}

func New(capacity int) *Allocator {
	if capacity < 0 {
		capacity = 0
	}
	a := &Allocator{capacity: capacity, assigned: make(map[string]int)}
	a.rebuildFree()
	return a
}

// Capacity reports the current slot count.
func (a *Allocator) Capacity() int {
	return a.capacity
}

// Resize changes the slot count. Assignments at indices >= the new capacity
// are evicted and the free list is rebuilt; everything in range is kept.
// No-op when the capacity is unchanged. Must not run concurrently with
// Reconcile.
func (a *Allocator) Resize(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	if capacity == a.capacity {
		return
	}
	a.capacity = capacity
	for id, slot := range a.assigned {
		if slot >= capacity {
			delete(a.assigned, id)
		}
	}
	a.rebuildFree()
}

// Reconcile brings the table in line with the current membership: ids that
// left free their slots, surviving ids keep theirs untouched, and ids
// without a slot are assigned free ones oldest-creation-first (lexicographic
// id order on ties), lowest free index first. When free slots run out the
// remaining ids simply receive none. Returns an immutable snapshot; the
// argument is never mutated.
func (a *Allocator) Reconcile(items map[string]wall.Item) Assignment {
	for id, slot := range a.assigned {
		if _, ok := items[id]; !ok {
			delete(a.assigned, id)
			a.free = append(a.free, slot)
		}
	}
	sort.Ints(a.free)

	var pending []wall.Item
	for id, item := range items {
		if _, ok := a.assigned[id]; !ok {
			pending = append(pending, item)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID < pending[j].ID
	})

	for _, item := range pending {
		if len(a.free) == 0 {
			break
		}
		a.assigned[item.ID] = a.free[0]
		a.free = a.free[1:]
	}

	return a.snapshot()
}

func (a *Allocator) snapshot() Assignment {
	slotsCopy := make(map[string]int, len(a.assigned))
	for id, slot := range a.assigned {
		slotsCopy[id] = slot
	}
	return Assignment{Capacity: a.capacity, Slots: slotsCopy}
}

func (a *Allocator) rebuildFree() {
	used := make(map[int]bool, len(a.assigned))
	for _, slot := range a.assigned {
		used[slot] = true
	}
	a.free = a.free[:0]
	for slot := 0; slot < a.capacity; slot++ {
		if !used[slot] {
			a.free = append(a.free, slot)
		}
	}
}
