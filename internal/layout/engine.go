// Package layout projects the wall's current membership onto display cells:
// allocator-assigned slots positioned by the active pattern. The engine is
// the only caller of the allocator, which keeps the single-writer contract
// on the slot table.
package layout

import (
	"fmt"
	"sync"
	"time"

	"photowall/api/internal/pattern"
	"photowall/api/internal/slots"
	"photowall/api/internal/wall"
)

// EmptyID marks a slot with no photo so clients can render a fixed-count
// grid of filled-or-empty cells without tracking membership themselves.
const EmptyID = "_empty_"

// Cell is one display position at one instant.
type Cell struct {
	ItemID      string           `json:"itemId"`
	SlotIndex   int              `json:"slotIndex"`
	LocationRef string           `json:"locationRef,omitempty"`
	Position    pattern.Vec3     `json:"position"`
	Rotation    pattern.Rotation `json:"rotation"`
}

// SnapshotSource is the read side of a wall store.
type SnapshotSource interface {
	Snapshot() *wall.Snapshot
}

// Engine computes the layout for one wall. Safe for concurrent use; the
// allocator tick is serialized internally.
type Engine struct {
	source SnapshotSource

	mu          sync.Mutex
	alloc       *slots.Allocator
	fn          pattern.Func
	patternName string
	cfg         pattern.Config
	perm        []int // scatter permutation; only set for the float pattern
	wallID      string
	started     time.Time
}

func NewEngine(wallID string, source SnapshotSource, capacity int, cfg pattern.Config) *Engine {
	e := &Engine{
		source:  source,
		alloc:   slots.New(capacity),
		cfg:     cfg.Normalize(),
		wallID:  wallID,
		started: time.Now(),
	}
	_ = e.SetPattern(pattern.Grid)
	return e
}

// SetPattern switches the active strategy. Unknown names are rejected;
// clients handle the positional jump at a switch by snapping, so no
// cross-pattern continuity is attempted here.
func (e *Engine) SetPattern(name string) error {
	fn, ok := pattern.ForName(name)
	if !ok {
		return fmt.Errorf("unknown pattern %q", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.patternName = name
	e.fn = fn
	if name == pattern.Float {
		e.perm = pattern.Scatter(e.wallID, e.alloc.Capacity())
	} else {
		e.perm = nil
	}
	return nil
}

// Pattern reports the active strategy name.
func (e *Engine) Pattern() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.patternName
}

// Resize changes the slot capacity, evicting out-of-range assignments.
func (e *Engine) Resize(capacity int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alloc.Resize(capacity)
	if e.perm != nil {
		e.perm = pattern.Scatter(e.wallID, capacity)
	}
}

// Elapsed converts a wall-clock instant to the engine's animation time.
func (e *Engine) Elapsed(now time.Time) float64 {
	return now.Sub(e.started).Seconds()
}

// CurrentLayout reconciles slot assignments against the latest store
// snapshot and positions every slot with the active pattern. The result
// always has exactly capacity cells; unoccupied ones carry EmptyID.
func (e *Engine) CurrentLayout(now time.Time) []Cell {
	return e.LayoutAt(e.Elapsed(now))
}

// LayoutAt is CurrentLayout at an explicit elapsed time in seconds, for
// clients that want reproducible positions.
func (e *Engine) LayoutAt(t float64) []Cell {
	snap := e.source.Snapshot()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renderLocked(snap, e.fn, e.perm, t)
}

// LayoutWith renders one frame with an explicit strategy without touching
// the wall's active pattern, so a viewer previewing a strategy never
// changes what every other viewer sees.
func (e *Engine) LayoutWith(name string, t float64) ([]Cell, error) {
	fn, ok := pattern.ForName(name)
	if !ok {
		return nil, fmt.Errorf("unknown pattern %q", name)
	}
	snap := e.source.Snapshot()
	e.mu.Lock()
	defer e.mu.Unlock()
	var perm []int
	if name == pattern.Float {
		perm = pattern.Scatter(e.wallID, e.alloc.Capacity())
	}
	return e.renderLocked(snap, fn, perm, t), nil
}

func (e *Engine) renderLocked(snap *wall.Snapshot, fn pattern.Func, perm []int, t float64) []Cell {
	assignment := e.alloc.Reconcile(snap.Items)
	if t < 0 {
		t = 0
	}

	occupants := make([]string, assignment.Capacity)
	for id, slot := range assignment.Slots {
		occupants[slot] = id
	}

	cells := make([]Cell, assignment.Capacity)
	for slot := 0; slot < assignment.Capacity; slot++ {
		display := slot
		if perm != nil && slot < len(perm) {
			display = perm[slot]
		}
		pos, rot := fn(display, assignment.Capacity, t, e.cfg)
		cell := Cell{ItemID: EmptyID, SlotIndex: slot, Position: pos, Rotation: rot}
		if id := occupants[slot]; id != "" {
			cell.ItemID = id
			cell.LocationRef = snap.Items[id].LocationRef
		}
		cells[slot] = cell
	}
	return cells
}
