// Package invalidation implements the Invalidation Coordinator (spec.md
// §4.I): a thread-safe queue of clear-all and clear-range requests,
// serviced at the run_code/step_code boundary. Grounded on the teacher's
// jit/cache.go Invalidate/InvalidateAll, generalized from a single-thread
// assumption into the multi-façade coordination spec.md §4.I's component
// table entry ("coordinates a halt of the running block... across A+C+D+G")
// implies: when more than one jitstate.State shares this cache, a
// clear_cache/invalidate_range request must reach every one of them before
// the coordinator considers the request delivered, which is done
// concurrently with golang.org/x/sync/errgroup.
package invalidation

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"armbt/arena"
	"armbt/blockindex"
	"armbt/haltreason"
	"armbt/jitstate"
	"armbt/linker"
	"armbt/location"
	"armbt/rangemap"
)

// Coordinator is Component I.
type Coordinator[T location.PC] struct {
	mu                sync.Mutex
	invalidateEntire  bool
	dirty             []rangemap.Interval[T]

	arena  *arena.Arena
	index  *blockindex.Index[T]
	ranges *rangemap.RangeMap[T]
	linker *linker.Linker[T]

	statesMu       sync.Mutex
	states    []*jitstate.State[T]
	dispatcher uintptr

	// onClearFastmem, if set, is invoked on a full clear so component H can
	// drop its do-not-fastmem set in step with A+C+D+G (spec.md §4.I step 2:
	// "clear fastmem patch state").
	onClearFastmem func()
}

// New builds a Coordinator over the given cache collaborators. dispatcher
// is the return_to_dispatcher prelude address RSBs reset to.
func New[T location.PC](a *arena.Arena, idx *blockindex.Index[T], ranges *rangemap.RangeMap[T], ln *linker.Linker[T], dispatcher uintptr) *Coordinator[T] {
	return &Coordinator[T]{arena: a, index: idx, ranges: ranges, linker: ln, dispatcher: dispatcher}
}

// OnClearFastmem registers a callback invoked on every full cache clear.
func (c *Coordinator[T]) OnClearFastmem(fn func()) { c.onClearFastmem = fn }

// Register adds a per-thread State this coordinator must halt on every
// clear/invalidate request (spec.md §4.I: "coordinates a halt of the
// running block" — plural when multiple façades share one cache).
func (c *Coordinator[T]) Register(st *jitstate.State[T]) {
	c.statesMu.Lock()
	defer c.statesMu.Unlock()
	c.states = append(c.states, st)
}

// Unregister removes a previously registered State, e.g. on façade
// shutdown.
func (c *Coordinator[T]) Unregister(st *jitstate.State[T]) {
	c.statesMu.Lock()
	defer c.statesMu.Unlock()
	for i, s := range c.states {
		if s == st {
			c.states = append(c.states[:i], c.states[i+1:]...)
			return
		}
	}
}

func (c *Coordinator[T]) haltAllRegistered() {
	c.statesMu.Lock()
	states := append([]*jitstate.State[T]{}, c.states...)
	c.statesMu.Unlock()

	var g errgroup.Group
	for _, st := range states {
		st := st
		g.Go(func() error {
			st.Halt(haltreason.CacheInvalidation)
			return nil
		})
	}
	_ = g.Wait() // the halt goroutines never return an error; Wait only drains them.
}

// ClearCache requests a full invalidation (spec.md §4.I `clear_cache()`).
func (c *Coordinator[T]) ClearCache() {
	c.mu.Lock()
	c.invalidateEntire = true
	c.mu.Unlock()
	c.haltAllRegistered()
}

// InvalidateRange requests invalidation of guest-PC range
// [start, start+length) (spec.md §4.I `invalidate_range`).
func (c *Coordinator[T]) InvalidateRange(start T, length T) {
	c.mu.Lock()
	c.dirty = append(c.dirty, rangemap.Interval[T]{Start: start, End: start + length})
	c.mu.Unlock()
	c.haltAllRegistered()
}

// ServicePoint runs the reconciliation steps (spec.md §4.I "Service
// point"). It is safe to call for a state with no pending halt bit: it is
// then a no-op past step 1's check. st may be nil when invoked from a
// maintenance path with no single owning thread (e.g. ClearCache's
// immediate synchronous path used by the translator's SAFETY_MARGIN
// check) — in that case the RSB reset step is skipped since there is no
// RSB to reset.
func (c *Coordinator[T]) ServicePoint(st *jitstate.State[T]) {
	if st != nil {
		if !st.ReadHalt().Has(haltreason.CacheInvalidation) {
			return
		}
		st.ClearHalt(haltreason.CacheInvalidation)
	}

	c.mu.Lock()
	entire := c.invalidateEntire
	dirty := c.dirty
	c.invalidateEntire = false
	c.dirty = nil
	c.mu.Unlock()

	if entire {
		c.index.Clear()
		c.ranges.Clear()
		c.arena.Reset(c.arena.EndOfPrelude())
		if st != nil {
			st.RSB.Reset(c.dispatcher)
		}
		if c.onClearFastmem != nil {
			c.onClearFastmem()
		}
		return
	}

	if len(dirty) > 0 {
		toInvalidate := c.ranges.InvalidateRanges(dirty)
		c.arena.Unprotect()
		defer c.arena.Protect()
		c.index.Invalidate(toInvalidate, func(ld location.Descriptor[T]) {
			c.linker.RelinkForDescriptor(ld, 0, false)
		})
	}
}
