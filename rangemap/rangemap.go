// Package rangemap implements the Range Map (spec.md §4.D): an interval
// map from guest-PC ranges to the set of LocationDescriptors whose
// translated code covers that range, used to compute invalidation sets
// from dirty guest-memory ranges.
//
// dynarmic's block_range_information.h/.cpp (see
// _examples/original_source) backs this with a boost::icl interval_map.
// Go's standard library has no interval-map, and nothing in the corpus
// brings one in, so this is a stdlib-only sorted-slice implementation
// (justified in DESIGN.md) grounded on the same half-open
// [start, end) interval semantics as that source.
package rangemap

import (
	"sort"
	"sync"

	"armbt/location"
)

// Interval is a half-open guest-PC range [Start, End).
type Interval[T location.PC] struct {
	Start, End T
}

func (iv Interval[T]) overlaps(o Interval[T]) bool {
	return iv.Start < o.End && o.Start < iv.End
}

type entry[T location.PC] struct {
	span Interval[T]
	lds  map[location.Descriptor[T]]struct{}
}

// RangeMap is Component D. Like blockindex.Index, it is only mutated
// between block boundaries (spec.md §5), so its mutex exists solely to
// let AddRange/InvalidateRanges be called safely from a non-owning
// thread without racing a same-thread read during a query.
type RangeMap[T location.PC] struct {
	mu      sync.Mutex
	entries []entry[T] // sorted by span.Start; AddRange does not merge entries, so entries may overlap.
}

// New builds an empty RangeMap.
func New[T location.PC]() *RangeMap[T] {
	return &RangeMap[T]{}
}

// AddRange unions {ld} into the map over iv (spec.md §4.D `add_range`).
func (m *RangeMap[T]) AddRange(iv Interval[T], ld location.Descriptor[T]) {
	if iv.Start >= iv.End {
		return // empty interval: a zero-length or inverted range is a no-op.
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry[T]{span: iv, lds: map[location.Descriptor[T]]struct{}{ld: {}}}
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].span.Start > iv.Start })
	m.entries = append(m.entries, entry[T]{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = e
}

// Query returns the union of LD sets whose span contains pc (used by the
// testable-property checks in spec.md §8: "D.query(s)").
func (m *RangeMap[T]) Query(pc T) map[location.Descriptor[T]]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[location.Descriptor[T]]struct{})
	for _, e := range m.entries {
		if pc >= e.span.Start && pc < e.span.End {
			for ld := range e.lds {
				out[ld] = struct{}{}
			}
		}
	}
	return out
}

// InvalidateRanges returns the union of all LD sets whose keys intersect
// any interval in dirty, and drops every entry it matched from the map
// (an opportunistic deletion spec.md §4.D permits). The caller still
// calls invalidate(set) on C or performs a full clear() (spec.md §4.D).
func (m *RangeMap[T]) InvalidateRanges(dirty []Interval[T]) map[location.Descriptor[T]]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[location.Descriptor[T]]struct{})
	kept := m.entries[:0]
	for _, e := range m.entries {
		hit := false
		for _, d := range dirty {
			if e.span.overlaps(d) {
				hit = true
				break
			}
		}
		if hit {
			for ld := range e.lds {
				out[ld] = struct{}{}
			}
			continue // opportunistic delete: drop this interval now that its LDs are returned for invalidation.
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return out
}

// Clear drops every interval, used by a full cache clear (spec.md §4.I
// step 2).
func (m *RangeMap[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}
