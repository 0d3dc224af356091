package linker

import "armbt/location"

// fastDispatchSize is a compile-time constant per spec.md §9 ("RSB size,
// fast-dispatch-table size should be ordinary compile-time constants;
// there is no requirement for them to be user-configurable").
const fastDispatchSize = 1024

// FastDispatchTable is a direct-mapped array of (LD, CodePtr) pairs
// indexed by a hash of the current LD (spec.md §4.G, GLOSSARY
// "Fast-dispatch table"). A miss falls back to GetOrEmit and repopulates
// the slot.
type FastDispatchTable[T location.PC] struct {
	slots [fastDispatchSize]fdSlot[T]
}

type fdSlot[T location.PC] struct {
	valid bool
	ld    location.Descriptor[T]
	entry uintptr
}

func index[T location.PC](ld location.Descriptor[T]) uint64 {
	return ld.Hash() % fastDispatchSize
}

// Lookup returns the cached entry point for ld if the slot is occupied
// by exactly ld.
func (f *FastDispatchTable[T]) Lookup(ld location.Descriptor[T]) (uintptr, bool) {
	s := &f.slots[index(ld)]
	if s.valid && s.ld == ld {
		return s.entry, true
	}
	return 0, false
}

// Populate stores ld -> entry, evicting whatever previously occupied the
// slot.
func (f *FastDispatchTable[T]) Populate(ld location.Descriptor[T], entry uintptr) {
	f.slots[index(ld)] = fdSlot[T]{valid: true, ld: ld, entry: entry}
}

// Invalidate clears the slot if it currently maps ld (spec.md §4.G: "On
// invalidation of an LD, the corresponding slot is cleared").
func (f *FastDispatchTable[T]) Invalidate(ld location.Descriptor[T]) {
	s := &f.slots[index(ld)]
	if s.valid && s.ld == ld {
		*s = fdSlot[T]{}
	}
}

// Clear empties every slot, used by a full cache clear.
func (f *FastDispatchTable[T]) Clear() {
	for i := range f.slots {
		f.slots[i] = fdSlot[T]{}
	}
}
