// Package fastmem implements the Fastmem Protocol (spec.md §4.H): when a
// host fault lands inside a block's inline memory-access code, this
// package resolves the faulting host PC back to the patch site the
// emitter recorded and reports how execution should resume. Grounded on
// the teacher's jit/exception_handler.go fault-classification switch,
// generalized from "is this a known JIT error code" to "does this host PC
// fall inside a block with a recorded FastmemPatchInfo at this offset".
package fastmem

import (
	"fmt"
	"sync"
	"unsafe"

	"armbt/arena"
	"armbt/blockindex"
	"armbt/exception"
	"armbt/ir"
	"armbt/location"
)

// ErrNotOurFault is returned when hostPC does not correspond to a recorded
// fastmem patch site — the exception handler must not treat it as
// recoverable (spec.md §4.H step 2: "on failure, the fault is not ours").
var ErrNotOurFault = fmt.Errorf("fastmem: fault does not correspond to a known patch site")

// Manager resolves faults for one guest-PC-width's arena and owns the
// per-arena "do-not-fastmem" suppression set (spec.md §4.H step 4).
type Manager[T location.PC] struct {
	arena *arena.Arena
	index *blockindex.Index[T]

	mu           sync.Mutex
	doNotFastmem map[ir.DoNotFastmemMarker]struct{}

	scheduleInvalidate func(ld location.Descriptor[T])
}

// New builds a Manager. scheduleInvalidate is called (spec.md §4.H step 4)
// when a fault site is marked recompile, so the containing block's LD is
// queued for invalidation by component I.
func New[T location.PC](a *arena.Arena, idx *blockindex.Index[T], scheduleInvalidate func(ld location.Descriptor[T])) *Manager[T] {
	return &Manager[T]{
		arena:              a,
		index:              idx,
		doNotFastmem:       make(map[ir.DoNotFastmemMarker]struct{}),
		scheduleInvalidate: scheduleInvalidate,
	}
}

// Contains implements exception.Resolver.
func (m *Manager[T]) Contains(addr uintptr) bool { return m.arena.Contains(addr) }

// Diagnose implements exception.Resolver: it disassembles the 16 bytes
// starting at addr for the "print diagnostics" step of spec.md §4.H step 2.
func (m *Manager[T]) Diagnose(addr uintptr) string {
	const window = 16
	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), window)
	return exception.DisassembleAArch64(buf, addr)
}

// Resolve implements spec.md §4.H steps 1-5 for one fault at hostPC.
func (m *Manager[T]) Resolve(hostPC uintptr) (ir.FakeCall, error) {
	entryPoint, ok := m.index.ReverseGetEntryPoint(hostPC)
	if !ok {
		return ir.FakeCall{}, ErrNotOurFault
	}
	info, ok := m.index.Info(entryPoint)
	if !ok {
		return ir.FakeCall{}, ErrNotOurFault
	}
	offset := int(hostPC - entryPoint)
	patch, ok := info.FastmemPatchInfo[offset]
	if !ok {
		return ir.FakeCall{}, ErrNotOurFault
	}

	if patch.Recompile {
		m.mu.Lock()
		m.doNotFastmem[patch.Marker] = struct{}{}
		m.mu.Unlock()

		if m.scheduleInvalidate != nil {
			ld, ok := m.index.ReverseGetLocation(hostPC)
			if ok {
				m.scheduleInvalidate(ld)
			}
		}
	}

	return patch.FakeCall, nil
}

// DoNotFastmem reports whether marker has been suppressed by a prior fault
// (consulted by the host emitter via emitter.Config.DoNotFastmem).
func (m *Manager[T]) DoNotFastmem(marker ir.DoNotFastmemMarker) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.doNotFastmem[marker]
	return ok
}

// Clear drops the do-not-fastmem set, called on a full cache clear
// (spec.md §4.I step 2 "clear fastmem patch state").
func (m *Manager[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doNotFastmem = make(map[ir.DoNotFastmemMarker]struct{})
}
