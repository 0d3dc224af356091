// Package linker implements the Linker (spec.md §4.G): it patches
// relocations inside newly emitted blocks to point at the prelude, at
// resident sibling blocks, or at the return-to-dispatcher stub, and
// re-patches referrers when a target's residency changes. Grounded on
// the teacher's aot/linker.go ExecutableLinker (which combines and
// relocates compiled code plus a minimal runtime into one executable),
// generalized here from a one-shot AOT link into the core's live,
// repeatable RelinkForDescriptor operation.
package linker

import (
	"encoding/binary"

	"armbt/arena"
	"armbt/blockindex"
	"armbt/ir"
	"armbt/location"
)

// PreludeSlots resolves a LinkTarget to its host address in the prelude
// (component E owns the actual addresses; the linker only needs to look
// them up).
type PreludeSlots interface {
	Slot(target ir.LinkTarget) uintptr
}

// Linker is Component G.
type Linker[T location.PC] struct {
	arena  *arena.Arena
	index  *blockindex.Index[T]
	slots  PreludeSlots
}

// New builds a Linker over the given arena, block index, and prelude.
func New[T location.PC](a *arena.Arena, idx *blockindex.Index[T], slots PreludeSlots) *Linker[T] {
	return &Linker[T]{arena: a, index: idx, slots: slots}
}

// LinkNewBlock resolves every outgoing relocation of a freshly emitted
// block against the prelude (info.Relocations) and against resident (or
// absent) siblings (info.BlockRelocations) — spec.md §4.F step 7, §4.G.
func (l *Linker[T]) LinkNewBlock(info ir.EmittedBlockInfo[T]) {
	base := info.EntryPoint
	buf := hostBytes(base, info.Size)

	for _, r := range info.Relocations {
		writeBranch(buf, r.Offset, l.slots.Slot(r.Target))
	}

	for target, sites := range info.BlockRelocations {
		entry, resident := l.index.Get(target)
		for _, site := range sites {
			l.patchSite(buf, base, site, entry, resident)
		}
	}

	l.arena.InvalidateICache(base, int(info.Size))
}

// patchSite applies the table from spec.md §4.G:
//
//	kind           | resident                        | absent
//	Branch         | direct jump to target entry       | NOP (fall through)
//	MoveToScratch1 | immediate load of target entry     | immediate load of return_to_dispatcher
func (l *Linker[T]) patchSite(buf []byte, base uintptr, site ir.BlockRelocation, target uintptr, resident bool) {
	switch site.Kind {
	case ir.RelocBranch:
		if resident {
			writeBranch(buf, site.Offset, target)
		} else {
			writeNop(buf, site.Offset)
		}
	case ir.RelocMoveToScratch1:
		if resident {
			writeMoveImm(buf, site.Offset, target)
		} else {
			writeMoveImm(buf, site.Offset, l.slots.Slot(ir.LinkReturnToDispatcher))
		}
	}
}

// RelinkForDescriptor iterates every referrer in block_references[target]
// and rewrites each of its patch sites for target using the table above
// with newTarget (spec.md §4.G `RelinkForDescriptor`). newTarget may be
// the zero value to indicate invalidation (target no longer resident).
// Per dynarmic's address_space.cpp (see SPEC_FULL.md), referrers are
// processed one at a time: both relocation kinds for a referrer are
// rewritten before moving to the next referrer.
func (l *Linker[T]) RelinkForDescriptor(target location.Descriptor[T], newTarget uintptr, resident bool) {
	for _, referrer := range l.index.References(target) {
		info, ok := l.index.Info(referrer)
		if !ok {
			continue
		}
		sites, ok := info.BlockRelocations[target]
		if !ok {
			continue
		}
		buf := hostBytes(referrer, info.Size)
		for _, site := range sites {
			l.patchSite(buf, referrer, site, newTarget, resident)
		}
		l.arena.InvalidateICache(referrer, int(info.Size))
	}
}

// hostBytes views size bytes of already-reserved arena memory at addr as
// a writable slice. The arena guarantees this range was written by
// Emit/Reserve, so re-viewing it for patching is safe provided the caller
// has already Unprotect()'d the arena on a W^X host.
func hostBytes(addr uintptr, size uintptr) []byte {
	return unsafeSlice(addr, int(size))
}

func writeBranch(buf []byte, offset int, target uintptr) {
	// B <target>: opcode 0x14000000 | imm26, imm26 = (target-pc)>>2. The
	// placeholder opcode emitted by the backend already has the 0x14/0x94
	// top bits; we only need to fill in the displacement.
	pc := hostAddrOf(buf, offset)
	rel := int64(target) - int64(pc)
	imm26 := uint32((rel >> 2) & 0x03ffffff)
	word := binary.LittleEndian.Uint32(buf[offset : offset+4])
	word = (word &^ 0x03ffffff) | imm26
	binary.LittleEndian.PutUint32(buf[offset:offset+4], word)
}

func writeNop(buf []byte, offset int) {
	binary.LittleEndian.PutUint32(buf[offset:offset+4], 0xD503201F) // AArch64 NOP
}

func writeMoveImm(buf []byte, offset int, target uintptr) {
	// MOVZ X10, #imm16 (register 10 is regScratch1 in emitter/arm64);
	// encodes only the low 16 bits, sufficient for the arena's address
	// space in this reference backend.
	word := uint32(0xD2800000) | 10 | (uint32(target)&0xffff)<<5
	binary.LittleEndian.PutUint32(buf[offset:offset+4], word)
}
