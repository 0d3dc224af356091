package linker

import (
	"testing"

	"armbt/arena"
	"armbt/blockindex"
	"armbt/ir"
	"armbt/location"
)

type fakeSlots struct{ base uintptr }

func (f fakeSlots) Slot(target ir.LinkTarget) uintptr { return f.base + uintptr(target)*0x100 }

func ld(pc uint32) location.Descriptor[uint32] {
	return location.New[uint32](pc, location.Mode{})
}

func TestFastDispatchRoundTrip(t *testing.T) {
	var tbl FastDispatchTable[uint32]
	l := ld(0x1000)
	if _, ok := tbl.Lookup(l); ok {
		t.Fatalf("expected miss before Populate")
	}
	tbl.Populate(l, 0x4000)
	got, ok := tbl.Lookup(l)
	if !ok || got != 0x4000 {
		t.Fatalf("Lookup = (%x,%v)", got, ok)
	}
	tbl.Invalidate(l)
	if _, ok := tbl.Lookup(l); ok {
		t.Fatalf("expected miss after Invalidate")
	}
}

func TestLinkNewBlockPatchesBranch(t *testing.T) {
	a, err := arena.New(4096)
	if err != nil {
		t.Fatalf("New arena: %v", err)
	}
	defer a.Close()
	a.MarkEndOfPrelude()

	idx := blockindex.New[uint32]()
	ln := New[uint32](a, idx, fakeSlots{base: a.Base() + 0x1000})

	// Pretend a sibling is already resident at a known address.
	sibling := ld(0x2000)
	idx.Insert(sibling, ir.EmittedBlockInfo[uint32]{EntryPoint: a.Base() + 0x500, Size: 4})

	addr, buf, err := a.Reserve(8)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	// Placeholder B instruction (opcode bits only, displacement zero).
	buf[0], buf[1], buf[2], buf[3] = 0x00, 0x00, 0x00, 0x14

	info := ir.EmittedBlockInfo[uint32]{
		EntryPoint: addr,
		Size:       8,
		BlockRelocations: map[location.Descriptor[uint32]][]ir.BlockRelocation{
			sibling: {{Offset: 0, Kind: ir.RelocBranch}},
		},
	}
	ln.LinkNewBlock(info)

	// The opcode's top byte (bits 31-26 = 000101) must be preserved.
	if buf[3]&0xfc != 0x14 {
		t.Fatalf("expected B opcode bits preserved, got %x", buf[3])
	}
}
