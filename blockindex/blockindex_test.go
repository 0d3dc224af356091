package blockindex

import (
	"testing"

	"armbt/ir"
	"armbt/location"
)

func ld(pc uint32) location.Descriptor[uint32] {
	return location.New[uint32](pc, location.Mode{})
}

func TestInsertAndGet(t *testing.T) {
	idx := New[uint32]()
	l := ld(0x1000)
	idx.Insert(l, ir.EmittedBlockInfo[uint32]{EntryPoint: 0x4000_0000, Size: 16})

	p, ok := idx.Get(l)
	if !ok || p != 0x4000_0000 {
		t.Fatalf("Get returned (%x,%v)", p, ok)
	}
}

func TestReverseGetCovering(t *testing.T) {
	idx := New[uint32]()
	l1 := ld(0x1000)
	l2 := ld(0x2000)
	idx.Insert(l1, ir.EmittedBlockInfo[uint32]{EntryPoint: 0x1000, Size: 16})
	idx.Insert(l2, ir.EmittedBlockInfo[uint32]{EntryPoint: 0x2000, Size: 16})

	got, ok := idx.ReverseGetLocation(0x1008)
	if !ok || got != l1 {
		t.Fatalf("expected l1, got %v ok=%v", got, ok)
	}
	got, ok = idx.ReverseGetLocation(0x2500)
	if !ok || got != l2 {
		t.Fatalf("expected l2, got %v ok=%v", got, ok)
	}
	if _, ok := idx.ReverseGetLocation(0x0500); ok {
		t.Fatalf("expected miss before every block")
	}
}

func TestInboundClosure(t *testing.T) {
	idx := New[uint32]()
	caller := ld(0x1000)
	callee := ld(0x2000)

	idx.Insert(caller, ir.EmittedBlockInfo[uint32]{
		EntryPoint: 0x1000,
		BlockRelocations: map[location.Descriptor[uint32]][]ir.BlockRelocation{
			callee: {{Offset: 4, Kind: ir.RelocBranch}},
		},
	})

	refs := idx.References(callee)
	if len(refs) != 1 || refs[0] != 0x1000 {
		t.Fatalf("expected caller's entry point in References(callee), got %v", refs)
	}
}

func TestInvalidateRemovesForwardEntryOnly(t *testing.T) {
	idx := New[uint32]()
	l := ld(0x1000)
	idx.Insert(l, ir.EmittedBlockInfo[uint32]{EntryPoint: 0x1000, Size: 16})

	relinked := false
	idx.Invalidate(map[location.Descriptor[uint32]]struct{}{l: {}}, func(got location.Descriptor[uint32]) {
		relinked = true
		if got != l {
			t.Fatalf("relink called with wrong ld")
		}
	})
	if !relinked {
		t.Fatalf("expected relink callback to run")
	}
	if _, ok := idx.Get(l); ok {
		t.Fatalf("expected ld to be gone from block_entries")
	}
	if _, ok := idx.Info(0x1000); !ok {
		t.Fatalf("expected block_infos entry to survive invalidation until Clear()")
	}
}

func TestClearDropsEverything(t *testing.T) {
	idx := New[uint32]()
	l := ld(0x1000)
	idx.Insert(l, ir.EmittedBlockInfo[uint32]{EntryPoint: 0x1000, Size: 16})
	idx.Clear()
	if idx.Len() != 0 {
		t.Fatalf("expected empty index after Clear")
	}
	if _, ok := idx.Info(0x1000); ok {
		t.Fatalf("expected block_infos cleared too")
	}
}
