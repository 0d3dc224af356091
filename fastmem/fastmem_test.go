package fastmem

import (
	"testing"

	"armbt/arena"
	"armbt/blockindex"
	"armbt/ir"
	"armbt/location"
)

func ld(pc uint32) location.Descriptor[uint32] {
	return location.New[uint32](pc, location.Mode{})
}

func newTestArena(t *testing.T) *arena.Arena {
	t.Helper()
	a, err := arena.New(64 * 1024)
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestResolveFindsPatchSiteAndMarksDoNotFastmem(t *testing.T) {
	a := newTestArena(t)
	idx := blockindex.New[uint32]()
	var scheduled []location.Descriptor[uint32]
	mgr := New[uint32](a, idx, func(l location.Descriptor[uint32]) {
		scheduled = append(scheduled, l)
	})

	base := a.Base()
	marker := ir.DoNotFastmemMarker{LocationHash: 42, SiteIndex: 0}
	idx.Insert(ld(0x1000), ir.EmittedBlockInfo[uint32]{
		EntryPoint: base,
		Size:       16,
		FastmemPatchInfo: map[int]ir.FastmemPatchInfo{
			4: {Marker: marker, FakeCall: ir.FakeCall{CallPC: 0xbeef}, Recompile: true},
		},
	})

	fc, err := mgr.Resolve(base + 4)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if fc.CallPC != 0xbeef {
		t.Fatalf("CallPC = %x, want 0xbeef", fc.CallPC)
	}
	if !mgr.DoNotFastmem(marker) {
		t.Fatalf("expected marker suppressed after Recompile fault")
	}
	if len(scheduled) != 1 || scheduled[0] != ld(0x1000) {
		t.Fatalf("expected containing block scheduled for invalidation, got %v", scheduled)
	}
}

func TestResolveUnknownFaultIsNotOurs(t *testing.T) {
	a := newTestArena(t)
	idx := blockindex.New[uint32]()
	mgr := New[uint32](a, idx, nil)
	if _, err := mgr.Resolve(0x1234); err != ErrNotOurFault {
		t.Fatalf("expected ErrNotOurFault, got %v", err)
	}
}

func TestClearDropsSuppressionSet(t *testing.T) {
	a := newTestArena(t)
	idx := blockindex.New[uint32]()
	mgr := New[uint32](a, idx, nil)
	base := a.Base()
	marker := ir.DoNotFastmemMarker{LocationHash: 1, SiteIndex: 0}
	idx.Insert(ld(0x2000), ir.EmittedBlockInfo[uint32]{
		EntryPoint:       base,
		Size:             8,
		FastmemPatchInfo: map[int]ir.FastmemPatchInfo{0: {Marker: marker, Recompile: true}},
	})
	if _, err := mgr.Resolve(base); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	mgr.Clear()
	if mgr.DoNotFastmem(marker) {
		t.Fatalf("expected suppression set cleared")
	}
}

func TestContainsDelegatesToArena(t *testing.T) {
	a := newTestArena(t)
	idx := blockindex.New[uint32]()
	mgr := New[uint32](a, idx, nil)
	if !mgr.Contains(a.Base()) {
		t.Fatalf("expected Contains true for an address inside the arena")
	}
	if mgr.Contains(0) {
		t.Fatalf("expected Contains false for the null address")
	}
}
