package prelude

import (
	"testing"

	"armbt/arena"
	"armbt/ir"
)

func TestNewPopulatesAllSlotsAndMarksEndOfPrelude(t *testing.T) {
	a, err := arena.New(64 * 1024)
	if err != nil {
		t.Fatalf("New arena: %v", err)
	}
	defer a.Close()

	p := New(a)

	if p.ReturnToDispatcher == 0 || p.ReturnFromRunCode == 0 {
		t.Fatalf("entry/exit slots not populated")
	}
	for i, addr := range p.ReadMemory {
		if addr == 0 {
			t.Fatalf("ReadMemory[%d] not populated", i)
		}
	}
	if a.EndOfPrelude() == 0 {
		t.Fatalf("expected non-zero end-of-prelude offset after emitting slots")
	}
}

func TestSlotResolvesEveryWidthClass(t *testing.T) {
	a, err := arena.New(64 * 1024)
	if err != nil {
		t.Fatalf("New arena: %v", err)
	}
	defer a.Close()
	p := New(a)

	cases := []struct {
		target ir.LinkTarget
		want   uintptr
	}{
		{ir.LinkReadMemory8, p.ReadMemory[0]},
		{ir.LinkReadMemory128, p.ReadMemory[4]},
		{ir.LinkWriteMemory32, p.WriteMemory[2]},
		{ir.LinkExclusiveWriteMemory64, p.ExclusiveWriteMemory[3]},
		{ir.LinkReturnToDispatcher, p.ReturnToDispatcher},
		{ir.LinkCallSVC, p.CallSVCThunk},
	}
	for _, c := range cases {
		if got := p.Slot(c.target); got != c.want {
			t.Fatalf("Slot(%v) = %x, want %x", c.target, got, c.want)
		}
	}
}
