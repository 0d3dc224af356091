package executor

import (
	"testing"

	"armbt/callbacks"
	"armbt/exclusive"
	"armbt/ir"
	"armbt/jitstate"
	"armbt/location"
)

type fakeHost struct {
	mem map[uint64]uint32
}

func newFakeHost() *fakeHost { return &fakeHost{mem: map[uint64]uint32{}} }

func (h *fakeHost) MemoryRead8(vaddr uint64) uint8   { return uint8(h.mem[vaddr]) }
func (h *fakeHost) MemoryRead16(vaddr uint64) uint16 { return uint16(h.mem[vaddr]) }
func (h *fakeHost) MemoryRead32(vaddr uint64) uint32 { return h.mem[vaddr] }
func (h *fakeHost) MemoryRead64(vaddr uint64) uint64 { return uint64(h.mem[vaddr]) }
func (h *fakeHost) MemoryRead128(vaddr uint64) [2]uint64 {
	return [2]uint64{uint64(h.mem[vaddr]), 0}
}
func (h *fakeHost) MemoryWrite8(vaddr uint64, v uint8)   { h.mem[vaddr] = uint32(v) }
func (h *fakeHost) MemoryWrite16(vaddr uint64, v uint16) { h.mem[vaddr] = uint32(v) }
func (h *fakeHost) MemoryWrite32(vaddr uint64, v uint32) { h.mem[vaddr] = v }
func (h *fakeHost) MemoryWrite64(vaddr uint64, v uint64) { h.mem[vaddr] = uint32(v) }
func (h *fakeHost) MemoryWrite128(vaddr uint64, v [2]uint64) {
	h.mem[vaddr] = uint32(v[0])
}
func (h *fakeHost) MemoryWriteExclusive8(vaddr uint64, value, expected uint8) bool {
	return h.cas(vaddr, uint32(expected), uint32(value))
}
func (h *fakeHost) MemoryWriteExclusive16(vaddr uint64, value, expected uint16) bool {
	return h.cas(vaddr, uint32(expected), uint32(value))
}
func (h *fakeHost) MemoryWriteExclusive32(vaddr uint64, value, expected uint32) bool {
	return h.cas(vaddr, expected, value)
}
func (h *fakeHost) MemoryWriteExclusive64(vaddr uint64, value, expected uint64) bool {
	return h.cas(vaddr, uint32(expected), uint32(value))
}
func (h *fakeHost) MemoryWriteExclusive128(vaddr uint64, value, expected [2]uint64) bool {
	return h.cas(vaddr, uint32(expected[0]), uint32(value[0]))
}
func (h *fakeHost) cas(vaddr uint64, expected, value uint32) bool {
	if h.mem[vaddr] != expected {
		return false
	}
	h.mem[vaddr] = value
	return true
}
func (h *fakeHost) MemoryReadCode(vaddr uint64) (uint32, bool)              { return 0, true }
func (h *fakeHost) IsReadOnlyMemory(vaddr uint64) bool                      { return false }
func (h *fakeHost) CallSVC(n uint32)                                       {}
func (h *fakeHost) ExceptionRaised(pc uint64, kind callbacks.ExceptionKind) {}
func (h *fakeHost) InstructionSynchronizationBarrierRaised()               {}
func (h *fakeHost) InstructionCacheOperationRaised(vaddr uint64)           {}
func (h *fakeHost) DataCacheOperationRaised(vaddr uint64)                  {}
func (h *fakeHost) AddTicks(n uint64)                                      {}
func (h *fakeHost) GetTicksRemaining() uint64                              { return 0 }
func (h *fakeHost) GetCNTPCT() uint64                                      { return 0 }

// TestInterpretMovAddMatchesScenarioS1 exercises spec.md §8 scenario S1's
// guest program shape (MOV r0,#1 then a terminal), verified against the
// portable reference interpreter rather than real ARM64 bytes.
func TestInterpretMovAddMatchesScenarioS1(t *testing.T) {
	loc := location.New[uint32](0x1000, location.Mode{})
	block := &ir.Block[uint32]{
		Location: loc,
		Ops: []ir.Op{
			{Kind: ir.OpMovImm, Rd: 0, Imm: 1},
		},
		Terminal: ir.Terminal[uint32]{Kind: ir.ReturnToDispatch},
	}
	var st jitstate.State[uint32]
	host := newFakeHost()

	res := Interpret(block, &st, host, exclusive.New(1))

	if st.GPR[0] != 1 {
		t.Fatalf("GPR[0] = %d, want 1", st.GPR[0])
	}
	if res.Kind != ir.ReturnToDispatch {
		t.Fatalf("Kind = %v, want ReturnToDispatch", res.Kind)
	}
}

func TestInterpretExclusiveWriteSucceedsOnlyOnce(t *testing.T) {
	loc := location.New[uint32](0x2000, location.Mode{})
	readBlock := &ir.Block[uint32]{
		Location: loc,
		Ops:      []ir.Op{{Kind: ir.OpExclusiveMemRead, Rd: 1, Rn: 2, Width: 32}},
		Terminal: ir.Terminal[uint32]{Kind: ir.ReturnToDispatch},
	}
	writeBlock := &ir.Block[uint32]{
		Location: loc,
		Ops:      []ir.Op{{Kind: ir.OpExclusiveMemWrite, Rd: 0, Rn: 2, Rm: 3, Width: 32}},
		Terminal: ir.Terminal[uint32]{Kind: ir.ReturnToDispatch},
	}

	var st jitstate.State[uint32]
	host := newFakeHost()
	host.mem[0x8000] = 7
	st.GPR[2] = 0x8000
	st.GPR[3] = 42
	monitor := exclusive.New(1)

	Interpret(readBlock, &st, host, monitor)
	Interpret(writeBlock, &st, host, monitor)

	if st.GPR[0] != 0 {
		t.Fatalf("first exclusive write should succeed (result 0), got %d", st.GPR[0])
	}
	if host.mem[0x8000] != 42 {
		t.Fatalf("memory not updated: %d", host.mem[0x8000])
	}
}

func TestInterpretIfFollowsFlags(t *testing.T) {
	loc := location.New[uint32](0x3000, location.Mode{})
	succ := location.New[uint32](0x3010, location.Mode{})
	alt := location.New[uint32](0x3020, location.Mode{})
	block := &ir.Block[uint32]{
		Location: loc,
		Ops:      []ir.Op{{Kind: ir.OpCmpReg, Rn: 0, Rm: 1}},
		Terminal: ir.Terminal[uint32]{Kind: ir.If, Successor: &succ, Alternate: &alt},
	}
	var st jitstate.State[uint32]
	host := newFakeHost()
	st.GPR[0], st.GPR[1] = 5, 5

	res := Interpret(block, &st, host, exclusive.New(1))
	if res.Next == nil || *res.Next != succ {
		t.Fatalf("expected taken branch to successor on equal flags")
	}
}
