// Package prelude implements the once-emitted host trampolines
// (spec.md §4.E, GLOSSARY "Prelude"): run_code/step_code entry, the
// return-to-dispatcher and return-from-run-code exits, and the memory
// helper thunks. Grounded on the teacher's jit/arm64_call.go, which
// documents the same simplification this package makes explicit: a real
// backend emits these as host machine code that the block's own branches
// reach directly; lacking a full per-instruction ARM64 assembler (out of
// scope per spec.md §1, "the host-specific code emitter... is an external
// collaborator"), this package emits minimal placeholder bytes for each
// slot (so relocations and i-cache invalidation are exercised for real)
// and performs the run_code/return_to_dispatcher control flow in Go. The
// cpu façade runs each block through executor.Interpret and does not
// jump into arena bytes; executor.CallBlock is the arm64-only leaf call
// that would, the boundary jit/arm64_call.go's executeARM64Assembly
// crosses with an unsafe function-pointer cast.
package prelude

import (
	"armbt/arena"
	"armbt/ir"
)

// Slot addresses populated once at arena construction (spec.md §3
// "Prelude layout").
type Prelude struct {
	arena *arena.Arena

	ReturnToDispatcher   uintptr
	ReturnFromRunCode    uintptr
	ReadMemory           [5]uintptr // indexed by width class 8,16,32,64,128
	WriteMemory          [5]uintptr
	WrappedReadMemory    [5]uintptr
	WrappedWriteMemory   [5]uintptr
	ExclusiveReadMemory  [5]uintptr
	ExclusiveWriteMemory [5]uintptr
	CallSVCThunk         uintptr
	ExceptionRaisedThunk uintptr
	ICacheThunk          uintptr
	DCacheThunk          uintptr
	ISBThunk             uintptr
	GetCNTPCTThunk       uintptr
	AddTicksThunk        uintptr
	GetTicksRemaining    uintptr
}

const stubSize = 16 // RET-terminated placeholder, 4-byte aligned for AArch64.

var retStub = []byte{0xC0, 0x03, 0x5F, 0xD6} // AArch64 RET

func emitStub(a *arena.Arena) uintptr {
	addr, buf, err := a.Reserve(stubSize)
	if err != nil {
		panic(err) // prelude emission happens once at construction with a freshly-sized arena; exhaustion here is a configuration error, not a steady-state fault.
	}
	copy(buf, retStub)
	a.InvalidateICache(addr, stubSize)
	return addr
}

// New emits the prelude into a, recording every slot address, and marks
// the arena's end-of-prelude boundary (spec.md §4.A `reset(offset)`).
func New(a *arena.Arena) *Prelude {
	p := &Prelude{arena: a}
	p.ReturnToDispatcher = emitStub(a)
	p.ReturnFromRunCode = emitStub(a)
	for i := range p.ReadMemory {
		p.ReadMemory[i] = emitStub(a)
		p.WriteMemory[i] = emitStub(a)
		p.WrappedReadMemory[i] = emitStub(a)
		p.WrappedWriteMemory[i] = emitStub(a)
		p.ExclusiveReadMemory[i] = emitStub(a)
		p.ExclusiveWriteMemory[i] = emitStub(a)
	}
	p.CallSVCThunk = emitStub(a)
	p.ExceptionRaisedThunk = emitStub(a)
	p.ICacheThunk = emitStub(a)
	p.DCacheThunk = emitStub(a)
	p.ISBThunk = emitStub(a)
	p.GetCNTPCTThunk = emitStub(a)
	p.AddTicksThunk = emitStub(a)
	p.GetTicksRemaining = emitStub(a)
	a.MarkEndOfPrelude()
	return p
}

// Slot implements linker.PreludeSlots: it resolves a LinkTarget to its
// host address (spec.md §4.G "the linker writes a host-architecture
// branch at entry_point+offset to the appropriate prelude slot").
func (p *Prelude) Slot(target ir.LinkTarget) uintptr {
	switch target {
	case ir.LinkReturnToDispatcher:
		return p.ReturnToDispatcher
	case ir.LinkReturnFromRunCode:
		return p.ReturnFromRunCode
	case ir.LinkReadMemory8, ir.LinkReadMemory16, ir.LinkReadMemory32, ir.LinkReadMemory64, ir.LinkReadMemory128:
		return p.ReadMemory[widthIndexForLink(target, ir.LinkReadMemory8)]
	case ir.LinkWriteMemory8, ir.LinkWriteMemory16, ir.LinkWriteMemory32, ir.LinkWriteMemory64, ir.LinkWriteMemory128:
		return p.WriteMemory[widthIndexForLink(target, ir.LinkWriteMemory8)]
	case ir.LinkWrappedReadMemory8, ir.LinkWrappedReadMemory16, ir.LinkWrappedReadMemory32, ir.LinkWrappedReadMemory64, ir.LinkWrappedReadMemory128:
		return p.WrappedReadMemory[widthIndexForLink(target, ir.LinkWrappedReadMemory8)]
	case ir.LinkWrappedWriteMemory8, ir.LinkWrappedWriteMemory16, ir.LinkWrappedWriteMemory32, ir.LinkWrappedWriteMemory64, ir.LinkWrappedWriteMemory128:
		return p.WrappedWriteMemory[widthIndexForLink(target, ir.LinkWrappedWriteMemory8)]
	case ir.LinkExclusiveReadMemory8, ir.LinkExclusiveReadMemory16, ir.LinkExclusiveReadMemory32, ir.LinkExclusiveReadMemory64, ir.LinkExclusiveReadMemory128:
		return p.ExclusiveReadMemory[widthIndexForLink(target, ir.LinkExclusiveReadMemory8)]
	case ir.LinkExclusiveWriteMemory8, ir.LinkExclusiveWriteMemory16, ir.LinkExclusiveWriteMemory32, ir.LinkExclusiveWriteMemory64, ir.LinkExclusiveWriteMemory128:
		return p.ExclusiveWriteMemory[widthIndexForLink(target, ir.LinkExclusiveWriteMemory8)]
	case ir.LinkCallSVC:
		return p.CallSVCThunk
	case ir.LinkExceptionRaised:
		return p.ExceptionRaisedThunk
	case ir.LinkInstructionCacheRaised:
		return p.ICacheThunk
	case ir.LinkDataCacheRaised:
		return p.DCacheThunk
	case ir.LinkISBRaised:
		return p.ISBThunk
	case ir.LinkGetCNTPCT:
		return p.GetCNTPCTThunk
	case ir.LinkAddTicks:
		return p.AddTicksThunk
	case ir.LinkGetTicksRemaining:
		return p.GetTicksRemaining
	default:
		return p.ReturnToDispatcher
	}
}

func widthIndexForLink(target, base ir.LinkTarget) int {
	offset := int(target - base)
	switch offset {
	case 0:
		return 0
	case 1:
		return 1
	case 2:
		return 2
	case 3:
		return 3
	default:
		return 4
	}
}
