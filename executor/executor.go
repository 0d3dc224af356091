// Package executor is the reference backend that actually advances guest
// state for one Block (spec.md §1 notes the host-specific code emitter is
// an external collaborator; this package is the one concrete "CodePtr
// executes" implementation this module ships, so the core's properties in
// spec.md §8 can be demonstrated end to end on any host, not only arm64).
//
// It has two halves. Interpret walks a Block's Ops directly against a
// jitstate.State and is portable — it is the execution path the cpu
// façade uses on every host. CallBlock (call_arm64.go/call_other.go),
// which the façade does not call, crosses into the actual bytes the
// emitter wrote in the arena,
// following the same unsafe function-pointer cast jit/arm64_call.go uses
// to invoke JIT-generated code from Go, with the same caveat that code
// acknowledges: a production backend does this in hand-written assembly,
// not via a Go func value cast.
package executor

import (
	"armbt/callbacks"
	"armbt/exclusive"
	"armbt/haltreason"
	"armbt/ir"
	"armbt/jitstate"
	"armbt/location"
)

// Result reports how a Block finished so the caller (the cpu façade) can
// decide what to run next.
type Result[T location.PC] struct {
	Kind      ir.TerminalKind
	Next      *location.Descriptor[T]
	EndPC     T // valid when Next is nil and the block made (or attempted) forward progress
	Halted    bool
	Exception bool
	ExcKind   callbacks.ExceptionKind
}

// Interpret executes every Op in block in order against st, then resolves
// block.Terminal into a Result. Flags bit 0 is treated as the "equal"
// condition OpCmpReg computes, consulted by an If terminal; this is a
// reference convention, not an ARM flag encoding, since condition-code
// evaluation belongs to the decoder/optimizer this module does not own.
// monitor backs OpExclusiveMemRead/OpExclusiveMemWrite (spec.md §3's
// ExclusiveMonitor); it must be the same instance shared across every
// façade emulating the same address space.
func Interpret[T location.PC](block *ir.Block[T], st *jitstate.State[T], host callbacks.Host, monitor *exclusive.Monitor) Result[T] {
	for i := range block.Ops {
		execOp(&block.Ops[i], st, host, monitor)
	}

	switch block.Terminal.Kind {
	case ir.ReturnToDispatch:
		return Result[T]{Kind: ir.ReturnToDispatch, EndPC: block.EndPC}
	case ir.LinkBlock, ir.LinkBlockFast, ir.FastDispatchHint:
		return Result[T]{Kind: block.Terminal.Kind, Next: block.Terminal.Successor}
	case ir.PopRSBHint:
		ldHash, code := st.RSB.Pop()
		_ = code // the caller resolves code->LD via its own reverse index; we only report the hint fired.
		_ = ldHash
		return Result[T]{Kind: ir.PopRSBHint, Next: block.Terminal.Successor}
	case ir.If:
		if st.Flags&1 != 0 {
			return Result[T]{Kind: ir.If, Next: block.Terminal.Successor}
		}
		return Result[T]{Kind: ir.If, Next: block.Terminal.Alternate}
	case ir.CheckBit, ir.CheckHalt:
		if st.ReadHalt().Any() {
			return Result[T]{Kind: block.Terminal.Kind, Halted: true}
		}
		return Result[T]{Kind: block.Terminal.Kind, Next: block.Terminal.Successor}
	case ir.Interpret:
		// The frontend has not notified the host of this instruction
		// (spec.md §7); Result.Exception asks the caller to do so, and
		// execution resumes from block.EndPC (the next instruction)
		// exactly as an external single-instruction interpreter would.
		return Result[T]{Kind: ir.Interpret, EndPC: block.EndPC, Exception: true, ExcKind: callbacks.UndefinedInstruction}
	case ir.Fault:
		// The frontend already called Host.ExceptionRaised while
		// decoding this block; re-fetching the same faulting PC would
		// only repeat the fault, so halt here instead of advancing.
		st.Halt(haltreason.MemoryAbort)
		return Result[T]{Kind: ir.Fault, Halted: true}
	default:
		return Result[T]{Kind: ir.ReturnToDispatch, EndPC: block.EndPC}
	}
}

func execOp[T location.PC](op *ir.Op, st *jitstate.State[T], host callbacks.Host, monitor *exclusive.Monitor) {
	if op.Rd >= 0 && int(op.Rd) >= len(st.GPR) {
		return
	}
	switch op.Kind {
	case ir.OpMovImm:
		st.GPR[op.Rd] = uint64(op.Imm)
	case ir.OpAddImm:
		st.GPR[op.Rd] = st.GPR[op.Rn] + uint64(op.Imm)
	case ir.OpAddReg:
		st.GPR[op.Rd] = st.GPR[op.Rn] + st.GPR[op.Rm]
	case ir.OpSubImm:
		st.GPR[op.Rd] = st.GPR[op.Rn] - uint64(op.Imm)
	case ir.OpSubReg:
		st.GPR[op.Rd] = st.GPR[op.Rn] - st.GPR[op.Rm]
	case ir.OpAndReg:
		st.GPR[op.Rd] = st.GPR[op.Rn] & st.GPR[op.Rm]
	case ir.OpOrrReg:
		st.GPR[op.Rd] = st.GPR[op.Rn] | st.GPR[op.Rm]
	case ir.OpEorReg:
		st.GPR[op.Rd] = st.GPR[op.Rn] ^ st.GPR[op.Rm]
	case ir.OpCmpReg:
		if st.GPR[op.Rn] == st.GPR[op.Rm] {
			st.Flags |= 1
		} else {
			st.Flags &^= 1
		}
	case ir.OpMemRead:
		execMemRead(op, st, host)
	case ir.OpMemWrite:
		execMemWrite(op, st, host)
	case ir.OpExclusiveMemRead:
		vaddr := st.GPR[op.Rn]
		execMemRead(op, st, host)
		var value [16]byte
		le64(value[:8], st.GPR[op.Rd])
		st.Exclusive = jitstate.ExclusiveScratch{Address: uintptr(vaddr), Value: value, Valid: true}
		monitor.MarkExclusive(st.ProcessorID, vaddr, value)
	case ir.OpExclusiveMemWrite:
		vaddr := st.GPR[op.Rn]
		if monitor.CheckAndClear(st.ProcessorID, vaddr) {
			execMemWrite(op, st, host)
			st.GPR[op.Rd] = 0
		} else {
			st.GPR[op.Rd] = 1
		}
		st.Exclusive.Valid = false
	}
}

func execMemRead[T location.PC](op *ir.Op, st *jitstate.State[T], host callbacks.Host) {
	vaddr := st.GPR[op.Rn]
	switch op.Width {
	case 8:
		st.GPR[op.Rd] = uint64(host.MemoryRead8(vaddr))
	case 16:
		st.GPR[op.Rd] = uint64(host.MemoryRead16(vaddr))
	case 64:
		st.GPR[op.Rd] = host.MemoryRead64(vaddr)
	default:
		st.GPR[op.Rd] = uint64(host.MemoryRead32(vaddr))
	}
}

func le64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func execMemWrite[T location.PC](op *ir.Op, st *jitstate.State[T], host callbacks.Host) {
	vaddr := st.GPR[op.Rn]
	value := st.GPR[op.Rm]
	switch op.Width {
	case 8:
		host.MemoryWrite8(vaddr, uint8(value))
	case 16:
		host.MemoryWrite16(vaddr, uint16(value))
	case 64:
		host.MemoryWrite64(vaddr, value)
	default:
		host.MemoryWrite32(vaddr, uint32(value))
	}
}
