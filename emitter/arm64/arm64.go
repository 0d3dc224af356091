// Package arm64 is a minimal concrete host emitter targeting an AArch64
// host, grounded on the teacher's jit/arm64_codegen.go and jit/arm64_call.go
// (register/opcode tables and calling-convention glue). Real ARM-guest
// decode and IR optimization are out of scope (spec.md §1); this backend
// only needs to turn the small ir.Op vocabulary into AArch64 bytes so the
// translation cache core can be exercised end to end.
package arm64

import (
	"encoding/binary"
	"fmt"

	"armbt/emitter"
	"armbt/ir"
	"armbt/location"
)

// AArch64 general-purpose register numbers used by the code generator,
// named the way jit/arm64_codegen.go names its ARM64_* constants.
const (
	regJitState  = 19 // callee-saved: holds *JitState for the duration of a block
	regScratch0  = 9
	regScratch1  = 10 // patched by MoveToScratch1 relocations (spec.md §4.G)
	regScratch2  = 11
	regLR        = 30
	regSP        = 31
)

// Encoded instruction forms, named after the teacher's ARM64_* table.
const (
	opMOVZ  uint32 = 0xD2800000
	opMOVK  uint32 = 0xF2800000
	opADDri uint32 = 0x91000000
	opADDrr uint32 = 0x8B000000
	opSUBri uint32 = 0xD1000000
	opSUBrr uint32 = 0xCB000000
	opANDrr uint32 = 0x8A000000
	opORRrr uint32 = 0xAA000000
	opEORrr uint32 = 0xCA000000
	opCMPrr uint32 = 0xEB00001F // SUBS XZR, Rn, Rm with Rd=31
	opB     uint32 = 0x14000000
	opBL    uint32 = 0x94000000
	opLDR   uint32 = 0xF9400000
	opSTR   uint32 = 0xF9000000
	opRET   uint32 = 0xD65F03C0
	opNOP   uint32 = 0xD503201F
)

// Backend implements emitter.Emitter[T] for an AArch64 host.
type Backend[T location.PC] struct{}

// New constructs an AArch64 backend.
func New[T location.PC]() *Backend[T] { return &Backend[T]{} }

func put32(buf []byte, off int, word uint32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], word)
}

// Emit lowers block into AArch64 bytes through cursor.
func (b *Backend[T]) Emit(cursor emitter.Cursor, block *ir.Block[T], cfg emitter.Config) (ir.EmittedBlockInfo[T], error) {
	var code []byte
	var relocs []ir.Relocation
	blockRelocs := make(map[location.Descriptor[T]][]ir.BlockRelocation)
	fastmem := make(map[int]ir.FastmemPatchInfo)

	emit32 := func(w uint32) {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:4], w)
		code = append(code, tmp[:]...)
	}

	siteIndex := 0
	for _, op := range block.Ops {
		switch op.Kind {
		case ir.OpMovImm:
			emit32(opMOVZ | uint32(op.Rd) | (uint32(op.Imm)&0xffff)<<5)
		case ir.OpAddImm:
			emit32(opADDri | uint32(op.Rd) | uint32(op.Rn)<<5 | (uint32(op.Imm)&0xfff)<<10)
		case ir.OpAddReg:
			emit32(opADDrr | uint32(op.Rd) | uint32(op.Rn)<<5 | uint32(op.Rm)<<16)
		case ir.OpSubImm:
			emit32(opSUBri | uint32(op.Rd) | uint32(op.Rn)<<5 | (uint32(op.Imm)&0xfff)<<10)
		case ir.OpSubReg:
			emit32(opSUBrr | uint32(op.Rd) | uint32(op.Rn)<<5 | uint32(op.Rm)<<16)
		case ir.OpAndReg:
			emit32(opANDrr | uint32(op.Rd) | uint32(op.Rn)<<5 | uint32(op.Rm)<<16)
		case ir.OpOrrReg:
			emit32(opORRrr | uint32(op.Rd) | uint32(op.Rn)<<5 | uint32(op.Rm)<<16)
		case ir.OpEorReg:
			emit32(opEORrr | uint32(op.Rd) | uint32(op.Rn)<<5 | uint32(op.Rm)<<16)
		case ir.OpCmpReg:
			emit32(opCMPrr | uint32(op.Rn)<<5 | uint32(op.Rm)<<16)

		case ir.OpMemRead:
			offset := len(code)
			if cfg.EnableFastmem && (cfg.DoNotFastmem == nil || !cfg.DoNotFastmem(ir.DoNotFastmemMarker{LocationHash: block.Location.Hash(), SiteIndex: siteIndex})) {
				// Inline fastmem load against the host-mapped guest window;
				// a fault here is recovered by component H.
				emit32(opLDR | uint32(op.Rd) | uint32(op.Rn)<<5)
				fastmem[offset] = ir.FastmemPatchInfo{
					Marker:    ir.DoNotFastmemMarker{LocationHash: block.Location.Hash(), SiteIndex: siteIndex},
					Recompile: cfg.RecompileOnFastmemFailure,
				}
			} else {
				target := readMemoryTarget(op.Width)
				relocs = append(relocs, ir.Relocation{Offset: len(code), Target: target})
				emit32(opBL)
			}
			siteIndex++

		case ir.OpMemWrite:
			offset := len(code)
			if cfg.EnableFastmem && (cfg.DoNotFastmem == nil || !cfg.DoNotFastmem(ir.DoNotFastmemMarker{LocationHash: block.Location.Hash(), SiteIndex: siteIndex})) {
				emit32(opSTR | uint32(op.Rd) | uint32(op.Rn)<<5)
				fastmem[offset] = ir.FastmemPatchInfo{
					Marker:    ir.DoNotFastmemMarker{LocationHash: block.Location.Hash(), SiteIndex: siteIndex},
					Recompile: cfg.RecompileOnFastmemFailure,
				}
			} else {
				target := writeMemoryTarget(op.Width)
				relocs = append(relocs, ir.Relocation{Offset: len(code), Target: target})
				emit32(opBL)
			}
			siteIndex++

		case ir.OpExclusiveMemRead:
			relocs = append(relocs, ir.Relocation{Offset: len(code), Target: exclusiveReadTarget(op.Width)})
			emit32(opBL)
			siteIndex++
		case ir.OpExclusiveMemWrite:
			relocs = append(relocs, ir.Relocation{Offset: len(code), Target: exclusiveWriteTarget(op.Width)})
			emit32(opBL)
			siteIndex++

		default:
			return ir.EmittedBlockInfo[T]{}, fmt.Errorf("arm64 emitter: unhandled op kind %v", op.Kind)
		}
	}

	// Terminal.
	switch block.Terminal.Kind {
	case ir.ReturnToDispatch:
		relocs = append(relocs, ir.Relocation{Offset: len(code), Target: ir.LinkReturnToDispatcher})
		emit32(opB)
	case ir.LinkBlock, ir.LinkBlockFast, ir.FastDispatchHint:
		if block.Terminal.Successor == nil {
			return ir.EmittedBlockInfo[T]{}, fmt.Errorf("arm64 emitter: %v terminal missing successor", block.Terminal.Kind)
		}
		kind := ir.RelocBranch
		blockRelocs[*block.Terminal.Successor] = append(blockRelocs[*block.Terminal.Successor], ir.BlockRelocation{Offset: len(code), Kind: kind})
		emit32(opB)
	case ir.PopRSBHint:
		if block.Terminal.Successor != nil {
			blockRelocs[*block.Terminal.Successor] = append(blockRelocs[*block.Terminal.Successor], ir.BlockRelocation{Offset: len(code), Kind: ir.RelocMoveToScratch1})
			emit32(opMOVZ | regScratch1)
		}
		emit32(opBL) // tail call into prelude's RSB-pop epilogue helper
	case ir.If:
		if block.Terminal.Successor == nil || block.Terminal.Alternate == nil {
			return ir.EmittedBlockInfo[T]{}, fmt.Errorf("arm64 emitter: If terminal requires both branches")
		}
		blockRelocs[*block.Terminal.Successor] = append(blockRelocs[*block.Terminal.Successor], ir.BlockRelocation{Offset: len(code), Kind: ir.RelocBranch})
		emit32(opB)
		blockRelocs[*block.Terminal.Alternate] = append(blockRelocs[*block.Terminal.Alternate], ir.BlockRelocation{Offset: len(code), Kind: ir.RelocBranch})
		emit32(opB)
	case ir.CheckHalt, ir.CheckBit, ir.Fault:
		relocs = append(relocs, ir.Relocation{Offset: len(code), Target: ir.LinkReturnFromRunCode})
		emit32(opB)
	case ir.Interpret:
		relocs = append(relocs, ir.Relocation{Offset: len(code), Target: ir.LinkExceptionRaised})
		emit32(opBL)
	default:
		return ir.EmittedBlockInfo[T]{}, fmt.Errorf("arm64 emitter: unknown terminal kind %v", block.Terminal.Kind)
	}

	addr, buf, err := cursor.Reserve(len(code))
	if err != nil {
		return ir.EmittedBlockInfo[T]{}, err
	}
	copy(buf, code)

	return ir.EmittedBlockInfo[T]{
		EntryPoint:       addr,
		Size:             uintptr(len(code)),
		Relocations:      relocs,
		BlockRelocations: blockRelocs,
		FastmemPatchInfo: fastmem,
	}, nil
}

func readMemoryTarget(width uint8) ir.LinkTarget {
	switch width {
	case 8:
		return ir.LinkReadMemory8
	case 16:
		return ir.LinkReadMemory16
	case 32:
		return ir.LinkReadMemory32
	case 64:
		return ir.LinkReadMemory64
	default:
		return ir.LinkReadMemory128
	}
}

func writeMemoryTarget(width uint8) ir.LinkTarget {
	switch width {
	case 8:
		return ir.LinkWriteMemory8
	case 16:
		return ir.LinkWriteMemory16
	case 32:
		return ir.LinkWriteMemory32
	case 64:
		return ir.LinkWriteMemory64
	default:
		return ir.LinkWriteMemory128
	}
}

func exclusiveReadTarget(width uint8) ir.LinkTarget {
	switch width {
	case 8:
		return ir.LinkExclusiveReadMemory8
	case 16:
		return ir.LinkExclusiveReadMemory16
	case 32:
		return ir.LinkExclusiveReadMemory32
	case 64:
		return ir.LinkExclusiveReadMemory64
	default:
		return ir.LinkExclusiveReadMemory128
	}
}

func exclusiveWriteTarget(width uint8) ir.LinkTarget {
	switch width {
	case 8:
		return ir.LinkExclusiveWriteMemory8
	case 16:
		return ir.LinkExclusiveWriteMemory16
	case 32:
		return ir.LinkExclusiveWriteMemory32
	case 64:
		return ir.LinkExclusiveWriteMemory64
	default:
		return ir.LinkExclusiveWriteMemory128
	}
}
