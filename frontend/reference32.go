package frontend

import (
	"armbt/callbacks"
	"armbt/ir"
	"armbt/location"
)

// Reference32 is a minimal AArch32 (A32, little-endian, unconditional-only)
// decoder covering just enough of the encoding space to produce correct IR
// for the scenarios spec.md §8 describes: MOV (immediate), unconditional B,
// LDR/STR (immediate offset), and LDREX/STREX. It is not a general ARM
// decoder — there is no condition-code evaluation, no Thumb support, and
// most of the ISA is simply left undecoded, surfacing as an Interpret
// terminal (spec.md §7) rather than a panic.
type Reference32 struct{}

func NewReference32() *Reference32 { return &Reference32{} }

const maxBlockInstructions = 64

func (d *Reference32) Decode(ld location.Descriptor[location.PC32], host callbacks.Host) (*ir.Block[location.PC32], error) {
	block := &ir.Block[location.PC32]{
		Location: ld,
		StartPC:  ld.PC,
	}

	pc := ld.PC
	for i := 0; i < maxBlockInstructions; i++ {
		word, ok := host.MemoryReadCode(uint64(pc))
		if !ok {
			host.ExceptionRaised(uint64(pc), callbacks.NoExecuteFault)
			block.EndPC = pc
			block.Terminal = ir.Terminal[location.PC32]{Kind: ir.Fault}
			return block, nil
		}

		op, terminal, consumed := decodeWord32(word, pc)
		if terminal != nil {
			block.EndPC = pc + 4
			block.Terminal = *terminal
			return block, nil
		}
		if op == nil {
			// Undecodable instruction: hand off to an external interpreter
			// for just this one instruction rather than failing the block.
			block.EndPC = pc + 4
			block.Terminal = ir.Terminal[location.PC32]{Kind: ir.Interpret}
			return block, nil
		}
		block.Ops = append(block.Ops, *op)
		pc += location.PC32(consumed)
	}
	block.EndPC = pc
	block.Terminal = ir.Terminal[location.PC32]{Kind: ir.ReturnToDispatch}
	return block, nil
}

// decodeWord32 decodes a single little-endian-fetched A32 word. Returns
// either an Op (fall through to the next instruction), a non-nil terminal
// (block ends here), or (nil, nil, _) for anything outside the reference
// subset.
func decodeWord32(word uint32, pc location.PC32) (*ir.Op, *ir.Terminal[location.PC32], int) {
	switch {
	case word&0x0fe00000 == 0x03a00000: // MOV (immediate), any Rd
		rd := int32((word >> 12) & 0xf)
		imm := int64(word & 0xfff)
		return &ir.Op{Kind: ir.OpMovImm, Rd: rd, Imm: imm}, nil, 4

	case word&0x0f000000 == 0x0a000000: // B (unconditional, L=0)
		imm24 := word & 0x00ffffff
		offset := int32(imm24<<8) >> 6 // sign-extend 24-bit, then *4
		target := location.PC32(int64(pc) + 8 + int64(offset))
		succ := location.New(target, location.Mode{})
		return nil, &ir.Terminal[location.PC32]{Kind: ir.LinkBlock, Successor: &succ}, 4

	case word&0x0ff00fff == 0x01900f9f: // LDREX Rd, [Rn]
		rn := int32((word >> 16) & 0xf)
		rd := int32((word >> 12) & 0xf)
		return &ir.Op{Kind: ir.OpExclusiveMemRead, Rd: rd, Rn: rn, Width: 32}, nil, 4

	case word&0x0ff00ff0 == 0x01800f90: // STREX Rd, Rm, [Rn]
		rn := int32((word >> 16) & 0xf)
		rd := int32((word >> 12) & 0xf)
		rm := int32(word & 0xf)
		return &ir.Op{Kind: ir.OpExclusiveMemWrite, Rd: rd, Rn: rn, Rm: rm, Width: 32}, nil, 4

	case word&0x0e500000 == 0x04100000: // LDR Rd, [Rn, #imm] (P=1,W=0 immediate offset form folded in)
		rn := int32((word >> 16) & 0xf)
		rd := int32((word >> 12) & 0xf)
		return &ir.Op{Kind: ir.OpMemRead, Rd: rd, Rn: rn, Width: 32}, nil, 4

	case word&0x0e500000 == 0x04000000: // STR Rd, [Rn, #imm]
		rn := int32((word >> 16) & 0xf)
		rd := int32((word >> 12) & 0xf)
		return &ir.Op{Kind: ir.OpMemWrite, Rd: rn, Rn: rn, Rm: rd, Width: 32}, nil, 4

	case word&0x0fe00000 == 0x02800000: // ADD Rd, Rn, #imm
		rn := int32((word >> 16) & 0xf)
		rd := int32((word >> 12) & 0xf)
		imm := int64(word & 0xfff)
		return &ir.Op{Kind: ir.OpAddImm, Rd: rd, Rn: rn, Imm: imm}, nil, 4

	default:
		return nil, nil, 4
	}
}
