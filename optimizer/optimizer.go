// Package optimizer defines the IR optimizer pipeline boundary (spec.md
// §1 "the intermediate-representation (IR) optimizer pipeline" is out of
// scope; §4.F step 4 names its passes: "polyfill, naming, get/set
// elimination, constant propagation, dead-code elimination,
// verification"). Grounded on the teacher's aot/optimizations.go, which
// structures its AOT pipeline the same way: a slice of named, independently
// toggleable passes applied in sequence.
package optimizer

import (
	"fmt"

	"armbt/config"
	"armbt/ir"
	"armbt/location"
)

// Pass is one optimizer stage. Name identifies it in diagnostics;
// IsEnabled consults the façade's Optimizations bitfield so a pass can be
// turned off without removing it from the pipeline.
type Pass[T location.PC] interface {
	Name() string
	IsEnabled(opts config.Optimizations) bool
	Apply(block *ir.Block[T]) (*ir.Block[T], error)
}

// Pipeline runs an ordered list of passes over a block (spec.md §4.F step
// 4). A pass returning an error fails the whole emit per spec.md §4.F
// ("An emitter assertion is fatal") — optimizer failures are treated the
// same way since by the time a pass runs, decode already succeeded.
type Pipeline[T location.PC] struct {
	passes []Pass[T]
}

// Default returns the pipeline named in spec.md §4.F step 4, in order.
func Default[T location.PC]() *Pipeline[T] {
	return &Pipeline[T]{passes: []Pass[T]{
		polyfillPass[T]{},
		namingPass[T]{},
		getSetEliminationPass[T]{},
		constantPropagationPass[T]{},
		deadCodeEliminationPass[T]{},
		verificationPass[T]{},
	}}
}

func (p *Pipeline[T]) Run(block *ir.Block[T], opts config.Optimizations) (*ir.Block[T], error) {
	for _, pass := range p.passes {
		if !pass.IsEnabled(opts) {
			continue
		}
		next, err := pass.Apply(block)
		if err != nil {
			return nil, fmt.Errorf("optimizer: pass %s: %w", pass.Name(), err)
		}
		block = next
	}
	return block, nil
}

// polyfillPass lowers any Op the target host cannot express directly into
// an equivalent sequence. The reference emitter already covers every Op
// the reference decoder produces, so this pass is a structural no-op here,
// kept in the pipeline as the seam a real host emitter's polyfills would
// hook into.
type polyfillPass[T location.PC] struct{}

func (polyfillPass[T]) Name() string                                  { return "Polyfill" }
func (polyfillPass[T]) IsEnabled(config.Optimizations) bool            { return true }
func (polyfillPass[T]) Apply(b *ir.Block[T]) (*ir.Block[T], error)     { return b, nil }

// namingPass assigns no new identifiers (the reference IR already uses
// fixed register slots rather than an SSA value graph) but is kept as the
// seam a value-naming pass would occupy between polyfill and optimization
// passes.
type namingPass[T location.PC] struct{}

func (namingPass[T]) Name() string                              { return "Naming" }
func (namingPass[T]) IsEnabled(config.Optimizations) bool        { return true }
func (namingPass[T]) Apply(b *ir.Block[T]) (*ir.Block[T], error) { return b, nil }

// getSetEliminationPass drops a GPR write that is immediately overwritten
// by the next Op targeting the same register before any intervening read,
// per config.OptGetSetElimination.
type getSetEliminationPass[T location.PC] struct{}

func (getSetEliminationPass[T]) Name() string { return "GetSetElimination" }
func (getSetEliminationPass[T]) IsEnabled(opts config.Optimizations) bool {
	return opts&config.OptGetSetElimination != 0
}
func (getSetEliminationPass[T]) Apply(b *ir.Block[T]) (*ir.Block[T], error) {
	kept := make([]ir.Op, 0, len(b.Ops))
	for i, op := range b.Ops {
		if i+1 < len(b.Ops) && opWritesOnly(op) && b.Ops[i+1].Rd == op.Rd && !opReads(b.Ops[i+1], op.Rd) {
			continue
		}
		kept = append(kept, op)
	}
	b.Ops = kept
	return b, nil
}

func opWritesOnly(op ir.Op) bool {
	return op.Kind == ir.OpMovImm
}

func opReads(op ir.Op, reg int32) bool {
	return op.Rn == reg || op.Rm == reg
}

// constantPropagationPass folds an OpAddImm/OpSubImm whose source register
// was just loaded by an immediately preceding OpMovImm into a single
// OpMovImm, per config.OptConstProp.
type constantPropagationPass[T location.PC] struct{}

func (constantPropagationPass[T]) Name() string { return "ConstantPropagation" }
func (constantPropagationPass[T]) IsEnabled(opts config.Optimizations) bool {
	return opts&config.OptConstProp != 0
}
func (constantPropagationPass[T]) Apply(b *ir.Block[T]) (*ir.Block[T], error) {
	for i := 0; i+1 < len(b.Ops); i++ {
		mov := b.Ops[i]
		next := b.Ops[i+1]
		if mov.Kind != ir.OpMovImm || next.Rn != mov.Rd {
			continue
		}
		switch next.Kind {
		case ir.OpAddImm:
			b.Ops[i+1] = ir.Op{Kind: ir.OpMovImm, Rd: next.Rd, Imm: mov.Imm + next.Imm}
		case ir.OpSubImm:
			b.Ops[i+1] = ir.Op{Kind: ir.OpMovImm, Rd: next.Rd, Imm: mov.Imm - next.Imm}
		}
	}
	return b, nil
}

// deadCodeEliminationPass drops any Op without side effects whose
// destination register is overwritten by a later Op before any read.
// Every guest register is live at block exit, so a final write is always
// kept. Enabled by config.OptMiscIROpt (grouped under the same bit as
// other miscellaneous IR cleanups).
type deadCodeEliminationPass[T location.PC] struct{}

func (deadCodeEliminationPass[T]) Name() string { return "DeadCodeElimination" }
func (deadCodeEliminationPass[T]) IsEnabled(opts config.Optimizations) bool {
	return opts&config.OptMiscIROpt != 0
}
func (deadCodeEliminationPass[T]) Apply(b *ir.Block[T]) (*ir.Block[T], error) {
	live := make(map[int32]bool)
	for r := int32(0); r < 31; r++ {
		live[r] = true
	}
	keep := make([]bool, len(b.Ops))
	for i := len(b.Ops) - 1; i >= 0; i-- {
		op := b.Ops[i]
		hasSideEffect := op.Kind == ir.OpMemWrite || op.Kind == ir.OpExclusiveMemWrite || op.Kind == ir.OpCmpReg ||
			op.Kind == ir.OpMemRead || op.Kind == ir.OpExclusiveMemRead
		if hasSideEffect || live[op.Rd] {
			keep[i] = true
			if op.Kind != ir.OpMemWrite && op.Kind != ir.OpCmpReg {
				live[op.Rd] = false
			}
			if op.Rn >= 0 {
				live[op.Rn] = true
			}
			if op.Rm >= 0 {
				live[op.Rm] = true
			}
		}
	}
	kept := make([]ir.Op, 0, len(b.Ops))
	for i, op := range b.Ops {
		if keep[i] {
			kept = append(kept, op)
		}
	}
	b.Ops = kept
	return b, nil
}

// verificationPass rejects a block whose terminal was left zero-valued,
// catching a frontend that forgot to set one (spec.md §6: "must set either
// a successor LD or one of... as terminal").
type verificationPass[T location.PC] struct{}

func (verificationPass[T]) Name() string                           { return "Verification" }
func (verificationPass[T]) IsEnabled(config.Optimizations) bool     { return true }
func (verificationPass[T]) Apply(b *ir.Block[T]) (*ir.Block[T], error) {
	needsSuccessor := b.Terminal.Kind == ir.LinkBlock || b.Terminal.Kind == ir.LinkBlockFast ||
		b.Terminal.Kind == ir.FastDispatchHint || b.Terminal.Kind == ir.PopRSBHint
	if needsSuccessor && b.Terminal.Successor == nil {
		return nil, fmt.Errorf("terminal %v missing successor", b.Terminal.Kind)
	}
	if b.Terminal.Kind == ir.If && (b.Terminal.Successor == nil || b.Terminal.Alternate == nil) {
		return nil, fmt.Errorf("If terminal missing successor or alternate")
	}
	return b, nil
}
