// Package emitter defines the host-code-emitter contract (spec.md §6). The
// concrete host ISA backend (x64/AArch64/RISC-V) is explicitly out of
// scope for the translation-cache core (spec.md §1); the core only ever
// calls through this interface. Package emitter/arm64 provides one
// concrete, minimal instantiation used by the default façade and by
// tests.
package emitter

import (
	"armbt/ir"
	"armbt/location"
)

// Cursor is the write end of the executable memory arena (component A)
// exposed to the emitter: a bump allocator that hands out a contiguous
// byte range at a known host address.
type Cursor interface {
	// Reserve grows the cursor by n bytes and returns the host address of
	// the first byte and a slice over the reserved (writable) region.
	Reserve(n int) (addr uintptr, buf []byte, err error)
}

// Config mirrors the subset of config.Config (spec.md §6 "Configuration")
// that affects code generation; kept separate from package config to avoid
// an import cycle (translator depends on both emitter and config).
type Config struct {
	EnableFastmem             bool
	FastmemPointer            uintptr
	FastmemAddressSpaceBits   uint
	RecompileOnFastmemFailure bool
	EnablePageTable           bool
	PageTableAddress          uintptr
	CheckHaltOnMemoryAccess   bool
	EnableCycleCounting       bool
	HookISB                   bool
	HookHintInstructions      bool
	BlockLinking              bool
	ReturnStackBuffer         bool
	FastDispatch              bool
	DoNotFastmem              func(marker ir.DoNotFastmemMarker) bool
}

// Emitter lowers one optimized IR block to host machine code, writing it
// through cursor and returning the metadata the core needs to index,
// link, and fault-recover the block (spec.md §3 EmittedBlockInfo, §6
// "emit(ArenaCursor, IRBlock, EmitConfig) -> EmittedBlockInfo").
type Emitter[T location.PC] interface {
	Emit(cursor Cursor, block *ir.Block[T], cfg Config) (ir.EmittedBlockInfo[T], error)
}
