// Package ir defines the intermediate representation vocabulary shared
// between the frontend decoder, the optimizer pipeline, and the host
// emitter (spec.md §6 "External Interfaces"). The decoder and optimizer
// themselves are external collaborators (spec.md §1 scope); this package
// only fixes the shapes they must produce and consume so the translation
// cache core (§4.F/§4.G) can orchestrate them without knowing their
// internals.
package ir

import "armbt/location"

// Op is one micro-operation inside a Block. The core never interprets Op
// beyond handing it to the emitter; Kind/Operands are intentionally loose
// so a real frontend/optimizer pair can extend the vocabulary without
// touching the translation cache.
type Op struct {
	Kind     OpKind
	Rd, Rn, Rm int32 // register operands; -1 marks an unused one, though Reference32 and constant propagation leave unused operands at 0
	Imm      int64
	Width    uint8 // 8,16,32,64,128 for memory ops
}

type OpKind uint8

const (
	OpInvalid OpKind = iota
	OpMovImm
	OpAddImm
	OpAddReg
	OpSubImm
	OpSubReg
	OpAndReg
	OpOrrReg
	OpEorReg
	OpCmpReg
	OpMemRead
	OpMemWrite
	OpExclusiveMemRead
	OpExclusiveMemWrite
)

// TerminalKind enumerates how a Block ends (spec.md §6: "must set either a
// successor LD or one of ReturnToDispatch/LinkBlock/LinkBlockFast/
// PopRSBHint/FastDispatchHint/If/CheckBit/CheckHalt/Interpret as terminal").
type TerminalKind uint8

const (
	ReturnToDispatch TerminalKind = iota
	LinkBlock                     // unconditional branch to a resident-or-not sibling (Branch relocation)
	LinkBlockFast                  // like LinkBlock but prefers the fast-dispatch table
	PopRSBHint                      // likely-return site: consult the Return Stack Buffer
	FastDispatchHint
	If // conditional: Successor taken, Alternate not taken
	CheckBit
	CheckHalt
	Interpret // fall back to an external interpreter for this one instruction
	Fault     // frontend already reported a guest exception via Host.ExceptionRaised; caller halts without re-notifying
)

// Terminal describes a Block's exit.
type Terminal[T location.PC] struct {
	Kind       TerminalKind
	Successor  *location.Descriptor[T]
	Alternate  *location.Descriptor[T] // only meaningful for If
}

// Block is one single-entry translation unit (spec.md GLOSSARY "Block").
type Block[T location.PC] struct {
	Location location.Descriptor[T]
	StartPC  T
	EndPC    T // exclusive
	Ops      []Op
	Terminal Terminal[T]
}

// LinkTarget enumerates prelude slots a relocation may point at
// (spec.md §3 EmittedBlockInfo.relocations).
type LinkTarget uint8

const (
	LinkReturnToDispatcher LinkTarget = iota
	LinkReturnFromRunCode
	LinkReadMemory8
	LinkReadMemory16
	LinkReadMemory32
	LinkReadMemory64
	LinkReadMemory128
	LinkWrappedReadMemory8
	LinkWrappedReadMemory16
	LinkWrappedReadMemory32
	LinkWrappedReadMemory64
	LinkWrappedReadMemory128
	LinkExclusiveReadMemory8
	LinkExclusiveReadMemory16
	LinkExclusiveReadMemory32
	LinkExclusiveReadMemory64
	LinkExclusiveReadMemory128
	LinkWriteMemory8
	LinkWriteMemory16
	LinkWriteMemory32
	LinkWriteMemory64
	LinkWriteMemory128
	LinkWrappedWriteMemory8
	LinkWrappedWriteMemory16
	LinkWrappedWriteMemory32
	LinkWrappedWriteMemory64
	LinkWrappedWriteMemory128
	LinkExclusiveWriteMemory8
	LinkExclusiveWriteMemory16
	LinkExclusiveWriteMemory32
	LinkExclusiveWriteMemory64
	LinkExclusiveWriteMemory128
	LinkCallSVC
	LinkExceptionRaised
	LinkInstructionCacheRaised
	LinkDataCacheRaised
	LinkISBRaised
	LinkGetCNTPCT
	LinkAddTicks
	LinkGetTicksRemaining
)

// BlockRelocationKind is the patch strategy for an inter-block reference
// (spec.md §3, §4.G).
type BlockRelocationKind uint8

const (
	RelocBranch BlockRelocationKind = iota
	RelocMoveToScratch1
)

// Relocation is one (offset, target) patch site resolved against a prelude
// slot.
type Relocation struct {
	Offset int
	Target LinkTarget
}

// BlockRelocation is one (offset, kind) patch site resolved against a
// sibling block's entry point, keyed by the sibling's LocationDescriptor
// in EmittedBlockInfo.BlockRelocations.
type BlockRelocation struct {
	Offset int
	Kind   BlockRelocationKind
}

// FastmemPatchInfo describes one inline memory-access patch site
// (spec.md §3, §4.H).
type FastmemPatchInfo struct {
	Marker     DoNotFastmemMarker
	FakeCall   FakeCall
	Recompile  bool
}

// DoNotFastmemMarker identifies a single memory-op site within a block for
// the "do-not-fastmem" suppression set (spec.md §4.H step 4).
type DoNotFastmemMarker struct {
	LocationHash uint64
	SiteIndex    int
}

// FakeCall is the architecture-specific record of where host execution
// should resume after a fastmem fault redirect (spec.md §4.B, §4.H).
// On amd64 the handler pushes ReturnPC and rewrites RIP to CallPC; on
// arm64 it rewrites PC directly to CallPC and there is no push.
type FakeCall struct {
	CallPC   uintptr
	ReturnPC uintptr
}

// EmittedBlockInfo is produced by the emitter for each block (spec.md §3).
type EmittedBlockInfo[T location.PC] struct {
	EntryPoint        uintptr
	Size              uintptr
	Relocations       []Relocation
	BlockRelocations  map[location.Descriptor[T]][]BlockRelocation
	FastmemPatchInfo  map[int]FastmemPatchInfo // keyed by offset_within_block

	// DecodedBlock is not part of the emitter's own contract: the
	// translator stashes the optimized IR it fed the emitter here so a
	// reference-interpreter caller can retrieve it through the same
	// index lookup fastmem.Manager.Resolve already uses, instead of
	// decoding ld a second time on every cache hit.
	DecodedBlock *Block[T]
}
