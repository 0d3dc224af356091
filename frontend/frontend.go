// Package frontend defines the IR-frontend collaborator boundary (spec.md
// §1 "OUT OF SCOPE... the ARM instruction decoders", §4.F step 3, §6). The
// translation-cache core only needs something that turns a
// location.Descriptor into an ir.Block; a full AArch32/AArch64 decoder is
// explicitly out of scope, so this package additionally ships Reference32,
// a minimal decoder sufficient to produce correct IR for a narrow
// instruction subset (the kind spec.md §8's scenarios exercise), clearly
// not a general ARM decoder.
package frontend

import (
	"armbt/callbacks"
	"armbt/ir"
	"armbt/location"
)

// Decoder turns one guest location into an IR block. A real implementation
// decodes host-architecture-independent ARM semantics; Decode may also
// consult host for code-fetch faults (spec.md §6 "MemoryReadCode"), which
// is how a NoExecuteFault (spec.md §7, scenario S4) is raised without ever
// reaching the optimizer or emitter.
type Decoder[T location.PC] interface {
	Decode(ld location.Descriptor[T], host callbacks.Host) (*ir.Block[T], error)
}
