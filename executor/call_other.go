//go:build !arm64

package executor

// CallBlock is unavailable off arm64: there is no host instruction set to
// jump into. Callers must fall back to Interpret instead.
func CallBlock(entry uintptr, stateArg uintptr) uint64 {
	panic("executor: CallBlock requires an arm64 host; use Interpret instead")
}

// NativeExecutionAvailable reports whether CallBlock can actually jump
// into arena bytes on this host.
const NativeExecutionAvailable = false
