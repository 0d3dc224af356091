//go:build arm64

package arena

import "unsafe"

// invalidateICache runs the AArch64 cache-maintenance sequence required
// after writing code the host will fetch for execution: clean each D-cache
// line to the point of unification, then invalidate the corresponding
// I-cache lines, followed by an ISB (spec.md §4.A, §9 "Architectures
// without coherent I- and D-caches require explicit I-cache invalidation
// after every patch").
func invalidateICache(addr uintptr, n int) {
	if n <= 0 {
		return
	}
	const lineSize = 64
	start := addr &^ (lineSize - 1)
	end := addr + uintptr(n)
	for p := start; p < end; p += lineSize {
		dcCVAU(p)
	}
	dsb()
	for p := start; p < end; p += lineSize {
		icIVAU(p)
	}
	dsb()
	isb()
	_ = unsafe.Pointer(nil)
}

func dcCVAU(p uintptr) { armCacheOp(p, 0) }
func icIVAU(p uintptr) { armCacheOp(p, 1) }
func dsb()              { armBarrier(0) }
func isb()              { armBarrier(1) }

// armCacheOp and armBarrier are implemented in icache_arm64.s; the op
// parameter selects DC CVAU (0) vs IC IVAU (1), and the barrier parameter
// selects DSB ISH (0) vs ISB (1).
func armCacheOp(addr uintptr, op int)
func armBarrier(kind int)
