//go:build !arm64

package arena

// invalidateICache is a no-op on hosts without a split I/D cache that
// requires explicit maintenance, e.g. x86 (spec.md §4.A:
// "a no-op on x86").
func invalidateICache(addr uintptr, n int) {}
