package exclusive

import (
	"sync"
	"testing"
)

// TestExclusiveRoundTrip mirrors spec.md §8 S3: two processors race
// LDREX/STREX on the same address; exactly one STREX succeeds.
func TestExclusiveRoundTrip(t *testing.T) {
	m := New(2)
	const addr = 0x1000

	m.MarkExclusive(0, addr, [16]byte{})
	m.MarkExclusive(1, addr, [16]byte{})

	var wg sync.WaitGroup
	results := make([]bool, 2)
	wg.Add(2)
	go func() { defer wg.Done(); results[0] = m.CheckAndClear(0, addr) }()
	go func() { defer wg.Done(); results[1] = m.CheckAndClear(1, addr) }()
	wg.Wait()

	if results[0] == results[1] {
		t.Fatalf("expected exactly one STREX to succeed, got %v and %v", results[0], results[1])
	}
}

func TestCheckAndClearFailsWithoutReservation(t *testing.T) {
	m := New(1)
	if m.CheckAndClear(0, 0x2000) {
		t.Fatalf("expected failure with no prior MarkExclusive")
	}
}

func TestDifferentGranulesIndependent(t *testing.T) {
	m := New(2)
	m.MarkExclusive(0, 0x1000, [16]byte{})
	m.MarkExclusive(1, 0x2000, [16]byte{})

	if !m.CheckAndClear(0, 0x1000) {
		t.Fatalf("expected processor 0's reservation to succeed")
	}
	if !m.CheckAndClear(1, 0x2000) {
		t.Fatalf("expected processor 1's independent-granule reservation to still succeed")
	}
}
