package cpu

import (
	"testing"

	"armbt/callbacks"
	"armbt/config"
	emitterarm64 "armbt/emitter/arm64"
	"armbt/exclusive"
	"armbt/frontend"
	"armbt/haltreason"
	"armbt/internal/dbtlog"
	"armbt/location"
)

// codeHost is a callbacks.Host backed by plain maps, enough to drive the
// reference decoder and interpreter through the façade without a real
// guest address space.
type codeHost struct {
	code map[uint64]uint32
	mem  map[uint64]uint32

	excCount    int
	lastExcKind callbacks.ExceptionKind
}

func newCodeHost() *codeHost {
	return &codeHost{code: map[uint64]uint32{}, mem: map[uint64]uint32{}}
}

func (h *codeHost) MemoryRead8(vaddr uint64) uint8       { return uint8(h.mem[vaddr]) }
func (h *codeHost) MemoryRead16(vaddr uint64) uint16     { return uint16(h.mem[vaddr]) }
func (h *codeHost) MemoryRead32(vaddr uint64) uint32     { return h.mem[vaddr] }
func (h *codeHost) MemoryRead64(vaddr uint64) uint64     { return uint64(h.mem[vaddr]) }
func (h *codeHost) MemoryRead128(vaddr uint64) [2]uint64 { return [2]uint64{uint64(h.mem[vaddr]), 0} }
func (h *codeHost) MemoryWrite8(vaddr uint64, v uint8)   { h.mem[vaddr] = uint32(v) }
func (h *codeHost) MemoryWrite16(vaddr uint64, v uint16) { h.mem[vaddr] = uint32(v) }
func (h *codeHost) MemoryWrite32(vaddr uint64, v uint32) { h.mem[vaddr] = v }
func (h *codeHost) MemoryWrite64(vaddr uint64, v uint64) { h.mem[vaddr] = uint32(v) }
func (h *codeHost) MemoryWrite128(vaddr uint64, v [2]uint64) {
	h.mem[vaddr] = uint32(v[0])
}
func (h *codeHost) MemoryWriteExclusive8(vaddr uint64, value, expected uint8) bool {
	return h.cas(vaddr, uint32(expected), uint32(value))
}
func (h *codeHost) MemoryWriteExclusive16(vaddr uint64, value, expected uint16) bool {
	return h.cas(vaddr, uint32(expected), uint32(value))
}
func (h *codeHost) MemoryWriteExclusive32(vaddr uint64, value, expected uint32) bool {
	return h.cas(vaddr, expected, value)
}
func (h *codeHost) MemoryWriteExclusive64(vaddr uint64, value, expected uint64) bool {
	return h.cas(vaddr, uint32(expected), uint32(value))
}
func (h *codeHost) MemoryWriteExclusive128(vaddr uint64, value, expected [2]uint64) bool {
	return h.cas(vaddr, uint32(expected[0]), uint32(value[0]))
}
func (h *codeHost) cas(vaddr uint64, expected, value uint32) bool {
	if h.mem[vaddr] != expected {
		return false
	}
	h.mem[vaddr] = value
	return true
}
func (h *codeHost) MemoryReadCode(vaddr uint64) (uint32, bool) {
	w, ok := h.code[vaddr]
	return w, ok
}
func (h *codeHost) IsReadOnlyMemory(vaddr uint64) bool                      { return false }
func (h *codeHost) CallSVC(n uint32) {}
func (h *codeHost) ExceptionRaised(pc uint64, kind callbacks.ExceptionKind) {
	h.excCount++
	h.lastExcKind = kind
}
func (h *codeHost) InstructionSynchronizationBarrierRaised()               {}
func (h *codeHost) InstructionCacheOperationRaised(vaddr uint64)           {}
func (h *codeHost) DataCacheOperationRaised(vaddr uint64)                  {}
func (h *codeHost) AddTicks(n uint64)                                      {}
func (h *codeHost) GetTicksRemaining() uint64                              { return 0 }
func (h *codeHost) GetCNTPCT() uint64                                      { return 0 }

func newTestFacade(t *testing.T) (*Facade[location.PC32], *codeHost) {
	t.Helper()
	host := newCodeHost()
	cfg := config.Default()
	cfg.CodeCacheSize = 64 * 1024
	f, err := New[location.PC32](cfg, host, frontend.NewReference32(), emitterarm64.New[location.PC32](), dbtlog.New(dbtlog.LevelNone), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f, host
}

// TestStepExecutesOneBlockAndStops exercises spec.md §8 scenario S1: a
// self-looping block (MOV r0,#1 then an unconditional branch back to its
// own start) run under Step() executes exactly the one block and returns
// the Step halt reason, leaving PC at the loop's entry for the next call.
func TestStepExecutesOneBlockAndStops(t *testing.T) {
	f, host := newTestFacade(t)

	const start = 0x1000
	host.code[start] = 0xE3A00001   // MOV r0, #1
	host.code[start+4] = 0xEAFFFFFD // B start

	f.SetPC(start)

	hr, err := f.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !hr.Has(haltreason.Step) {
		t.Fatalf("halt reason = %v, want Step set", hr)
	}
	if f.GPR(0) != 1 {
		t.Fatalf("GPR[0] = %d, want 1", f.GPR(0))
	}
	if f.PC() != start {
		t.Fatalf("PC = %#x, want loop restart at %#x", f.PC(), uint32(start))
	}
}

// TestHaltExecutionBeforeRunStopsRun exercises spec.md §8 scenario S2's
// cooperative-cancellation shape: a HaltExecution call made before Run()
// on a self-loop is observed at the first block boundary, and Run returns
// with the user-defined bit set, without needing ClearCache.
func TestHaltExecutionBeforeRunStopsRun(t *testing.T) {
	f, host := newTestFacade(t)

	const start = 0x2000
	host.code[start] = 0xE3A00001   // MOV r0, #1
	host.code[start+4] = 0xEAFFFFFD // B start
	f.SetPC(start)

	f.HaltExecution(haltreason.UserDefined1)

	hr, err := f.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !hr.Has(haltreason.UserDefined1) {
		t.Fatalf("halt reason = %v, want UserDefined1 set", hr)
	}
}

// TestRunRecursionIsRejected exercises spec.md §5's is_executing guard.
func TestRunRecursionIsRejected(t *testing.T) {
	f, host := newTestFacade(t)
	const start = 0x3000
	host.code[start] = 0xE3A00001
	host.code[start+4] = 0xEAFFFFFD
	f.SetPC(start)

	f.isExecuting.Store(true)
	defer f.isExecuting.Store(false)

	if _, err := f.Run(); err == nil {
		t.Fatalf("expected recursive Run to be rejected")
	}
}

// TestClearCacheDropsTranslatedBlocks exercises spec.md §6's ClearCache
// entry point end to end: after a clear, the same PC must be retranslated
// from the (possibly now-different) guest memory rather than served from
// a stale cached entry point.
func TestClearCacheDropsTranslatedBlocks(t *testing.T) {
	f, host := newTestFacade(t)

	const start = 0x4000
	host.code[start] = 0xE3A00001   // MOV r0, #1
	host.code[start+4] = 0xEAFFFFFD // B start
	f.SetPC(start)

	if _, err := f.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if f.GPR(0) != 1 {
		t.Fatalf("GPR[0] = %d, want 1 after first step", f.GPR(0))
	}

	f.ClearCache()

	host.code[start] = 0xE3A00002 // MOV r0, #2
	f.SetGPR(0, 0)

	if _, err := f.Step(); err != nil {
		t.Fatalf("Step after ClearCache: %v", err)
	}
	if f.GPR(0) != 2 {
		t.Fatalf("GPR[0] = %d, want 2 after re-translation", f.GPR(0))
	}
}

// TestNoExecuteFaultHaltsExactlyOnce exercises spec.md §8 scenario S4: a
// guest fetch into unmapped code raises NoExecuteFault exactly once and
// Run returns instead of re-decoding the same faulting PC forever.
func TestNoExecuteFaultHaltsExactlyOnce(t *testing.T) {
	f, host := newTestFacade(t)

	const start = 0x5000
	f.SetPC(start) // host.code has no entry at start: MemoryReadCode misses

	hr, err := f.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !hr.Has(haltreason.MemoryAbort) {
		t.Fatalf("halt reason = %v, want MemoryAbort set", hr)
	}
	if host.excCount != 1 {
		t.Fatalf("ExceptionRaised called %d times, want exactly 1", host.excCount)
	}
	if host.lastExcKind != callbacks.NoExecuteFault {
		t.Fatalf("exception kind = %v, want NoExecuteFault", host.lastExcKind)
	}
}

// TestUndecodableInstructionAdvancesPastIt exercises spec.md §7: an
// Interpret terminal reports UndefinedInstruction to the host and then
// resumes from the following instruction rather than re-decoding the same
// undecodable word forever.
func TestUndecodableInstructionAdvancesPastIt(t *testing.T) {
	f, host := newTestFacade(t)

	const start = 0x6000
	host.code[start] = 0xffffffff  // outside the reference decoder's subset
	host.code[start+4] = 0xE3A00007 // MOV r0, #7

	f.SetPC(start)

	if _, err := f.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if f.PC() != start+4 {
		t.Fatalf("PC = %#x, want %#x (past the undecodable word)", f.PC(), uint32(start+4))
	}

	if _, err := f.Step(); err != nil {
		t.Fatalf("second Step: %v", err)
	}
	if f.GPR(0) != 7 {
		t.Fatalf("GPR[0] = %d, want 7", f.GPR(0))
	}
}

// TestExclusiveMonitorSharedAcrossFacades exercises spec.md §8 scenario S3
// through the full façade/executor stack rather than exclusive.Monitor
// directly: two façades sharing one Monitor interleave LDREX/STREX on the
// same reservation granule (both LDREX, then both STREX), and exactly the
// first STREX to run succeeds. LDREX and STREX sit in separate blocks so
// each Step runs only one of them.
func TestExclusiveMonitorSharedAcrossFacades(t *testing.T) {
	monitor := exclusive.New(2)

	const start = 0x7000
	const addr = 0x9000
	host := newCodeHost()
	host.code[start] = 0x01921f9f    // LDREX r1, [r2]
	host.code[start+4] = 0xEAFFFFFF  // B start+8
	host.code[start+8] = 0x01820f93  // STREX r0, r3, [r2]
	host.code[start+12] = 0xEAFFFFFB // B start
	host.mem[addr] = 7

	newFacade := func(processorID uint32) *Facade[location.PC32] {
		cfg := config.Default()
		cfg.CodeCacheSize = 64 * 1024
		cfg.ProcessorID = processorID
		f, err := New[location.PC32](cfg, host, frontend.NewReference32(), emitterarm64.New[location.PC32](), dbtlog.New(dbtlog.LevelNone), monitor)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { f.Close() })
		f.SetPC(start)
		f.SetGPR(2, addr)
		return f
	}

	f0 := newFacade(0)
	f0.SetGPR(3, 100)
	f1 := newFacade(1)
	f1.SetGPR(3, 200)

	// First step of each façade: LDREX. Second step: STREX.
	for step := 0; step < 2; step++ {
		if _, err := f0.Step(); err != nil {
			t.Fatalf("f0 Step %d: %v", step, err)
		}
		if _, err := f1.Step(); err != nil {
			t.Fatalf("f1 Step %d: %v", step, err)
		}
	}

	if f0.GPR(0) != 0 {
		t.Fatalf("processor 0's STREX status = %d, want 0 (success)", f0.GPR(0))
	}
	if f1.GPR(0) != 1 {
		t.Fatalf("processor 1's STREX status = %d, want 1 (failure, reservation cleared by processor 0's store)", f1.GPR(0))
	}
	if host.mem[addr] != 100 {
		t.Fatalf("mem[addr] = %d, want 100 (only processor 0's store applies)", host.mem[addr])
	}
}
