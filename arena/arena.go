// Package arena implements the Executable Memory Arena (spec.md §4.A): a
// contiguous, page-aligned, bump-allocated region of host memory that
// holds JITted code. Grounded on the teacher's jit/cache.go
// makeExecutable/freeExecutable, reworked from per-block mmap calls into
// one arena-lifetime mapping with a bump cursor, and from the raw
// syscall package onto golang.org/x/sys/unix (matching the corpus's own
// use of x/sys/unix for OS-level memory/signal integration, e.g.
// xyproto-vibe67/filewatcher_unix.go).
package arena

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultSize is the default code_cache_size (spec.md §6), capped at
// 128 MiB on an AArch64 host.
const DefaultSize = 128 * 1024 * 1024

const pageSize = 4096

// SafetyMargin is the minimum remaining space required before a new block
// may be emitted (spec.md §4.F step 1); falling below it triggers a full
// cache clear.
const SafetyMargin = 1 * 1024 * 1024

// Arena owns one RWX-capable (or RW+X-toggle) mapping and a monotonically
// increasing bump cursor.
type Arena struct {
	mu           sync.Mutex
	mem          []byte
	cursor       int
	endOfPrelude int
	capacity     int
	// rwx is true when the mapping was obtained with simultaneous
	// read/write/execute permission; false means unprotect()/protect()
	// must bracket every write (W^X host).
	rwx bool
}

// New allocates a code_cache_size-byte anonymous mapping. It first tries
// RWX; if the host enforces W^X (mmap with PROT_EXEC|PROT_WRITE rejected),
// it falls back to a RW mapping toggled to RX around each emission.
func New(size int) (*Arena, error) {
	if size <= 0 {
		size = DefaultSize
	}
	size = ((size + pageSize - 1) / pageSize) * pageSize

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
	rwx := true
	if err != nil {
		mem, err = unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
		if err != nil {
			return nil, fmt.Errorf("arena: mmap %d bytes: %w", size, err)
		}
		rwx = false
	}

	return &Arena{
		mem:      mem,
		capacity: size,
		rwx:      rwx,
	}, nil
}

// Close unmaps the arena's memory. Callers must ensure no host thread is
// executing JITted code from this arena.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}

// Base returns the host address of byte 0 of the arena.
func (a *Arena) Base() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.base()
}

func (a *Arena) base() uintptr {
	if len(a.mem) == 0 {
		return 0
	}
	return uintptr(unsafePointer(a.mem))
}

// MarkEndOfPrelude records the cursor position immediately after the
// one-time prelude emission (spec.md §4.A "reset(offset) — ... typically
// end_of_prelude").
func (a *Arena) MarkEndOfPrelude() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.endOfPrelude = a.cursor
}

// Remaining returns capacity - cursor.
func (a *Arena) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capacity - a.cursor
}

// ErrArenaFull is returned by Allocate when there is insufficient space;
// callers must request a full invalidation (component I) and retry once
// (spec.md §4.F step 1, §7 "Arena exhaustion").
var ErrArenaFull = fmt.Errorf("arena: cache full")

// Reserve bump-allocates n bytes and returns the host address of the
// first byte plus a slice over the reserved region (this implements
// emitter.Cursor). The region is writable iff Unprotect() was called, or
// the arena is RWX.
func (a *Arena) Reserve(n int) (uintptr, []byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n < 0 {
		return 0, nil, fmt.Errorf("arena: negative reservation %d", n)
	}
	if a.cursor+n > a.capacity {
		return 0, nil, ErrArenaFull
	}
	start := a.cursor
	a.cursor += n
	return a.base() + uintptr(start), a.mem[start : start+n : start+n], nil
}

// Allocate is Reserve without the returned slice, matching spec.md §4.A's
// `allocate(n)` signature for callers that only need the address (e.g. the
// prelude, which writes through its own cursor view).
func (a *Arena) Allocate(n int) (uintptr, error) {
	addr, _, err := a.Reserve(n)
	return addr, err
}

// Unprotect flips the arena RW for architectures that enforce W^X; a
// no-op when the arena was obtained RWX (spec.md §4.A).
func (a *Arena) Unprotect() error {
	if a.rwx {
		return nil
	}
	return unix.Mprotect(a.mem, unix.PROT_READ|unix.PROT_WRITE)
}

// Protect flips the arena back to RX after an emission completes.
func (a *Arena) Protect() error {
	if a.rwx {
		return nil
	}
	return unix.Mprotect(a.mem, unix.PROT_READ|unix.PROT_EXEC)
}

// Reset resets the cursor to offset, typically EndOfPrelude() (spec.md
// §4.A `reset(offset)`, §4.I "arena.reset_to_end_of_prelude").
func (a *Arena) Reset(offset int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cursor = offset
}

// EndOfPrelude returns the cursor position recorded by MarkEndOfPrelude.
func (a *Arena) EndOfPrelude() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.endOfPrelude
}

// Contains reports whether host address addr falls within the arena's
// mapped range; used by the exception handler (component B) to decide
// whether a fault originated inside this arena.
func (a *Arena) Contains(addr uintptr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	base := a.base()
	return addr >= base && addr < base+uintptr(a.capacity)
}

// InvalidateICache emits the host-specific I-cache barrier over
// [addr, addr+n) on architectures with a split I/D cache (spec.md §4.A).
// It is a no-op when GOARCH doesn't require it (x86); see
// icache_arm64.go / icache_other.go.
func (a *Arena) InvalidateICache(addr uintptr, n int) {
	invalidateICache(addr, n)
}
