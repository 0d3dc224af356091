// Package cpu is the public façade (spec.md §5, §6 "To the user"): it
// exposes Run/Step/ClearCache/InvalidateCacheRange/HaltExecution/
// ClearHalt/Reset plus register/flag accessors, generic over guest PC
// width (spec.md §9's "deep virtual dispatch toward per-architecture
// variants" redesign flag, avoided here with location.PC rather than an
// AArch32Facade/AArch64Facade pair — see SPEC_FULL.md).
//
// Grounded on the teacher's vm.VM: one struct owning every collaborator,
// a logger, and a guarded run loop, generalized from bytecode dispatch to
// the translation-cache pipeline (frontend -> optimizer -> emitter ->
// index/range/linker -> executor).
package cpu

import (
	"fmt"
	"sync/atomic"

	"armbt/arena"
	"armbt/blockindex"
	"armbt/callbacks"
	"armbt/config"
	"armbt/emitter"
	"armbt/exception"
	"armbt/exclusive"
	"armbt/executor"
	"armbt/fastmem"
	"armbt/frontend"
	"armbt/haltreason"
	"armbt/internal/dbtlog"
	"armbt/invalidation"
	"armbt/jitstate"
	"armbt/linker"
	"armbt/location"
	"armbt/prelude"
	"armbt/rangemap"
	"armbt/translator"
)

// Facade is the per-processor public handle (spec.md §5: "Each emulated
// processor corresponds to a host thread that owns one CPU façade").
type Facade[T location.PC] struct {
	state jitstate.State[T]

	arena        *arena.Arena
	index        *blockindex.Index[T]
	ranges       *rangemap.RangeMap[T]
	prelude      *prelude.Prelude
	linker       *linker.Linker[T]
	invalidator  *invalidation.Coordinator[T]
	fastmemMgr   *fastmem.Manager[T]
	translator   *translator.Translator[T]
	monitor      *exclusive.Monitor
	excHandler   *exception.Handler
	excUnregister func()
	host         callbacks.Host
	log          *dbtlog.Logger

	isExecuting atomic.Bool // spec.md §5 "is_executing flag guards... recursive entry"
}

// New constructs a Facade around the given frontend decoder and host
// emitter backend. Both are used as given: New does not substitute a
// default for a nil decoder or em, so callers supply both (the reference
// pair is frontend.NewReference32 and emitter/arm64's New). monitor is the
// process-wide exclusive.Monitor (spec.md §5: "the only object shared
// across façades") callers emulating more than one processor construct
// once via exclusive.New and pass to every Facade sharing that address
// space; passing nil gives this Facade its own single-processor Monitor.
func New[T location.PC](cfg config.Config, host callbacks.Host, decoder frontend.Decoder[T], em emitter.Emitter[T], log *dbtlog.Logger, monitor *exclusive.Monitor) (*Facade[T], error) {
	size := cfg.CodeCacheSize
	if size <= 0 {
		size = arena.DefaultSize
	}
	a, err := arena.New(size)
	if err != nil {
		return nil, fmt.Errorf("cpu: %w", err)
	}
	if monitor == nil {
		monitor = exclusive.New(1)
	}

	p := prelude.New(a)
	idx := blockindex.New[T]()
	ranges := rangemap.New[T]()
	ln := linker.New[T](a, idx, p)
	invalidator := invalidation.New[T](a, idx, ranges, ln, p.ReturnToDispatcher)

	// scheduleInvalidate completes spec.md §4.H step 4: a fault site
	// marked do-not-fastmem queues its containing block for invalidation
	// so it is re-emitted (without the inline fast path) on next use.
	fm := fastmem.New[T](a, idx, func(ld location.Descriptor[T]) {
		invalidator.InvalidateRange(ld.PC, 1)
	})
	invalidator.OnClearFastmem(fm.Clear)

	excHandler := exception.NewHandler()
	excHandler.Install()
	excUnregister := excHandler.Register(fm)

	tr := translator.New[T](a, idx, ranges, ln, decoder, em, invalidator, fm, host, cfg)

	f := &Facade[T]{
		arena: a, index: idx, ranges: ranges, prelude: p, linker: ln,
		invalidator: invalidator, fastmemMgr: fm, translator: tr,
		monitor: monitor, excHandler: excHandler, excUnregister: excUnregister,
		host: host, log: log,
	}
	f.state.RSB.Reset(p.ReturnToDispatcher)
	f.state.ProcessorID = cfg.ProcessorID
	invalidator.Register(&f.state)
	if cfg.EnableCycleCounting {
		f.state.InitialTicks = int64(host.GetTicksRemaining())
		f.state.TicksRemaining = f.state.InitialTicks
	}
	return f, nil
}

// Close releases the façade's arena.
func (f *Facade[T]) Close() error {
	f.excUnregister()
	f.invalidator.Unregister(&f.state)
	return f.arena.Close()
}

// Run executes guest code until a halt reason becomes non-zero, returning
// it (spec.md §6 "Run() ... return a HaltReason bitmask").
func (f *Facade[T]) Run() (haltreason.HaltReason, error) {
	return f.run(false)
}

// Step executes exactly one block (spec.md §6 "Step()").
func (f *Facade[T]) Step() (haltreason.HaltReason, error) {
	return f.run(true)
}

func (f *Facade[T]) run(singleStep bool) (haltreason.HaltReason, error) {
	if !f.isExecuting.CompareAndSwap(false, true) {
		return 0, fmt.Errorf("cpu: Facade entered recursively")
	}
	defer f.isExecuting.Store(false)

	if singleStep {
		f.state.Halt(haltreason.Step)
	}

	for {
		f.invalidator.ServicePoint(&f.state)

		mode := f.state.CurrentMode
		ld := location.New(f.state.PC, mode)

		entry, err := f.translator.GetOrEmit(ld)
		if err != nil {
			return 0, err
		}

		res := f.executeOnce(ld, entry)

		switch {
		case res.Next != nil:
			f.state.PC = res.Next.PC
			f.state.CurrentMode = res.Next.Mode
		case !res.Halted:
			// No successor terminal (ReturnToDispatch/Interpret/a
			// maxBlockInstructions fallthrough): the dispatcher's next
			// GetOrEmit starts from where this block actually stopped,
			// not from re-entering the same PC forever (spec.md §4.E
			// "GetOrEmit(current_location)").
			f.state.PC = res.EndPC
		}

		if res.Exception {
			f.host.ExceptionRaised(uint64(ld.PC), res.ExcKind)
		}

		hr := f.state.TakeHalt()
		if hr.Any() {
			// Any pending halt bit (Step, CacheInvalidation, a user bit,
			// or MemoryAbort from a Fault terminal) ends this Run/Step.
			return hr, nil
		}
		if res.Halted {
			return haltreason.HaltReason(0), nil
		}
	}
}

// executeOnce runs exactly one block with executor.Interpret against the
// decoded IR the translator cached for ld, on every host. It does not
// jump into the emitted arena bytes at entry; executor.CallBlock is not
// used here.
func (f *Facade[T]) executeOnce(ld location.Descriptor[T], entry uintptr) executor.Result[T] {
	block, ok := f.translator.BlockFor(ld)
	if !ok {
		f.log.Warn("no cached IR for just-translated block at %v", ld)
		return executor.Result[T]{EndPC: ld.PC}
	}
	return executor.Interpret(block, &f.state, f.host, f.monitor)
}

// ClearCache requests a full invalidation (spec.md §6).
func (f *Facade[T]) ClearCache() { f.invalidator.ClearCache() }

// InvalidateCacheRange requests invalidation of [addr, addr+length)
// (spec.md §6).
func (f *Facade[T]) InvalidateCacheRange(addr T, length T) {
	f.invalidator.InvalidateRange(addr, length)
}

// HaltExecution ORs hr into the façade's halt word from any thread
// (spec.md §5 "Cooperative cancellation").
func (f *Facade[T]) HaltExecution(hr haltreason.HaltReason) { f.state.Halt(hr) }

// ClearHalt clears hr from the façade's halt word (spec.md §5).
func (f *Facade[T]) ClearHalt(hr haltreason.HaltReason) { f.state.ClearHalt(hr) }

// Reset reinitializes guest register state and RSB without touching the
// cache.
func (f *Facade[T]) Reset() {
	processorID := f.state.ProcessorID
	f.state = jitstate.State[T]{}
	f.state.ProcessorID = processorID
	f.state.RSB.Reset(f.prelude.ReturnToDispatcher)
	f.monitor.ClearProcessor(processorID)
}

// GPR returns guest general-purpose register n.
func (f *Facade[T]) GPR(n int) uint64 { return f.state.GPR[n] }

// SetGPR sets guest general-purpose register n.
func (f *Facade[T]) SetGPR(n int, v uint64) { f.state.GPR[n] = v }

// PC returns the current guest program counter.
func (f *Facade[T]) PC() T { return f.state.PC }

// SetPC sets the current guest program counter.
func (f *Facade[T]) SetPC(pc T) { f.state.PC = pc }
