// Package config enumerates the façade's configuration options
// (spec.md §6 "Configuration"). It is a plain struct passed by value, in
// the style of the teacher's own in-process configuration (Rush has no
// central config struct or binding framework; flags in cmd/rush/main.go
// are read once into local variables) rather than a builder or a
// viper/cobra-config layer the corpus never shows for this kind of
// in-process tuning.
package config

// Optimizations is the bitfield named in spec.md §6.
type Optimizations uint32

const (
	OptBlockLinking Optimizations = 1 << iota
	OptReturnStackBuffer
	OptFastDispatch
	OptGetSetElimination
	OptConstProp
	OptMiscIROpt

	// Unsafe_* flags are only honored when Config.UnsafeOptimizations is
	// set (spec.md §6).
	OptUnsafeIgnoreGlobalMonitor
	OptUnsafeReducedErrorFP
	OptUnsafeUnfuseFMA
)

// Config is the full set of façade configuration options (spec.md §6).
type Config struct {
	CodeCacheSize int // bytes, <=128 MiB on an AArch64 host

	ProcessorID    uint32
	ArchVersion    int // 32-bit guest only

	// Page-table fast path.
	PageTable                                 []byte
	PageTableAddressSpaceBits                 uint
	PageTablePointerMaskBits                   uint
	SilentlyMirrorPageTable                    bool
	AbsoluteOffsetPageTable                    bool
	DetectMisalignedAccessViaPageTable          bool
	OnlyDetectMisalignmentOnPageBoundary        bool

	// Fastmem: host-MMU-mediated fast path (spec.md §4.H).
	FastmemPointer                     uintptr
	FastmemAddressSpaceBits            uint
	SilentlyMirrorFastmem              bool
	FastmemExclusiveAccess             bool
	RecompileOnFastmemFailure          bool
	RecompileOnExclusiveFastmemFailure bool

	Optimizations      Optimizations
	UnsafeOptimizations bool

	HookISB                           bool
	HookHintInstructions              bool
	DefineUnpredictableBehaviour      bool
	AlwaysLittleEndian                bool
	CheckHaltOnMemoryAccess           bool
	EnableCycleCounting               bool
	WallClockCNTPCT                   bool

	// ARM system registers.
	CNTFRQ_EL0 uint64
	CTR_EL0    uint64
	DCZID_EL0  uint64
	TPIDRRO_EL0 uint64
	TPIDR_EL0   uint64
}

// Has reports whether every optimization bit in mask is enabled, honoring
// the UnsafeOptimizations gate for Unsafe_* bits (spec.md §6: "unsafe
// flags... gated by unsafe_optimizations").
func (c Config) Has(mask Optimizations) bool {
	unsafeMask := OptUnsafeIgnoreGlobalMonitor | OptUnsafeReducedErrorFP | OptUnsafeUnfuseFMA
	if mask&unsafeMask != 0 && !c.UnsafeOptimizations {
		return false
	}
	return c.Optimizations&mask == mask
}

// Default returns a Config with the defaults implied by spec.md §6 and
// §4.A (128 MiB cache, block linking + RSB + fast dispatch enabled, no
// fastmem/page-table fast paths, cycle counting off).
func Default() Config {
	return Config{
		CodeCacheSize: 128 * 1024 * 1024,
		Optimizations: OptBlockLinking | OptReturnStackBuffer | OptFastDispatch | OptGetSetElimination | OptConstProp | OptMiscIROpt,
	}
}
