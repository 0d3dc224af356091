// Command dbtbench is a small harness for exercising a cpu.Facade against
// a flat guest memory image loaded from disk, grounded on the teacher's
// cmd/rush/main.go file-execution flow but restructured onto cobra
// subcommands (run/step/stats) rather than flag.Bool switches, matching
// the rest of the retrieved corpus's CLI style.
package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"armbt/callbacks"
	"armbt/config"
	"armbt/cpu"
	emitterarm64 "armbt/emitter/arm64"
	"armbt/frontend"
	"armbt/haltreason"
	"armbt/internal/dbtlog"
	"armbt/location"
)

// flatHost is a callbacks.Host over one contiguous guest image, loaded
// once at startup. It has no MMU. Its MemoryWriteExclusive* methods
// compare-and-swap the backing word, but the façade does not call them:
// LDREX/STREX outcomes are decided by the façade's exclusive.Monitor.
type flatHost struct {
	image []byte
	log   *dbtlog.Logger
}

func newFlatHost(image []byte, log *dbtlog.Logger) *flatHost {
	return &flatHost{image: image, log: log}
}

func (h *flatHost) fits(vaddr uint64, n int) bool {
	return vaddr+uint64(n) <= uint64(len(h.image))
}

func (h *flatHost) MemoryRead8(vaddr uint64) uint8 {
	if !h.fits(vaddr, 1) {
		return 0
	}
	return h.image[vaddr]
}
func (h *flatHost) MemoryRead16(vaddr uint64) uint16 {
	if !h.fits(vaddr, 2) {
		return 0
	}
	return binary.LittleEndian.Uint16(h.image[vaddr:])
}
func (h *flatHost) MemoryRead32(vaddr uint64) uint32 {
	if !h.fits(vaddr, 4) {
		return 0
	}
	return binary.LittleEndian.Uint32(h.image[vaddr:])
}
func (h *flatHost) MemoryRead64(vaddr uint64) uint64 {
	if !h.fits(vaddr, 8) {
		return 0
	}
	return binary.LittleEndian.Uint64(h.image[vaddr:])
}
func (h *flatHost) MemoryRead128(vaddr uint64) [2]uint64 {
	return [2]uint64{h.MemoryRead64(vaddr), h.MemoryRead64(vaddr + 8)}
}
func (h *flatHost) MemoryWrite8(vaddr uint64, v uint8) {
	if h.fits(vaddr, 1) {
		h.image[vaddr] = v
	}
}
func (h *flatHost) MemoryWrite16(vaddr uint64, v uint16) {
	if h.fits(vaddr, 2) {
		binary.LittleEndian.PutUint16(h.image[vaddr:], v)
	}
}
func (h *flatHost) MemoryWrite32(vaddr uint64, v uint32) {
	if h.fits(vaddr, 4) {
		binary.LittleEndian.PutUint32(h.image[vaddr:], v)
	}
}
func (h *flatHost) MemoryWrite64(vaddr uint64, v uint64) {
	if h.fits(vaddr, 8) {
		binary.LittleEndian.PutUint64(h.image[vaddr:], v)
	}
}
func (h *flatHost) MemoryWrite128(vaddr uint64, v [2]uint64) {
	h.MemoryWrite64(vaddr, v[0])
	h.MemoryWrite64(vaddr+8, v[1])
}
func (h *flatHost) casWord(vaddr uint64, expected, value uint32) bool {
	if h.MemoryRead32(vaddr) != expected {
		return false
	}
	h.MemoryWrite32(vaddr, value)
	return true
}
func (h *flatHost) MemoryWriteExclusive8(vaddr uint64, value, expected uint8) bool {
	return h.casWord(vaddr, uint32(expected), uint32(value))
}
func (h *flatHost) MemoryWriteExclusive16(vaddr uint64, value, expected uint16) bool {
	return h.casWord(vaddr, uint32(expected), uint32(value))
}
func (h *flatHost) MemoryWriteExclusive32(vaddr uint64, value, expected uint32) bool {
	return h.casWord(vaddr, expected, value)
}
func (h *flatHost) MemoryWriteExclusive64(vaddr uint64, value, expected uint64) bool {
	return h.casWord(vaddr, uint32(expected), uint32(value))
}
func (h *flatHost) MemoryWriteExclusive128(vaddr uint64, value, expected [2]uint64) bool {
	return h.casWord(vaddr, uint32(expected[0]), uint32(value[0]))
}
func (h *flatHost) MemoryReadCode(vaddr uint64) (uint32, bool) {
	if !h.fits(vaddr, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(h.image[vaddr:]), true
}
func (h *flatHost) IsReadOnlyMemory(vaddr uint64) bool { return false }
func (h *flatHost) CallSVC(n uint32)                   { h.log.Info("guest SVC #%d", n) }
func (h *flatHost) ExceptionRaised(pc uint64, kind callbacks.ExceptionKind) {
	h.log.Warn("exception %v at pc=%#x", kind, pc)
}
func (h *flatHost) InstructionSynchronizationBarrierRaised() {}
func (h *flatHost) InstructionCacheOperationRaised(vaddr uint64) {}
func (h *flatHost) DataCacheOperationRaised(vaddr uint64)        {}
func (h *flatHost) AddTicks(n uint64)                            {}
func (h *flatHost) GetTicksRemaining() uint64                    { return ^uint64(0) }
func (h *flatHost) GetCNTPCT() uint64                            { return 0 }

func loadImage(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func newFacadeForImage(path string, verbosity int) (*cpu.Facade[location.PC32], *flatHost, error) {
	image, err := loadImage(path)
	if err != nil {
		return nil, nil, fmt.Errorf("dbtbench: %w", err)
	}
	log := dbtlog.New(dbtlog.Level(verbosity))
	host := newFlatHost(image, log)
	cfg := config.Default()
	f, err := cpu.New[location.PC32](cfg, host, frontend.NewReference32(), emitterarm64.New[location.PC32](), log, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dbtbench: %w", err)
	}
	return f, host, nil
}

func printRegs(f *cpu.Facade[location.PC32]) {
	fmt.Printf("pc=%#010x\n", f.PC())
	for i := 0; i < 31; i++ {
		fmt.Printf("  r%-2d=%#010x", i, f.GPR(i))
		if i%4 == 3 || i == 30 {
			fmt.Println()
		}
	}
}

func main() {
	var verbosity int
	var entry uint32

	root := &cobra.Command{
		Use:   "dbtbench",
		Short: "Drive the ARM translation-cache core against a flat guest memory image",
	}
	root.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", int(dbtlog.LevelWarn), "log verbosity (0=none .. 5=trace)")
	root.PersistentFlags().Uint32VarP(&entry, "entry", "e", 0, "guest entry program counter")

	runCmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Translate and run until a halt reason is observed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, _, err := newFacadeForImage(args[0], verbosity)
			if err != nil {
				return err
			}
			defer f.Close()
			f.SetPC(entry)
			hr, err := f.Run()
			if err != nil {
				return err
			}
			fmt.Printf("halted: %s\n", hr)
			printRegs(f)
			return nil
		},
	}

	var stepCount int
	stepCmd := &cobra.Command{
		Use:   "step <image>",
		Short: "Single-step N blocks, printing register state after each",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, _, err := newFacadeForImage(args[0], verbosity)
			if err != nil {
				return err
			}
			defer f.Close()
			f.SetPC(entry)
			for i := 0; i < stepCount; i++ {
				hr, err := f.Step()
				if err != nil {
					return err
				}
				fmt.Printf("--- step %d (halt=%s) ---\n", i, hr)
				printRegs(f)
				if hr.Has(haltreason.MemoryAbort) {
					break
				}
			}
			return nil
		},
	}
	stepCmd.Flags().IntVarP(&stepCount, "count", "n", 1, "number of blocks to step")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the default façade configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			fmt.Printf("code_cache_size: %d bytes\n", cfg.CodeCacheSize)
			fmt.Printf("optimizations:   %#x\n", uint32(cfg.Optimizations))
			fmt.Printf("unsafe:          %v\n", cfg.UnsafeOptimizations)
			return nil
		},
	}

	root.AddCommand(runCmd, stepCmd, statsCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
