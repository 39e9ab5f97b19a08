// Package mipsemu provides MIPS32 (little-endian) emulation using Unicorn
// Engine. It supplies the one piece internal/dll deliberately cannot be —
// an actual MIPS core to run the lazy-resolve trampoline and any loaded
// module's constructors/destructors on (spec §9: "isolate it as a small
// assembly collaborator").
package mipsemu

import (
	"fmt"
	"sync"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/zboralski/mipsld/internal/dll"
	"github.com/zboralski/mipsld/internal/log"
	"github.com/zboralski/mipsld/internal/mipsasm"
)

// Memory layout. TrampolineBase/HelperBase must match internal/dll's
// well-known addresses exactly, since got[0] is populated with
// dll.TrampolineAddr before any emulator even exists.
const (
	// ImageBase is this emulator's conventional placement address for a
	// loaded module. Non-zero and away from every other region, so the
	// GOT/symbol "+base" relocation in internal/dll is actually exercised
	// rather than degenerating to a no-op.
	ImageBase = 0x00010000

	StackBase = 0x80000000
	StackSize = 0x00010000

	HeapBase = 0x90000000
	HeapSize = 0x00100000

	TrampolineBase = dll.TrampolineAddr
	TrampolineSize = 0x1000

	HelperBase = dll.HelperAddr
	HelperSize = 0x1000

	// haltAddr is an address outside every mapped region used as the
	// return address for one-shot function calls: execution there always
	// faults, which this emulator treats as "the call returned."
	haltAddr = 0xFFFFFFF0
)

// AddressHookFunc runs when PC reaches a registered address. Returning true
// stops emulation.
type AddressHookFunc func(e *Emulator) bool

// Emulator wraps a Unicorn MIPS32 little-endian core.
type Emulator struct {
	mu uc.Unicorn

	current *dll.Descriptor // the descriptor currently executing, for the trampoline helper

	addrHooks   map[uint32]AddressHookFunc
	addrHooksMu sync.RWMutex

	imageBase uint32
	imageSize uint32

	log *log.Logger
}

// New creates an emulator with its memory regions mapped and the trampoline
// installed. dll's execution-related hooks (FlushInstructionCache,
// CallFunction) are not touched here; Wire connects them to this core.
func New() (*Emulator, error) {
	mu, err := uc.NewUnicorn(uc.ARCH_MIPS, uc.MODE_MIPS32|uc.MODE_LITTLE_ENDIAN)
	if err != nil {
		return nil, fmt.Errorf("create unicorn: %w", err)
	}

	e := &Emulator{
		mu:        mu,
		addrHooks: make(map[uint32]AddressHookFunc),
		log:       log.L,
	}

	if err := e.mapMemory(); err != nil {
		mu.Close()
		return nil, err
	}
	if err := e.setupHooks(); err != nil {
		mu.Close()
		return nil, err
	}
	if err := e.installTrampoline(); err != nil {
		mu.Close()
		return nil, err
	}

	return e, nil
}

func (e *Emulator) mapMemory() error {
	regions := []struct {
		base, size uint64
		name       string
	}{
		{StackBase, StackSize, "stack"},
		{HeapBase, HeapSize, "heap"},
		{TrampolineBase, TrampolineSize, "trampoline"},
		{HelperBase, HelperSize, "helper"},
	}
	for _, r := range regions {
		if err := e.mu.MemMap(r.base, r.size); err != nil {
			return fmt.Errorf("map %s (0x%x): %w", r.name, r.base, err)
		}
	}
	sp := uint64(StackBase + StackSize - 0x100)
	return e.mu.RegWrite(uc.MIPS_REG_SP, sp)
}

func (e *Emulator) setupHooks() error {
	_, err := e.mu.HookAdd(uc.HOOK_CODE, func(mu uc.Unicorn, addr uint64, size uint32) {
		e.addrHooksMu.RLock()
		hook, ok := e.addrHooks[uint32(addr)]
		e.addrHooksMu.RUnlock()
		if ok && hook(e) {
			e.mu.Stop()
		}
	}, 1, 0)
	return err
}

// installTrampoline writes the trampoline body at TrampolineBase and
// registers the Go-side resolver at HelperBase, the address the
// trampoline jumps to.
func (e *Emulator) installTrampoline() error {
	code := mipsasm.Trampoline(HelperBase)
	if err := e.mu.MemWrite(TrampolineBase, code); err != nil {
		return fmt.Errorf("write trampoline: %w", err)
	}
	e.HookAddress(HelperBase, e.trampolineHelperHook)
	return nil
}

// trampolineHelperHook is the MIPS-side half of spec §4.6's helper: read
// the dynsym index the calling stub left in $t8 and tail-call ResolveLazy
// against the descriptor most recently passed to LoadImage. got[1] is not
// read, so every lazy call resolves against that one descriptor.
func (e *Emulator) trampolineHelperHook(emu *Emulator) bool {
	if e.current == nil {
		return true // no module is executing; nothing to resolve
	}
	t8, _ := e.mu.RegRead(uc.MIPS_REG_T8)

	addr, err := dll.ResolveLazy(e.current, uint32(t8))
	if err != nil {
		if e.log != nil {
			e.log.Format("lazy resolve failed in emulator")
		}
		return true
	}

	e.mu.RegWrite(uc.MIPS_REG_PC, uint64(addr))
	return false
}

// LoadImage maps d's backing buffer at its conceptual base address and
// makes it the "current" descriptor for trampoline resolution.
func (e *Emulator) LoadImage(d *dll.Descriptor, buf []byte) error {
	base := uint64(d.Base())
	size := alignUp(uint64(len(buf)), 0x1000)
	if err := e.mu.MemMap(base, size); err != nil {
		return fmt.Errorf("map image (0x%x): %w", base, err)
	}
	if err := e.mu.MemWrite(base, buf); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	e.imageBase = d.Base()
	e.imageSize = d.Size()
	e.current = d
	return nil
}

// Call runs the function at addr to completion, using haltAddr as the
// return address (spec §4.4 Stage F / §4.7: constructors and destructors
// are "called", not jumped to).
func (e *Emulator) Call(addr uint32, args ...uint32) error {
	regs := []int{uc.MIPS_REG_A0, uc.MIPS_REG_A1, uc.MIPS_REG_A2, uc.MIPS_REG_A3}
	for i, a := range args {
		if i >= len(regs) {
			break
		}
		if err := e.mu.RegWrite(regs[i], uint64(a)); err != nil {
			return err
		}
	}
	if err := e.mu.RegWrite(uc.MIPS_REG_RA, haltAddr); err != nil {
		return err
	}
	err := e.mu.Start(uint64(addr), haltAddr)
	if err != nil && !e.isHaltFault(err) {
		return err
	}
	return nil
}

// isHaltFault reports whether err is the expected unmapped-fetch fault at
// haltAddr, which is how this emulator detects "the call returned" since
// Unicorn has no native concept of a one-shot call.
func (e *Emulator) isHaltFault(err error) bool {
	ucErr, ok := err.(uc.UcError)
	if !ok || ucErr != uc.ERR_FETCH_UNMAPPED {
		return false
	}
	pc, _ := e.mu.RegRead(uc.MIPS_REG_PC)
	return uint32(pc) == haltAddr
}

// HookAddress registers fn to run whenever PC reaches addr.
func (e *Emulator) HookAddress(addr uint32, fn AddressHookFunc) {
	e.addrHooksMu.Lock()
	defer e.addrHooksMu.Unlock()
	e.addrHooks[addr] = fn
}

// MemRead reads size bytes at addr from the emulated address space.
func (e *Emulator) MemRead(addr, size uint32) ([]byte, error) {
	return e.mu.MemRead(uint64(addr), uint64(size))
}

// MemWrite writes data at addr in the emulated address space.
func (e *Emulator) MemWrite(addr uint32, data []byte) error {
	return e.mu.MemWrite(uint64(addr), data)
}

// Reg reads a MIPS general-purpose register by Unicorn constant.
func (e *Emulator) Reg(reg int) uint32 {
	v, _ := e.mu.RegRead(reg)
	return uint32(v)
}

// SetReg writes a MIPS general-purpose register by Unicorn constant.
func (e *Emulator) SetReg(reg int, val uint32) error {
	return e.mu.RegWrite(reg, uint64(val))
}

// Close releases the underlying Unicorn context.
func (e *Emulator) Close() error {
	return e.mu.Close()
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// Wire connects dll's execution collaborator hooks (FlushInstructionCache,
// CallFunction) to this emulator, so Init-time cache flushes and
// ctor/dtor runs actually execute on the emulated core instead of no-ops.
// Call once per Emulator before running dll.Init/dll.Close against it.
func (e *Emulator) Wire() {
	dll.FlushInstructionCache = func(addr, size uint32) {
		// Unicorn has a unified I/D view of memory; there is nothing to
		// flush, but the hook point is kept so the call sequencing from
		// spec §4.4 Stage E / §5 still runs in the expected order.
	}
	dll.CallFunction = func(addr uint32) {
		if err := e.Call(addr); err != nil && e.log != nil {
			e.log.Format(fmt.Sprintf("ctor/dtor call to 0x%x faulted: %v", addr, err))
		}
	}
}
