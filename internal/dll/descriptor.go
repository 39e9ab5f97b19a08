// Package dll implements the core of the bare-metal MIPS PIC dynamic linker:
// the Image Descriptor, Loader/Relocator, Lazy Resolver helper, module
// Symbol lookup, and the constructor/destructor runner (spec §3, §4.4-§4.7).
//
// This package never touches real or emulated memory on its own — it reads
// and writes the image's own byte buffer directly, and treats instruction
// execution (running ctors/dtors, running the trampoline) as an external
// collaborator, matching the "bare-metal, no OS loader" framing in spec §1.
// internal/mipsemu supplies that collaborator when code actually needs to
// run; callers that only need fixups and lookups never need it.
package dll

import (
	"sync"

	"github.com/google/uuid"
)

// Mode selects how external references are resolved at load time.
type Mode int

const (
	// LAZY leaves external GOT slots pointing at their stub address; the
	// lazy resolver patches them on first call.
	LAZY Mode = iota
	// NOW eagerly resolves every external reference during Init.
	NOW
)

// elfSymSize is sizeof(Elf32_Sym): st_name, st_value, st_size (4 bytes
// each), st_info, st_other (1 byte each), st_shndx (2 bytes).
const elfSymSize = 16

// STT_* symbol type bits, from Elf32_Sym.st_info & 0xf.
const (
	sttNoType = 0
	sttObject = 1
	sttFunc   = 2
)

// Descriptor is the runtime record for one loaded module (spec §3).
type Descriptor struct {
	buf   []byte // the full image: .dynamic, .dynsym, .hash, .dynstr, .got, code/data
	owned bool   // true only if this package allocated buf (via Open)

	base uint32 // conceptual link/runtime address; buf[0] == address `base`
	size uint32

	gotOff    uint32 // byte offset of .got within buf
	gotLength uint32 // GOT entries excluding the two reserved header words
	hashOff   uint32
	symtabOff uint32
	strtabOff uint32

	symbolCount uint32
	firstGotSym uint32 // DT_MIPS_GOTSYM: index of first external dynsym entry
	localGotno  uint32 // DT_MIPS_LOCAL_GOTNO

	handle    uint32 // registry key; this is what got[1] actually stores
	SessionID uuid.UUID
}

// Base returns the descriptor's conceptual runtime address.
func (d *Descriptor) Base() uint32 { return d.base }

// Size returns the image's total byte length.
func (d *Descriptor) Size() uint32 { return d.size }

// GotLength returns the number of GOT entries excluding the two reserved
// header words.
func (d *Descriptor) GotLength() uint32 { return d.gotLength }

// addrToOffset converts a runtime address into a byte offset in buf. It
// panics on an out-of-range address: every caller in this package derives
// addresses from data this loader itself validated during Init, so an
// out-of-range value here means an invariant was already broken.
func (d *Descriptor) addrToOffset(addr uint32) uint32 {
	off := addr - d.base
	if off >= d.size {
		panic("dll: address out of image bounds")
	}
	return off
}

// --- process-wide descriptor registry ---
//
// got[1] is documented (spec §3) as "the descriptor's own address" — a raw
// pointer in the original C design. Go values aren't addressable that way,
// and more importantly the lazy-resolve trampoline's helper runs on the far
// side of an emulated MIPS core (internal/mipsemu) that only understands
// 32-bit words, not Go pointers. We store a small integer handle instead and
// keep the real *Descriptor in this process-wide table; the handle is what
// actually lives in got[1]. See DESIGN.md for the full rationale.

var (
	registryMu   sync.Mutex
	registry     = map[uint32]*Descriptor{}
	nextHandle   uint32 = 1 // 0 is reserved so a zeroed GOT slot is never a valid handle
)

func registerDescriptor(d *Descriptor) uint32 {
	registryMu.Lock()
	defer registryMu.Unlock()
	h := nextHandle
	nextHandle++
	registry[h] = d
	d.handle = h
	return h
}

func unregisterDescriptor(h uint32) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, h)
}

// LookupHandle returns the descriptor registered under handle h, as read
// from some module's got[1].
func LookupHandle(h uint32) (*Descriptor, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	d, ok := registry[h]
	return d, ok
}

// Handle returns the registry key stored in this descriptor's got[1].
func (d *Descriptor) Handle() uint32 { return d.handle }
