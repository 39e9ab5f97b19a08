package dll

import (
	"github.com/google/uuid"

	"github.com/zboralski/mipsld/internal/linkerr"
	"github.com/zboralski/mipsld/internal/symmap"
)

// TrampolineAddr and HelperAddr are the well-known addresses of the
// lazy-resolve trampoline and its Go-side helper entry point. They are
// constants of the linking environment, not of any one image — every
// loaded module's got[0] points here, exactly as a real rld would export
// one shared resolver rather than generating a copy per module.
// internal/mipsemu is responsible for mapping these addresses and placing
// the actual trampoline bytes (internal/mipsasm) when code really runs;
// this package only ever writes the numeric address.
const (
	TrampolineAddr uint32 = 0xF0000000
	HelperAddr     uint32 = 0xF0001000
)

// ResolveFunc resolves name against descriptor d, returning (address, true)
// on success. It stands in for spec's resolve_callback(descriptor, name).
type ResolveFunc func(d *Descriptor, name string) (uint32, bool)

var resolveCallback ResolveFunc

// SetResolveCallback installs fn as the process-wide resolver, returning
// whatever was previously installed.
//
// Open question (spec §9, 1st bullet): the original callback-register
// primitive's "return the old value" behaviour was flagged as possibly
// leaking state inconsistently. This reimplementation picks the one
// unambiguous meaning a Go signature can carry — the literal previous
// value of the package-level variable, read and replaced under no special
// synchronization beyond the single-threaded-cooperative model spec §5
// already assumes — and does not attempt to reproduce whatever the
// original's inconsistency actually was.
func SetResolveCallback(fn ResolveFunc) ResolveFunc {
	prev := resolveCallback
	resolveCallback = fn
	return prev
}

func resolve(d *Descriptor, name string) (uint32, bool) {
	if resolveCallback != nil {
		if addr, ok := resolveCallback(d, name); ok {
			return addr, true
		}
	}
	addr, err := symmap.GetSymbolByName(name)
	if err != nil {
		return 0, false
	}
	return uint32(addr), true
}

// Init loads image at conceptual base address 0 (spec §4.4). Suitable
// whenever the caller only cares about the image's own internal fixups,
// not about where some external address space actually places it — every
// purely host-side test uses this. Use InitAt when a real or emulated
// address space has already decided where the buffer will live.
func Init(image []byte, mode Mode) (*Descriptor, error) {
	return InitAt(image, 0, mode)
}

// InitAt loads image as a new module whose runtime base is base (spec
// §4.4: "base: pointer to image start"). In the original C design, base
// and the image pointer are the same value — the loader fixes up memory
// it was handed already positioned at its final address. A Go []byte has
// no address in that sense, so base is passed explicitly; internal/mipsemu
// supplies the real value once it has mapped the image into an emulated
// address space. image is the caller's buffer; InitAt never copies it and
// the returned Descriptor does not own it (use Open to load from a file
// and get an owned buffer instead).
//
// InitAt runs every stage through Stage F (constructors) before returning,
// which is only correct when whatever CallFunction is wired to can already
// see the fixed-up buffer at base — true for every purely host-side caller,
// where CallFunction is the default no-op or a plain Go callback. A caller
// that still has to place buf into a separate address space (internal/mipsemu
// mapping it into an emulated core) before any constructor can safely run
// must use LoadForExec and RunConstructors instead.
func InitAt(image []byte, base uint32, mode Mode) (*Descriptor, error) {
	d, err := LoadForExec(image, base, mode)
	if err != nil {
		return nil, err
	}
	d.runConstructors()
	return d, nil
}

// LoadForExec runs Stages A-E of InitAt — parsing .dynamic, installing the
// GOT, fixing up symbols, and flushing the instruction cache — but stops
// short of Stage F, leaving constructors unrun. It exists for callers that
// still need to place the fixed-up buffer into a separate execution context
// after fixups but before any code in the image can safely run: internal/
// mipsemu has to map the buffer into its emulated address space first, or a
// constructor call against unmapped memory faults. Pair with RunConstructors
// once that placement is done, preserving spec §5's "cache flush completes
// before any constructor runs" ordering end to end instead of only within
// this package's own buffer.
func LoadForExec(image []byte, base uint32, mode Mode) (*Descriptor, error) {
	if image == nil {
		return nil, setNull()
	}

	d := &Descriptor{
		buf:       image,
		base:      base,
		size:      uint32(len(image)),
		SessionID: uuid.New(),
	}

	if err := d.parseDynamic(); err != nil {
		return nil, err
	}

	// Registered now so installGOT can write the real handle into got[1]
	// as part of Stage C, ahead of the cache flush (spec §5 ordering rule).
	registerDescriptor(d)

	if err := d.installGOT(); err != nil {
		unregisterDescriptor(d.handle)
		return nil, err
	}

	if err := d.fixupSymbols(mode); err != nil {
		unregisterDescriptor(d.handle)
		return nil, err
	}

	EnterCritical()
	FlushInstructionCache(d.base, d.size)
	ExitCritical()

	return d, nil
}

// Open loads filename through the active FileLoader and Inits it, with the
// resulting Descriptor owning the loaded buffer.
func Open(filename string, mode Mode) (*Descriptor, error) {
	if ActiveFileLoader == nil {
		return nil, setNoFile()
	}
	buf, err := ActiveFileLoader.LoadFile(filename)
	if err != nil {
		return nil, linkerr.Set(linkerr.File)
	}

	d, err := Init(buf, mode)
	if err != nil {
		return nil, err
	}
	d.owned = true
	return d, nil
}

// installGOT performs spec §4.4 Stage C: got[0] is set to the trampoline
// address, got[1] to the descriptor's own back-reference (written after
// registration, once the handle exists — see LoadForExec), and every GOT
// slot in [2, 2+got_length) is relocated by +base.
func (d *Descriptor) installGOT() error {
	if d.gotOff+8+d.gotLength*4 > d.size {
		return formatErr("GOT extends past image bounds")
	}

	putLe32(d.buf, d.gotOff, TrampolineAddr)
	putLe32(d.buf, d.gotOff+4, d.handle)

	for i := uint32(0); i < d.gotLength; i++ {
		off := d.gotOff + 8 + i*4
		v := le32(d.buf, off)
		putLe32(d.buf, off, v+d.base)
	}
	return nil
}

// fixupSymbols performs spec §4.4 Stage D: every defined symbol's st_value
// is relocated by +base exactly once; in NOW mode, every undefined
// object/function symbol is eagerly resolved and its original stub GOT
// slot is patched immediately.
func (d *Descriptor) fixupSymbols(mode Mode) error {
	if d.symtabOff+d.symbolCount*elfSymSize > d.size {
		return formatErr("symtab extends past image bounds")
	}

	// got_offset scans the whole GOT (both local and external slots), per
	// spec §4.4 Stage D's literal "find the first GOT slot j >= got_offset"
	// — it starts at 0, not at first_got_sym, since the scan isn't assumed
	// to be positionally aligned with dynsym indices.
	gotOffset := uint32(0)

	for i := uint32(0); i < d.symbolCount; i++ {
		rec := d.symtabOff + i*elfSymSize
		stValue := le32(d.buf, rec+4)
		if stValue == 0 {
			continue
		}

		origStub := stValue
		putLe32(d.buf, rec+4, stValue+d.base)

		if mode != NOW || i < d.firstGotSym {
			continue
		}
		stInfo := d.buf[rec+12]
		stShndx := uint16(d.buf[rec+14]) | uint16(d.buf[rec+15])<<8
		if stShndx != 0 {
			continue // defined, nothing to eagerly resolve
		}
		typ := stInfo & 0xf
		if typ != sttObject && typ != sttFunc {
			continue
		}

		name := d.dynstrAt(le32(d.buf, rec))
		target := d.base + origStub

		j, found := d.findGOTSlot(gotOffset, target)
		if !found {
			return setMapSym()
		}

		addr, ok := resolve(d, name)
		if !ok {
			return setMapSym()
		}
		putLe32(d.buf, d.gotOff+8+j*4, addr)
		if l := currentLogger(); l != nil {
			l.Resolve(j, uint64(addr), name, false)
		}
		gotOffset = j
	}
	return nil
}

// findGOTSlot scans got[2+from .. 2+got_length) for a slot whose current
// value equals target, returning its index (relative to got[2]).
func (d *Descriptor) findGOTSlot(from, target uint32) (uint32, bool) {
	for j := from; j < d.gotLength; j++ {
		if le32(d.buf, d.gotOff+8+j*4) == target {
			return j, true
		}
	}
	return 0, false
}

func (d *Descriptor) dynstrAt(nameOff uint32) string {
	start := d.strtabOff + nameOff
	end := start
	for end < d.size && d.buf[end] != 0 {
		end++
	}
	return string(d.buf[start:end])
}

// Close implements spec §4.7: runs destructors forward, then (for an owned
// buffer) drops this package's last reference to it. The Go garbage
// collector reclaims the memory; there is no manual free to call, but the
// descriptor is invalidated identically either way.
func Close(d *Descriptor) {
	if d == nil {
		return
	}
	d.runDestructors()
	unregisterDescriptor(d.handle)
	d.buf = nil
}
