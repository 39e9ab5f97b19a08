package dll

// ResolveLazy is the Go-side half of the lazy-resolve trampoline (spec
// §4.6 "the helper"). internal/mipsemu's trampoline hook calls this with
// the symbol index the calling stub left in $t8 and the descriptor of the
// image the emulator is running; it returns the resolved address to
// tail-call.
//
// The first call for a given symbol costs an O(got_length) GOT scan; once
// patched, the GOT slot holds the resolved address directly and the
// trampoline is never invoked again for that symbol (spec §4.6 final
// paragraph) — ResolveLazy itself doesn't enforce that, the patched GOT
// slot does, by construction.
func ResolveLazy(d *Descriptor, symIndex uint32) (uint32, error) {
	if symIndex >= d.symbolCount {
		return 0, setSymbol()
	}
	rec := d.symtabOff + symIndex*elfSymSize
	origStub := le32(d.buf, rec+4) - d.base // undo the Stage D relocation to recover the stub value
	name := d.dynstrAt(le32(d.buf, rec))

	addr, ok := resolve(d, name)
	if !ok {
		// Bare-metal: there is no process to fail into, only the process-wide
		// error channel and whatever the caller's halt policy is.
		return 0, setMapSym()
	}

	target := d.base + origStub
	if j, found := d.findGOTSlot(0, target); found {
		putLe32(d.buf, d.gotOff+8+j*4, addr)
		if l := currentLogger(); l != nil {
			l.Resolve(j, uint64(addr), name, true)
		}
	}
	return addr, nil
}
