package dll

import (
	"github.com/zboralski/mipsld/internal/hash"
	"github.com/zboralski/mipsld/internal/symmap"
)

// Sym implements spec §4.5. A nil Descriptor is the DEFAULT sentinel
// ("this process"): lookups delegate to the symbol map instead of walking
// any module's own .hash chain.
func Sym(d *Descriptor, name string) (uint32, error) {
	if d == nil {
		addr, err := symmap.GetSymbolByName(name)
		if err != nil {
			return 0, setMapSym()
		}
		return uint32(addr), nil
	}
	return d.symLocal(name)
}

// symLocal walks this module's own .hash chain. Unlike the symbol map
// (internal/symmap), a module's .hash table is genuine ELF Sys-V format
// produced by a real linker script, where dynsym index 0 is always
// STN_UNDEF and chain slot 0 is therefore always a safe end-of-chain
// sentinel (spec §4.5, §9 "stop at 0" note — here that convention holds
// without the symbol map's counterexample, because index 0 never appears
// as a legitimate chain link in a real .hash table).
func (d *Descriptor) symLocal(name string) (uint32, error) {
	nbucket := le32(d.buf, d.hashOff)
	nchain := le32(d.buf, d.hashOff+4)
	if nbucket == 0 || nchain == 0 {
		return 0, setSymbol()
	}
	bucketsOff := d.hashOff + 8
	chainOff := bucketsOff + nbucket*4

	h := hash.PJW(name)
	b := h % nbucket
	cursor := le32(d.buf, bucketsOff+b*4)

	for cursor != 0 {
		if cursor >= nchain || cursor >= d.symbolCount {
			return 0, setFormat()
		}
		rec := d.symtabOff + cursor*elfSymSize
		candidate := d.dynstrAt(le32(d.buf, rec))
		if candidate == name {
			return le32(d.buf, rec+4), nil
		}
		cursor = le32(d.buf, chainOff+cursor*4)
	}
	return 0, setSymbol()
}
