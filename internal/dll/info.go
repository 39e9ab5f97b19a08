package dll

// Info is a read-only snapshot of an image's .dynamic-derived layout,
// produced without installing the GOT or running any fixups — the
// "mipsld info" introspection path (SPEC_FULL.md), as distinct from Init's
// full Stage C/D load sequence.
type Info struct {
	GotOffset    uint32
	GotLength    uint32
	HashOffset   uint32
	SymtabOffset uint32
	StrtabOffset uint32
	SymbolCount  uint32
	FirstGotSym  uint32
	LocalGotno   uint32
	ImageSize    uint32
}

// Inspect parses image's .dynamic section and returns its layout without
// mutating image or registering a Descriptor. It shares parseDynamic's
// validation, so a nil image or a .dynamic section Init would reject
// reports the same DLL_NULL/DLL_FORMAT error here; the GOT and symbol-table
// bounds checks Init makes after parsing are not run.
func Inspect(image []byte) (Info, error) {
	if image == nil {
		return Info{}, setNull()
	}
	d := &Descriptor{buf: image, size: uint32(len(image))}
	if err := d.parseDynamic(); err != nil {
		return Info{}, err
	}
	return Info{
		GotOffset:    d.gotOff,
		GotLength:    d.gotLength,
		HashOffset:   d.hashOff,
		SymtabOffset: d.symtabOff,
		StrtabOffset: d.strtabOff,
		SymbolCount:  d.symbolCount,
		FirstGotSym:  d.firstGotSym,
		LocalGotno:   d.localGotno,
		ImageSize:    d.size,
	}, nil
}
