package dll

import "encoding/binary"

// Dynamic tags this loader recognises (spec §4.4 table). Values match the
// real ELF/MIPS ABI so an image produced by a genuine MIPS linker script
// parses correctly.
const (
	dtNull            = 0
	dtPLTGOT          = 3
	dtHash            = 4
	dtStrtab          = 5
	dtSymtab          = 6
	dtSyment          = 11
	dtMipsRldVersion  = 0x70000001
	dtMipsFlags       = 0x70000005
	dtMipsBaseAddress = 0x70000006
	dtMipsLocalGotno  = 0x7000000a
	dtMipsSymtabno    = 0x70000011
	dtMipsGotsym      = 0x70000013
)

// rhfQuickstart is the RHF_QUICKSTART bit of DT_MIPS_FLAGS; an image built
// with it set assumes a pre-resolved GOT this loader never produces.
const rhfQuickstart = 0x00000001

// le32 reads/writes little-endian 32-bit words, matching the byte order of
// a PSn00bSDK-style MIPS (LE) image.
func le32(buf []byte, off uint32) uint32 {
	return binary.LittleEndian.Uint32(buf[off:])
}

func putLe32(buf []byte, off uint32, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:], v)
}

// parseDynamic walks the .dynamic record stream at the start of buf (spec
// §4.4 Stage B) and fills in the offset/count fields later stages need.
func (d *Descriptor) parseDynamic() error {
	var (
		gotVal      uint32
		haveGot     bool
		localGotno  uint32
		syment      uint32 = 16
		haveSyment  bool
		rldVersion  uint32
		haveVersion bool
		baseAddr    uint32
		haveBase    bool
	)

	off := uint32(0)
	for {
		if off+8 > d.size {
			return formatErr("unterminated .dynamic section")
		}
		tag := le32(d.buf, off)
		val := le32(d.buf, off+4)
		off += 8

		if tag == dtNull {
			break
		}

		switch tag {
		case dtPLTGOT:
			gotVal = val
			haveGot = true
		case dtHash:
			d.hashOff = val
		case dtStrtab:
			d.strtabOff = val
		case dtSymtab:
			d.symtabOff = val
		case dtSyment:
			syment = val
			haveSyment = true
		case dtMipsRldVersion:
			rldVersion = val
			haveVersion = true
		case dtMipsFlags:
			if val&rhfQuickstart != 0 {
				return formatErr("RHF_QUICKSTART is unsupported")
			}
		case dtMipsLocalGotno:
			localGotno = val
		case dtMipsBaseAddress:
			baseAddr = val
			haveBase = true
		case dtMipsSymtabno:
			d.symbolCount = val
		case dtMipsGotsym:
			d.firstGotSym = val
		default:
			// ignored, per spec §4.4 table
		}
	}

	if !haveSyment || syment != elfSymSize {
		return formatErr("SYMENT must be 16")
	}
	if !haveVersion || rldVersion != 1 {
		return formatErr("MIPS_RLD_VERSION must be 1")
	}
	if !haveBase || baseAddr != 0 {
		return formatErr("MIPS_BASE_ADDRESS must be 0")
	}
	if !haveGot {
		return formatErr("missing PLTGOT")
	}

	d.gotOff = gotVal
	d.localGotno = localGotno

	if d.symbolCount < d.firstGotSym {
		return formatErr("MIPS_GOTSYM exceeds MIPS_SYMTABNO")
	}
	// got_length = local_got_count + (symbol_count - first_got_sym) - 2
	total := localGotno + (d.symbolCount - d.firstGotSym)
	if total < 2 {
		return formatErr("computed got_length underflows")
	}
	d.gotLength = total - 2

	return nil
}

func formatErr(reason string) error {
	if log := currentLogger(); log != nil {
		log.Format(reason)
	}
	return setFormat()
}
