package dll

import (
	"encoding/binary"

	"github.com/zboralski/mipsld/internal/hash"
)

// testSym describes one symbol in a synthetic test image. defined == false
// means undefined (external, written with st_shndx 0); value is then its
// pre-relocation st_value (the address of its lazy-call stub, by this
// loader's convention).
type testSym struct {
	name    string
	value   uint32 // defined: offset within image; undefined: stub address
	defined bool
	isFunc  bool
}

// imageBuilder assembles a minimal but genuinely ELF-shaped image: .dynamic,
// .dynsym, .hash, .dynstr, .got, in the fixed order spec §6 requires.
type imageBuilder struct {
	syms       []testSym
	localGotno uint32 // count of local GOT entries, excluding the 2 reserved
	localVals  []uint32
}

func newImageBuilder() *imageBuilder { return &imageBuilder{} }

func (b *imageBuilder) addLocalGOT(val uint32) {
	b.localVals = append(b.localVals, val)
	b.localGotno++
}

func (b *imageBuilder) addDefined(name string, offset uint32) {
	b.syms = append(b.syms, testSym{name: name, value: offset, defined: true})
}

func (b *imageBuilder) addExternalFunc(name string, stubAddr uint32) {
	b.syms = append(b.syms, testSym{name: name, value: stubAddr, isFunc: true})
}

// build lays out the image and returns its bytes. Local GOT entries come
// first after the two reserved words, then one slot per external symbol in
// image order, so tests can compute a specific slot's offset themselves.
func (b *imageBuilder) build() []byte {
	// Partition: index 0 is always STN_UNDEF. Defined symbols come next,
	// then undefined (external) ones, matching MIPS_GOTSYM semantics.
	var ordered []testSym
	ordered = append(ordered, testSym{}) // STN_UNDEF
	firstGotSym := uint32(0)
	for _, s := range b.syms {
		if s.defined {
			ordered = append(ordered, s)
		}
	}
	firstGotSym = uint32(len(ordered))
	for _, s := range b.syms {
		if !s.defined {
			ordered = append(ordered, s)
		}
	}
	symCount := uint32(len(ordered))
	externalCount := symCount - firstGotSym

	// --- layout ---
	dynamicOff := uint32(0)
	numDynEntries := uint32(12) // 11 real tags + terminator
	dynamicSize := numDynEntries * 8

	dynsymOff := dynamicOff + dynamicSize
	dynsymSize := symCount * elfSymSize

	// .hash: nbucket, nchain, bucket[nbucket], chain[nchain]
	nbucket := symCount
	if nbucket == 0 {
		nbucket = 1
	}
	hashOff := dynsymOff + dynsymSize
	hashSize := (2 + nbucket + symCount) * 4

	// .dynstr: leading NUL, then each name NUL-terminated.
	strtabOff := hashOff + hashSize
	names := make([]byte, 1, 64)
	nameOffsets := make([]uint32, len(ordered))
	for i, s := range ordered {
		if i == 0 {
			continue
		}
		nameOffsets[i] = uint32(len(names))
		names = append(names, []byte(s.name)...)
		names = append(names, 0)
	}
	strtabSize := uint32(len(names))

	gotOff := strtabOff + strtabSize
	gotLength := b.localGotno + externalCount
	gotSize := (2 + gotLength) * 4

	total := gotOff + gotSize
	buf := make([]byte, total)

	// --- .dynamic ---
	put := func(i *uint32, tag, val uint32) {
		binary.LittleEndian.PutUint32(buf[*i:], tag)
		binary.LittleEndian.PutUint32(buf[*i+4:], val)
		*i += 8
	}
	off := dynamicOff
	put(&off, dtPLTGOT, gotOff)
	put(&off, dtHash, hashOff)
	put(&off, dtStrtab, strtabOff)
	put(&off, dtSymtab, dynsymOff)
	put(&off, dtSyment, elfSymSize)
	put(&off, dtMipsRldVersion, 1)
	put(&off, dtMipsFlags, 0)
	// DT_MIPS_LOCAL_GOTNO counts the 2 reserved header words as part of the
	// "local" GOT region, per the real MIPS ABI; parseDynamic subtracts 2
	// back out when computing got_length (spec §4.4 formula).
	put(&off, dtMipsLocalGotno, b.localGotno+2)
	put(&off, dtMipsBaseAddress, 0)
	put(&off, dtMipsSymtabno, symCount)
	put(&off, dtMipsGotsym, firstGotSym)
	put(&off, dtNull, 0)

	// --- .dynsym ---
	for i, s := range ordered {
		rec := dynsymOff + uint32(i)*elfSymSize
		binary.LittleEndian.PutUint32(buf[rec:], nameOffsets[i])
		binary.LittleEndian.PutUint32(buf[rec+4:], s.value)
		binary.LittleEndian.PutUint32(buf[rec+8:], 0) // st_size
		typ := byte(sttObject)
		if s.isFunc {
			typ = sttFunc
		}
		if i == 0 {
			typ = sttNoType
		}
		buf[rec+12] = typ // st_info
		buf[rec+13] = 0   // st_other
		shndx := uint16(1)
		if !s.defined && i != 0 {
			shndx = 0
		}
		if i == 0 {
			shndx = 0
		}
		binary.LittleEndian.PutUint16(buf[rec+14:], shndx)
	}

	// --- .hash (real Sys-V chained table, built with this module's own
	// PJW hash so symLocal's walk is exercised faithfully) ---
	binary.LittleEndian.PutUint32(buf[hashOff:], nbucket)
	binary.LittleEndian.PutUint32(buf[hashOff+4:], symCount)
	bucketsOff := hashOff + 8
	chainOff := bucketsOff + nbucket*4
	for i := range buf[bucketsOff : bucketsOff+nbucket*4] {
		buf[bucketsOff+uint32(i)] = 0
	}
	for i, s := range ordered {
		if i == 0 {
			continue
		}
		h := hash.PJW(s.name)
		bIdx := h % nbucket
		headOff := bucketsOff + bIdx*4
		head := binary.LittleEndian.Uint32(buf[headOff:])
		binary.LittleEndian.PutUint32(buf[chainOff+uint32(i)*4:], head)
		binary.LittleEndian.PutUint32(buf[headOff:], uint32(i))
	}

	// --- .got ---
	// got[0], got[1] reserved (overwritten by Init); local entries follow,
	// then one reserved stub slot per external symbol.
	for i, v := range b.localVals {
		binary.LittleEndian.PutUint32(buf[gotOff+8+uint32(i)*4:], v)
	}
	extBase := gotOff + 8 + b.localGotno*4
	extIdx := uint32(0)
	for _, s := range ordered[firstGotSym:] {
		binary.LittleEndian.PutUint32(buf[extBase+extIdx*4:], s.value)
		extIdx++
	}

	return buf
}
