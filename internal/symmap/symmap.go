// Package symmap implements the Symbol Map Store (spec §3, §4.2, §4.3): a
// process-wide table mapping host-executable symbol names to absolute
// addresses, built from an nm-style text dump and backed by an ELF-.hash-
// style chained hash table.
package symmap

import (
	"strconv"
	"strings"
	"sync"

	"github.com/zboralski/mipsld/internal/hash"
	"github.com/zboralski/mipsld/internal/linkerr"
	"github.com/zboralski/mipsld/internal/log"
)

// chainEnd is the sentinel written by the parser and checked by Lookup.
//
// Open question (spec §9, 3rd bullet) resolved here: the symbol map is
// host-side tooling we fully control, not a binary format shared with an
// already-linked module, so its reader is made internally consistent with
// its own writer rather than borrowing the real-ELF "stop at STN_UNDEF (0)"
// convention. Module-local .hash chains (see internal/dll) keep that
// convention instead, because there index 0 genuinely is reserved per real
// ELF semantics. See DESIGN.md for the full rationale.
const chainEnd = 0xFFFFFFFF

// acceptedTypes are the single-letter nm-style type codes this parser keeps;
// anything else is silently skipped (spec §4.2 step 5, §6).
const acceptedTypes = "TRDB"

// entry mirrors the spec's entry_table element: {hash, ptr}.
type entry struct {
	hash uint32
	addr uint64
}

// Map is one parsed symbol map: a chained hash table compatible in layout
// with ELF .hash, indexing a flat name->address table.
type Map struct {
	buckets   uint32
	entries   uint32   // allocated chain slots (an overestimate of accepted count)
	hashTable []uint32 // [buckets, entries, bucket[0..buckets), chain[0..entries)]
	entryTbl  []entry
	names     []string // kept only for diagnostics/listing, not used by Lookup
}

// Parse builds a Map from a text buffer in the nm-style dump format
// described in spec §6. It returns the number of accepted symbols.
func Parse(text []byte) (*Map, int, error) {
	entries := uint32(0)
	for _, b := range text {
		if b == '\n' {
			entries++
		}
	}
	if entries == 0 {
		// Chain slots are sized by newline count, so a buffer without any
		// newline is rejected here, even if it holds one unterminated line.
		return nil, 0, linkerr.Set(linkerr.NoSymbols)
	}

	buckets := entries // spec §4.2 step 2: an intentional, non-optimal upper bound
	m := &Map{
		buckets:   buckets,
		entries:   entries,
		hashTable: make([]uint32, 2+buckets+entries),
		entryTbl:  make([]entry, 0, entries),
	}
	m.hashTable[0] = buckets
	m.hashTable[1] = entries
	for i := range m.hashTable {
		if i >= 2 {
			m.hashTable[i] = chainEnd
		}
	}

	var index uint32
	rest := text
	for len(rest) > 0 {
		nl := indexByte(rest, '\n')
		var line []byte
		if nl == -1 {
			line = rest
			rest = nil
		} else {
			line = rest[:nl]
			rest = rest[nl+1:]
		}

		name, typ, addr, ok := parseLine(line)
		if ok && addr != 0 && strings.ContainsRune(acceptedTypes, rune(typ)) {
			m.insert(name, addr, index, buckets)
			index++
		}
	}

	if len(m.entryTbl) == 0 {
		return nil, 0, linkerr.Set(linkerr.NoSymbols)
	}

	if log.L != nil {
		log.L.Debug("symbol map parsed", log.Size(uint64(len(m.entryTbl))))
	}
	return m, len(m.entryTbl), nil
}

// insert adds one accepted (name, addr) pair at entry index idx and links it
// into its bucket's chain, appending to the end rather than the head so
// chain order matches acceptance order.
func (m *Map) insert(name string, addr uint64, idx, buckets uint32) {
	h := hash.PJW(name)
	b := h % buckets

	m.entryTbl = append(m.entryTbl, entry{hash: h, addr: addr})
	m.names = append(m.names, name)

	headSlot := 2 + b
	if m.hashTable[headSlot] == chainEnd {
		m.hashTable[headSlot] = idx
		return
	}

	cursor := m.hashTable[headSlot]
	for m.hashTable[2+buckets+cursor] != chainEnd {
		cursor = m.hashTable[2+buckets+cursor]
	}
	m.hashTable[2+buckets+cursor] = idx
}

// Lookup walks the bucket chain for name's hash and returns the first
// matching address. Match is by hash equality only (spec §4.3): this is a
// deliberate trade-off documented as a known collision risk.
func (m *Map) Lookup(name string) (uint64, error) {
	if m == nil {
		return 0, linkerr.Set(linkerr.NoMap)
	}

	h := hash.PJW(name)
	b := h % m.buckets
	cursor := m.hashTable[2+b]

	for cursor != chainEnd {
		e := m.entryTbl[cursor]
		if e.hash == h {
			return e.addr, nil
		}
		cursor = m.hashTable[2+m.buckets+cursor]
	}

	return 0, linkerr.Set(linkerr.MapSymbol)
}

// Count returns the number of accepted symbols.
func (m *Map) Count() int {
	if m == nil {
		return 0
	}
	return len(m.entryTbl)
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// parseLine splits one line into NAME TYPE ADDR [SIZE ...], discarding any
// trailing fields. NAME is truncated to 63 characters, TYPE is a single
// (uppercased) letter, and ADDR is parsed as hex with any bits above the low
// 32 discarded (nm dumps on 64-bit hosts may emit e.g. ffffffff80000000).
// ok is false unless at least the first three fields were present.
func parseLine(line []byte) (name string, typ byte, addr uint64, ok bool) {
	fields := strings.Fields(string(line))
	if len(fields) < 3 {
		return "", 0, 0, false
	}

	name = fields[0]
	if len(name) > 63 {
		name = name[:63]
	}

	typField := fields[1]
	if len(typField) == 0 {
		return "", 0, 0, false
	}
	typ = byte(strings.ToUpper(typField)[0])

	raw, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return "", 0, 0, false
	}
	addr = raw & 0xFFFFFFFF

	return name, typ, addr, true
}

// --- process-wide singleton (spec §3: "Symbol map ... process-wide") ---

var (
	globalMu  sync.Mutex
	globalMap *Map
)

// ParseSymbolMap parses text into the global symbol map, replacing (and
// discarding) any map previously loaded. Returns the accepted count, or an
// error carrying the same Kind recorded in linkerr.
func ParseSymbolMap(text []byte) (int, error) {
	m, n, err := Parse(text)
	if err != nil {
		return -1, err
	}

	globalMu.Lock()
	globalMap = m
	globalMu.Unlock()
	return n, nil
}

// UnloadSymbolMap discards the global symbol map.
func UnloadSymbolMap() {
	globalMu.Lock()
	globalMap = nil
	globalMu.Unlock()
}

// GetSymbolByName looks up name in the global symbol map.
func GetSymbolByName(name string) (uint64, error) {
	globalMu.Lock()
	m := globalMap
	globalMu.Unlock()

	if m == nil {
		return 0, linkerr.Set(linkerr.NoMap)
	}
	return m.Lookup(name)
}

// Global returns the currently loaded global map, or nil.
func Global() *Map {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalMap
}
