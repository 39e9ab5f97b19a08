// Package linkerr implements the process-wide last-error channel described
// in spec §4.8 / §7: a small, read-and-clear accessor that mirrors whatever
// idiomatic Go error was most recently returned by the loader, symbol map,
// or lookup paths. Components set it through Set at each failure site (the
// "standardised failure macro") and also return a normal error — callers may
// use either.
package linkerr

import "sync"

// Kind enumerates the error categories from spec §7.
type Kind int

const (
	// None means no error is pending.
	None Kind = iota
	File          // file not found
	FileMalloc    // buffer allocation for file contents
	FileRead      // read failed mid-file
	NoMap         // lookup before parse_symbol_map
	MapMalloc     // map allocation
	NoSymbols     // map parsed but accepted zero entries
	DLLNull       // null image passed to init
	DLLMalloc     // descriptor allocation
	DLLFormat     // .dynamic constraint violation
	NoFileAPI     // file API disabled at build time
	MapSymbol     // name not in map
	DLLSymbol     // name not in module
)

// messages gives the human-readable text for each Kind.
var messages = map[Kind]string{
	File:       "file not found",
	FileMalloc: "failed to allocate file buffer",
	FileRead:   "read failed mid-file",
	NoMap:      "no symbol map loaded",
	MapMalloc:  "failed to allocate symbol map",
	NoSymbols:  "symbol map parsed but accepted zero entries",
	DLLNull:    "null image passed to init",
	DLLMalloc:  "failed to allocate module descriptor",
	DLLFormat:  ".dynamic constraint violation",
	NoFileAPI:  "file API disabled at build time",
	MapSymbol:  "symbol not found in map",
	DLLSymbol:  "symbol not found in module",
}

// Error implements the error interface over a Kind, so the two idioms
// (return-value error and process-wide channel) carry the same message.
type Error struct {
	Kind Kind
}

func (e *Error) Error() string {
	if msg, ok := messages[e.Kind]; ok {
		return msg
	}
	return "unknown linker error"
}

var (
	mu   sync.Mutex
	last Kind = None
)

// Set records kind as the most recent error and returns it wrapped as an
// error, for use at the originating failure site:
//
//	return nil, linkerr.Set(linkerr.DLLFormat)
func Set(kind Kind) error {
	mu.Lock()
	last = kind
	mu.Unlock()
	return &Error{Kind: kind}
}

// Last reads and clears the last error. It returns (None, "") if no error is
// pending, matching the "returns a pointer to the message, or null if NONE"
// contract of spec §4.8 — the empty string stands in for the null pointer.
func Last() (Kind, string) {
	mu.Lock()
	k := last
	last = None
	mu.Unlock()

	if k == None {
		return None, ""
	}
	return k, messages[k]
}

// Peek reads the last error without clearing it, leaving the pending kind
// in place for a later Last call.
func Peek() Kind {
	mu.Lock()
	defer mu.Unlock()
	return last
}
