package dll

// Pluggable collaborators (spec §1, §6, §9): this package is pure Go and
// never executes MIPS code or touches real memory outside an image's own
// buffer. Anything that requires doing so — flushing a cache, entering a
// critical section, or actually calling a function pointer that lives
// inside a loaded image — is delegated through these hooks. internal/mipsemu
// wires all of them when it needs loaded code to actually run; plain
// fixup/lookup tests never need to touch them.
var (
	// FlushInstructionCache runs after Stage C/D of Init, once the GOT has
	// been fully fixed up (spec §4.4 Stage E, §5 ordering rule).
	FlushInstructionCache func(addr, size uint32) = func(uint32, uint32) {}

	// EnterCritical/ExitCritical bracket the cache flush (spec §5).
	EnterCritical func() = func() {}
	ExitCritical  func() = func() {}

	// CallFunction invokes a function pointer resolved from inside a loaded
	// image (a constructor, destructor, or the resolved target of a lazy
	// call). The default no-op is enough for every fixup/lookup test; S5's
	// constructor-ordering test swaps in a recording closure, and
	// internal/mipsemu's Wire points it at the emulated core so calls are
	// actually executed.
	CallFunction func(addr uint32) = func(uint32) {}
)

// FileLoader loads a named file's full contents into a heap-owned buffer
// (spec §6 load_file collaborator). Open uses this to back a descriptor it
// owns. A nil FileLoader means the file API is disabled at build time
// (spec's NO_FILE_API kind).
var ActiveFileLoader FileLoader

// FileLoader is the collaborator contract for Open.
type FileLoader interface {
	LoadFile(name string) ([]byte, error)
}
