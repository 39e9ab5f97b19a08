//go:build unix

package dll

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MmapFileLoader implements FileLoader by memory-mapping the file
// copy-on-write instead of copying it into a heap buffer, the faster
// load_file path on POSIX hosts (spec §6's load_file collaborator is
// otherwise free to pick any backing strategy, grounded on the pack's
// unix.Mmap use for zero-copy file access).
type MmapFileLoader struct{}

// LoadFile maps name MAP_PRIVATE with read/write permissions and returns
// the mapping directly. Init fixes up the GOT and every defined symbol's
// st_value in place, so the mapping has to be writable; MAP_PRIVATE keeps
// those writes copy-on-write, so the on-disk file is never touched. The
// Descriptor treats the result exactly like a heap buffer; Go never frees
// an mmap automatically, so a Descriptor built from this loader should be
// paired with UnmapFile once Close is done with it, same discipline x/sys's
// Munmap itself requires.
func (MmapFileLoader) LoadFile(name string) ([]byte, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return nil, fmt.Errorf("mmap %s: empty file", name)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", name, err)
	}
	return data, nil
}

// UnmapFile releases a mapping previously returned by LoadFile.
func UnmapFile(buf []byte) error {
	if buf == nil {
		return nil
	}
	return unix.Munmap(buf)
}
