// Package mipsasm encodes the small set of MIPS32 instructions this linker
// needs to hand-assemble the lazy-resolve trampoline (spec §4.6, §9 "small
// assembly collaborator with a well-defined ABI"). It is not a general
// assembler: it knows exactly the instructions the trampoline uses.
package mipsasm

import "encoding/binary"

// Register numbers for the registers the trampoline touches. k0/k1 are the
// MIPS o32 ABI's reserved kernel/temporary registers — never allocated to
// user code, which makes them the only scratch registers this trampoline
// can clobber without violating the calling convention it must preserve
// (spec §4.6: "preserves all argument and return-value registers").
const (
	RegZero = 0
	RegK0   = 26
	RegK1   = 27
	RegRA   = 31
)

// Special-opcode funct codes.
const (
	fnJR   = 0x08
	fnJALR = 0x09
)

// Opcodes.
const (
	opSpecial = 0x00
	opJ       = 0x02
	opLUI     = 0x0f
	opORI     = 0x0d
)

// NOP is the canonical MIPS no-op: sll $0, $0, 0.
func NOP() uint32 { return 0 }

// LUI rt, imm  — loads imm into the upper 16 bits of rt.
func LUI(rt uint32, imm uint16) uint32 {
	return opLUI<<26 | rt<<16 | uint32(imm)
}

// ORI rt, rs, imm — rt = rs | imm.
func ORI(rs, rt uint32, imm uint16) uint32 {
	return opORI<<26 | rs<<21 | rt<<16 | uint32(imm)
}

// JR rs — jump to the address in rs (must be followed by a delay slot).
func JR(rs uint32) uint32 {
	return opSpecial<<26 | rs<<21 | fnJR
}

// JALR rd, rs — jump to rs, storing the return address in rd.
func JALR(rd, rs uint32) uint32 {
	return opSpecial<<26 | rs<<21 | rd<<11 | fnJALR
}

// LoadImmediate returns the two instructions (LUI+ORI) that load a full
// 32-bit constant into reg using $zero as LUI's rs-equivalent (LUI has no
// rs field; ORI's rs is reg itself, matching the standard MIPS li idiom).
func LoadImmediate(reg uint32, value uint32) [2]uint32 {
	hi := uint16(value >> 16)
	lo := uint16(value & 0xffff)
	return [2]uint32{LUI(reg, hi), ORI(reg, reg, lo)}
}

// Encode writes words as consecutive little-endian 32-bit instructions
// (this project targets a little-endian MIPS target, matching the rest of
// the image format).
func Encode(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// Trampoline assembles the lazy-resolve trampoline body: load helperAddr
// into $k0 and jump to it, leaving every other register — including $t8,
// which the caller side has already loaded with the dynsym index — exactly
// as the caller left it. This is the only code in the whole linker that is
// inherently architecture-specific (spec §9).
//
//	lui  $k0, hi16(helperAddr)
//	ori  $k0, $k0, lo16(helperAddr)
//	jr   $k0
//	nop
func Trampoline(helperAddr uint32) []byte {
	li := LoadImmediate(RegK0, helperAddr)
	return Encode([]uint32{li[0], li[1], JR(RegK0), NOP()})
}
