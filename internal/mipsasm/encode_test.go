package mipsasm

import "testing"

func TestLoadImmediateRoundTrips(t *testing.T) {
	li := LoadImmediate(RegK0, 0xF0001000)
	hi := li[0] & 0xffff
	lo := li[1] & 0xffff
	if hi != 0xF000 {
		t.Fatalf("hi16 = 0x%x, want 0xF000", hi)
	}
	if lo != 0x1000 {
		t.Fatalf("lo16 = 0x%x, want 0x1000", lo)
	}
}

func TestTrampolineLength(t *testing.T) {
	code := Trampoline(0xF0001000)
	if len(code) != 16 {
		t.Fatalf("trampoline length = %d bytes, want 16 (4 instructions)", len(code))
	}
}

func TestJRUsesReservedScratchRegister(t *testing.T) {
	instr := JR(RegK0)
	rs := (instr >> 21) & 0x1f
	if rs != RegK0 {
		t.Fatalf("JR rs field = %d, want RegK0 (%d)", rs, RegK0)
	}
}

func TestNOPIsZero(t *testing.T) {
	if NOP() != 0 {
		t.Fatal("NOP() must encode as the all-zero instruction")
	}
}
