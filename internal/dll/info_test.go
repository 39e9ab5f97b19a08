package dll

import "testing"

func TestInspectReportsLayoutWithoutMutatingImage(t *testing.T) {
	b := newImageBuilder()
	b.addExternalFunc("puts", 0x1000)
	buf := b.build()
	orig := append([]byte(nil), buf...)

	info, err := Inspect(buf)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.SymbolCount != 2 {
		t.Fatalf("SymbolCount = %d, want 2 (STN_UNDEF + puts)", info.SymbolCount)
	}
	if info.GotLength != 1 {
		t.Fatalf("GotLength = %d, want 1", info.GotLength)
	}
	if string(buf) != string(orig) {
		t.Fatal("Inspect mutated the image buffer, want read-only")
	}
}

func TestInspectRejectsNilImage(t *testing.T) {
	if _, err := Inspect(nil); err == nil {
		t.Fatal("Inspect(nil) succeeded, want an error")
	}
}
