package disasm

import (
	"testing"

	"github.com/xyproto/etelf/internal/semantic"
)

func TestDecodeX86RetAndJmp(t *testing.T) {
	sem, n := Decode(X86_64, []byte{0xC3}, nil)
	if sem.Kind() != semantic.Return || n != 1 {
		t.Fatalf("ret: got kind %v n %d", sem.Kind(), n)
	}

	code := []byte{0xE9, 0x05, 0x00, 0x00, 0x00}
	sem, n = Decode(X86_64, code, nil)
	if sem.Kind() != semantic.ControlFlow || n != 5 {
		t.Fatalf("jmp rel32: got kind %v n %d", sem.Kind(), n)
	}
	cf := sem.(*semantic.ControlFlowSemantic)
	if cf.DispOffset() != 1 || cf.DispWidth() != 4 {
		t.Fatalf("jmp rel32: unexpected disp fields %+v", cf)
	}
}

func TestDecodeX86JccShortAndNear(t *testing.T) {
	sem, n := Decode(X86_64, []byte{0x74, 0x10}, nil) // je rel8
	if sem.Kind() != semantic.ControlFlow || n != 2 {
		t.Fatalf("je rel8: got kind %v n %d", sem.Kind(), n)
	}
	if !sem.(*semantic.ControlFlowSemantic).IsShortForm() {
		t.Fatalf("je rel8 should report short form")
	}

	code := []byte{0x0F, 0x84, 0x00, 0x00, 0x00, 0x00} // je rel32
	sem, n = Decode(X86_64, code, nil)
	if sem.Kind() != semantic.ControlFlow || n != 6 {
		t.Fatalf("je rel32: got kind %v n %d", sem.Kind(), n)
	}
}

func TestDecodeX86IndirectJumpAndCall(t *testing.T) {
	// jmp *0x10(%rip) -> FF /4, mod=00 rm=101 (RIP-relative)
	code := []byte{0xFF, 0x25, 0x10, 0x00, 0x00, 0x00}
	sem, n := Decode(X86_64, code, nil)
	if sem.Kind() != semantic.IndirectJump || n != 6 {
		t.Fatalf("indirect jmp: got kind %v n %d", sem.Kind(), n)
	}

	// call *%rax -> FF /2, mod=11 rm=000
	sem, n = Decode(X86_64, []byte{0xFF, 0xD0}, nil)
	if sem.Kind() != semantic.IndirectCall || n != 2 {
		t.Fatalf("indirect call: got kind %v n %d", sem.Kind(), n)
	}
}

func TestDecodeAArch64Branches(t *testing.T) {
	// RET
	sem, n := Decode(AArch64, []byte{0xC0, 0x03, 0x5F, 0xD6}, nil)
	if sem.Kind() != semantic.Return || n != 4 {
		t.Fatalf("ret: got kind %v n %d", sem.Kind(), n)
	}

	// B #0 (0x14000000 little-endian)
	sem, n = Decode(AArch64, []byte{0x00, 0x00, 0x00, 0x14}, nil)
	if sem.Kind() != semantic.ControlFlow || n != 4 {
		t.Fatalf("b: got kind %v n %d", sem.Kind(), n)
	}

	// BR x0 (0xD61F0000 little-endian)
	sem, n = Decode(AArch64, []byte{0x00, 0x00, 0x1F, 0xD6}, nil)
	if sem.Kind() != semantic.IndirectJump || n != 4 {
		t.Fatalf("br: got kind %v n %d", sem.Kind(), n)
	}
}

func TestDecodeUnrecognizedFallsBackToRawByte(t *testing.T) {
	sem, n := Decode(X86_64, []byte{0x90}, nil) // nop
	if sem.Kind() != semantic.RawByte || n != 1 {
		t.Fatalf("nop fallback: got kind %v n %d", sem.Kind(), n)
	}
}
