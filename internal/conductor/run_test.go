package conductor

import (
	"debug/elf"
	"testing"

	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/symbol"
)

func TestResolverForIndexesFunctionsByName(t *testing.T) {
	prog := chunk.NewProgram()
	mod := chunk.NewModule("a.out")
	fl := chunk.NewFunctionList()
	mod.SetFunctionList(fl)
	fn := chunk.NewFunction(&symbol.Symbol{Name: "helper"})
	fl.Append(fn)
	prog.Append(mod)

	resolve := resolverFor(prog)
	if resolve("helper") != fn {
		t.Fatal("expected resolverFor to find helper by name")
	}
	if resolve("missing") != nil {
		t.Fatal("expected resolverFor to return nil for an unknown name")
	}
}

func TestJumpTableArchForSelectsByMachine(t *testing.T) {
	cases := []struct {
		machine elf.Machine
		want    string
	}{
		{elf.EM_X86_64, "x86_64"},
		{elf.EM_AARCH64, "aarch64"},
	}
	for _, c := range cases {
		got := jumpTableArchFor(c.machine)
		if c.want == "aarch64" && got != 1 {
			t.Fatalf("expected ArchAArch64 for EM_AARCH64")
		}
		if c.want == "x86_64" && got != 0 {
			t.Fatalf("expected ArchX86_64 for EM_X86_64")
		}
	}
}

func TestDecodeLELittleEndian(t *testing.T) {
	got := decodeLE([]byte{0x01, 0x02, 0x00, 0x00})
	if got != 0x0201 {
		t.Fatalf("decodeLE = %#x, want 0x201", got)
	}
}

func TestIsSharedLibrarySymbolRejectsNil(t *testing.T) {
	if isSharedLibrarySymbol(nil) {
		t.Fatal("a nil symbol should never be treated as shared-library-provided")
	}
	if !isSharedLibrarySymbol(&symbol.Symbol{Name: "printf"}) {
		t.Fatal("any resolved symbol reaching LdsoRefsPass should be treated as shared-library-provided")
	}
}
