package generate

import (
	"debug/elf"
	"testing"

	"github.com/xyproto/etelf/internal/symbol"
)

func sectionSymbolFor(t *testing.T, sectionIndex int) *SymbolEntry {
	t.Helper()
	entries := []*SymbolEntry{
		{Class: ClassNull},
		{SectionIndex: sectionIndex, Class: ClassSection},
	}
	table := NewSymbolTableContent(entries, NewStrTabContent())
	g := &Graph{}
	table.Register(g)
	if err := g.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	sym, ok := table.SectionSymbol(sectionIndex)
	if !ok {
		t.Fatal("expected a section symbol")
	}
	return sym
}

func TestInstrPCRelativeRelocSpecialAddend(t *testing.T) {
	sym := sectionSymbolFor(t, 1)
	// call rel32: instr at 0x1000, disp field starts at offset 1,
	// whole instruction is 5 bytes -> special addend -(5-1) = -4.
	entry := NewInstrPCRelativeReloc(0x1000, 1, 5, 0x40, sym, elf.R_X86_64_PC32)
	if entry.Offset != 0x1001 {
		t.Fatalf("Offset = %#x, want %#x", entry.Offset, 0x1001)
	}
	if entry.Addend != 0x40-4 {
		t.Fatalf("Addend = %d, want %d", entry.Addend, 0x40-4)
	}
}

func TestRelocSectionContentAssignsSymbolIndex(t *testing.T) {
	sym := sectionSymbolFor(t, 1)
	entry := NewInstrPCRelativeReloc(0x2000, 2, 6, 0x10, sym, elf.R_X86_64_PC32)

	rs := NewRelocSectionContent([]*RelocEntry{entry})
	g := &Graph{}
	rs.Register(g)
	if err := g.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	hdr := rs.deferred[0].Record
	wantInfo := elf64RInfo(uint32(sym.Index()), elf.R_X86_64_PC32)
	if hdr.Info != wantInfo {
		t.Fatalf("Info = %#x, want %#x", hdr.Info, wantInfo)
	}
}

func TestGlobDatRelocForUndefinedDynamicSymbol(t *testing.T) {
	entries := []*SymbolEntry{
		{Class: ClassNull},
		{Sym: &symbol.Symbol{Name: "puts"}, Class: ClassUndef},
	}
	table := NewSymbolTableContent(entries, NewStrTabContent())
	g := &Graph{}
	table.Register(g)
	if err := g.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	undef := entries[1]
	reloc := NewGlobDatReloc(0x404000, undef)
	if reloc.Type != elf.R_X86_64_GLOB_DAT {
		t.Fatalf("Type = %v, want R_X86_64_GLOB_DAT", reloc.Type)
	}
	if reloc.Addend != 0 {
		t.Fatalf("GLOB_DAT relocations carry no addend, got %d", reloc.Addend)
	}
}

func TestInternalDataRelocTargetsSectionSymbol(t *testing.T) {
	sym := sectionSymbolFor(t, 3)
	reloc := NewInternalDataReloc(0x405000, 0x18, sym)
	if reloc.Type != elf.R_X86_64_64 {
		t.Fatalf("Type = %v, want R_X86_64_64", reloc.Type)
	}
	if reloc.Symbol.SectionIndex != 3 {
		t.Fatalf("relocation should target section 3's symbol, got %d", reloc.Symbol.SectionIndex)
	}
}
