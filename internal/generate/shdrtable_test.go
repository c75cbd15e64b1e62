package generate

import (
	"debug/elf"
	"testing"
)

func TestShdrTableContentCommitsFields(t *testing.T) {
	strtab := NewStrTabContent()
	text := &Section{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Content: &fixedContent{size: 64}}
	symtabSec := &Section{Name: ".symtab", Type: elf.SHT_SYMTAB, Content: &fixedContent{size: 24}}

	sections := []*Section{text, symtabSec}
	nameOff := map[*Section]uint32{
		text:      strtab.Intern(text.Name),
		symtabSec: strtab.Intern(symtabSec.Name),
	}

	// Committed by a prior layout phase, as ShdrTableContent's
	// finalizer expects.
	text.Index, text.Offset, text.Addr = 1, 0x1000, 0x401000
	symtabSec.Index, symtabSec.Offset = 2, 0x2000
	symtabSec.Link = text
	symtabSec.Info = 5

	shdr := NewShdrTableContent(sections, nameOff)
	g := &Graph{}
	shdr.Register(g)
	if err := g.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	out := shdr.Serialize()
	if uint64(len(out)) != shdr.Size() {
		t.Fatalf("Serialize length %d != Size %d", len(out), shdr.Size())
	}

	textHdr := shdr.deferred[0].Record
	if textHdr.Off != 0x1000 || textHdr.Addr != 0x401000 || textHdr.Size != 64 {
		t.Fatalf("text header not committed correctly: %+v", textHdr)
	}

	symHdr := shdr.deferred[1].Record
	if symHdr.Link != uint32(text.Index) {
		t.Fatalf("sh_link = %d, want %d (the text section's committed index)", symHdr.Link, text.Index)
	}
	if symHdr.Info != 5 {
		t.Fatalf("sh_info = %d, want 5", symHdr.Info)
	}
}
