package emit

import (
	"debug/elf"

	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/generate"
)

// unionBaseAddr is the fixed load address static-union images start
// at — no dynamic linker means no address-space-layout negotiation is
// needed, so a single conventional base suffices.
const unionBaseAddr = 0x400000

// Union synthesizes one self-contained, PLT-less ELF from every
// Module's code (spec.md §4.6): "merges every Module's code and data
// into single sections and produces PLT-less, self-contained
// binaries." PLT trampolines are not emitted as a section here.
// CollapsePLT has already turned every PLT link whose target lies
// inside the Program into a direct Normal link; a call site still
// linked to a trampoline (including the IFUNC trampolines IFuncPLTs
// installs) is emitted with its instruction bytes unchanged and no
// trampoline section behind it.
func Union(machine elf.Machine, prog *chunk.Program) ([]byte, error) {
	textBlob, order, funcOffset := collectFunctionBytes(prog)
	if len(order) == 0 {
		return nil, errNoFunctions()
	}

	shstrtab := generate.NewStrTabContent()
	strtab := generate.NewStrTabContent()

	textSec := &generate.Section{
		Name:    ".text",
		Type:    elf.SHT_PROGBITS,
		Flags:   elf.SHF_ALLOC | elf.SHF_EXECINSTR,
		Content: &fixedBlob{blob: textBlob},
	}

	// Data section index is fixed at 2 whenever any DataVariable chunk
	// exists, regardless of whether it needs relocations: the alloc
	// block always lays out as text, data, rela (spec.md §4.6's "merges
	// every Module's code and data into single sections").
	dataEm := buildDataEmission(prog, "", 2)

	entries := buildSymbolEntries(order, funcOffset, 1)
	if dataEm != nil {
		entries = append(entries, dataEm.symEntries...)
	}
	symtab := generate.NewSymbolTableContent(entries, strtab)

	strtabSec := &generate.Section{Name: ".strtab", Type: elf.SHT_STRTAB, Content: strtab}
	symtabSec := &generate.Section{
		Name: ".symtab", Type: elf.SHT_SYMTAB,
		Content: symtab,
		Link:    strtabSec,
		EntSize: 24,
	}
	shstrtabSec := &generate.Section{Name: ".shstrtab", Type: elf.SHT_STRTAB, Content: shstrtab}

	// Alloc sections (text, then data/rela/dynamic if present) stay
	// contiguous at the front so AssignAddresses' sequential virtual
	// addresses line up with the file offsets assigned below; the
	// non-alloc symtab/strtab/shstrtab trail them.
	allocSections := []*generate.Section{textSec}
	if dataEm != nil {
		allocSections = append(allocSections, dataEm.sec)
		if dataEm.relaSec != nil {
			dataEm.relaSec.Link = symtabSec
			allocSections = append(allocSections, dataEm.relaSec)
		}
	}
	var dynamicSec *generate.Section
	if dataEm != nil && dataEm.relaSec != nil {
		dynamicSec = buildDynamicSection("", dataEm.relaSec, symtabSec, strtabSec, dataEm.relocCount)
		allocSections = append(allocSections, dynamicSec)
	}

	sections := append(append([]*generate.Section{}, allocSections...), symtabSec, strtabSec, shstrtabSec)
	nameOff := map[*generate.Section]uint32{}
	for i, s := range sections {
		s.Index = i + 1 // index 0 is the reserved null section
		nameOff[s] = shstrtab.Intern(s.Name)
	}

	loadFlags := elf.PF_R | elf.PF_X
	if dataEm != nil {
		loadFlags |= elf.PF_W
	}
	loadSeg := &generate.Segment{Type: elf.PT_LOAD, Flags: loadFlags, Align: pageSize, Sections: allocSections}
	segments := []*generate.Segment{loadSeg}
	generate.AssignAddresses(segments, unionBaseAddr)
	if dynamicSec != nil {
		segments = append(segments, &generate.Segment{Type: elf.PT_DYNAMIC, Flags: elf.PF_R | elf.PF_W, Align: 8, Sections: []*generate.Section{dynamicSec}})
	}

	// File layout: Ehdr, Phdr (one entry per segment), then every
	// section's bytes, then Shdr.
	phdrOff := uint64(ehdrSize)
	dataOff := alignUp(phdrOff+uint64(len(segments))*phdrEntSize, 16)

	off := dataOff
	for _, s := range sections {
		s.Offset = off
		off += s.Size()
	}
	shoff := alignUp(off, 8)

	dataEm.finalizeDataRelocs()
	symtabSec.Info = uint32(symtab.FirstGlobalIndex())

	shdr := generate.NewShdrTableContent(sections, nameOff)
	phdr := generate.NewPhdrTableContent(segments)

	graph := &generate.Graph{}
	symtab.Register(graph)
	if dataEm != nil && dataEm.relaContent != nil {
		dataEm.relaContent.Register(graph)
	}
	shdr.Register(graph)
	phdr.Register(graph)
	if err := graph.Resolve(); err != nil {
		return nil, err
	}

	entryAddr := textSec.Addr + funcOffset[order[0]]
	if entryFunc := findEntryFunction(order); entryFunc != nil {
		entryAddr = textSec.Addr + funcOffset[entryFunc]
	}

	ehdr := writeEhdr(machine, entryAddr, phdrOff, shoff, uint16(len(segments)), uint16(len(sections)+1), uint16(len(sections)))

	out := make([]byte, shoff+64+shdr.Size())
	copy(out, ehdr)
	copy(out[phdrOff:], phdr.Serialize())
	for _, s := range sections {
		copy(out[s.Offset:], s.Content.Serialize())
	}
	// Null section header (index 0) followed by every real section's.
	copy(out[shoff:], make([]byte, 64))
	copy(out[shoff+64:], shdr.Serialize())

	return out, nil
}

func findEntryFunction(order []*chunk.Function) *chunk.Function {
	for _, f := range order {
		if f.Name() == "main" || f.Name() == "_start" {
			return f
		}
	}
	return nil
}

// fixedBlob is a Content wrapping an already-serialized byte slice,
// used for sections (like .text) whose bytes are fully determined
// before any C6 deferred resolution runs.
type fixedBlob struct{ blob []byte }

func (b *fixedBlob) Size() uint64      { return uint64(len(b.blob)) }
func (b *fixedBlob) Serialize() []byte { return b.blob }
