package emit

import (
	"debug/elf"

	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/elfmap"
	"github.com/xyproto/etelf/internal/generate"
)

// mirrorAddressMargin is added past the original image's highest
// LOAD-segment virtual address before the rewritten copy's sections
// are laid out, so the two images never overlap in address space
// (spec.md §4.6: "assigning new virtual addresses in a range that
// does not collide with original LOAD segments").
const mirrorAddressMargin = 0x10000000

// Mirror preserves the original ElfMap's bytes verbatim as the
// output file's prefix (round-trip R1's "resulting functions' byte
// contents equal the originals'"), then appends new sections holding
// the rewritten Program's functions: its own .text/.symtab/.strtab
// plus an ELF sub-image (Ehdr/Phdr/Shdr) describing just the
// appended region, loaded at an address range past every original
// LOAD segment.
func Mirror(original *elfmap.ElfMap, machine elf.Machine, prog *chunk.Program) ([]byte, error) {
	raw := original.Raw()
	base := rewrittenBase(original)

	textBlob, order, funcOffset := collectFunctionBytes(prog)
	if len(order) == 0 {
		return nil, errNoFunctions()
	}

	shstrtab := generate.NewStrTabContent()
	strtab := generate.NewStrTabContent()

	textSec := &generate.Section{
		Name: ".text.rewritten", Type: elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Content: &fixedBlob{blob: textBlob},
	}

	// Same fixed data-section index convention Union uses: 2 whenever
	// any DataVariable chunk exists (spec.md §4.6's data-carrying
	// requirement applies to the rewritten copy too, not just union
	// mode's merge).
	dataEm := buildDataEmission(prog, ".rewritten", 2)

	entries := buildSymbolEntries(order, funcOffset, 1)
	if dataEm != nil {
		entries = append(entries, dataEm.symEntries...)
	}
	symtab := generate.NewSymbolTableContent(entries, strtab)
	strtabSec := &generate.Section{Name: ".strtab.rewritten", Type: elf.SHT_STRTAB, Content: strtab}
	symtabSec := &generate.Section{
		Name: ".symtab.rewritten", Type: elf.SHT_SYMTAB,
		Content: symtab, Link: strtabSec, EntSize: 24,
	}
	shstrtabSec := &generate.Section{Name: ".shstrtab.rewritten", Type: elf.SHT_STRTAB, Content: shstrtab}

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
		dynamicSec = buildDynamicSection(".rewritten", dataEm.relaSec, symtabSec, strtabSec, dataEm.relocCount)
		allocSections = append(allocSections, dynamicSec)
	}

	sections := append(append([]*generate.Section{}, allocSections...), symtabSec, strtabSec, shstrtabSec)
	nameOff := map[*generate.Section]uint32{}
	for i, s := range sections {
		s.Index = i + 1
		nameOff[s] = shstrtab.Intern(s.Name)
	}

	loadFlags := elf.PF_R | elf.PF_X
	if dataEm != nil {
		loadFlags |= elf.PF_W
	}
	loadSeg := &generate.Segment{Type: elf.PT_LOAD, Flags: loadFlags, Align: pageSize, Sections: allocSections}
	segments := []*generate.Segment{loadSeg}
	generate.AssignAddresses(segments, base)
	if dynamicSec != nil {
		segments = append(segments, &generate.Segment{Type: elf.PT_DYNAMIC, Flags: elf.PF_R | elf.PF_W, Align: 8, Sections: []*generate.Section{dynamicSec}})
	}

	// The appended region starts immediately after the original file,
	// page-aligned so the new LOAD segment's file offset and virtual
	// address satisfy the same page-congruence the original image
	// had to.
	appendOrigin := alignUp(uint64(len(raw)), pageSize)
	phdrOff := appendOrigin + ehdrSize
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

	subEhdr := writeEhdr(machine, entryAddr, phdrOff-appendOrigin, shoff-appendOrigin, uint16(len(segments)), uint16(len(sections)+1), uint16(len(sections)))

	appendedLen := (shoff - appendOrigin) + 64 + shdr.Size()
	out := make([]byte, appendOrigin+appendedLen)
	copy(out, raw)
	copy(out[appendOrigin:], subEhdr)
	copy(out[phdrOff:], phdr.Serialize())
	for _, s := range sections {
		copy(out[s.Offset:], s.Content.Serialize())
	}
	copy(out[shoff:], make([]byte, 64))
	copy(out[shoff+64:], shdr.Serialize())

	return out, nil
}

// rewrittenBase picks a virtual address range past every original
// LOAD segment, leaving mirrorAddressMargin of headroom.
func rewrittenBase(original *elfmap.ElfMap) uint64 {
	ef := original.ELF()
	var maxEnd uint64
	if ef != nil {
		for _, prog := range ef.Progs {
			if prog.Type != elf.PT_LOAD {
				continue
			}
			end := prog.Vaddr + prog.Memsz
			if end > maxEnd {
				maxEnd = end
			}
		}
	}
	if maxEnd == 0 {
		maxEnd = unionBaseAddr
	}
	return alignUp(maxEnd+mirrorAddressMargin, pageSize)
}
