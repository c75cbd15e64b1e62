package generate

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// RelocEntry is one to-be-emitted relocation before the symbol table
// side is resolved to a concrete index.
type RelocEntry struct {
	Offset uint64
	Addend int64
	Type   elf.R_X86_64
	Symbol *SymbolEntry // resolved via SymbolTableContent once sorted
}

func elf64RInfo(sym uint32, typ elf.R_X86_64) uint64 {
	return uint64(sym)<<32 | uint64(typ)
}

// RelocSectionContent is the instruction-embedded, PC-relative
// relocation table (spec.md §4.5): "r_offset = instr_address +
// displacement_offset; r_addend = target_offset − section_base −
// displacement_field_tail_distance", i.e. the special addend offset
// for PC-relative x86-64 is -(sem_size - disp_offset), already folded
// into each entry's Addend by the caller building InstrPCRelative
// entries.
type RelocSectionContent struct {
	entries  []*RelocEntry
	deferred []*Deferred[*elf.Rela64]
}

// NewInstrPCRelativeReloc builds one PC-relative relocation for an
// instruction-embedded reference. instrAddr+dispOffset is the patch
// site; semSize/dispOffset give the special addend offset
// -(semSize-dispOffset); targetOffset is the symbol-relative target.
func NewInstrPCRelativeReloc(instrAddr uint64, dispOffset int, semSize int, targetOffset int64, sym *SymbolEntry, typ elf.R_X86_64) *RelocEntry {
	special := -(int64(semSize) - int64(dispOffset))
	return &RelocEntry{
		Offset: instrAddr + uint64(dispOffset),
		Addend: targetOffset + special,
		Type:   typ,
		Symbol: sym,
	}
}

func NewRelocSectionContent(entries []*RelocEntry) *RelocSectionContent {
	c := &RelocSectionContent{entries: entries}
	for _, e := range entries {
		e := e
		rec := NewDeferred(&elf.Rela64{})
		rec.AddFinalizer(func(hdr *elf.Rela64) {
			hdr.Off = e.Offset
			hdr.Addend = e.Addend
			symIdx := uint32(0)
			if e.Symbol != nil {
				symIdx = uint32(e.Symbol.Index())
			}
			hdr.Info = elf64RInfo(symIdx, e.Type)
		})
		c.deferred = append(c.deferred, rec)
	}
	return c
}

func (c *RelocSectionContent) Register(graph *Graph) {
	for _, d := range c.deferred {
		graph.Add(d)
	}
}

func (c *RelocSectionContent) Size() uint64 { return uint64(len(c.deferred)) * 24 }

func (c *RelocSectionContent) Serialize() []byte {
	var buf bytes.Buffer
	for _, d := range c.deferred {
		binary.Write(&buf, binary.LittleEndian, d.Record)
	}
	return buf.Bytes()
}

// RelocSectionContent2 is the direct (non-PC-relative) relocation
// table: PLT GOT-slot fixups (R_X86_64_JUMP_SLOT) and absolute
// instruction-embedded references, where the addend is simply
// target_offset - section_base with no tail-distance correction.
type RelocSectionContent2 struct {
	entries  []*RelocEntry
	deferred []*Deferred[*elf.Rela64]
}

func NewDirectReloc(offset uint64, targetOffset, sectionBase int64, sym *SymbolEntry, typ elf.R_X86_64) *RelocEntry {
	return &RelocEntry{Offset: offset, Addend: targetOffset - sectionBase, Type: typ, Symbol: sym}
}

func NewRelocSectionContent2(entries []*RelocEntry) *RelocSectionContent2 {
	c := &RelocSectionContent2{entries: entries}
	for _, e := range entries {
		e := e
		rec := NewDeferred(&elf.Rela64{})
		rec.AddFinalizer(func(hdr *elf.Rela64) {
			hdr.Off = e.Offset
			hdr.Addend = e.Addend
			symIdx := uint32(0)
			if e.Symbol != nil {
				symIdx = uint32(e.Symbol.Index())
			}
			hdr.Info = elf64RInfo(symIdx, e.Type)
		})
		c.deferred = append(c.deferred, rec)
	}
	return c
}

func (c *RelocSectionContent2) Register(graph *Graph) {
	for _, d := range c.deferred {
		graph.Add(d)
	}
}

func (c *RelocSectionContent2) Size() uint64 { return uint64(len(c.deferred)) * 24 }

func (c *RelocSectionContent2) Serialize() []byte {
	var buf bytes.Buffer
	for _, d := range c.deferred {
		binary.Write(&buf, binary.LittleEndian, d.Record)
	}
	return buf.Bytes()
}

// DataRelocSectionContent handles DataVariable relocations (spec.md
// §4.5): an undefined dynamic symbol gets a fresh UNDEF entry in
// .dynsym and an R_X86_64_GLOB_DAT relocation; an internal data
// reference targets the owning data section's section-symbol with
// R_X86_64_64.
type DataRelocSectionContent struct {
	entries  []*RelocEntry
	deferred []*Deferred[*elf.Rela64]
}

// NewGlobDatReloc relocates a data variable against an external
// dynamic symbol resolved at load time.
func NewGlobDatReloc(variableAddr uint64, sym *SymbolEntry) *RelocEntry {
	return &RelocEntry{Offset: variableAddr, Addend: 0, Type: elf.R_X86_64_GLOB_DAT, Symbol: sym}
}

// NewInternalDataReloc relocates a data variable against the section
// symbol of the section it actually resides in (an internal
// reference needing no dynamic symbol of its own).
func NewInternalDataReloc(variableAddr uint64, targetOffset int64, sectionSym *SymbolEntry) *RelocEntry {
	return &RelocEntry{Offset: variableAddr, Addend: targetOffset, Type: elf.R_X86_64_64, Symbol: sectionSym}
}

func NewDataRelocSectionContent(entries []*RelocEntry) *DataRelocSectionContent {
	c := &DataRelocSectionContent{entries: entries}
	for _, e := range entries {
		e := e
		rec := NewDeferred(&elf.Rela64{})
		rec.AddFinalizer(func(hdr *elf.Rela64) {
			hdr.Off = e.Offset
			hdr.Addend = e.Addend
			symIdx := uint32(0)
			if e.Symbol != nil {
				symIdx = uint32(e.Symbol.Index())
			}
			hdr.Info = elf64RInfo(symIdx, e.Type)
		})
		c.deferred = append(c.deferred, rec)
	}
	return c
}

func (c *DataRelocSectionContent) Register(graph *Graph) {
	for _, d := range c.deferred {
		graph.Add(d)
	}
}

func (c *DataRelocSectionContent) Size() uint64 { return uint64(len(c.deferred)) * 24 }

func (c *DataRelocSectionContent) Serialize() []byte {
	var buf bytes.Buffer
	for _, d := range c.deferred {
		binary.Write(&buf, binary.LittleEndian, d.Record)
	}
	return buf.Bytes()
}
