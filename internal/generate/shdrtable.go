package generate

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// ShdrTableContent is one deferred elf.Section64 per Section (spec.md
// §4.5): "Finalizer copies sh_type/flags/addr/link from the Section's
// header proxy, sets sh_offset to the Section's committed offset,
// sh_size to the Content's committed size, sh_link to the referenced
// Section's committed index."
type ShdrTableContent struct {
	sections []*Section
	nameOff  map[*Section]uint32 // offset into the accompanying shstrtab
	deferred []*Deferred[*elf.Section64]
}

// NewShdrTableContent builds the section header table for sections,
// whose names are interned at nameOff offsets into a shstrtab Content
// built alongside it (symmetrical to SymbolTableContent's string
// table).
func NewShdrTableContent(sections []*Section, nameOff map[*Section]uint32) *ShdrTableContent {
	c := &ShdrTableContent{sections: sections, nameOff: nameOff}
	for _, sec := range sections {
		sec := sec
		rec := NewDeferred(&elf.Section64{})
		rec.AddFinalizer(func(hdr *elf.Section64) {
			hdr.Name = c.nameOff[sec]
			hdr.Type = uint32(sec.Type)
			hdr.Flags = uint64(sec.Flags)
			hdr.Addr = sec.Addr
			hdr.Off = sec.Offset
			hdr.Size = sec.Size()
			hdr.Info = sec.Info
			hdr.Addralign = 1
			hdr.Entsize = sec.EntSize
			if sec.Link != nil {
				hdr.Link = uint32(sec.Link.Index)
			}
		})
		c.deferred = append(c.deferred, rec)
	}
	return c
}

// Register adds every per-section finalizer to graph.
func (c *ShdrTableContent) Register(graph *Graph) {
	for _, d := range c.deferred {
		graph.Add(d)
	}
}

func (c *ShdrTableContent) Size() uint64 {
	return uint64(len(c.deferred)) * 64 // ELF64 Shdr entry size
}

func (c *ShdrTableContent) Serialize() []byte {
	var buf bytes.Buffer
	for _, d := range c.deferred {
		binary.Write(&buf, binary.LittleEndian, d.Record)
	}
	return buf.Bytes()
}
