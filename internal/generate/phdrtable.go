package generate

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// linuxKernelBase is the kernel-image virtual-address convention
// (spec.md §4.5/§8 scenario 5): a LOAD segment whose p_vaddr falls at
// or above this address is a kernel-style image, and its p_paddr must
// be biased down by the same amount.
const linuxKernelBase = 0xffffffff80000000

// PhdrTableContent is one deferred elf.Prog64 per Segment. Finalizer
// sums the segment's section sizes, takes p_offset/p_vaddr from the
// first section, and applies the kernel-image p_paddr bias.
type PhdrTableContent struct {
	segments []*Segment
	deferred []*Deferred[*elf.Prog64]
}

// NewPhdrTableContent builds the program header table for segments.
// AssignAddresses must run (directly or via a finalizer ordered ahead
// of this content in the Graph) before Resolve converges, since the
// table reads committed Section.Addr/Offset values.
func NewPhdrTableContent(segments []*Segment) *PhdrTableContent {
	c := &PhdrTableContent{segments: segments}
	for _, seg := range segments {
		seg := seg
		rec := NewDeferred(&elf.Prog64{})
		rec.AddFinalizer(func(hdr *elf.Prog64) {
			hdr.Type = uint32(seg.Type)
			hdr.Flags = uint32(seg.Flags)
			hdr.Align = seg.Align

			if len(seg.Sections) > 0 {
				first := seg.Sections[0]
				seg.Offset = first.Offset
				seg.VAddr = first.Addr
			}
			seg.Filesz = sumSectionSizes(seg.Sections)
			seg.Memsz = seg.Filesz
			seg.PAddr = seg.VAddr
			if seg.VAddr&linuxKernelBase == linuxKernelBase {
				seg.PAddr = seg.VAddr - linuxKernelBase
			}

			hdr.Off = seg.Offset
			hdr.Vaddr = seg.VAddr
			hdr.Paddr = seg.PAddr
			hdr.Filesz = seg.Filesz
			hdr.Memsz = seg.Memsz
		})
		c.deferred = append(c.deferred, rec)
	}
	return c
}

// Register adds every per-segment finalizer to graph.
func (c *PhdrTableContent) Register(graph *Graph) {
	for _, d := range c.deferred {
		graph.Add(d)
	}
}

// AssignAddresses lays out every section across segments sequentially
// from base, the "overload [that] also assigns section virtual
// addresses sequentially from a supplied base" spec.md §4.5 names.
// Must run before Resolve so the per-segment finalizers above see
// committed Section.Addr/Offset values.
func AssignAddresses(segments []*Segment, base uint64) {
	addr := base
	for _, seg := range segments {
		for _, sec := range seg.Sections {
			sec.Addr = addr
			addr += sec.Size()
		}
	}
}

func (c *PhdrTableContent) Size() uint64 {
	return uint64(len(c.deferred)) * 56 // ELF64 Phdr entry size
}

func (c *PhdrTableContent) Serialize() []byte {
	var buf bytes.Buffer
	for _, d := range c.deferred {
		binary.Write(&buf, binary.LittleEndian, d.Record)
	}
	return buf.Bytes()
}
