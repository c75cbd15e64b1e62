package generate

import "debug/elf"

// Content is one Section's payload: raw bytes, a deferred list/map of
// items, or a computed padding region (spec.md §4.5).
type Content interface {
	// Size returns the content's current committed size in bytes.
	// Before Resolve converges this may be provisional.
	Size() uint64
	// Serialize returns the final byte encoding. Only valid after the
	// owning Graph has resolved.
	Serialize() []byte
}

// Section is one file-resident ELF section: a name, a Content, and
// the structural fields (index, offset, address) a ShdrTableContent
// finalizer commits once assigned.
type Section struct {
	Name    string
	Type    elf.SectionType
	Flags   elf.SectionFlag
	Content Content

	// Structural fields, committed before any content finalizer reads
	// them (spec.md §4.5's "committed before any content-dependent
	// fields" split).
	Index  int
	Offset uint64
	Addr   uint64
	Link   *Section // sh_link target, e.g. a relocation section's symtab
	Info   uint32   // sh_info, e.g. firstGlobalIndex for .symtab
	EntSize uint64
}

// Size delegates to Content.
func (s *Section) Size() uint64 {
	if s.Content == nil {
		return 0
	}
	return s.Content.Size()
}

// Segment is one program-header group: an ordered list of the
// Sections it spans plus the structural fields a PhdrTableContent
// finalizer commits.
type Segment struct {
	Type  elf.ProgType
	Flags elf.ProgFlag
	Align uint64

	Sections []*Section

	Offset uint64
	VAddr  uint64
	PAddr  uint64
	Filesz uint64
	Memsz  uint64
}

// sumSectionSizes is the common "segment size is the sum of its
// sections' sizes" rule PhdrTableContent's finalizer applies.
func sumSectionSizes(sections []*Section) uint64 {
	var total uint64
	for _, s := range sections {
		total += s.Size()
	}
	return total
}
