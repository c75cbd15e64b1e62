package generate

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"sort"

	"github.com/xyproto/etelf/internal/symbol"
)

// SymClass orders SymbolTableContent's entries (spec.md §4.5):
// "class ∈ {NULL, SECTION, LOCAL, GLOBAL, UNDEF}".
type SymClass int

const (
	ClassNull SymClass = iota
	ClassSection
	ClassLocal
	ClassGlobal
	ClassUndef
)

// SymbolEntry is one to-be-emitted symbol-table record before sort
// order and index assignment are committed.
type SymbolEntry struct {
	Sym          *symbol.Symbol
	Class        SymClass
	SectionIndex int // target section for SECTION-class entries
	Value        uint64
	Size         uint64

	index int // committed position, set by sortAndAssign
}

// Index returns this entry's final position in the symbol table,
// valid only after the owning SymbolTableContent has run its
// finalizer at least once.
func (e *SymbolEntry) Index() int { return e.index }

// StrTabContent is a simple null-terminated string table, shared by
// SymbolTableContent for symbol names and by ShdrTableContent for
// section names.
type StrTabContent struct {
	buf    []byte
	offset map[string]uint32
}

// NewStrTabContent builds an empty table with the mandatory leading
// NUL (offset 0 means "no name" per the ELF convention).
func NewStrTabContent() *StrTabContent {
	return &StrTabContent{buf: []byte{0}, offset: map[string]uint32{"": 0}}
}

// Intern returns name's offset into the table, appending it if this
// is the first occurrence.
func (t *StrTabContent) Intern(name string) uint32 {
	if off, ok := t.offset[name]; ok {
		return off
	}
	off := uint32(len(t.buf))
	t.buf = append(t.buf, []byte(name)...)
	t.buf = append(t.buf, 0)
	t.offset[name] = off
	return off
}

func (t *StrTabContent) Size() uint64   { return uint64(len(t.buf)) }
func (t *StrTabContent) Serialize() []byte { return t.buf }

// SymbolTableContent is the ordered ElfSym list spec.md §4.5 names.
// Entries sort by the composite key (symbol_class, null-first, name,
// section_index); firstGlobalIndex is the count of NULL+SECTION+LOCAL
// entries, required by sh_info. A side index maps section indices to
// their section-symbol records for relocation finalizers.
type SymbolTableContent struct {
	entries   []*SymbolEntry
	strtab    *StrTabContent
	deferred  []*Deferred[*elf.Sym64]
	bySection map[int]*SymbolEntry

	firstGlobalIndex int
	sorted           bool
}

// NewSymbolTableContent takes ownership of entries (including the
// mandatory leading NULL entry, which the caller is expected to have
// included) and the string table their names intern into.
func NewSymbolTableContent(entries []*SymbolEntry, strtab *StrTabContent) *SymbolTableContent {
	c := &SymbolTableContent{entries: entries, strtab: strtab, bySection: map[int]*SymbolEntry{}}
	c.sortAndAssign()
	for _, e := range c.entries {
		e := e
		rec := NewDeferred(&elf.Sym64{})
		rec.AddFinalizer(func(hdr *elf.Sym64) {
			name := ""
			if e.Sym != nil {
				name = e.Sym.Name
			}
			hdr.Name = c.strtab.Intern(name)
			hdr.Value = e.Value
			hdr.Size = e.Size
			hdr.Info = symInfo(e)
			hdr.Shndx = uint16(e.SectionIndex)
		})
		c.deferred = append(c.deferred, rec)
	}
	return c
}

// sortAndAssign applies the composite sort key and commits each
// entry's final index plus the section->symbol side index.
func (c *SymbolTableContent) sortAndAssign() {
	sort.SliceStable(c.entries, func(i, j int) bool {
		a, b := c.entries[i], c.entries[j]
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		an, bn := "", ""
		if a.Sym != nil {
			an = a.Sym.Name
		}
		if b.Sym != nil {
			bn = b.Sym.Name
		}
		if an != bn {
			return an < bn
		}
		return a.SectionIndex < b.SectionIndex
	})

	c.firstGlobalIndex = 0
	for i, e := range c.entries {
		e.index = i
		if e.Class == ClassSection {
			c.bySection[e.SectionIndex] = e
		}
		if e.Class == ClassNull || e.Class == ClassSection || e.Class == ClassLocal {
			c.firstGlobalIndex = i + 1
		}
	}
	c.sorted = true
}

// FirstGlobalIndex is the one-past-last local symbol index, committed
// to .symtab's sh_info per spec.md's output-format requirement.
func (c *SymbolTableContent) FirstGlobalIndex() int { return c.firstGlobalIndex }

// SectionSymbol returns the section-symbol record for sectionIndex,
// used by relocation finalizers targeting an internal data reference.
func (c *SymbolTableContent) SectionSymbol(sectionIndex int) (*SymbolEntry, bool) {
	e, ok := c.bySection[sectionIndex]
	return e, ok
}

// Register adds every per-entry finalizer to graph.
func (c *SymbolTableContent) Register(graph *Graph) {
	for _, d := range c.deferred {
		graph.Add(d)
	}
}

func symInfo(e *SymbolEntry) uint8 {
	bind := elf.STB_LOCAL
	switch e.Class {
	case ClassGlobal, ClassUndef:
		bind = elf.STB_GLOBAL
	}
	typ := elf.STT_NOTYPE
	if e.Sym != nil {
		switch e.Sym.Type {
		case symbol.TypeObject:
			typ = elf.STT_OBJECT
		case symbol.TypeFunc:
			typ = elf.STT_FUNC
		case symbol.TypeIFunc:
			typ = elf.STT_GNU_IFUNC
		}
	}
	if e.Class == ClassSection {
		typ = elf.STT_SECTION
	}
	return uint8(bind)<<4 | uint8(typ)&0xf
}

func (c *SymbolTableContent) Size() uint64 {
	return uint64(len(c.deferred)) * 24 // ELF64 Sym entry size
}

func (c *SymbolTableContent) Serialize() []byte {
	var buf bytes.Buffer
	for _, d := range c.deferred {
		binary.Write(&buf, binary.LittleEndian, d.Record)
	}
	return buf.Bytes()
}
