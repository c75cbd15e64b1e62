// Package emit implements the two C7 emitters (spec.md §4.6): the
// mirror ELF writer (keeps the original image, appends a rewritten
// copy) and the static-union writer (merges every Module into one
// self-contained, PLT-less executable). Both compose the C6 deferred
// section/segment graph in internal/generate.
//
// Grounded on the teacher's (xyproto/c67) codegen_elf_writer.go: its
// "lay out sections, assign addresses, then patch" structure is
// exactly the Section/Segment + Graph.Resolve sequence used here,
// generalized from one fixed executable shape into the two modes
// spec.md names.
package emit

import (
	"debug/elf"
	"encoding/binary"

	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/generate"
	"github.com/xyproto/etelf/internal/link"
	"github.com/xyproto/etelf/internal/rerror"
	"github.com/xyproto/etelf/internal/symbol"
)

const pageSize = 0x1000

// ehdrSize/phdrEntSize are the fixed ELF64 header sizes
// used to lay out the file before any section content is known.
const (
	ehdrSize    = 64
	phdrEntSize = 56
)

// collectFunctionBytes concatenates every Function's encoded
// instruction bytes into one blob, in Module/FunctionList order,
// recording each Function's byte offset within it.
func collectFunctionBytes(prog *chunk.Program) (blob []byte, order []*chunk.Function, funcOffset map[*chunk.Function]uint64) {
	funcOffset = map[*chunk.Function]uint64{}
	for _, m := range prog.Modules() {
		fl := m.FunctionList()
		if fl == nil {
			continue
		}
		for _, f := range fl.Functions() {
			funcOffset[f] = uint64(len(blob))
			order = append(order, f)
			for _, b := range f.Blocks() {
				for _, instr := range b.Instructions() {
					sem := instr.Semantic()
					if sem == nil {
						continue
					}
					blob = append(blob, sem.Bytes()...)
				}
			}
		}
	}
	return blob, order, funcOffset
}

// buildSymbolEntries produces one SymbolEntry per Function (STT_FUNC,
// global bind) plus the mandatory leading NULL entry and one SECTION
// entry for the code section, matching the SymbolTableContent shape
// internal/generate expects.
func buildSymbolEntries(order []*chunk.Function, funcOffset map[*chunk.Function]uint64, textSectionIndex int) []*generate.SymbolEntry {
	entries := []*generate.SymbolEntry{
		{Class: generate.ClassNull},
		{Class: generate.ClassSection, SectionIndex: textSectionIndex},
	}
	for _, f := range order {
		sym := f.Symbol
		if sym == nil {
			sym = &symbol.Symbol{Name: f.Name(), Type: symbol.TypeFunc, Bind: symbol.BindGlobal}
		}
		entries = append(entries, &generate.SymbolEntry{
			Sym:          sym,
			Class:        generate.ClassGlobal,
			SectionIndex: textSectionIndex,
			Value:        funcOffset[f],
			Size:         f.Size(),
		})
	}
	return entries
}

// writeEhdr encodes a minimal ELF64 header for the host executable
// format spec.md's output format names (x86-64 or AArch64).
func writeEhdr(machine elf.Machine, entry, phoff, shoff uint64, phnum, shnum, shstrndx uint16) []byte {
	var hdr elf.Header64
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Type = uint16(elf.ET_EXEC)
	hdr.Machine = uint16(machine)
	hdr.Version = uint32(elf.EV_CURRENT)
	hdr.Entry = entry
	hdr.Phoff = phoff
	hdr.Shoff = shoff
	hdr.Ehsize = ehdrSize
	hdr.Phentsize = phdrEntSize
	hdr.Phnum = phnum
	hdr.Shentsize = 64
	hdr.Shnum = shnum
	hdr.Shstrndx = shstrndx

	buf := make([]byte, 0, ehdrSize)
	w := newByteWriter(&buf)
	binary.Write(w, binary.LittleEndian, hdr)
	return buf
}

// newByteWriter adapts a *[]byte into an io.Writer for binary.Write.
func newByteWriter(buf *[]byte) *byteWriter { return &byteWriter{buf: buf} }

type byteWriter struct{ buf *[]byte }

func (w *byteWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

// alignUp rounds v up to the next multiple of align.
func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

func errNoFunctions() error {
	return rerror.New(rerror.Transformation, "emit: program contains no functions to emit")
}

// collectDataVariables concatenates every Module's DataVariable chunks
// into one zero-initialized blob, in Module/DataRegion/DataSection
// order, recording each variable's byte offset within it. Ingestion
// (internal/conductor/ingest_data.go) only ever lifts a variable's
// name, size, and (for GLOB_DAT-patched slots) its Link — never the
// original section's initializer bytes — so the blob is correctly
// sized and placed but its content is zero-filled.
func collectDataVariables(prog *chunk.Program) (blob []byte, order []*chunk.DataVariable, varOffset map[*chunk.DataVariable]uint64) {
	varOffset = map[*chunk.DataVariable]uint64{}
	for _, m := range prog.Modules() {
		dr := m.DataRegion()
		if dr == nil {
			continue
		}
		for _, ds := range dr.Sections() {
			for _, v := range ds.Variables() {
				varOffset[v] = uint64(len(blob))
				order = append(order, v)
				blob = append(blob, make([]byte, v.Size())...)
			}
		}
	}
	return blob, order, varOffset
}

// pendingReloc defers a GLOB_DAT entry's absolute offset: entry.Offset
// holds a data-section-relative value until finalizeDataRelocs adds the
// section's committed virtual address, once AssignAddresses has run.
type pendingReloc struct {
	entry *generate.RelocEntry
	off   uint64
}

// dataEmission is everything buildDataEmission produces for an emitter
// to fold into its own section list, symbol table, and segment layout.
type dataEmission struct {
	sec         *generate.Section // merged ".data"(.rewritten) section, nil if the Program carries no data
	relaSec     *generate.Section // ".rela.dyn"(.rewritten) section, nil if nothing needs a load-time fixup
	relaContent *generate.DataRelocSectionContent
	symEntries  []*generate.SymbolEntry // data-variable + synthesized UNDEF entries to fold into the caller's symtab
	relocCount  int
	pending     []pendingReloc
}

// buildDataEmission lifts every Module's DataVariable chunks (spec.md
// §4.6's "merges every Module's code and data into single sections")
// into a data Section plus a GLOB_DAT relocation Section for every
// variable whose Link still names a symbol to be resolved at load
// time. suffix is "" for Union and ".rewritten" for Mirror, matching
// each emitter's other section names. dataSectionIndex is the Section
// index the caller will assign emission.sec once it lands in the final
// sections slice — needed up front since SymbolEntry.SectionIndex must
// be set before SymbolTableContent sorts and commits indices.
func buildDataEmission(prog *chunk.Program, suffix string, dataSectionIndex int) *dataEmission {
	blob, order, varOffset := collectDataVariables(prog)
	if len(order) == 0 {
		return nil
	}

	e := &dataEmission{
		sec: &generate.Section{
			Name: ".data" + suffix, Type: elf.SHT_PROGBITS,
			Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Content: &fixedBlob{blob: blob},
		},
	}

	undefByName := map[string]*generate.SymbolEntry{}
	var relocs []*generate.RelocEntry
	for _, v := range order {
		e.symEntries = append(e.symEntries, &generate.SymbolEntry{
			Sym:          &symbol.Symbol{Name: v.Name(), Type: symbol.TypeObject, Bind: symbol.BindGlobal},
			Class:        generate.ClassGlobal,
			SectionIndex: dataSectionIndex,
			Value:        varOffset[v],
			Size:         v.Size(),
		})

		name, ok := externalTargetName(v)
		if !ok {
			continue
		}
		undef, ok := undefByName[name]
		if !ok {
			undef = &generate.SymbolEntry{
				Sym:   &symbol.Symbol{Name: name, Type: symbol.TypeObject, Bind: symbol.BindGlobal},
				Class: generate.ClassUndef,
			}
			undefByName[name] = undef
			e.symEntries = append(e.symEntries, undef)
		}
		entry := generate.NewGlobDatReloc(varOffset[v], undef)
		relocs = append(relocs, entry)
		e.pending = append(e.pending, pendingReloc{entry: entry, off: varOffset[v]})
	}

	if len(relocs) > 0 {
		content := generate.NewDataRelocSectionContent(relocs)
		e.relaContent = content
		e.relaSec = &generate.Section{
			Name: ".rela.dyn" + suffix, Type: elf.SHT_RELA,
			Flags: elf.SHF_ALLOC, Content: content, EntSize: 24,
		}
		e.relocCount = len(relocs)
	}
	return e
}

// externalTargetName reports the symbol name a DataVariable's own Link
// still needs resolved at load time, covering both shapes LdsoRefsPass
// leaves behind: a fully narrowed LDSOLoader link, or (if LdsoRefs
// never ran) the SymbolOnly link it would have narrowed from. A
// DataOffset link (an internal reference into another DataRegion) is
// left unrelocated: nothing in the pipeline installs that variant on a
// DataVariable link today.
func externalTargetName(v *chunk.DataVariable) (string, bool) {
	l, ok := v.Link().(*link.Link)
	if !ok || l == nil {
		return "", false
	}
	switch l.Variant {
	case link.LDSOLoader:
		return l.TargetName, l.TargetName != ""
	case link.SymbolOnly:
		if l.Symbol != nil {
			return l.Symbol.Name, l.Symbol.Name != ""
		}
	}
	return "", false
}

// finalizeDataRelocs converts every pending relocation's data-section-
// relative offset into an absolute one, once AssignAddresses has
// committed e.sec.Addr. Must run before graph.Resolve.
func (e *dataEmission) finalizeDataRelocs() {
	if e == nil {
		return
	}
	for _, p := range e.pending {
		p.entry.Offset = e.sec.Addr + p.off
	}
}

// buildDynamicSection assembles a minimal, always-null-terminated
// .dynamic section (spec.md §6: ".dynamic must be null-terminated",
// already guaranteed by DynamicSectionContent.Serialize) describing
// relaSec's location for the dynamic loader, and pointing DT_SYMTAB/
// DT_STRTAB at the symbol table the relocations' entries index into.
func buildDynamicSection(suffix string, relaSec, symtabSec, strtabSec *generate.Section, relocCount int) *generate.Section {
	dyn := generate.NewDynamicSectionContent()
	dyn.AddDeferred(elf.DT_RELA, func() uint64 { return relaSec.Addr })
	dyn.AddLiteral(elf.DT_RELASZ, uint64(relocCount)*24)
	dyn.AddLiteral(elf.DT_RELAENT, 24)
	dyn.AddDeferred(elf.DT_SYMTAB, func() uint64 { return symtabSec.Addr })
	dyn.AddDeferred(elf.DT_STRTAB, func() uint64 { return strtabSec.Addr })
	return &generate.Section{
		Name: ".dynamic" + suffix, Type: elf.SHT_DYNAMIC,
		Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Content: dyn, Link: strtabSec, EntSize: 16,
	}
}
