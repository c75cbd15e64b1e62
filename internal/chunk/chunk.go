// Package chunk implements the Chunk IR (C2): a hierarchical tree of
// Program -> Module -> Function(List) -> Block -> Instruction, plus
// data regions, laid out per spec.md §3-§4.2.
//
// Grounded on the teacher's (xyproto/c67) ExecutableBuilder, which
// accumulates code/rodata/data buffers and a `labels map[string]int`
// of named offsets (codegen_elf_writer.go). The Chunk tree generalizes
// that flat buffer-plus-label-map into a real hierarchy with
// position-tracked, independently-mutable nodes, per Design Notes §9
// ("prefer a tagged-variant enumeration with exhaustive matching in
// visitors, reserving trait-objects only for the visitor interface
// itself").
package chunk

import (
	"fmt"

	"github.com/xyproto/etelf/internal/position"
	"github.com/xyproto/etelf/internal/semantic"
	"github.com/xyproto/etelf/internal/symbol"
)

// Kind tags every concrete Chunk variant named in spec.md §3.
type Kind int

const (
	KindProgram Kind = iota
	KindModule
	KindFunctionList
	KindFunction
	KindBlock
	KindInstruction
	KindDataRegion
	KindDataSection
	KindDataVariable
	KindPLTList
	KindPLTTrampoline
	KindJumpTableList
	KindJumpTable
	KindJumpTableEntry
)

func (k Kind) String() string {
	names := [...]string{
		"Program", "Module", "FunctionList", "Function", "Block",
		"Instruction", "DataRegion", "DataSection", "DataVariable",
		"PLTList", "PLTTrampoline", "JumpTableList", "JumpTable",
		"JumpTableEntry",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// Chunk is satisfied by every node in the IR. Parent is a weak,
// non-owning reference; Children is strong ownership in emission
// order (spec.md §3).
type Chunk interface {
	Kind() Kind
	Name() string
	SetName(string)
	Parent() Chunk
	SetParent(Chunk)
	Children() []Chunk
	Position() *position.Position
	SetPosition(*position.Position)
	Address() uint64
	Size() uint64
}

// base is embedded by every concrete chunk type and provides the
// common Parent/Name/Position bookkeeping (I1, I5's "owned by their
// parent" lifecycle).
type base struct {
	name     string
	parent   Chunk
	pos      *position.Position
	children []Chunk
}

func (b *base) Name() string             { return b.name }
func (b *base) SetName(n string)         { b.name = n }
func (b *base) Parent() Chunk            { return b.parent }
func (b *base) SetParent(p Chunk)        { b.parent = p }
func (b *base) Children() []Chunk        { return b.children }
func (b *base) Position() *position.Position { return b.pos }
func (b *base) SetPosition(p *position.Position) { b.pos = p }
func (b *base) Address() uint64 {
	if b.pos == nil {
		return 0
	}
	return b.pos.Resolve()
}

// appendChild is the raw (un-invalidating) tree-splice primitive.
// spec.md §4.2 names this "append(parent, child)"; position
// invalidation is layered on top by the mutate package's
// ChunkMutator, which is the only intended caller outside ingestion.
func (b *base) appendChild(self Chunk, child Chunk) {
	child.SetParent(self)
	b.children = append(b.children, child)
}

// insertChildBefore splices children in before an existing sibling.
// Returns a programmer error (per E4/I-violation policy) if sibling
// isn't actually a child of self.
func (b *base) insertChildBefore(self Chunk, sibling Chunk, newChildren []Chunk) error {
	idx := -1
	for i, c := range b.children {
		if c == sibling {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("programmer error: insert_before sibling not found in parent %s", b.name)
	}
	for _, c := range newChildren {
		c.SetParent(self)
	}
	out := make([]Chunk, 0, len(b.children)+len(newChildren))
	out = append(out, b.children[:idx]...)
	out = append(out, newChildren...)
	out = append(out, b.children[idx:]...)
	b.children = out
	return nil
}

// removeChild deletes one child by identity.
func (b *base) removeChild(target Chunk) error {
	idx := -1
	for i, c := range b.children {
		if c == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("programmer error: remove target not found in parent %s", b.name)
	}
	b.children = append(b.children[:idx], b.children[idx+1:]...)
	target.SetParent(nil)
	return nil
}

// sumChildSizes implements the common "size is the sum of children's
// sizes" rule shared by every container chunk (I3's generalization
// beyond Function/Block to every list-like chunk).
func sumChildSizes(children []Chunk) uint64 {
	var total uint64
	for _, c := range children {
		total += c.Size()
	}
	return total
}

// --- Program ---------------------------------------------------------

// Program is the root of the IR: one Program per rewrite, containing
// every ingested Module plus any synthesized ones (e.g. the
// shadow-stack violation module).
type Program struct{ base }

func NewProgram() *Program {
	p := &Program{}
	p.name = "program"
	p.pos = position.NewGenerational(position.NewAbsolute(0))
	return p
}
func (p *Program) Kind() Kind   { return KindProgram }
func (p *Program) Size() uint64 { return sumChildSizes(p.children) }
func (p *Program) Append(child Chunk) { p.appendChild(p, child) }

// Modules returns the Program's direct Module children.
func (p *Program) Modules() []*Module {
	var out []*Module
	for _, c := range p.children {
		if m, ok := c.(*Module); ok {
			out = append(out, m)
		}
	}
	return out
}

// --- Module -----------------------------------------------------------

// Module is one ELF object (the main executable or one shared
// library) lifted into the IR.
type Module struct {
	base
	functionList  *FunctionList
	dataRegion    *DataRegion
	pltList       *PLTList
	jumpTableList *JumpTableList
	// CopyBase is the address at which this module's original bytes
	// were mapped (ElfMap.getCopyBaseAddress() in the source),
	// needed by JumpTablePass to read raw table bytes.
	CopyBase uint64
}

func NewModule(name string) *Module {
	m := &Module{}
	m.name = name
	m.pos = position.NewGenerational(position.NewAbsolute(0))
	return m
}
func (m *Module) Kind() Kind   { return KindModule }
func (m *Module) Size() uint64 { return sumChildSizes(m.children) }
func (m *Module) Append(child Chunk) { m.appendChild(m, child) }

func (m *Module) FunctionList() *FunctionList { return m.functionList }
func (m *Module) SetFunctionList(fl *FunctionList) {
	m.functionList = fl
	m.Append(fl)
}
func (m *Module) DataRegion() *DataRegion { return m.dataRegion }
func (m *Module) SetDataRegion(dr *DataRegion) {
	m.dataRegion = dr
	m.Append(dr)
}
func (m *Module) PLTList() *PLTList { return m.pltList }
func (m *Module) SetPLTList(pl *PLTList) {
	m.pltList = pl
	m.Append(pl)
}
func (m *Module) JumpTableList() *JumpTableList { return m.jumpTableList }
func (m *Module) SetJumpTableList(jl *JumpTableList) {
	m.jumpTableList = jl
	m.Append(jl)
}

// IsExecutableModule reports whether this is the "module-(executable)"
// synthetic module the jump-table cache (§6) never persists.
func (m *Module) IsExecutableModule() bool { return m.name == "module-(executable)" }

// IsEgalitoModule reports whether this is the "module-(egalito)"
// synthetic module the jump-table cache never persists.
func (m *Module) IsEgalitoModule() bool { return m.name == "module-(egalito)" }

// --- FunctionList -------------------------------------------------------

// FunctionList holds every Function in a Module.
type FunctionList struct{ base }

func NewFunctionList() *FunctionList {
	fl := &FunctionList{}
	fl.name = "function-list"
	fl.pos = position.NewGenerational(position.NewAbsolute(0))
	return fl
}
func (fl *FunctionList) Kind() Kind   { return KindFunctionList }
func (fl *FunctionList) Size() uint64 { return sumChildSizes(fl.children) }
func (fl *FunctionList) Append(child Chunk) { fl.appendChild(fl, child) }

func (fl *FunctionList) Functions() []*Function {
	out := make([]*Function, 0, len(fl.children))
	for _, c := range fl.children {
		out = append(out, c.(*Function))
	}
	return out
}

// FindContaining returns the Function whose [address, address+size)
// range contains addr, or nil. Grounded on CIter::spatial(...)
// ::findContaining in jumptablepass.cpp.
func (fl *FunctionList) FindContaining(addr uint64) *Function {
	for _, c := range fl.children {
		f := c.(*Function)
		start := f.Address()
		if addr >= start && addr < start+f.Size() {
			return f
		}
	}
	return nil
}

// --- Function -----------------------------------------------------------

// Function is a sequence of Blocks with a Symbol and an address.
type Function struct {
	base
	Symbol *symbol.Symbol
}

func NewFunction(sym *symbol.Symbol) *Function {
	f := &Function{Symbol: sym}
	if sym != nil {
		f.name = sym.Name
	}
	f.pos = position.NewGenerational(position.NewOffset(nil))
	return f
}
func (f *Function) Kind() Kind   { return KindFunction }
func (f *Function) Size() uint64 { return sumChildSizes(f.children) } // I3
func (f *Function) Append(child Chunk) { f.appendChild(f, child) }

func (f *Function) Blocks() []*Block {
	out := make([]*Block, 0, len(f.children))
	for _, c := range f.children {
		out = append(out, c.(*Block))
	}
	return out
}

// IsPLTResolvable reports whether this function can be the resolved
// target of a collapsed PLT link (CollapsePLTPass requires the target
// "now exists inside this Program").
func (f *Function) IsPLTResolvable() bool { return true }

// --- Block -----------------------------------------------------------

// Block is a straight-line run of Instructions.
type Block struct{ base }

func NewBlock() *Block {
	b := &Block{}
	b.pos = position.NewGenerational(position.NewOffset(nil))
	return b
}
func (b *Block) Kind() Kind   { return KindBlock }
func (b *Block) Size() uint64 { return sumChildSizes(b.children) } // I3
func (b *Block) Append(child Chunk) { b.appendChild(b, child) }

func (b *Block) Instructions() []*Instruction {
	out := make([]*Instruction, 0, len(b.children))
	for _, c := range b.children {
		out = append(out, c.(*Instruction))
	}
	return out
}

// --- Instruction -----------------------------------------------------------

// Instruction is a single machine instruction. I5: "Every Instruction
// has exactly one semantic; semantics are replaceable but never
// shared."
type Instruction struct {
	base
	semantic semantic.InstructionSemantic
}

func NewInstruction() *Instruction {
	i := &Instruction{}
	i.pos = position.NewGenerational(position.NewOffset(nil))
	return i
}
func (i *Instruction) Kind() Kind { return KindInstruction }
func (i *Instruction) Size() uint64 {
	if i.semantic == nil {
		return 0
	}
	return i.semantic.EncodedSize()
}

// Semantic returns this instruction's InstructionSemantic.
func (i *Instruction) Semantic() semantic.InstructionSemantic { return i.semantic }

// SetSemantic replaces the instruction's semantic in place. Chunk IR
// operation "replace_semantic(instruction, new_semantic)" (§4.2) is
// this call plus the position-invalidation the mutate package layers
// on top.
func (i *Instruction) SetSemantic(s semantic.InstructionSemantic) { i.semantic = s }

// --- DataRegion / DataSection / DataVariable ------------------------------

// DataRegion is a container of DataSections (e.g. ".data", ".rodata",
// ".bss" all lifted from one original ELF mapping).
type DataRegion struct{ base }

func NewDataRegion(name string) *DataRegion {
	dr := &DataRegion{}
	dr.name = name
	dr.pos = position.NewGenerational(position.NewAbsolute(0))
	return dr
}
func (dr *DataRegion) Kind() Kind   { return KindDataRegion }
func (dr *DataRegion) Size() uint64 { return sumChildSizes(dr.children) }
func (dr *DataRegion) Append(child Chunk) { dr.appendChild(dr, child) }

func (dr *DataRegion) Sections() []*DataSection {
	out := make([]*DataSection, 0, len(dr.children))
	for _, c := range dr.children {
		out = append(out, c.(*DataSection))
	}
	return out
}

// DataSection is one named section's worth of DataVariables.
type DataSection struct{ base }

func NewDataSection(name string) *DataSection {
	ds := &DataSection{}
	ds.name = name
	ds.pos = position.NewGenerational(position.NewOffset(nil))
	return ds
}
func (ds *DataSection) Kind() Kind   { return KindDataSection }
func (ds *DataSection) Size() uint64 { return sumChildSizes(ds.children) }
func (ds *DataSection) Append(child Chunk) { ds.appendChild(ds, child) }

func (ds *DataSection) Variables() []*DataVariable {
	out := make([]*DataVariable, 0, len(ds.children))
	for _, c := range ds.children {
		out = append(out, c.(*DataVariable))
	}
	return out
}

// DataVariable is one fixed-width slot within a DataSection, possibly
// carrying a Link to whatever it points at (used by LdsoRefsPass and
// DataRelocSectionContent).
type DataVariable struct {
	base
	width uint64
	link  any // *link.Link, kept as `any` to avoid an import cycle
}

func NewDataVariable(name string, width uint64) *DataVariable {
	dv := &DataVariable{width: width}
	dv.name = name
	dv.pos = position.NewGenerational(position.NewOffset(nil))
	return dv
}
func (dv *DataVariable) Kind() Kind   { return KindDataVariable }
func (dv *DataVariable) Size() uint64 { return dv.width }

// Link/SetLink use `any` for the same reason link.Link.Target does:
// DataVariable lives in chunk, and link imports nothing from chunk
// to avoid a cycle, so the link is attached loosely here and asserted
// by callers that import both packages (pass, generate).
func (dv *DataVariable) Link() any      { return dv.link }
func (dv *DataVariable) SetLink(l any)  { dv.link = l }

// --- PLTList / PLTTrampoline ------------------------------------------

// PLTList holds every PLTTrampoline in a Module.
type PLTList struct{ base }

func NewPLTList() *PLTList {
	pl := &PLTList{}
	pl.name = "plt-list"
	pl.pos = position.NewGenerational(position.NewAbsolute(0))
	return pl
}
func (pl *PLTList) Kind() Kind   { return KindPLTList }
func (pl *PLTList) Size() uint64 { return sumChildSizes(pl.children) }
func (pl *PLTList) Append(child Chunk) { pl.appendChild(pl, child) }

func (pl *PLTList) Trampolines() []*PLTTrampoline {
	out := make([]*PLTTrampoline, 0, len(pl.children))
	for _, c := range pl.children {
		out = append(out, c.(*PLTTrampoline))
	}
	return out
}

// PLTTrampoline is a short synthesized stub resolving to an external
// function at runtime. IsIFunc marks an IFUNC-bound trampoline, which
// CollapsePLTPass and IFuncPLTs must treat specially (SUPPLEMENTED
// FEATURES, SPEC_FULL.md).
type PLTTrampoline struct {
	base
	TargetSymbol *symbol.Symbol
	IsIFunc      bool
	size         uint64
}

func NewPLTTrampoline(target *symbol.Symbol, size uint64) *PLTTrampoline {
	t := &PLTTrampoline{TargetSymbol: target, size: size}
	if target != nil {
		t.name = "plt_" + target.Name
	}
	t.pos = position.NewGenerational(position.NewOffset(nil))
	return t
}
func (t *PLTTrampoline) Kind() Kind   { return KindPLTTrampoline }
func (t *PLTTrampoline) Size() uint64 { return t.size }

// --- JumpTableList / JumpTable / JumpTableEntry -------------------------

// JumpTableList holds every JumpTable discovered in a Module.
type JumpTableList struct{ base }

func NewJumpTableList() *JumpTableList {
	jl := &JumpTableList{}
	jl.name = "jump-table-list"
	jl.pos = position.NewGenerational(position.NewAbsolute(0))
	return jl
}
func (jl *JumpTableList) Kind() Kind   { return KindJumpTableList }
func (jl *JumpTableList) Size() uint64 { return sumChildSizes(jl.children) }
func (jl *JumpTableList) Append(child Chunk) { jl.appendChild(jl, child) }

func (jl *JumpTableList) Tables() []*JumpTable {
	out := make([]*JumpTable, 0, len(jl.children))
	for _, c := range jl.children {
		out = append(out, c.(*JumpTable))
	}
	return out
}

// JumpTable is one discovered indirect-jump dispatch table.
type JumpTable struct {
	base
	address         uint64
	instrAddress    uint64
	targetBase      uint64
	scale           int
	entries         int // -1 if unknown
}

func NewJumpTable(address, instrAddress, targetBase uint64, scale, entries int) *JumpTable {
	jt := &JumpTable{
		address: address, instrAddress: instrAddress,
		targetBase: targetBase, scale: scale, entries: entries,
	}
	jt.pos = position.NewGenerational(position.NewAbsolute(address))
	return jt
}
func (jt *JumpTable) Kind() Kind   { return KindJumpTable }
func (jt *JumpTable) Size() uint64 { return sumChildSizes(jt.children) }
func (jt *JumpTable) Append(child Chunk) { jt.appendChild(jt, child) }

func (jt *JumpTable) TableAddress() uint64  { return jt.address }
func (jt *JumpTable) InstrAddress() uint64  { return jt.instrAddress }
func (jt *JumpTable) TargetBase() uint64    { return jt.targetBase }
func (jt *JumpTable) Scale() int            { return jt.scale }
func (jt *JumpTable) EntryCount() int       { return jt.entries }
func (jt *JumpTable) SetEntryCount(n int)   { jt.entries = n }

func (jt *JumpTable) Entries() []*JumpTableEntry {
	out := make([]*JumpTableEntry, 0, len(jt.children))
	for _, c := range jt.children {
		out = append(out, c.(*JumpTableEntry))
	}
	return out
}

// JumpTableEntry is one raw slot of a JumpTable, carrying a Link to
// its resolved (or Unresolved) destination. Its size is the table's
// scale (1, 2, or 4 bytes), not a sum of children.
type JumpTableEntry struct {
	base
	width uint64
	link  any // *link.Link
}

func NewJumpTableEntry(l any, scale int) *JumpTableEntry {
	e := &JumpTableEntry{link: l, width: uint64(scale)}
	e.pos = position.NewGenerational(position.NewOffset(nil))
	return e
}
func (e *JumpTableEntry) Kind() Kind   { return KindJumpTableEntry }
func (e *JumpTableEntry) Size() uint64 { return e.width }
func (e *JumpTableEntry) Link() any     { return e.link }
func (e *JumpTableEntry) SetLink(l any) { e.link = l }
