// Package symbol holds the small, shared Symbol type referenced by
// the link graph, the Chunk IR, and the deferred symbol-table
// synthesis. It exists as its own package purely to avoid an import
// cycle between internal/link and internal/chunk (spec.md's *Link*
// variant "SymbolOnly" points at "a Symbol (no chunk yet)").
package symbol

// Bind mirrors the ELF symbol-binding classes used by SymbolInTable
// ordering in spec.md §4.5 (SymbolTableContent).
type Bind int

const (
	BindLocal Bind = iota
	BindGlobal
	BindWeak
)

// Type mirrors the handful of ELF symbol types the rewriter cares
// about (STT_FUNC / STT_OBJECT / STT_GNU_IFUNC).
type Type int

const (
	TypeNoType Type = iota
	TypeObject
	TypeFunc
	TypeIFunc
)

// Symbol is a minimal external/original symbol-table entry: just
// enough for link resolution and symbol-table re-synthesis.
type Symbol struct {
	Name         string
	Bind         Bind
	Type         Type
	SectionIndex int
	Address      uint64
	Size         uint64
}
