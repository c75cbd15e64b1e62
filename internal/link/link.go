// Package link implements the Link graph (C3): typed cross-references
// between IR nodes.
//
// Grounded on the teacher's (xyproto/c67) GOT/PLT indirection model in
// plt_got.go ("GOT[3..n] = PLT stubs (initial values point to PLT push
// instructions)") — the same idea of a reference that may resolve to a
// not-yet-known target generalizes here into the spec's tagged Link
// variants. A Link.Target is kept as `any` (never chunk.Chunk
// directly) specifically so this package does not need to import the
// chunk package — chunk.Chunk is a cyclic dependency otherwise, since
// Instruction (in chunk) embeds a Semantic (in package semantic) which
// in turn embeds a Link. Callers that need the concrete chunk type
// assert it themselves (they already import both packages).
package link

import "github.com/xyproto/etelf/internal/symbol"

// Variant is the tagged kind of a Link, per spec.md §3.
type Variant int

const (
	// Normal points at another Chunk.
	Normal Variant = iota
	// PLT points at a PLTTrampoline (stored in Target as `any`).
	PLT
	// DataOffset points at a DataRegion plus a byte offset.
	DataOffset
	// SymbolOnly points at a Symbol with no chunk materialized yet.
	SymbolOnly
	// LDSOLoader names a symbol resolved by the dynamic loader at
	// runtime; it is never an in-IR reference.
	LDSOLoader
	// Unresolved records a raw virtual address with no known chunk.
	Unresolved
)

func (v Variant) String() string {
	switch v {
	case Normal:
		return "normal"
	case PLT:
		return "plt"
	case DataOffset:
		return "data-offset"
	case SymbolOnly:
		return "symbol-only"
	case LDSOLoader:
		return "ldso-loader"
	case Unresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// Scope further qualifies a Normal link, matching the C++ source's
// Link::SCOPE_* constants (used by ShadowStackPass to mark its
// synthesized jne as an "external jump").
type Scope int

const (
	ScopeInternal Scope = iota
	ScopeExternalJump
	ScopeExternalCode
)

// Link is a typed, weak cross-reference from a source chunk's
// semantic to another chunk, symbol, or address. Links are owned by
// their source semantic (I5: "semantics are replaceable but never
// shared") and never keep their target alive (Design Notes §9).
type Link struct {
	Variant Variant
	Scope   Scope

	// Target holds the resolved destination. Its dynamic type depends
	// on Variant:
	//   Normal      -> chunk.Chunk (asserted by the caller)
	//   PLT         -> chunk.Chunk representing the PLTTrampoline
	//   DataOffset  -> chunk.Chunk representing the DataRegion
	//   SymbolOnly  -> nil (see Symbol)
	//   LDSOLoader  -> nil (see TargetName)
	//   Unresolved  -> nil (see Address)
	Target any

	// Offset is valid for DataOffset links: the byte offset into the
	// target DataRegion.
	Offset uint64

	// TargetName is valid for LDSOLoader links: the name to be
	// resolved by the dynamic loader at runtime.
	TargetName string

	// Address is valid for Unresolved links: the literal virtual
	// address with no known chunk.
	Address uint64

	// Symbol is valid for SymbolOnly links.
	Symbol *symbol.Symbol
}

// NewNormal builds a Normal link to another chunk (passed as `any`;
// the caller already knows it is a chunk.Chunk).
func NewNormal(target any, scope Scope) *Link {
	return &Link{Variant: Normal, Scope: scope, Target: target}
}

// NewPLT builds a PLT link to a trampoline chunk.
func NewPLT(trampoline any) *Link {
	return &Link{Variant: PLT, Target: trampoline}
}

// NewDataOffset builds a DataOffset link into a DataRegion chunk.
func NewDataOffset(region any, offset uint64) *Link {
	return &Link{Variant: DataOffset, Target: region, Offset: offset}
}

// NewSymbolOnly builds a SymbolOnly link.
func NewSymbolOnly(sym *symbol.Symbol) *Link {
	return &Link{Variant: SymbolOnly, Symbol: sym}
}

// NewLDSOLoader builds an LDSOLoader link by name.
func NewLDSOLoader(name string) *Link {
	return &Link{Variant: LDSOLoader, TargetName: name}
}

// NewUnresolved builds an Unresolved link to a raw address.
func NewUnresolved(addr uint64) *Link {
	return &Link{Variant: Unresolved, Address: addr}
}

// IsExternalJump reports whether this is a Normal link explicitly
// scoped as an external jump (the shape of ShadowStackPass's
// synthesized violation branch).
func (l *Link) IsExternalJump() bool {
	return l.Variant == Normal && l.Scope == ScopeExternalJump
}
