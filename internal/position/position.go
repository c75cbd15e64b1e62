// Package position implements the Chunk position model (C1): it
// computes, caches, and invalidates instruction addresses under IR
// mutation.
//
// Grounded on the teacher's (xyproto/c67) two-pass address assignment
// in codegen_elf_writer.go ("Regenerate code with correct addresses" —
// the teacher recomputes every symbol's address lazily after a
// structural change and re-threads it through a second compilation
// pass). Position generalizes that one-shot recompute into a
// generation-stamped cache so only the mutated region need be
// invalidated rather than the whole program.
package position

// Kind distinguishes the four position variants from spec.md §3.
type Kind int

const (
	// Absolute is a fixed virtual address, independent of siblings.
	Absolute Kind = iota
	// Offset is the address of the previous sibling plus its size.
	Offset
	// Subsequent is the address of the parent plus an offset within it.
	Subsequent
	// Generational is a cached value invalidated when an ancestor
	// (or the chunk itself) is mutated.
	Generational
)

// Addressable is anything a Position can be computed relative to: a
// previous sibling or a parent, both of which expose an address and a
// size. Chunk satisfies this directly via its own Address/Size
// methods.
type Addressable interface {
	Address() uint64
	Size() uint64
}

// Position computes an address on demand per spec.md §4.1.
type Position struct {
	kind address

	absolute   uint64
	prevSib    Addressable
	parent     Addressable
	inner      *Position
	subOffset  uint64
	generation uint64 // generation at which `cached` was computed
	cached     uint64
	hasCache   bool
}

// address is an unexported alias so Kind stays the single public enum.
type address = Kind

// clock is the global generation counter. Every batch of mutations
// that invalidates a subtree bumps it; invalidation is "mark stale",
// not "recompute now" (spec.md: "deferred recomputation").
var clock uint64

// Bump advances the global generation clock. Called once per mutation
// batch by the mutator (C4) when it releases a subtree.
func Bump() uint64 {
	clock++
	return clock
}

// CurrentGeneration returns the current value of the clock, for
// chunks recording the generation at which they were last positioned.
func CurrentGeneration() uint64 { return clock }

// NewAbsolute builds a fixed-address Position.
func NewAbsolute(addr uint64) *Position {
	return &Position{kind: Absolute, absolute: addr}
}

// NewOffset builds a Position relative to the previous sibling.
func NewOffset(prevSibling Addressable) *Position {
	return &Position{kind: Offset, prevSib: prevSibling}
}

// NewSubsequent builds a Position relative to the parent chunk.
func NewSubsequent(parent Addressable, offset uint64) *Position {
	return &Position{kind: Subsequent, parent: parent, subOffset: offset}
}

// NewGenerational wraps another position kind with a generation-stamped
// cache. Most IR chunks use this: the wrapped kind supplies the pure
// function of I1, and the generation stamp lets Invalidate mark the
// cache stale without immediately recomputing (readers tolerate a
// stale cache mid-mutation; see spec.md §4.1).
func NewGenerational(inner *Position) *Position {
	return &Position{kind: Generational, inner: inner, generation: 0}
}

// Invalidate marks a Generational position's cache stale. It is a
// no-op on the other kinds, which are always recomputed (Offset,
// Subsequent) or fixed (Absolute).
func (p *Position) Invalidate() {
	if p.kind != Generational {
		return
	}
	p.hasCache = false
}

// Resolve computes the address this position denotes.
func (p *Position) Resolve() uint64 {
	switch p.kind {
	case Absolute:
		return p.absolute
	case Offset:
		return p.prevSib.Address() + p.prevSib.Size()
	case Subsequent:
		return p.parent.Address() + p.subOffset
	case Generational:
		if p.hasCache && p.generation == clock {
			return p.cached
		}
		v := p.inner.Resolve()
		p.cached = v
		p.generation = clock
		p.hasCache = true
		return v
	default:
		return 0
	}
}

// RewireOffset attaches (or re-attaches) an Offset position's
// previous-sibling reference. Used by the mutator when a chunk is
// spliced into a new location in the tree (append/insert_before),
// since the chunk's Position is constructed before its final sibling
// is known.
func (p *Position) RewireOffset(prevSibling Addressable) {
	target := p
	if p.kind == Generational {
		target = p.inner
	}
	if target.kind != Offset {
		return
	}
	target.prevSib = prevSibling
}

// RewireAsFirstChild converts an Offset position into a Subsequent
// position anchored to parent at offset 0. Used by the mutator when a
// chunk becomes the first child of its container: there is no
// previous sibling to offset from, so the position must instead read
// off the parent's own address (I1 still holds — the position is a
// pure function of the parent, which is resolved independently of its
// children's addresses).
func (p *Position) RewireAsFirstChild(parent Addressable) {
	target := p
	if p.kind == Generational {
		target = p.inner
	}
	if target.kind != Offset {
		return
	}
	target.kind = Subsequent
	target.parent = parent
	target.subOffset = 0
}

// SetAbsolute rewrites an Absolute position's fixed address in place
// (used when an emitter assigns addresses sequentially from a base —
// spec.md §4.5 PhdrTableContent "assigns section virtual addresses
// sequentially from a supplied base").
func (p *Position) SetAbsolute(addr uint64) {
	p.kind = Absolute
	p.absolute = addr
}
