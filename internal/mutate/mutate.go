// Package mutate implements the Visitor/mutation layer (C4): tree
// traversal with structural mutation (insert, split, append) that
// triggers position recomputation, per spec.md §4.1/§4.2.
//
// Grounded on the original Egalito C++ source's ChunkMutator
// (shadowstack.cpp: "ChunkMutator m(block1, true); m.insertBefore(...)")
// — every structural edit goes through one small wrapper type instead
// of touching the tree directly, so position invalidation can never be
// forgotten at a call site.
package mutate

import (
	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/position"
	"github.com/xyproto/etelf/internal/rerror"
	"github.com/xyproto/etelf/internal/semantic"
)

// ChunkMutator wraps one container chunk and performs every
// structural edit against it, invalidating positions afterward. It
// corresponds 1:1 to the C++ source's ChunkMutator.
type ChunkMutator struct {
	target      chunk.Chunk
	recalculate bool
}

// New builds a mutator over target. recalculate mirrors the C++
// constructor's second argument: when true, the position generation
// clock is bumped (and caches invalidated) as soon as the mutator
// goes out of scope (here: after each method call, since Go has no
// destructor to hook). When false, the caller takes responsibility for
// calling Settle once a larger batch of edits completes (spec.md
// §5's happens-before fence "between passes").
func New(target chunk.Chunk, recalculate bool) *ChunkMutator {
	return &ChunkMutator{target: target, recalculate: recalculate}
}

// Settle bumps the generation clock and invalidates every Position in
// the mutated subtree's root. Call this explicitly when using a
// mutator constructed with recalculate=false once a mutation batch is
// done (spec.md §4.1: "after a batch of mutations completes ... every
// subsequent position read returns a value consistent with the final
// layout").
func (m *ChunkMutator) Settle() {
	position.Bump()
	root := chunk.Root(m.target)
	chunk.Walk(root, func(c chunk.Chunk) {
		if p := c.Position(); p != nil {
			p.Invalidate()
		}
	})
}

func (m *ChunkMutator) maybeSettle() {
	if m.recalculate {
		m.Settle()
	}
}

// Append implements "append(parent, child)" (§4.2): adds child as the
// new last child of the mutator's target. Fails with a
// programmer-error if target isn't a container (E4).
func (m *ChunkMutator) Append(child chunk.Chunk) error {
	container, ok := m.target.(chunk.Container)
	if !ok {
		return rerror.New(rerror.ProgrammerError, "append into a non-container chunk")
	}
	prev := chunk.LastChild(m.target)
	container.AppendRaw(m.target, child)
	rewireOffset(m.target, child, prev)
	m.maybeSettle()
	return nil
}

// InsertBefore implements "insert_before(sibling, children...)" (§4.2):
// splices newChildren in immediately before sibling, which must
// already be a child of the mutator's target. recalc lets callers
// (matching the C++ insertBefore(..., bool recalculate) overload used
// by ShadowStackPass) opt out of an immediate settle when they plan
// more edits.
func (m *ChunkMutator) InsertBefore(sibling chunk.Chunk, newChildren []chunk.Chunk, recalc bool) error {
	container, ok := m.target.(chunk.Container)
	if !ok {
		return rerror.New(rerror.ProgrammerError, "insert_before into a non-container chunk")
	}
	if sibling.Parent() != m.target {
		return rerror.New(rerror.ProgrammerError, "insert_before: sibling's parent is not the target block")
	}
	if err := container.InsertRawBefore(m.target, sibling, newChildren); err != nil {
		return rerror.Wrap(rerror.ProgrammerError, "insert_before failed", err)
	}
	rewireChain(m.target, sibling, newChildren)
	if recalc {
		m.Settle()
	}
	return nil
}

// Remove implements "remove(child)" (§4.2).
func (m *ChunkMutator) Remove(child chunk.Chunk) error {
	container, ok := m.target.(chunk.Container)
	if !ok {
		return rerror.New(rerror.ProgrammerError, "remove from a non-container chunk")
	}
	if err := container.RemoveRaw(child); err != nil {
		return rerror.Wrap(rerror.ProgrammerError, "remove failed", err)
	}
	m.maybeSettle()
	return nil
}

// SplitBlockBefore implements "split_block_before(instruction)" (§4.2):
// breaks the mutator's target Block at instruction; instruction and
// every instruction after it become a new Block with the same parent
// Function, inserted immediately after the original block.
func (m *ChunkMutator) SplitBlockBefore(instruction *chunk.Instruction) (*chunk.Block, error) {
	block, ok := m.target.(*chunk.Block)
	if !ok {
		return nil, rerror.New(rerror.ProgrammerError, "split_block_before requires a Block mutator target")
	}
	function, ok := block.Parent().(*chunk.Function)
	if !ok {
		return nil, rerror.New(rerror.ProgrammerError, "split_block_before: block has no Function parent")
	}

	idx := chunk.IndexOf(block, instruction)
	if idx < 0 {
		return nil, rerror.New(rerror.ProgrammerError, "split_block_before: instruction not found in block")
	}

	tail := block.Instructions()[idx:]
	newBlock := chunk.NewBlock()
	for _, instr := range tail {
		if err := New(block, false).Remove(instr); err != nil {
			return nil, err
		}
		newBlock.Append(instr)
	}

	funcMutator := New(function, false)
	next := nextSibling(function, block)
	if next == nil || funcMutator.InsertBefore(next, []chunk.Chunk{newBlock}, false) != nil {
		// block is the last child of function: fall back to append.
		function.Append(newBlock)
	}

	m.Settle()
	return newBlock, nil
}

// ReplaceSemantic implements "replace_semantic(instruction, new_semantic)"
// (§4.2): I5 guarantees the old semantic (and any Link it owned) is
// simply discarded, never shared.
func (m *ChunkMutator) ReplaceSemantic(instruction *chunk.Instruction, newSemantic semantic.InstructionSemantic) {
	instruction.SetSemantic(newSemantic)
	m.maybeSettle()
}

// --- helpers ---------------------------------------------------------

func nextSibling(parent chunk.Chunk, c chunk.Chunk) chunk.Chunk {
	kids := parent.Children()
	idx := chunk.IndexOf(parent, c)
	if idx < 0 || idx+1 >= len(kids) {
		return nil
	}
	return kids[idx+1]
}

// rewireOffset fixes up c's Offset position after it lands in parent
// immediately after prevSibling. When prevSibling is nil (c is now
// parent's first child), there is nothing to offset from, so the
// position is anchored to parent itself instead (RewireAsFirstChild) —
// otherwise Resolve would dereference a nil previous sibling.
func rewireOffset(parent chunk.Chunk, c chunk.Chunk, prevSibling chunk.Chunk) {
	if c.Position() == nil {
		return
	}
	if prevSibling == nil {
		c.Position().RewireAsFirstChild(parent)
		return
	}
	c.Position().RewireOffset(prevSibling)
}

// rewireChain fixes up Offset positions for a block of newly-inserted
// siblings plus the one that now follows them, preserving I1 ("a
// child's position is a pure function of its left siblings'
// positions and sizes").
func rewireChain(parent chunk.Chunk, oldSibling chunk.Chunk, inserted []chunk.Chunk) {
	idx := chunk.IndexOf(parent, oldSibling)
	var prev chunk.Chunk
	if idx > len(inserted) {
		kids := parent.Children()
		prev = kids[idx-len(inserted)-1]
	}
	for _, c := range inserted {
		rewireOffset(parent, c, prev)
		prev = c
	}
	rewireOffset(parent, oldSibling, prev)
}
