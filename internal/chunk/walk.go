package chunk

// Walk visits root and every descendant, parent-before-child,
// left-before-right, matching spec.md §5's ordering guarantee for
// within-pass IR visits.
func Walk(root Chunk, visit func(Chunk)) {
	if root == nil {
		return
	}
	visit(root)
	for _, child := range root.Children() {
		Walk(child, visit)
	}
}

// Root walks up through Parent() links to the outermost ancestor.
func Root(c Chunk) Chunk {
	for c.Parent() != nil {
		c = c.Parent()
	}
	return c
}

// Container is satisfied by every chunk capable of owning children
// via the raw tree-splice primitives (promoted from base). The
// mutate package uses this to perform generic structural edits
// without a type switch over every concrete container kind.
type Container interface {
	Chunk
	AppendRaw(self Chunk, child Chunk)
	InsertRawBefore(self Chunk, sibling Chunk, children []Chunk) error
	RemoveRaw(target Chunk) error
}

// AppendRaw is the promoted, exported form of base.appendChild.
func (b *base) AppendRaw(self Chunk, child Chunk) { b.appendChild(self, child) }

// InsertRawBefore is the promoted, exported form of
// base.insertChildBefore.
func (b *base) InsertRawBefore(self Chunk, sibling Chunk, children []Chunk) error {
	return b.insertChildBefore(self, sibling, children)
}

// RemoveRaw is the promoted, exported form of base.removeChild.
func (b *base) RemoveRaw(target Chunk) error { return b.removeChild(target) }

// LastChild returns the final child of c, or nil if c has none.
func LastChild(c Chunk) Chunk {
	kids := c.Children()
	if len(kids) == 0 {
		return nil
	}
	return kids[len(kids)-1]
}

// IndexOf returns the index of target within parent's children, or -1.
func IndexOf(parent Chunk, target Chunk) int {
	for i, c := range parent.Children() {
		if c == target {
			return i
		}
	}
	return -1
}
