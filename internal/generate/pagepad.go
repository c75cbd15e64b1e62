package generate

import "fmt"

// defaultPageSize is the standard x86-64/AArch64 page granularity LOAD
// segments must respect (spec.md's output-format "page-aligned in
// both file offset and virtual address" requirement).
const defaultPageSize = 0x1000

// PagePaddingContent computes filler bytes so the *next* section's
// file offset is congruent to its virtual address modulo PageSize,
// starting from the end of prev (spec.md §4.5).
type PagePaddingContent struct {
	prev      *Section
	targetAddr uint64
	pageSize  uint64

	size uint64
}

// NewPagePaddingContent pads between prev (whose Offset/Size must
// already be committed by the time Resolve runs) and targetAddr, the
// virtual address the following section must file-align to.
func NewPagePaddingContent(prev *Section, targetAddr uint64, pageSize uint64) *PagePaddingContent {
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	return &PagePaddingContent{prev: prev, targetAddr: targetAddr, pageSize: pageSize}
}

// Register adds this content's own resolution step to graph, since
// its padding size depends on prev's committed offset/size and must
// be recomputed every pass exactly like a Deferred finalizer.
func (c *PagePaddingContent) Register(graph *Graph) {
	graph.Add(c)
}

func (c *PagePaddingContent) runOnce() []byte {
	prevEnd := c.prev.Offset + c.prev.Size()
	mod := c.targetAddr % c.pageSize
	cur := prevEnd % c.pageSize
	if cur <= mod {
		c.size = mod - cur
	} else {
		c.size = c.pageSize - cur + mod
	}
	return []byte(fmt.Sprintf("%d", c.size))
}

func (c *PagePaddingContent) Size() uint64 { return c.size }

func (c *PagePaddingContent) Serialize() []byte {
	return make([]byte, c.size)
}
