package generate

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// DynEntry is one .dynamic (tag, value) pair. Value is literal unless
// Resolve is set, in which case Resolve is called at serialize time
// (spec.md §4.5: "values may be literal or deferred via a supplied
// address-producing callback").
type DynEntry struct {
	Tag     elf.DynTag
	Value   uint64
	Resolve func() uint64
}

func (e *DynEntry) resolvedValue() uint64 {
	if e.Resolve != nil {
		return e.Resolve()
	}
	return e.Value
}

// DynamicSectionContent is .dynamic's Content: an ordered entry list,
// always null-terminated (DT_NULL) at serialize time per the output
// format's ".dynamic must be null-terminated" requirement.
type DynamicSectionContent struct {
	entries []*DynEntry
}

func NewDynamicSectionContent() *DynamicSectionContent {
	return &DynamicSectionContent{}
}

// AddLiteral appends a fixed-value entry.
func (c *DynamicSectionContent) AddLiteral(tag elf.DynTag, value uint64) {
	c.entries = append(c.entries, &DynEntry{Tag: tag, Value: value})
}

// AddDeferred appends an entry whose value is resolved lazily, e.g.
// DT_INIT_ARRAY's address once section layout is committed.
func (c *DynamicSectionContent) AddDeferred(tag elf.DynTag, resolve func() uint64) {
	c.entries = append(c.entries, &DynEntry{Tag: tag, Resolve: resolve})
}

func (c *DynamicSectionContent) Size() uint64 {
	return uint64(len(c.entries)+1) * 16 // Elf64_Dyn is two 8-byte fields
}

func (c *DynamicSectionContent) Serialize() []byte {
	var buf bytes.Buffer
	for _, e := range c.entries {
		binary.Write(&buf, binary.LittleEndian, int64(e.Tag))
		binary.Write(&buf, binary.LittleEndian, e.resolvedValue())
	}
	binary.Write(&buf, binary.LittleEndian, int64(elf.DT_NULL))
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	return buf.Bytes()
}
