package generate

import "encoding/binary"

// InitArraySectionContent is .init_array's Content: at serialize
// time it runs a list of pre-write callbacks (so late additions —
// e.g. a pass registering one more constructor right before emission
// — still land in the table), then writes the concatenation of each
// entry callback's resolved address as raw native-endian bytes
// (spec.md §4.5).
type InitArraySectionContent struct {
	preWrite []func()
	entries  []func() uint64
}

func NewInitArraySectionContent() *InitArraySectionContent {
	return &InitArraySectionContent{}
}

// AddPreWrite registers a callback run once, before any entry
// address is read, letting a late pass append more entries first.
func (c *InitArraySectionContent) AddPreWrite(f func()) {
	c.preWrite = append(c.preWrite, f)
}

// AddEntry registers one constructor-pointer entry, resolved lazily
// at serialize time.
func (c *InitArraySectionContent) AddEntry(f func() uint64) {
	c.entries = append(c.entries, f)
}

func (c *InitArraySectionContent) Size() uint64 {
	return uint64(len(c.entries)) * 8
}

func (c *InitArraySectionContent) Serialize() []byte {
	for _, f := range c.preWrite {
		f()
	}
	buf := make([]byte, len(c.entries)*8)
	for i, f := range c.entries {
		binary.LittleEndian.PutUint64(buf[i*8:], f())
	}
	return buf
}
