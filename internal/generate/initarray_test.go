package generate

import (
	"encoding/binary"
	"testing"
)

func TestInitArraySerializeRunsPreWriteThenEntries(t *testing.T) {
	c := NewInitArraySectionContent()

	var lateAdded bool
	c.AddPreWrite(func() {
		lateAdded = true
		c.AddEntry(func() uint64 { return 0x402000 })
	})
	c.AddEntry(func() uint64 { return 0x401000 })

	out := c.Serialize()
	if !lateAdded {
		t.Fatal("expected pre-write callback to run before entries are read")
	}
	if uint64(len(out)) != c.Size() {
		t.Fatalf("Serialize length %d != Size %d", len(out), c.Size())
	}
	if got := binary.LittleEndian.Uint64(out[0:8]); got != 0x401000 {
		t.Fatalf("entry 0 = %#x, want %#x", got, 0x401000)
	}
	if got := binary.LittleEndian.Uint64(out[8:16]); got != 0x402000 {
		t.Fatalf("entry 1 = %#x, want %#x", got, 0x402000)
	}
}

func TestInitArraySizeBeforeSerializeReflectsRegisteredEntries(t *testing.T) {
	c := NewInitArraySectionContent()
	c.AddEntry(func() uint64 { return 1 })
	c.AddEntry(func() uint64 { return 2 })
	if c.Size() != 16 {
		t.Fatalf("Size() = %d, want 16", c.Size())
	}
}
