package generate

import (
	"debug/elf"
	"encoding/binary"
	"testing"
)

func TestDynamicSectionNullTerminated(t *testing.T) {
	c := NewDynamicSectionContent()
	c.AddLiteral(elf.DT_NEEDED, 5)

	out := c.Serialize()
	if uint64(len(out)) != c.Size() {
		t.Fatalf("Serialize length %d != Size %d", len(out), c.Size())
	}

	lastTag := int64(binary.LittleEndian.Uint64(out[len(out)-16:]))
	lastVal := binary.LittleEndian.Uint64(out[len(out)-8:])
	if elf.DynTag(lastTag) != elf.DT_NULL || lastVal != 0 {
		t.Fatalf("expected a trailing DT_NULL,0 pair, got tag=%d val=%d", lastTag, lastVal)
	}
}

func TestDynamicSectionDeferredValueResolvedAtSerialize(t *testing.T) {
	c := NewDynamicSectionContent()
	addr := uint64(0x400000)
	c.AddDeferred(elf.DT_INIT, func() uint64 { return addr })

	addr = 0x401234 // simulate layout committing after AddDeferred was called
	out := c.Serialize()

	gotTag := int64(binary.LittleEndian.Uint64(out[0:8]))
	gotVal := binary.LittleEndian.Uint64(out[8:16])
	if elf.DynTag(gotTag) != elf.DT_INIT {
		t.Fatalf("tag = %d, want DT_INIT", gotTag)
	}
	if gotVal != 0x401234 {
		t.Fatalf("value = %#x, want the value at serialize time (%#x)", gotVal, 0x401234)
	}
}
