package generate

import "testing"

func TestPagePaddingAlignsToTargetModulo(t *testing.T) {
	prev := &Section{Content: &fixedContent{size: 0x10}}
	prev.Offset = 0x100 // prevEnd = 0x110

	pad := NewPagePaddingContent(prev, 0x401500, 0x1000) // target mod 0x1000 = 0x500

	g := &Graph{}
	pad.Register(g)
	if err := g.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// prevEnd mod 0x1000 = 0x110; target mod = 0x500; padding = 0x500-0x110.
	if pad.Size() != 0x500-0x110 {
		t.Fatalf("Size() = %#x, want %#x", pad.Size(), 0x500-0x110)
	}
	if uint64(len(pad.Serialize())) != pad.Size() {
		t.Fatal("Serialize length must equal Size")
	}
}

func TestPagePaddingWrapsWhenPrevPastTargetModulo(t *testing.T) {
	prev := &Section{Content: &fixedContent{size: 0x10}}
	prev.Offset = 0x900 // prevEnd = 0x910, mod 0x1000 = 0x910

	pad := NewPagePaddingContent(prev, 0x401100, 0x1000) // target mod = 0x100

	g := &Graph{}
	pad.Register(g)
	if err := g.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := 0x1000 - 0x910 + 0x100
	if pad.Size() != uint64(want) {
		t.Fatalf("Size() = %#x, want %#x", pad.Size(), want)
	}
}

func TestPagePaddingZeroWhenAlreadyAligned(t *testing.T) {
	prev := &Section{Content: &fixedContent{size: 0x1000}}
	prev.Offset = 0

	pad := NewPagePaddingContent(prev, 0x402000, 0x1000)
	g := &Graph{}
	pad.Register(g)
	if err := g.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if pad.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", pad.Size())
	}
}
