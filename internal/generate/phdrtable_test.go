package generate

import (
	"debug/elf"
	"testing"
)

// TestPhdrTableAppliesKernelBaseBias mirrors the spec's scenario 5:
// an input whose p_vaddr = 0xffffffff81000000 must emit p_paddr =
// 0x01000000.
func TestPhdrTableAppliesKernelBaseBias(t *testing.T) {
	sec := &Section{Content: &fixedContent{size: 0x100}}
	sec.Offset = 0x2000
	sec.Addr = 0xffffffff81000000

	seg := &Segment{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Align: 0x1000, Sections: []*Section{sec}}

	phdr := NewPhdrTableContent([]*Segment{seg})
	g := &Graph{}
	phdr.Register(g)
	if err := g.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if seg.PAddr != 0x01000000 {
		t.Fatalf("PAddr = %#x, want %#x", seg.PAddr, 0x01000000)
	}
	if phdr.deferred[0].Record.Paddr != 0x01000000 {
		t.Fatalf("committed Prog64.Paddr = %#x, want %#x", phdr.deferred[0].Record.Paddr, 0x01000000)
	}
}

func TestPhdrTableLeavesUserspaceAddressesUnbiased(t *testing.T) {
	sec := &Section{Content: &fixedContent{size: 0x10}}
	sec.Offset = 0x0
	sec.Addr = 0x400000

	seg := &Segment{Type: elf.PT_LOAD, Sections: []*Section{sec}}
	phdr := NewPhdrTableContent([]*Segment{seg})
	g := &Graph{}
	phdr.Register(g)
	if err := g.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if seg.PAddr != 0x400000 {
		t.Fatalf("PAddr = %#x, want unbiased %#x", seg.PAddr, 0x400000)
	}
}

func TestAssignAddressesSequential(t *testing.T) {
	a := &Section{Content: &fixedContent{size: 0x10}}
	b := &Section{Content: &fixedContent{size: 0x20}}
	seg := &Segment{Sections: []*Section{a, b}}

	AssignAddresses([]*Segment{seg}, 0x400000)

	if a.Addr != 0x400000 {
		t.Fatalf("a.Addr = %#x, want %#x", a.Addr, 0x400000)
	}
	if b.Addr != 0x400010 {
		t.Fatalf("b.Addr = %#x, want %#x", b.Addr, 0x400010)
	}
}
