package generate

import (
	"debug/elf"
	"testing"
)

type fixedContent struct {
	size uint64
	data []byte
}

func (c *fixedContent) Size() uint64    { return c.size }
func (c *fixedContent) Serialize() []byte { return c.data }

func TestSectionSizeDelegatesToContent(t *testing.T) {
	s := &Section{Name: ".text", Content: &fixedContent{size: 42}}
	if got := s.Size(); got != 42 {
		t.Fatalf("Size() = %d, want 42", got)
	}
}

func TestSectionSizeZeroWithoutContent(t *testing.T) {
	s := &Section{Name: ".bss"}
	if got := s.Size(); got != 0 {
		t.Fatalf("Size() = %d, want 0 for a Section with no Content", got)
	}
}

func TestSumSectionSizes(t *testing.T) {
	sections := []*Section{
		{Content: &fixedContent{size: 16}},
		{Content: &fixedContent{size: 8}},
		{Content: &fixedContent{size: 100}},
	}
	if got := sumSectionSizes(sections); got != 124 {
		t.Fatalf("sumSectionSizes = %d, want 124", got)
	}
}

func TestSectionStructuralFieldsSurviveAssignment(t *testing.T) {
	link := &Section{Name: ".symtab", Type: elf.SHT_SYMTAB}
	s := &Section{Name: ".rela.text", Type: elf.SHT_RELA, Link: link, Info: 3}
	if s.Link != link {
		t.Fatal("Link field not preserved")
	}
	if s.Info != 3 {
		t.Fatalf("Info = %d, want 3", s.Info)
	}
}
