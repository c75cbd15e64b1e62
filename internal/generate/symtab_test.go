package generate

import (
	"testing"

	"github.com/xyproto/etelf/internal/symbol"
)

// TestSymbolTableSortOrderAndFirstGlobalIndex checks the P3 invariant:
// indices [0, firstGlobalIndex) are NULL∪SECTION∪LOCAL, indices
// [firstGlobalIndex, end) are GLOBAL∪UNDEF.
func TestSymbolTableSortOrderAndFirstGlobalIndex(t *testing.T) {
	entries := []*SymbolEntry{
		{Sym: &symbol.Symbol{Name: "zeta"}, Class: ClassGlobal},
		{Class: ClassNull},
		{Sym: &symbol.Symbol{Name: "alpha"}, Class: ClassLocal},
		{SectionIndex: 1, Class: ClassSection},
		{Sym: &symbol.Symbol{Name: "undef_sym"}, Class: ClassUndef},
		{Sym: &symbol.Symbol{Name: "beta"}, Class: ClassLocal},
	}
	strtab := NewStrTabContent()
	table := NewSymbolTableContent(entries, strtab)

	g := &Graph{}
	table.Register(g)
	if err := g.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	fgi := table.FirstGlobalIndex()
	for i, e := range entries {
		isLocalSide := e.Class == ClassNull || e.Class == ClassSection || e.Class == ClassLocal
		if i < fgi && !isLocalSide {
			t.Fatalf("entry %d (class %v) at index %d < firstGlobalIndex %d should be local-side", i, e.Class, e.index, fgi)
		}
		if i >= fgi && isLocalSide {
			t.Fatalf("entry %d (class %v) at index %d >= firstGlobalIndex %d should be global-side", i, e.Class, e.index, fgi)
		}
	}

	// NULL must sort first.
	if entries[0].Class != ClassNull && table.entries[0].Class != ClassNull {
		t.Fatal("expected a NULL entry to sort first")
	}
}

func TestSectionSymbolLookup(t *testing.T) {
	entries := []*SymbolEntry{
		{Class: ClassNull},
		{SectionIndex: 4, Class: ClassSection},
	}
	strtab := NewStrTabContent()
	table := NewSymbolTableContent(entries, strtab)
	g := &Graph{}
	table.Register(g)
	if err := g.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	e, ok := table.SectionSymbol(4)
	if !ok {
		t.Fatal("expected a section-symbol record for section 4")
	}
	if e.SectionIndex != 4 {
		t.Fatalf("SectionIndex = %d, want 4", e.SectionIndex)
	}

	if _, ok := table.SectionSymbol(99); ok {
		t.Fatal("expected no section-symbol record for an unregistered section")
	}
}

func TestStrTabInternDeduplicates(t *testing.T) {
	st := NewStrTabContent()
	a := st.Intern("foo")
	b := st.Intern("foo")
	if a != b {
		t.Fatalf("Intern returned different offsets for the same name: %d vs %d", a, b)
	}
	c := st.Intern("bar")
	if c == a {
		t.Fatal("distinct names must intern to distinct offsets")
	}
}
