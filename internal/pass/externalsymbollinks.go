package pass

import (
	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/link"
	"github.com/xyproto/etelf/internal/mutate"
	"github.com/xyproto/etelf/internal/semantic"
	"github.com/xyproto/etelf/internal/symbol"
)

// trampolineSize is the fixed byte length of a synthesized PLT
// trampoline stub (a single GOT-indirect jump).
const trampolineSize = 16

// ExternalSymbolLinksPass synthesizes PLT trampolines for residual
// external calls that CollapsePLT could not resolve in-Program
// (spec.md §4.4): "Synthesize PLT trampolines for residual external
// calls ... the synthesized trampolines become first-class chunks
// participating in I4." §9's Open Questions keep this path's
// disabled branch inactive: no ExternalSymbol->PLT rewrite at the
// relocation level (only these IR links become PLT links), symbols
// stay sorted by name (see internal/generate/symtab.go).
type ExternalSymbolLinksPass struct{}

func (p *ExternalSymbolLinksPass) Name() string { return "ExternalSymbolLinks" }

func (p *ExternalSymbolLinksPass) Run(prog *chunk.Program) error {
	for _, m := range prog.Modules() {
		synthesized := make(map[string]*chunk.PLTTrampoline)
		pltList := m.PLTList()
		if pltList == nil {
			pltList = chunk.NewPLTList()
			m.SetPLTList(pltList)
		}

		walkInModule(m, func(instr *chunk.Instruction) {
			d, ok := instr.Semantic().(semantic.Displaced)
			if !ok {
				return
			}
			l := d.Link()
			if l == nil || l.Variant != link.SymbolOnly || l.Symbol == nil {
				return
			}
			if l.Symbol.Type == symbol.TypeIFunc {
				return // handled by IFuncPLTs
			}
			t := trampolineFor(pltList, synthesized, l.Symbol)
			d.SetLink(link.NewPLT(t))
		})
	}
	return nil
}

func trampolineFor(pltList *chunk.PLTList, synthesized map[string]*chunk.PLTTrampoline, sym *symbol.Symbol) *chunk.PLTTrampoline {
	if t, ok := synthesized[sym.Name]; ok {
		return t
	}
	t := chunk.NewPLTTrampoline(sym, trampolineSize)
	mutate.New(pltList, true).Append(t)
	synthesized[sym.Name] = t
	return t
}

func walkInModule(m *chunk.Module, visit func(*chunk.Instruction)) {
	fl := m.FunctionList()
	if fl == nil {
		return
	}
	for _, f := range fl.Functions() {
		for _, b := range f.Blocks() {
			for _, instr := range b.Instructions() {
				visit(instr)
			}
		}
	}
}
