package pass

import (
	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/link"
	"github.com/xyproto/etelf/internal/mutate"
	"github.com/xyproto/etelf/internal/semantic"
	"github.com/xyproto/etelf/internal/symbol"
)

// IFuncPLTsPass synthesizes IFUNC-bound PLT trampolines (spec.md
// §4.4): unlike a regular PLT stub, its runtime resolution calls the
// IFUNC resolver function once and caches the result, so the
// trampoline it produces is marked IsIFunc and kept distinct from a
// plain external-symbol trampoline (SUPPLEMENTED FEATURES,
// SPEC_FULL.md).
type IFuncPLTsPass struct{}

func (p *IFuncPLTsPass) Name() string { return "IFuncPLTs" }

func (p *IFuncPLTsPass) Run(prog *chunk.Program) error {
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
			if l.Symbol.Type != symbol.TypeIFunc {
				return
			}
			t := ifuncTrampolineFor(pltList, synthesized, l.Symbol)
			d.SetLink(link.NewPLT(t))
		})
	}
	return nil
}

func ifuncTrampolineFor(pltList *chunk.PLTList, synthesized map[string]*chunk.PLTTrampoline, sym *symbol.Symbol) *chunk.PLTTrampoline {
	if t, ok := synthesized[sym.Name]; ok {
		return t
	}
	t := chunk.NewPLTTrampoline(sym, trampolineSize)
	t.IsIFunc = true
	mutate.New(pltList, true).Append(t)
	synthesized[sym.Name] = t
	return t
}
