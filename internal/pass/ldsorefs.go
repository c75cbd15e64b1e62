package pass

import (
	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/link"
	"github.com/xyproto/etelf/internal/semantic"
	"github.com/xyproto/etelf/internal/symbol"
)

// LdsoRefsPass rewrites data-variable references pointing at shared-
// library-provided symbols into LDSOLoader links, so the final image
// emits R_*_GLOB_DAT relocations (spec.md §4.4).
type LdsoRefsPass struct {
	// IsSharedLibrarySymbol reports whether sym is resolved only by a
	// shared library at runtime (vs. defined inside this Program).
	IsSharedLibrarySymbol func(sym *symbol.Symbol) bool
}

func (p *LdsoRefsPass) Name() string { return "LdsoRefs" }

func (p *LdsoRefsPass) Run(prog *chunk.Program) error {
	if p.IsSharedLibrarySymbol == nil {
		return nil
	}
	walkFunctions(prog, func(_ *chunk.Module, f *chunk.Function) {
		walkInstructions(f, func(_ *chunk.Block, instr *chunk.Instruction) {
			linked, ok := instr.Semantic().(*semantic.LinkedSemantic)
			if !ok {
				return
			}
			p.rewrite(linked)
		})
	})

	for _, m := range prog.Modules() {
		dr := m.DataRegion()
		if dr == nil {
			continue
		}
		for _, sec := range dr.Sections() {
			for _, v := range sec.Variables() {
				l, ok := v.Link().(*link.Link)
				if !ok || l == nil {
					continue
				}
				if l.Variant == link.SymbolOnly && p.IsSharedLibrarySymbol(l.Symbol) {
					v.SetLink(link.NewLDSOLoader(l.Symbol.Name))
				}
			}
		}
	}
	return nil
}

func (p *LdsoRefsPass) rewrite(linked *semantic.LinkedSemantic) {
	l := linked.Link()
	if l == nil || l.Variant != link.SymbolOnly || l.Symbol == nil {
		return
	}
	if p.IsSharedLibrarySymbol(l.Symbol) {
		linked.SetLink(link.NewLDSOLoader(l.Symbol.Name))
	}
}
