package pass

import (
	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/link"
	"github.com/xyproto/etelf/internal/semantic"
)

// CollapsePLTPass rewrites PLT links whose trampoline now resolves to
// a function inside this Program into a direct Normal link (spec.md
// §4.4). Applied uniformly in both modes; mirror mode relies on
// LdsoRefs/ExternalSymbolLinks to re-externalize what must stay
// dynamic (§9 "Open questions").
type CollapsePLTPass struct {
	// Resolve maps a PLT trampoline's target symbol name to the
	// in-Program Function it now resolves to, or nil if still
	// external. Populated by ingestion from the symbol table.
	Resolve func(trampolineName string) *chunk.Function
}

func (p *CollapsePLTPass) Name() string { return "CollapsePLT" }

func (p *CollapsePLTPass) Run(prog *chunk.Program) error {
	walkFunctions(prog, func(_ *chunk.Module, f *chunk.Function) {
		walkInstructions(f, func(_ *chunk.Block, instr *chunk.Instruction) {
			d, ok := instr.Semantic().(semantic.Displaced)
			if !ok {
				return
			}
			l := d.Link()
			if l == nil || l.Variant != link.PLT {
				return
			}
			trampoline, ok := l.Target.(*chunk.PLTTrampoline)
			if !ok || trampoline.IsIFunc || trampoline.TargetSymbol == nil || p.Resolve == nil {
				return
			}
			target := p.Resolve(trampoline.TargetSymbol.Name)
			if target == nil || !target.IsPLTResolvable() {
				return
			}
			d.SetLink(link.NewNormal(target, link.ScopeInternal))
		})
	})
	return nil
}
