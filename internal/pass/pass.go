// Package pass implements the C5 pass pipeline: CollapsePLT,
// PromoteJumps, JumpTable discovery, LdsoRefs, ExternalSymbolLinks,
// IFuncPLTs, FixEnviron, and ShadowStack, plus the fixed orderings
// Pipeline enforces for mirror and union output (spec.md §4.4).
//
// Grounded on the teacher's (xyproto/c67) `compilation_pipeline.go`
// ordered-stage structure (lex -> parse -> optimize -> codegen, run
// unconditionally in sequence) generalized to the spec's two named,
// mode-dependent fixed orders.
package pass

import (
	"fmt"

	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/logregistry"
)

// Mode selects which of the two fixed pass orders to run.
type Mode int

const (
	Mirror Mode = iota
	Union
)

// Pass is a visitor over the Program IR, matching spec.md §4.4's
// "each pass is a visitor over the IR".
type Pass interface {
	Name() string
	Run(p *chunk.Program) error
}

// Pipeline runs Mode's fixed pass order against p. Reordering is not
// permitted by the spec: this function is the single place the two
// orders are named.
func Pipeline(p *chunk.Program, mode Mode, passes Passes) error {
	var order []Pass
	switch mode {
	case Mirror:
		order = []Pass{passes.CollapsePLT, passes.PromoteJumps, passes.LdsoRefs, passes.ExternalSymbolLinks, passes.IFuncPLTs}
	case Union:
		order = []Pass{passes.FixEnviron, passes.CollapsePLT, passes.PromoteJumps, passes.LdsoRefs, passes.IFuncPLTs}
	default:
		return fmt.Errorf("programmer error: unknown pipeline mode %d", mode)
	}
	for _, ps := range order {
		if ps == nil {
			continue
		}
		logregistry.Log("pass", 1, "running %s", ps.Name())
		if err := ps.Run(p); err != nil {
			return fmt.Errorf("pass %s: %w", ps.Name(), err)
		}
	}
	return nil
}

// Passes bundles one instance of every named pass so Pipeline can
// select and order them without a factory per mode.
type Passes struct {
	CollapsePLT          Pass
	PromoteJumps          Pass
	JumpTable            Pass
	LdsoRefs             Pass
	ExternalSymbolLinks  Pass
	IFuncPLTs            Pass
	FixEnviron           Pass
	ShadowStack          Pass
}

// walkFunctions visits every Function across every Module in p, the
// common shape nearly every pass needs (spec.md §5's "parent-before-
// child, left-before-right" traversal specialized to functions).
func walkFunctions(p *chunk.Program, visit func(m *chunk.Module, f *chunk.Function)) {
	for _, m := range p.Modules() {
		fl := m.FunctionList()
		if fl == nil {
			continue
		}
		for _, f := range fl.Functions() {
			visit(m, f)
		}
	}
}

// walkInstructions visits every Instruction in every Block of f.
func walkInstructions(f *chunk.Function, visit func(b *chunk.Block, i *chunk.Instruction)) {
	for _, b := range f.Blocks() {
		for _, instr := range b.Instructions() {
			visit(b, instr)
		}
	}
}
