package pass

import (
	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/link"
	"github.com/xyproto/etelf/internal/mutate"
	"github.com/xyproto/etelf/internal/semantic"
	"github.com/xyproto/etelf/internal/symbol"
)

// ShadowStackMode selects the instrumentation strategy (spec.md §4.4).
type ShadowStackMode int

const (
	ModeConstant ShadowStackMode = iota
	ModeGSSegmented
)

const (
	violationFunctionName = "egalito_shadowstack_violation"
	endbrViolationName     = "egalito_endbr_violation"
)

// ShadowStackPass inserts architecture-specific prologue/epilogue
// byte sequences around every non-excluded function and every return
// instruction (spec.md §4.4), instrumenting against return-address
// corruption. Byte sequences are taken verbatim from the Egalito
// source's shadowstack.cpp comments documenting the exact encodings.
type ShadowStackPass struct {
	Mode ShadowStackMode

	violationTarget *chunk.Function
}

func (p *ShadowStackPass) Name() string { return "ShadowStack" }

func (p *ShadowStackPass) Run(prog *chunk.Program) error {
	for _, m := range prog.Modules() {
		p.visitModule(m)
	}
	return nil
}

// visitModule synthesizes the violation sentinel function (a single
// ud2 trap) once per module, then instruments every function.
func (p *ShadowStackPass) visitModule(m *chunk.Module) {
	fl := m.FunctionList()
	if fl == nil {
		fl = chunk.NewFunctionList()
		m.SetFunctionList(fl)
	}

	sym := &symbol.Symbol{Name: violationFunctionName, Bind: symbol.BindGlobal, Type: symbol.TypeFunc}
	violation := chunk.NewFunction(sym)
	violation.SetName(sym.Name)

	block := chunk.NewBlock()
	ud2 := chunk.NewInstruction()
	ud2.SetSemantic(semantic.NewRawByte([]byte{0x0F, 0x0B})) // ud2

	mutate.New(block, true).Append(ud2)
	mutate.New(violation, true).Append(block)
	mutate.New(fl, true).Append(violation)

	p.violationTarget = violation

	for _, f := range fl.Functions() {
		if f == violation {
			continue
		}
		p.visitFunction(f)
	}
}

func (p *ShadowStackPass) visitFunction(f *chunk.Function) {
	if f.Name() == endbrViolationName || f.Name() == violationFunctionName {
		return
	}

	p.pushToShadowStack(f)

	for _, b := range f.Blocks() {
		// Snapshot: popFromShadowStack inserts instructions before
		// each return, so iterate over a fixed copy of the original
		// slice rather than the live, growing one.
		for _, instr := range append([]*chunk.Instruction(nil), b.Instructions()...) {
			if _, ok := instr.Semantic().(*semantic.ReturnSemantic); ok {
				p.popFromShadowStack(b, instr)
			}
		}
	}
}

func (p *ShadowStackPass) pushToShadowStack(f *chunk.Function) {
	if p.Mode == ModeConstant {
		p.pushConstant(f)
	} else {
		p.pushGS(f)
	}
}

// pushConstant inserts:
//
//	mov    (%rsp),%r11
//	mov    %r11,0xb00000(%rsp)
func (p *ShadowStackPass) pushConstant(f *chunk.Function) {
	block0 := f.Blocks()[0]
	instr0 := block0.Instructions()[0]

	mov1 := rawInstruction(0x4c, 0x8b, 0x1c, 0x24)
	mov2 := rawInstruction(0x4c, 0x89, 0x9c, 0x24, 0x00, 0x00, 0xb0, 0x00)

	mutate.New(block0, true).InsertBefore(instr0, []chunk.Chunk{mov1, mov2}, true)
}

// pushGS inserts the per-thread GS-segmented push sequence:
//
//	mov    %gs:0x0,%r11
//	lea    0x8(%r11),%r11
//	mov    (%rsp),%r10
//	mov    %r10,%gs:(%r11)
//	mov    %r11,%gs:0x0
func (p *ShadowStackPass) pushGS(f *chunk.Function) {
	block0 := f.Blocks()[0]
	instr0 := block0.Instructions()[0]

	mov1 := rawInstruction(0x65, 0x4c, 0x8b, 0x1c, 0x25, 0x00, 0x00, 0x00, 0x00)
	lea := rawInstruction(0x4d, 0x8d, 0x5b, 0x08)
	mov2 := rawInstruction(0x4c, 0x8b, 0x14, 0x24)
	mov3 := rawInstruction(0x65, 0x4d, 0x89, 0x13)
	mov4 := rawInstruction(0x65, 0x4c, 0x89, 0x1c, 0x25, 0x00, 0x00, 0x00, 0x00)

	mutate.New(block0, true).InsertBefore(instr0, []chunk.Chunk{mov1, lea, mov2, mov3, mov4}, true)
}

func (p *ShadowStackPass) popFromShadowStack(block *chunk.Block, ret *chunk.Instruction) {
	if p.Mode == ModeConstant {
		p.popConstant(block, ret)
	} else {
		p.popGS(block, ret)
	}
}

// popConstant inserts, immediately before the return instruction:
//
//	mov    (%rsp),%r11
//	cmp    %r11,0xb00000(%rsp)
//	jne    egalito_shadowstack_violation
func (p *ShadowStackPass) popConstant(block *chunk.Block, ret *chunk.Instruction) {
	mov := rawInstruction(0x4c, 0x8b, 0x1c, 0x24)
	cmp := rawInstruction(0x4c, 0x39, 0x9c, 0x24, 0x00, 0x00, 0xb0, 0x00)
	jne := p.jneToViolation()

	mutate.New(block, false).InsertBefore(ret, []chunk.Chunk{mov, cmp, jne}, false)
}

// popGS inserts, immediately before the return instruction:
//
//	mov    %gs:0x0,%r11
//	mov    (%rsp),%r10
//	cmp    %r10,%gs:(%r11)
//	jne    egalito_shadowstack_violation
//	lea    -0x8(%r11),%r11
//	mov    %r11,%gs:0x0
func (p *ShadowStackPass) popGS(block *chunk.Block, ret *chunk.Instruction) {
	mov1 := rawInstruction(0x65, 0x4c, 0x8b, 0x1c, 0x25, 0x00, 0x00, 0x00, 0x00)
	mov2 := rawInstruction(0x4c, 0x8b, 0x14, 0x24)
	cmp := rawInstruction(0x65, 0x4d, 0x39, 0x13)
	jne := p.jneToViolation()
	lea := rawInstruction(0x4d, 0x8d, 0x5b, 0xf8)
	mov3 := rawInstruction(0x65, 0x4c, 0x89, 0x1c, 0x25, 0x00, 0x00, 0x00, 0x00)

	mutate.New(block, false).InsertBefore(ret, []chunk.Chunk{mov1, mov2, cmp, jne, lea, mov3}, false)
}

func (p *ShadowStackPass) jneToViolation() *chunk.Instruction {
	raw := []byte{0x0F, 0x85, 0x00, 0x00, 0x00, 0x00}
	l := link.NewNormal(p.violationTarget, link.ScopeExternalJump)
	jne := chunk.NewInstruction()
	jne.SetSemantic(semantic.NewControlFlow(raw, "jne", 2, 4, l))
	return jne
}

func rawInstruction(bytes ...byte) *chunk.Instruction {
	instr := chunk.NewInstruction()
	instr.SetSemantic(semantic.NewRawByte(append([]byte(nil), bytes...)))
	return instr
}
