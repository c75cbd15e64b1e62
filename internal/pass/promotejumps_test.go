package pass

import (
	"testing"

	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/link"
	"github.com/xyproto/etelf/internal/position"
	"github.com/xyproto/etelf/internal/semantic"
)

// buildJumpFunction assembles a single-instruction Function: a
// control-flow branch at addr, raw/dispOffset/dispWidth as given,
// linked to target.
func buildJumpFunction(name string, addr uint64, raw []byte, dispOffset, dispWidth int, l *link.Link) *chunk.Function {
	f := chunk.NewFunction(nil)
	f.SetName(name)
	f.SetPosition(position.NewGenerational(position.NewAbsolute(addr)))

	block := chunk.NewBlock()
	block.SetPosition(position.NewGenerational(position.NewAbsolute(addr)))

	instr := chunk.NewInstruction()
	instr.SetPosition(position.NewGenerational(position.NewAbsolute(addr)))
	instr.SetSemantic(semantic.NewControlFlow(raw, "jmp", dispOffset, dispWidth, l))

	block.Append(instr)
	f.Append(block)
	return f
}

// TestPromoteJumpsPromotesOutOfRangeShortJump is Scenario 1: a short
// jmp (0xEB rel8) whose target lands outside the signed 8-bit
// displacement range must be re-encoded as a near jmp (0xE9 rel32),
// and the pass must report it as no longer short-form.
func TestPromoteJumpsPromotesOutOfRangeShortJump(t *testing.T) {
	target := chunk.NewFunction(nil)
	target.SetName("target")
	target.SetPosition(position.NewGenerational(position.NewAbsolute(0x2000)))
	targetBlock := chunk.NewBlock()
	targetBlock.SetPosition(position.NewGenerational(position.NewAbsolute(0x2000)))
	target.Append(targetBlock)

	l := link.NewNormal(target, link.ScopeInternal)
	jumper := buildJumpFunction("jumper", 0x1000, []byte{0xEB, 0x00}, 1, 1, l)

	fl := chunk.NewFunctionList()
	fl.Append(jumper)
	fl.Append(target)
	mod := chunk.NewModule("a.out")
	mod.SetFunctionList(fl)
	prog := chunk.NewProgram()
	prog.Append(mod)

	if err := (&PromoteJumpsPass{}).Run(prog); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cf := jumper.Blocks()[0].Instructions()[0].Semantic().(*semantic.ControlFlowSemantic)
	if cf.IsShortForm() {
		t.Fatalf("jump still short-form after promotion, raw = % x", cf.Bytes())
	}
	if got := cf.Bytes()[0]; got != 0xE9 {
		t.Fatalf("promoted opcode = %#x, want 0xE9 (near jmp)", got)
	}
	if cf.DispOffset() != 1 {
		t.Fatalf("DispOffset = %d, want 1 (unchanged for jmp)", cf.DispOffset())
	}
}

// TestPromoteJumpsLeavesInRangeShortJumpAlone covers the converse: a
// short jump whose target is well within the rel8 range (plus margin)
// must not be touched.
func TestPromoteJumpsLeavesInRangeShortJumpAlone(t *testing.T) {
	target := chunk.NewFunction(nil)
	target.SetName("target")
	target.SetPosition(position.NewGenerational(position.NewAbsolute(0x1010)))
	targetBlock := chunk.NewBlock()
	targetBlock.SetPosition(position.NewGenerational(position.NewAbsolute(0x1010)))
	target.Append(targetBlock)

	l := link.NewNormal(target, link.ScopeInternal)
	jumper := buildJumpFunction("jumper", 0x1000, []byte{0xEB, 0x0E}, 1, 1, l)

	fl := chunk.NewFunctionList()
	fl.Append(jumper)
	fl.Append(target)
	mod := chunk.NewModule("a.out")
	mod.SetFunctionList(fl)
	prog := chunk.NewProgram()
	prog.Append(mod)

	if err := (&PromoteJumpsPass{}).Run(prog); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cf := jumper.Blocks()[0].Instructions()[0].Semantic().(*semantic.ControlFlowSemantic)
	if !cf.IsShortForm() {
		t.Fatalf("in-range jump was promoted unnecessarily, raw = % x", cf.Bytes())
	}
}
