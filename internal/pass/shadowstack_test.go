package pass

import (
	"testing"

	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/link"
	"github.com/xyproto/etelf/internal/position"
	"github.com/xyproto/etelf/internal/semantic"
	"github.com/xyproto/etelf/internal/symbol"
)

// TestShadowStackInstrumentsEntryAndReturn is Scenario 4: every
// function gets a shadow-stack push prepended before its first
// instruction and a check-and-jne sequence prepended before every
// return, and the module gains a single synthesized violation
// function every inserted jne targets.
func TestShadowStackInstrumentsEntryAndReturn(t *testing.T) {
	sym := &symbol.Symbol{Name: "main", Type: symbol.TypeFunc, Bind: symbol.BindGlobal}
	f := chunk.NewFunction(sym)
	f.SetName(sym.Name)
	f.SetPosition(position.NewGenerational(position.NewAbsolute(0x1000)))

	block := chunk.NewBlock()
	block.SetPosition(position.NewGenerational(position.NewAbsolute(0x1000)))
	ret := chunk.NewInstruction()
	ret.SetSemantic(semantic.NewReturn([]byte{0xC3}))
	block.Append(ret)
	f.Append(block)

	fl := chunk.NewFunctionList()
	fl.Append(f)
	mod := chunk.NewModule("a.out")
	mod.SetFunctionList(fl)
	prog := chunk.NewProgram()
	prog.Append(mod)

	if err := (&ShadowStackPass{Mode: ModeConstant}).Run(prog); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var violation *chunk.Function
	var fnCount int
	for _, fn := range mod.FunctionList().Functions() {
		fnCount++
		if fn.Name() == "egalito_shadowstack_violation" {
			violation = fn
		}
	}
	if fnCount != 2 {
		t.Fatalf("expected main plus one synthesized violation function, got %d functions", fnCount)
	}
	if violation == nil {
		t.Fatal("no egalito_shadowstack_violation function synthesized")
	}
	vInstrs := violation.Blocks()[0].Instructions()
	if len(vInstrs) != 1 {
		t.Fatalf("violation function has %d instructions, want 1 (ud2)", len(vInstrs))
	}

	instrs := f.Blocks()[0].Instructions()
	if len(instrs) != 6 {
		t.Fatalf("main has %d instructions after instrumentation, want 6 (2 push + 3 pop-check + 1 ret)", len(instrs))
	}

	last := instrs[len(instrs)-1]
	if _, ok := last.Semantic().(*semantic.ReturnSemantic); !ok {
		t.Fatalf("last instruction = %T, want the original ReturnSemantic preserved", last.Semantic())
	}

	jne := instrs[len(instrs)-2]
	cf, ok := jne.Semantic().(*semantic.ControlFlowSemantic)
	if !ok {
		t.Fatalf("instruction before ret = %T, want *ControlFlowSemantic (jne)", jne.Semantic())
	}
	l := cf.Link()
	if l == nil || l.Variant != link.Normal || l.Scope != link.ScopeExternalJump {
		t.Fatalf("jne link = %+v, want a Normal link scoped ScopeExternalJump", l)
	}
	target, ok := l.Target.(*chunk.Function)
	if !ok || target != violation {
		t.Fatalf("jne does not target the synthesized violation function")
	}
}
