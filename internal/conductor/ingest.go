// Package conductor implements the Conductor (spec.md §1/§2): the
// external collaborator that drives ingestion, invokes the C5 pass
// pipeline in the fixed order spec.md §4.4 names, and dispatches to a
// C7 emitter. Like the ELF parser, the disassembler, and the on-disk
// jump-table cache, spec.md treats the Conductor itself as "specified
// only by interface" — this package is the concrete, pragmatic
// collaborator playing that role, the same way internal/elfmap plays
// the ELF-parser role and internal/disasm plays the disassembler role.
//
// Grounded on the teacher's (xyproto/c67) compiler.go driver, which
// owns the one place a whole multi-stage run is sequenced (open input
// -> lex -> parse -> optimize -> codegen -> write output); Ingest below
// plays the same "open input, build the first IR" role the teacher's
// driver does for its lexer/parser stage.
package conductor

import (
	"debug/elf"

	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/disasm"
	"github.com/xyproto/etelf/internal/elfmap"
	"github.com/xyproto/etelf/internal/link"
	"github.com/xyproto/etelf/internal/position"
	"github.com/xyproto/etelf/internal/rerror"
	"github.com/xyproto/etelf/internal/semantic"
	"github.com/xyproto/etelf/internal/symbol"
)

// Ingest builds the initial Chunk IR (C2) for one Module out of m's
// parsed ELF structure, wired with Links (C3) per spec.md §3's
// resolution policy. The caller assembles one or more Modules
// (executable plus each shared-library dependency, spec.md §1's "all
// of its shared-library dependencies") into a Program.
func Ingest(m *elfmap.ElfMap, moduleName string) (*chunk.Module, error) {
	ef := m.ELF()
	if ef == nil {
		return nil, rerror.New(rerror.UserInput, "ingest: ElfMap has no parsed ELF structure")
	}

	mod := chunk.NewModule(moduleName)
	mod.CopyBase = m.CopyBaseAddress()

	syms, err := ef.Symbols()
	if err != nil {
		return nil, rerror.Wrap(rerror.ParseDiagnostic, "read symbol table", err)
	}

	fl := chunk.NewFunctionList()
	mod.SetFunctionList(fl)

	arch := archFor(ef.Machine)

	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Size == 0 || sym.Section == elf.SHN_UNDEF {
			continue
		}
		f, err := ingestFunction(ef, arch, sym)
		if err != nil {
			// A single malformed function symbol is a recoverable
			// parse diagnostic (spec.md §7 E2): skip it and keep
			// ingesting the rest of the module.
			continue
		}
		fl.Append(f)
	}

	dynsyms, _ := ef.DynamicSymbols() // absent in static binaries; nil is fine

	pltList := chunk.NewPLTList()
	mod.SetPLTList(pltList)
	wireLinks(ef, fl, dynsyms, pltList)

	return mod, nil
}

func archFor(machine elf.Machine) disasm.Arch {
	if machine == elf.EM_AARCH64 {
		return disasm.AArch64
	}
	return disasm.X86_64
}

// ingestFunction decodes one Function's worth of instructions out of
// its containing section, as a single Block (ingestion never splits
// blocks; mutate.ChunkMutator.SplitBlockBefore is the operation for
// that, and ingestion does not call it).
func ingestFunction(ef *elf.File, arch disasm.Arch, sym elf.Symbol) (*chunk.Function, error) {
	sec := ef.Sections[sym.Section]
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}

	start := sym.Value - sec.Addr
	if start > uint64(len(data)) || start+sym.Size > uint64(len(data)) {
		return nil, rerror.New(rerror.ParseDiagnostic, "function symbol out of bounds for its section")
	}
	code := data[start : start+sym.Size]

	s := &symbol.Symbol{
		Name:         sym.Name,
		Type:         symbol.TypeFunc,
		SectionIndex: int(sym.Section),
		Address:      sym.Value,
		Size:         sym.Size,
	}
	if elf.ST_BIND(sym.Info) == elf.STB_LOCAL {
		s.Bind = symbol.BindLocal
	} else if elf.ST_BIND(sym.Info) == elf.STB_WEAK {
		s.Bind = symbol.BindWeak
	} else {
		s.Bind = symbol.BindGlobal
	}

	f := chunk.NewFunction(s)
	f.SetPosition(position.NewGenerational(position.NewAbsolute(sym.Value)))

	block := chunk.NewBlock()
	block.SetPosition(position.NewGenerational(position.NewAbsolute(sym.Value)))
	f.Append(block)

	offset := 0
	for offset < len(code) {
		instrAddr := sym.Value + uint64(offset)
		rest := code[offset:]
		sem, n := disasm.Decode(arch, rest, linkForDisplacement(instrAddr))
		if n <= 0 {
			break
		}
		instr := chunk.NewInstruction()
		instr.SetPosition(position.NewGenerational(position.NewAbsolute(instrAddr)))
		instr.SetSemantic(sem)
		block.Append(instr)
		offset += n
	}

	return f, nil
}

// linkForDisplacement builds the Unresolved placeholder link every
// decoded control-flow instruction starts with: wireLinks narrows it
// to Normal/PLT/SymbolOnly once every Function in the Module is known,
// per spec.md §3's "the Link factory ... returns the narrowest
// applicable variant."
func linkForDisplacement(instrAddr uint64) func(dispOffset, dispWidth int, disp int64) *link.Link {
	return func(dispOffset, dispWidth int, disp int64) *link.Link {
		target := uint64(int64(instrAddr) + int64(dispOffset) + int64(dispWidth) + disp)
		return link.NewUnresolved(target)
	}
}

// wireLinks is ingestion's second pass (spec.md §3's Link resolution
// policy): now that every Function in the Module is known by address,
// every Unresolved placeholder link installed during decode is
// narrowed to the narrowest applicable variant. A target landing
// inside a known function becomes Normal; a target landing on a PLT
// stub whose trampoline is known becomes PLT (spec.md §4.3), so
// CollapsePLTPass — first in both fixed pipeline orders — has a real
// link to collapse; a direct reference to a dynamic symbol's own
// recorded address becomes SymbolOnly (synthesized into a fresh
// PLTTrampoline downstream by ExternalSymbolLinksPass/IFuncPLTsPass,
// which is exactly what a SymbolOnly link is for — spec.md §3: "a
// Symbol (no chunk yet)"). No instruction link is narrowed to
// DataOffset, here or in IngestData; everything else is left
// Unresolved with the literal address, matching the policy's fallback
// case.
func wireLinks(ef *elf.File, fl *chunk.FunctionList, dynsyms []elf.Symbol, pltList *chunk.PLTList) {
	trampolines := map[string]*chunk.PLTTrampoline{}
	for _, f := range fl.Functions() {
		for _, b := range f.Blocks() {
			for _, instr := range b.Instructions() {
				d, ok := instr.Semantic().(semantic.Displaced)
				if !ok {
					continue
				}
				l := d.Link()
				if l == nil || l.Variant != link.Unresolved {
					continue
				}
				if target := fl.FindContaining(l.Address); target != nil {
					d.SetLink(link.NewNormal(target, link.ScopeInternal))
					continue
				}
				if t := pltTrampolineFor(ef, dynsyms, pltList, trampolines, l.Address); t != nil {
					d.SetLink(link.NewPLT(t))
					continue
				}
				if sym := resolveExternalTarget(ef, dynsyms, l.Address); sym != nil {
					d.SetLink(link.NewSymbolOnly(sym))
				}
			}
		}
	}
}
