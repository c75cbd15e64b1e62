package conductor

import (
	"debug/elf"

	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/elfmap"
	"github.com/xyproto/etelf/internal/emit"
	"github.com/xyproto/etelf/internal/pass"
	"github.com/xyproto/etelf/internal/symbol"
)

// Run drives a complete rewrite (spec.md §1/§2): build the Chunk IR
// for every module in maps, run the fixed pass pipeline for mode, and
// hand the result to the matching C7 emitter. maps[0] is always the
// main executable module; any further entries are its shared-library
// dependencies (spec.md §1's "all of its shared-library dependencies").
// cache is the jump-table cache store handed to JumpTablePass; nil
// disables caching.
func Run(maps []*elfmap.ElfMap, names []string, mode pass.Mode, cache pass.CacheStore) ([]byte, error) {
	prog := chunk.NewProgram()
	modOf := map[string]*elfmap.ElfMap{}

	for i, m := range maps {
		mod, err := Ingest(m, names[i])
		if err != nil {
			return nil, err
		}
		if err := IngestData(mod, m.ELF()); err != nil {
			return nil, err
		}
		prog.Append(mod)
		modOf[names[i]] = m
	}

	passes := pass.Passes{
		CollapsePLT:         &pass.CollapsePLTPass{Resolve: resolverFor(prog)},
		PromoteJumps:        &pass.PromoteJumpsPass{},
		LdsoRefs:            &pass.LdsoRefsPass{IsSharedLibrarySymbol: isSharedLibrarySymbol},
		ExternalSymbolLinks: &pass.ExternalSymbolLinksPass{},
		IFuncPLTs:           &pass.IFuncPLTsPass{},
		FixEnviron:          &pass.FixEnvironPass{},
	}
	if err := pass.Pipeline(prog, mode, passes); err != nil {
		return nil, err
	}

	jt := &pass.JumpTablePass{
		Arch:  jumpTableArchFor(maps[0].ELF().Machine),
		Read:  rawTableReader(modOf),
		Cache: cache,
	}
	if err := jt.Run(prog); err != nil {
		return nil, err
	}

	machine := maps[0].ELF().Machine
	switch mode {
	case pass.Union:
		return emit.Union(machine, prog)
	default:
		return emit.Mirror(maps[0], machine, prog)
	}
}

// resolverFor builds CollapsePLTPass's Resolve callback: a flat
// name-to-Function index across every Module already ingested into
// prog, matching spec.md §4.4's "the in-Program Function it now
// resolves to".
func resolverFor(prog *chunk.Program) func(string) *chunk.Function {
	byName := map[string]*chunk.Function{}
	for _, m := range prog.Modules() {
		fl := m.FunctionList()
		if fl == nil {
			continue
		}
		for _, f := range fl.Functions() {
			if f.Name() != "" {
				byName[f.Name()] = f
			}
		}
	}
	return func(name string) *chunk.Function { return byName[name] }
}

// isSharedLibrarySymbol is the default shared-library-symbol policy:
// a symbol with no Program-known chunk is shared-library-provided.
// The conductor only ever installs SymbolOnly links for names that
// never resolved to an in-Program Function or DataVariable, so by the
// time LdsoRefsPass runs, every remaining SymbolOnly target is by
// construction ld.so's to resolve.
func isSharedLibrarySymbol(sym *symbol.Symbol) bool { return sym != nil }

func jumpTableArchFor(machine elf.Machine) pass.JumpTableArch {
	if machine == elf.EM_AARCH64 {
		return pass.ArchAArch64
	}
	return pass.ArchX86_64
}

// rawTableReader backs JumpTablePass.Read with each module's own
// mapped bytes: spec.md §4.4's jump-table discovery reads raw table
// entries out of the original image already resident in a Module's
// ElfMap, not out of the (still being built) output image.
func rawTableReader(modOf map[string]*elfmap.ElfMap) pass.RawTableReader {
	return func(moduleName string, address uint64, width int) (int64, bool) {
		m, ok := modOf[moduleName]
		if !ok {
			return 0, false
		}
		ef := m.ELF()
		if ef == nil {
			return 0, false
		}
		for _, sec := range ef.Sections {
			if sec.Addr == 0 || address < sec.Addr || address+uint64(width) > sec.Addr+sec.Size {
				continue
			}
			data, err := sec.Data()
			if err != nil {
				return 0, false
			}
			start := address - sec.Addr
			if start+uint64(width) > uint64(len(data)) {
				return 0, false
			}
			return decodeLE(data[start : start+uint64(width)]), true
		}
		return 0, false
	}
}

func decodeLE(b []byte) int64 {
	var v uint64
	for i, c := range b {
		v |= uint64(c) << (8 * uint(i))
	}
	return int64(v)
}
