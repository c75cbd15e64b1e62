package conductor

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/link"
	"github.com/xyproto/etelf/internal/symbol"
)

// IngestData lifts a Module's writable data sections (SHF_ALLOC|SHF_WRITE,
// e.g. .data/.bss; read-only sections such as .rodata are skipped) into
// DataRegion/DataSection/DataVariable chunks (spec.md §3), one
// DataVariable per OBJECT symbol with nonzero size. Variables
// whose address is the target of a GLOB_DAT relocation in .rela.dyn
// are wired with a SymbolOnly link to the symbol ld.so resolves at
// load time — LdsoRefsPass narrows these to LDSOLoader links once it
// knows which symbols are shared-library-provided (spec.md §4.4).
func IngestData(m *chunk.Module, ef *elf.File) error {
	syms, err := ef.Symbols()
	if err != nil {
		return err
	}
	globDat := globDatTargets(ef)

	dr := m.DataRegion()
	if dr == nil {
		dr = chunk.NewDataRegion(m.Name() + "-data")
		m.SetDataRegion(dr)
	}

	sections := map[*elf.Section]*chunk.DataSection{}
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_OBJECT || sym.Size == 0 || sym.Section == elf.SHN_UNDEF {
			continue
		}
		if int(sym.Section) >= len(ef.Sections) {
			continue
		}
		sec := ef.Sections[sym.Section]
		if sec.Flags&elf.SHF_ALLOC == 0 || sec.Flags&elf.SHF_WRITE == 0 {
			continue
		}

		ds, ok := sections[sec]
		if !ok {
			ds = chunk.NewDataSection(sec.Name)
			sections[sec] = ds
			dr.Append(ds)
		}

		v := chunk.NewDataVariable(sym.Name, sym.Size)
		if sym2, ok := globDat[sym.Value]; ok {
			v.SetLink(link.NewSymbolOnly(sym2))
		}
		ds.Append(v)
	}
	return nil
}

// globDatTargets decodes .rela.dyn's R_X86_64_GLOB_DAT/R_AARCH64_GLOB_DAT
// entries, mapping each patched address to the dynamic symbol ld.so
// will resolve it to.
func globDatTargets(ef *elf.File) map[uint64]*symbol.Symbol {
	out := map[uint64]*symbol.Symbol{}
	sec := ef.Section(".rela.dyn")
	if sec == nil {
		return out
	}
	data, err := sec.Data()
	if err != nil {
		return out
	}
	dynsyms, err := ef.DynamicSymbols()
	if err != nil {
		return out
	}

	const entSize = 24
	r := bytes.NewReader(data)
	for i := 0; i < len(data)/entSize; i++ {
		var rel elf.Rela64
		if err := binary.Read(r, binary.LittleEndian, &rel); err != nil {
			break
		}
		typ := uint32(rel.Info & 0xffffffff)
		isGlobDat := elf.R_X86_64(typ) == elf.R_X86_64_GLOB_DAT
		if ef.Machine == elf.EM_AARCH64 {
			isGlobDat = elf.R_AARCH64(typ) == elf.R_AARCH64_GLOB_DAT
		}
		if !isGlobDat {
			continue
		}
		symIdx := elf.R_SYM64(rel.Info)
		if symIdx == 0 || int(symIdx) > len(dynsyms) {
			continue
		}
		out[rel.Off] = fromELFSymbol(dynsyms[symIdx-1])
	}
	return out
}
