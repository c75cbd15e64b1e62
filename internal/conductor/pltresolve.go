package conductor

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/mutate"
	"github.com/xyproto/etelf/internal/symbol"
)

// pltStubSize is the fixed stub length both .plt and .plt.sec use on
// x86-64 and AArch64 (a single 16-byte GOT-indirect jump stub,
// matching internal/pass's own trampolineSize for synthesized
// trampolines).
const pltStubSize = 16

// resolveExternalTarget maps an Unresolved link's raw target address to
// the dynamic symbol it denotes by direct address match (a data object,
// or a call already pointing straight at a GOT-resolved address). PLT
// stub addresses are handled earlier, by pltTrampolineFor: by the time
// wireLinks falls through to this function, addr is known not to land
// on a PLT stub. Returns nil if addr matches no dynamic symbol's own
// recorded address.
func resolveExternalTarget(ef *elf.File, dynsyms []elf.Symbol, addr uint64) *symbol.Symbol {
	for i := range dynsyms {
		if dynsyms[i].Value != 0 && dynsyms[i].Value == addr {
			return fromELFSymbol(dynsyms[i])
		}
	}
	return nil
}

// pltTrampolineFor maps an Unresolved link's raw target address to the
// PLTTrampoline chunk for the PLT stub it lands on, synthesizing (and
// memoizing in cache) that trampoline the first time any call site
// reaches it. Installing a real link.PLT link here — before
// ExternalSymbolLinksPass/IFuncPLTsPass ever run — is what gives
// CollapsePLTPass (ahead of every linking pass in both fixed pipeline
// orders) something to collapse. The trampoline is appended to
// pltList. Those later passes act only on SymbolOnly links and do not
// look up existing pltList entries, so they leave call sites linked
// here alone. Returns nil if addr isn't a PLT stub, or the stub
// doesn't correlate to any known dynamic symbol.
func pltTrampolineFor(ef *elf.File, dynsyms []elf.Symbol, pltList *chunk.PLTList, cache map[string]*chunk.PLTTrampoline, addr uint64) *chunk.PLTTrampoline {
	name, ok := pltStubSymbolName(ef, addr)
	if !ok {
		return nil
	}
	if t, ok := cache[name]; ok {
		return t
	}
	for i := range dynsyms {
		if dynsyms[i].Name != name {
			continue
		}
		sym := fromELFSymbol(dynsyms[i])
		t := chunk.NewPLTTrampoline(sym, pltStubSize)
		mutate.New(pltList, true).Append(t)
		cache[name] = t
		return t
	}
	return nil
}

// pltStubSymbolName correlates a PLT stub address against .rela.plt,
// relying on the ABI convention that stub order within .plt.sec (or
// .plt, past its header stub) matches relocation order within
// .rela.plt one-to-one.
func pltStubSymbolName(ef *elf.File, addr uint64) (string, bool) {
	sec := ef.Section(".plt.sec")
	headerStubs := 0
	if sec == nil {
		sec = ef.Section(".plt")
		headerStubs = 1 // .plt's own PLT0 resolver stub has no relocation
	}
	if sec == nil || addr < sec.Addr {
		return "", false
	}
	idx := int64(addr-sec.Addr)/pltStubSize - int64(headerStubs)
	if idx < 0 {
		return "", false
	}

	relas, err := readRelaPLT(ef)
	if err != nil || int(idx) >= len(relas) {
		return "", false
	}
	dynsyms, err := ef.DynamicSymbols()
	if err != nil {
		return "", false
	}
	symIdx := elf.R_SYM64(relas[idx].Info)
	if symIdx == 0 || int(symIdx) > len(dynsyms) {
		return "", false
	}
	return dynsyms[symIdx-1].Name, true
}

// readRelaPLT decodes ".rela.plt" into raw Elf64_Rela records, in
// file order (which is relocation order).
func readRelaPLT(ef *elf.File) ([]elf.Rela64, error) {
	sec := ef.Section(".rela.plt")
	if sec == nil {
		return nil, nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}
	const entSize = 24
	n := len(data) / entSize
	out := make([]elf.Rela64, 0, n)
	r := bytes.NewReader(data)
	for i := 0; i < n; i++ {
		var rel elf.Rela64
		if err := binary.Read(r, binary.LittleEndian, &rel); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

func fromELFSymbol(sym elf.Symbol) *symbol.Symbol {
	s := &symbol.Symbol{
		Name:    sym.Name,
		Address: sym.Value,
		Size:    sym.Size,
	}
	switch elf.ST_TYPE(sym.Info) {
	case elf.STT_FUNC:
		s.Type = symbol.TypeFunc
	case elf.STT_GNU_IFUNC:
		s.Type = symbol.TypeIFunc
	case elf.STT_OBJECT:
		s.Type = symbol.TypeObject
	}
	switch elf.ST_BIND(sym.Info) {
	case elf.STB_LOCAL:
		s.Bind = symbol.BindLocal
	case elf.STB_WEAK:
		s.Bind = symbol.BindWeak
	default:
		s.Bind = symbol.BindGlobal
	}
	return s
}
