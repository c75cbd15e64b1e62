package conductor

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/elfmap"
	"github.com/xyproto/etelf/internal/link"
	"github.com/xyproto/etelf/internal/semantic"
)

// namedFunc is one function's worth of raw bytes for buildELF, placed
// contiguously in .text in slice order.
type namedFunc struct {
	name string
	code []byte
}

// buildStaticELF assembles a minimal, fully self-describing ELF64
// executable: one .text section holding a two-byte "main" function
// (nop; ret), with a real .symtab/.strtab/.shstrtab, so Ingest
// exercises the actual debug/elf-backed path instead of a stub.
func buildStaticELF(t *testing.T) string {
	t.Helper()
	return buildELF(t, []namedFunc{{"main", []byte{0x90, 0xC3}}})
}

// buildELF lays funcs out contiguously starting at textAddr and
// writes a full ELF64 executable (.text/.symtab/.strtab/.shstrtab)
// to a temp file, returning its path.
func buildELF(t *testing.T, funcs []namedFunc) string {
	t.Helper()

	const (
		textOff  = 64
		textAddr = 0x1000
	)

	var text []byte
	var symtab bytes.Buffer
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	binary.Write(&symtab, binary.LittleEndian, elf.Sym64{}) // null symbol

	for _, f := range funcs {
		addr := textAddr + uint64(len(text))
		nameOff := uint32(strtab.Len())
		strtab.WriteString(f.name)
		strtab.WriteByte(0)
		binary.Write(&symtab, binary.LittleEndian, elf.Sym64{
			Name:  nameOff,
			Info:  uint8(elf.STB_GLOBAL)<<4 | uint8(elf.STT_FUNC),
			Shndx: 1, // .text
			Value: addr,
			Size:  uint64(len(f.code)),
		})
		text = append(text, f.code...)
	}

	symtabOff := alignUp8(textOff + len(text))
	strtabOff := symtabOff + symtab.Len()

	shstrtabOff := strtabOff + strtab.Len()
	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	nameOff := map[string]uint32{}
	for _, n := range []string{".text", ".symtab", ".strtab", ".shstrtab"} {
		nameOff[n] = uint32(shstrtab.Len())
		shstrtab.WriteString(n)
		shstrtab.WriteByte(0)
	}

	shoff := alignUp8(shstrtabOff + shstrtab.Len())

	sections := []elf.Section64{
		{}, // null section
		{
			Name: nameOff[".text"], Type: uint32(elf.SHT_PROGBITS),
			Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr:  textAddr, Off: uint64(textOff), Size: uint64(len(text)),
			Addralign: 1,
		},
		{
			Name: nameOff[".symtab"], Type: uint32(elf.SHT_SYMTAB),
			Off: uint64(symtabOff), Size: uint64(symtab.Len()),
			Link: 3, Info: 1, Addralign: 8, Entsize: 24,
		},
		{
			Name: nameOff[".strtab"], Type: uint32(elf.SHT_STRTAB),
			Off: uint64(strtabOff), Size: uint64(strtab.Len()), Addralign: 1,
		},
		{
			Name: nameOff[".shstrtab"], Type: uint32(elf.SHT_STRTAB),
			Off: uint64(shstrtabOff), Size: uint64(shstrtab.Len()), Addralign: 1,
		},
	}

	var hdr elf.Header64
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Type = uint16(elf.ET_EXEC)
	hdr.Machine = uint16(elf.EM_X86_64)
	hdr.Version = uint32(elf.EV_CURRENT)
	hdr.Entry = textAddr
	hdr.Shoff = uint64(shoff)
	hdr.Ehsize = 64
	hdr.Shentsize = 64
	hdr.Shnum = uint16(len(sections))
	hdr.Shstrndx = 4

	out := make([]byte, shoff+len(sections)*64)
	var hbuf bytes.Buffer
	binary.Write(&hbuf, binary.LittleEndian, hdr)
	copy(out, hbuf.Bytes())
	copy(out[textOff:], text)
	copy(out[symtabOff:], symtab.Bytes())
	copy(out[strtabOff:], strtab.Bytes())
	copy(out[shstrtabOff:], shstrtab.Bytes())
	for i, s := range sections {
		var sbuf bytes.Buffer
		binary.Write(&sbuf, binary.LittleEndian, s)
		copy(out[shoff+i*64:], sbuf.Bytes())
	}

	path := filepath.Join(t.TempDir(), "a.out")
	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func alignUp8(v int) int {
	if v%8 == 0 {
		return v
	}
	return v + (8 - v%8)
}

func TestIngestBuildsOneFunctionFromSymtab(t *testing.T) {
	m, err := elfmap.Open(buildStaticELF(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	mod, err := Ingest(m, "a.out")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	fns := mod.FunctionList().Functions()
	if len(fns) != 1 {
		t.Fatalf("expected 1 function, got %d", len(fns))
	}
	f := fns[0]
	if f.Name() != "main" {
		t.Fatalf("function name = %q, want main", f.Name())
	}
	if f.Address() != 0x1000 {
		t.Fatalf("function address = %#x, want 0x1000", f.Address())
	}

	instrs := f.Blocks()[0].Instructions()
	if len(instrs) != 2 {
		t.Fatalf("expected 2 instructions (nop; ret), got %d", len(instrs))
	}
	if instrs[0].Semantic().Kind() != semantic.RawByte {
		t.Fatalf("first instruction kind = %v, want RawByte (nop)", instrs[0].Semantic().Kind())
	}
	if instrs[1].Semantic().Kind() != semantic.Return {
		t.Fatalf("second instruction kind = %v, want Return", instrs[1].Semantic().Kind())
	}
	if instrs[1].Address() != 0x1001 {
		t.Fatalf("ret address = %#x, want 0x1001", instrs[1].Address())
	}
}

func TestIngestRejectsUnparsedELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive")
	if err := os.WriteFile(path, []byte("!<arch>\npadding-for-a-fake-archive-member"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	m, err := elfmap.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	if _, err := Ingest(m, "archive"); err == nil {
		t.Fatal("expected an error ingesting an archive (no ELF() structure)")
	}
}

func TestWireLinksResolvesDirectBranchToNormal(t *testing.T) {
	// main: call helper; ret   (helper sits right after main in .text)
	main := []byte{0xE8, 0x01, 0x00, 0x00, 0x00, 0xC3}
	helper := []byte{0xC3}
	path := buildELF(t, []namedFunc{{"main", main}, {"helper", helper}})

	m, err := elfmap.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	mod, err := Ingest(m, "a.out")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	var mainFn, helperFn *chunk.Function
	for _, f := range mod.FunctionList().Functions() {
		switch f.Name() {
		case "main":
			mainFn = f
		case "helper":
			helperFn = f
		}
	}
	if mainFn == nil || helperFn == nil {
		t.Fatalf("expected both main and helper functions, got %d functions", len(mod.FunctionList().Functions()))
	}

	call := mainFn.Blocks()[0].Instructions()[0]
	cf, ok := call.Semantic().(*semantic.ControlFlowSemantic)
	if !ok {
		t.Fatalf("main's first instruction is %T, want *ControlFlowSemantic (call)", call.Semantic())
	}
	l := cf.Link()
	if l == nil || l.Variant != link.Normal {
		t.Fatalf("call link = %+v, want a resolved Normal link", l)
	}
	if l.Target.(*chunk.Function) != helperFn {
		t.Fatal("call's Normal link does not point at the helper function")
	}
}
