package elfmap

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// minimalELF64 builds the smallest header debug/elf.NewFile accepts:
// no program headers, no sections, x86-64 little-endian.
func minimalELF64(t *testing.T) []byte {
	t.Helper()
	h := make([]byte, 64)
	copy(h[0:4], []byte{0x7f, 'E', 'L', 'F'})
	h[4] = 2 // ELFCLASS64
	h[5] = 1 // ELFDATA2LSB
	h[6] = 1 // EI_VERSION
	le := binary.LittleEndian
	le.PutUint16(h[16:18], 2)  // e_type = ET_EXEC
	le.PutUint16(h[18:20], 62) // e_machine = EM_X86_64
	le.PutUint32(h[20:24], 1)  // e_version
	le.PutUint64(h[24:32], 0)  // e_entry
	le.PutUint64(h[32:40], 0)  // e_phoff
	le.PutUint64(h[40:48], 0)  // e_shoff
	le.PutUint32(h[48:52], 0)  // e_flags
	le.PutUint16(h[52:54], 64) // e_ehsize
	le.PutUint16(h[54:56], 56) // e_phentsize
	le.PutUint16(h[56:58], 0)  // e_phnum
	le.PutUint16(h[58:60], 64) // e_shentsize
	le.PutUint16(h[60:62], 0)  // e_shnum
	le.PutUint16(h[62:64], 0)  // e_shstrndx
	return h
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.elf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestOpenParsesMinimalELF(t *testing.T) {
	path := writeTempFile(t, minimalELF64(t))

	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	if m.ELF() == nil {
		t.Fatal("expected parsed ELF structure")
	}
	if m.Raw()[0] != 0x7f || m.Raw()[1] != 'E' {
		t.Fatal("mmap'd bytes do not match the written file")
	}
	if m.IsArchive() {
		t.Fatal("a plain ELF file must not be classified as an archive")
	}
}

func TestOpenRejectsEmptyFile(t *testing.T) {
	path := writeTempFile(t, nil)

	if _, err := Open(path); err == nil {
		t.Fatal("expected an error opening an empty file")
	}
}

func TestOpenRejectsMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatal("expected an error opening a nonexistent file")
	}
}

func TestIsArchiveDetectsArMagic(t *testing.T) {
	path := writeTempFile(t, []byte("!<arch>\n"+"padding-to-look-like-a-real-archive"))

	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	if !m.IsArchive() {
		t.Fatal("expected ar(1) magic to be classified as an archive")
	}
}
