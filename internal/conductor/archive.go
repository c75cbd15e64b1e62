package conductor

import (
	"strconv"
	"strings"

	"github.com/xyproto/etelf/internal/elfmap"
	"github.com/xyproto/etelf/internal/rerror"
)

// ArchiveMember is one named ELF object aliased out of an "!<arch>\n"
// (ar(1)) archive's backing bytes: the Egalito archive input format
// (spec.md §6's "a custom 'Egalito archive' format holding an already-
// lifted Program") is a plain Unix archive of relocatable objects, one
// per Module to ingest.
type ArchiveMember struct {
	Name string
	Map  *elfmap.ElfMap
}

const (
	arMagic       = "!<arch>\n"
	arHeaderSize  = 60
	arHeaderMagic = "`\n" // trailing 2-byte member-header magic, 0x60 0x0A
)

// ReadArchive decodes raw as an ar(1) archive, returning one
// ArchiveMember per member whose bytes parse as ELF. Each member's
// ElfMap aliases raw's backing memory via elfmap.FromBytes rather than
// copying or re-mmapping it, so raw (and whatever owns it, typically an
// already-open elfmap.ElfMap) must outlive every returned ArchiveMember.
// The special GNU "//" (extended names) and "/" (symbol index) members
// are skipped; BSD-style names are taken verbatim, GNU-style "name/"
// trailing slashes are trimmed.
func ReadArchive(raw []byte) ([]ArchiveMember, error) {
	if len(raw) < len(arMagic) || string(raw[:len(arMagic)]) != arMagic {
		return nil, rerror.New(rerror.UserInput, "not an ar(1) archive (bad magic)")
	}

	var members []ArchiveMember
	off := len(arMagic)
	for off+arHeaderSize <= len(raw) {
		hdr := raw[off : off+arHeaderSize]
		if string(hdr[58:60]) != arHeaderMagic {
			return nil, rerror.New(rerror.ParseDiagnostic, "malformed archive member header")
		}

		name := strings.TrimRight(string(hdr[0:16]), " ")
		name = strings.TrimSuffix(name, "/") // GNU-style names end in "/"

		size, err := strconv.ParseInt(strings.TrimSpace(string(hdr[48:58])), 10, 64)
		if err != nil || size < 0 {
			return nil, rerror.New(rerror.ParseDiagnostic, "malformed archive member size")
		}

		dataStart := off + arHeaderSize
		dataEnd := dataStart + int(size)
		if dataEnd > len(raw) {
			return nil, rerror.New(rerror.ParseDiagnostic, "archive member overruns file")
		}
		body := raw[dataStart:dataEnd]

		switch name {
		case "/", "//":
			// GNU symbol-index and extended-names members: neither is
			// an object to ingest.
		default:
			m, err := elfmap.FromBytes(body)
			if err != nil {
				return nil, rerror.Wrap(rerror.ParseDiagnostic, "parse archive member "+name, err)
			}
			members = append(members, ArchiveMember{Name: name, Map: m})
		}

		// Member data is 2-byte aligned; a single padding byte follows
		// an odd-sized member.
		off = dataEnd
		if size%2 != 0 {
			off++
		}
	}

	if len(members) == 0 {
		return nil, rerror.New(rerror.UserInput, "archive holds no ELF members")
	}
	return members, nil
}
