// Package disasm is the minimal, out-of-pack instruction decoder
// standing in for the disassembler spec.md §1 names as "specified
// only by interface" ("the disassembler that produces instruction
// semantics from machine bytes"). No disassembler library (x/arch,
// capstone bindings, ...) exists anywhere in the retrieved example
// pack, so this is deliberately stdlib-only, decoding just enough of
// x86-64 and AArch64 to classify each InstructionSemantic variant
// spec.md §3 names.
//
// Grounded on the teacher's (xyproto/c67) own per-mnemonic encoders
// (jmp.go, mov_x86_64.go, arm64_instructions.go, ret.go, call.go): the
// same fixed byte patterns those files *emit* are recognized here in
// reverse.
package disasm

import (
	"encoding/binary"

	"github.com/xyproto/etelf/internal/link"
	"github.com/xyproto/etelf/internal/semantic"
)

// Arch selects the instruction set to decode.
type Arch int

const (
	X86_64 Arch = iota
	AArch64
)

// Decode classifies the instruction at the start of code, returning
// its semantic and the number of bytes it consumed. linkFor builds a
// Link for control-flow/data-referencing instructions from the
// decoded displacement (relative to the instruction's own address);
// it may be nil, in which case control-flow instructions are still
// classified as ControlFlowSemantic but carry a nil Link (the
// jump-promotion and relocation passes only need Links on instructions
// they actually touch).
func Decode(arch Arch, code []byte, linkFor func(dispOffset int, dispWidth int, target int64) *link.Link) (semantic.InstructionSemantic, int) {
	switch arch {
	case AArch64:
		return decodeAArch64(code, linkFor)
	default:
		return decodeX86_64(code, linkFor)
	}
}

func decodeX86_64(code []byte, linkFor func(int, int, int64) *link.Link) (semantic.InstructionSemantic, int) {
	if len(code) == 0 {
		return semantic.NewRawByte(nil), 0
	}

	switch code[0] {
	case 0xC3: // ret
		return semantic.NewReturn(code[:1]), 1
	case 0xC2: // ret imm16
		if len(code) >= 3 {
			return semantic.NewReturn(code[:3]), 3
		}
	case 0xE8: // call rel32
		if len(code) >= 5 {
			return controlFlow(code[:5], "call", 1, 4, linkFor), 5
		}
	case 0xE9: // jmp rel32
		if len(code) >= 5 {
			return controlFlow(code[:5], "jmp", 1, 4, linkFor), 5
		}
	case 0xEB: // jmp rel8
		if len(code) >= 2 {
			return controlFlow(code[:2], "jmp", 1, 1, linkFor), 2
		}
	case 0x0F: // two-byte opcode: Jcc rel32; anything else takes the raw-byte fallback
		if len(code) >= 2 && code[1] >= 0x80 && code[1] <= 0x8F && len(code) >= 6 {
			return controlFlow(code[:6], "jcc", 2, 4, linkFor), 6
		}
	case 0xFF: // indirect jmp/call (ModRM /4 = jmp, /2 = call)
		if len(code) >= 2 {
			reg := (code[1] >> 3) & 0x7
			n := modrmLength(code)
			if n > 0 && n <= len(code) {
				switch reg {
				case 4:
					jmp := semantic.NewIndirectJump(code[:n])
					if addr, scale, ok := tableOperandHint(code[:n]); ok {
						jmp.SetTableHint(addr, scale)
					}
					return jmp, n
				case 2:
					return semantic.NewIndirectCall(code[:n]), n
				}
			}
		}
	case 0x55, 0x5D: // push rbp / pop rbp
		return semantic.NewStackFrame(code[:1]), 1
	}
	if code[0] >= 0x70 && code[0] <= 0x7F && len(code) >= 2 { // Jcc rel8
		return controlFlow(code[:2], "jcc", 1, 1, linkFor), 2
	}

	// Unrecognized or multi-byte encoding this decoder doesn't model
	// precisely: surface it as one opaque byte so the IR stays byte-
	// accurate; the caller advances one byte and decodes again.
	return semantic.NewRawByte(code[:1]), 1
}

// modrmLength returns the total instruction length for a single-byte
// 0xFF opcode with the ModRM/SIB/disp encoding at code[1:], or 0 if
// code is too short to tell.
func modrmLength(code []byte) int {
	if len(code) < 2 {
		return 0
	}
	modrm := code[1]
	mod := modrm >> 6
	rm := modrm & 0x7
	length := 2 // opcode + modrm
	if mod != 3 && rm == 4 && len(code) >= 3 {
		length++ // SIB byte
	}
	switch mod {
	case 0:
		if rm == 5 {
			length += 4 // RIP-relative disp32
		} else if rm == 4 && len(code) >= 3 && code[2]&0x7 == 5 {
			length += 4 // SIB base 101: disp32, no base register
		}
	case 1:
		length += 1
	case 2:
		length += 4
	}
	if length > len(code) {
		return 0
	}
	return length
}

// tableOperandHint recognizes the `jmp [disp32 + reg*scale]`
// memory-operand shape (ModRM mod=00 rm=100 with a SIB byte whose
// base field is 101 — "no base register, disp32 follows" — and a
// real index register), the base+scaled-index pattern spec.md §4.4
// names as the x86-64/ARM jump-table search target. code must be a
// 0xFF /4 instruction (code[0]==0xFF).
func tableOperandHint(code []byte) (addr uint64, scale int, ok bool) {
	if len(code) < 7 {
		return 0, 0, false
	}
	modrm := code[1]
	if modrm>>6 != 0 || modrm&0x7 != 4 {
		return 0, 0, false
	}
	sib := code[2]
	if sib&0x7 != 5 { // SIB base field must be 101 (disp32, no base reg)
		return 0, 0, false
	}
	index := (sib >> 3) & 0x7
	if index == 4 { // 100 means "no index register"
		return 0, 0, false
	}
	switch (sib >> 6) & 0x3 {
	case 0:
		scale = 1
	case 1:
		scale = 2
	case 2:
		scale = 4
	default:
		return 0, 0, false // scale 8 falls outside the spec's {1,2,4}
	}
	disp32 := binary.LittleEndian.Uint32(code[3:7])
	return uint64(disp32), scale, true
}

func controlFlow(raw []byte, mnemonic string, dispOffset, dispWidth int, linkFor func(int, int, int64) *link.Link) *semantic.ControlFlowSemantic {
	var disp int64
	switch dispWidth {
	case 1:
		disp = int64(int8(raw[dispOffset]))
	case 4:
		disp = int64(int32(binary.LittleEndian.Uint32(raw[dispOffset : dispOffset+4])))
	}
	var l *link.Link
	if linkFor != nil {
		l = linkFor(dispOffset, dispWidth, disp)
	}
	return semantic.NewControlFlow(raw, mnemonic, dispOffset, dispWidth, l)
}

// decodeAArch64 classifies one fixed-width 4-byte AArch64 instruction.
func decodeAArch64(code []byte, linkFor func(int, int, int64) *link.Link) (semantic.InstructionSemantic, int) {
	if len(code) < 4 {
		return semantic.NewRawByte(code), len(code)
	}
	word := binary.LittleEndian.Uint32(code[:4])

	switch {
	case word == 0xD65F03C0: // RET (x30)
		return semantic.NewReturn(code[:4]), 4
	case word&0xFC000000 == 0x94000000: // BL imm26
		disp := signExtend(int64(word&0x03FFFFFF), 26) * 4
		var l *link.Link
		if linkFor != nil {
			l = linkFor(0, 4, disp)
		}
		return semantic.NewControlFlow(code[:4], "bl", 0, 4, l), 4
	case word&0xFC000000 == 0x14000000: // B imm26
		disp := signExtend(int64(word&0x03FFFFFF), 26) * 4
		var l *link.Link
		if linkFor != nil {
			l = linkFor(0, 4, disp)
		}
		return semantic.NewControlFlow(code[:4], "b", 0, 4, l), 4
	case word&0xFF000010 == 0x54000000: // B.cond imm19
		disp := signExtend(int64((word>>5)&0x7FFFF), 19) * 4
		var l *link.Link
		if linkFor != nil {
			l = linkFor(0, 4, disp)
		}
		return semantic.NewControlFlow(code[:4], "b.cond", 0, 4, l), 4
	case word&0xFFFFFC1F == 0xD61F0000: // BR Xn
		return semantic.NewIndirectJump(code[:4]), 4
	case word&0xFFFFFC1F == 0xD63F0000: // BLR Xn
		return semantic.NewIndirectCall(code[:4]), 4
	case word == 0xA9BF7BFD || word == 0xA8C17BFD: // stp/ldp x29,x30 (frame)
		return semantic.NewStackFrame(code[:4]), 4
	default:
		return semantic.NewLiteral(code[:4], "aarch64"), 4
	}
}

func signExtend(v int64, bits uint) int64 {
	shift := 64 - bits
	return (v << shift) >> shift
}
