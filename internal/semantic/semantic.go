// Package semantic implements InstructionSemantic (spec.md §3): a
// tagged variant describing what one Instruction chunk actually does,
// separate from its address (position.Position) and its raw encoded
// bytes.
//
// Grounded on the teacher's (xyproto/c67) per-mnemonic instruction
// builders (mov_x86_64.go, jmp.go, arm64_instructions.go), each of
// which returns a fixed-size byte sequence for one operation. Here the
// same idea is generalized into a tagged enum with exhaustive
// type-switch handling in every visitor (pass package), per the
// spec's Design Notes preference for "a tagged-variant enumeration
// with exhaustive matching in visitors" over dynamic_cast chains.
package semantic

import "github.com/xyproto/etelf/internal/link"

// Kind tags the InstructionSemantic variant.
type Kind int

const (
	RawByte Kind = iota
	Literal
	ControlFlow
	Linked
	Return
	IndirectJump
	IndirectCall
	StackFrame
)

// InstructionSemantic is satisfied by every semantic variant.
type InstructionSemantic interface {
	Kind() Kind
	// EncodedSize is the number of bytes this semantic occupies once
	// encoded (I3: a Block's size is the sum of its instructions'
	// encoded sizes).
	EncodedSize() uint64
	// Bytes is the raw encoding, valid once displacement fields (if
	// any) have been patched.
	Bytes() []byte
}

// Displaced is implemented by semantics that patch a displacement
// field (ControlFlow, Linked): the pass pipeline needs the byte
// offset of that field to rewrite it (PromoteJumps, relocation
// synthesis).
type Displaced interface {
	InstructionSemantic
	DispOffset() int
	SetDispOffset(int)
	Link() *link.Link
	SetLink(*link.Link)
}

// RawByteSemantic is an opaque, non-decoded byte sequence — used for
// padding, unknown bytes, and anything the disassembler declined to
// classify further.
type RawByteSemantic struct {
	raw []byte
}

func NewRawByte(raw []byte) *RawByteSemantic { return &RawByteSemantic{raw: raw} }
func (s *RawByteSemantic) Kind() Kind         { return RawByte }
func (s *RawByteSemantic) EncodedSize() uint64 { return uint64(len(s.raw)) }
func (s *RawByteSemantic) Bytes() []byte       { return s.raw }

// LiteralSemantic is an architecture-decoded instruction with no
// relocatable operand (e.g. "xor eax, eax").
type LiteralSemantic struct {
	raw       []byte
	mnemonic  string
}

func NewLiteral(raw []byte, mnemonic string) *LiteralSemantic {
	return &LiteralSemantic{raw: raw, mnemonic: mnemonic}
}
func (s *LiteralSemantic) Kind() Kind          { return Literal }
func (s *LiteralSemantic) EncodedSize() uint64 { return uint64(len(s.raw)) }
func (s *LiteralSemantic) Bytes() []byte       { return s.raw }
func (s *LiteralSemantic) Mnemonic() string    { return s.mnemonic }

// ControlFlowSemantic is a branch or call with a displacement operand
// and a Link describing its target.
type ControlFlowSemantic struct {
	raw        []byte
	mnemonic   string
	dispOffset int
	dispWidth  int // 1 (rel8) or 4 (rel32)
	link       *link.Link
}

// NewControlFlow builds a ControlFlow semantic. dispOffset is the byte
// offset within raw of the start of the displacement field;
// dispWidth is 1 for an 8-bit displacement or 4 for a 32-bit one.
func NewControlFlow(raw []byte, mnemonic string, dispOffset, dispWidth int, l *link.Link) *ControlFlowSemantic {
	return &ControlFlowSemantic{raw: raw, mnemonic: mnemonic, dispOffset: dispOffset, dispWidth: dispWidth, link: l}
}
func (s *ControlFlowSemantic) Kind() Kind          { return ControlFlow }
func (s *ControlFlowSemantic) EncodedSize() uint64 { return uint64(len(s.raw)) }
func (s *ControlFlowSemantic) Bytes() []byte       { return s.raw }
func (s *ControlFlowSemantic) Mnemonic() string    { return s.mnemonic }
func (s *ControlFlowSemantic) DispOffset() int     { return s.dispOffset }
func (s *ControlFlowSemantic) SetDispOffset(o int) { s.dispOffset = o }
func (s *ControlFlowSemantic) Link() *link.Link    { return s.link }
func (s *ControlFlowSemantic) SetLink(l *link.Link) { s.link = l }
func (s *ControlFlowSemantic) DispWidth() int      { return s.dispWidth }

// SetRaw replaces the encoded bytes (used by PromoteJumpsPass when
// re-encoding an 8-bit displacement as a 32-bit one).
func (s *ControlFlowSemantic) SetRaw(raw []byte, dispWidth int) {
	s.raw = raw
	s.dispWidth = dispWidth
}

// IsShortForm reports whether this branch currently uses the 8-bit
// displacement encoding.
func (s *ControlFlowSemantic) IsShortForm() bool { return s.dispWidth == 1 }

// LinkedSemantic is a data-referencing instruction (e.g. a
// RIP-relative lea) with a displacement operand and a Link into data.
type LinkedSemantic struct {
	raw        []byte
	dispOffset int
	link       *link.Link
}

func NewLinked(raw []byte, dispOffset int, l *link.Link) *LinkedSemantic {
	return &LinkedSemantic{raw: raw, dispOffset: dispOffset, link: l}
}
func (s *LinkedSemantic) Kind() Kind          { return Linked }
func (s *LinkedSemantic) EncodedSize() uint64 { return uint64(len(s.raw)) }
func (s *LinkedSemantic) Bytes() []byte       { return s.raw }
func (s *LinkedSemantic) DispOffset() int     { return s.dispOffset }
func (s *LinkedSemantic) SetDispOffset(o int) { s.dispOffset = o }
func (s *LinkedSemantic) Link() *link.Link    { return s.link }
func (s *LinkedSemantic) SetLink(l *link.Link) { s.link = l }

// ReturnSemantic is a function return instruction (ret / ret imm16).
type ReturnSemantic struct{ raw []byte }

func NewReturn(raw []byte) *ReturnSemantic  { return &ReturnSemantic{raw: raw} }
func (s *ReturnSemantic) Kind() Kind          { return Return }
func (s *ReturnSemantic) EncodedSize() uint64 { return uint64(len(s.raw)) }
func (s *ReturnSemantic) Bytes() []byte       { return s.raw }

// IndirectJumpSemantic is an indirect jump (jmp *reg / jmp *mem, or
// AArch64 br). forJumpTable marks it as the dispatch instruction of a
// discovered jump table (JumpTablePass). hintAddr/hintScale carry a
// base+scaled-index memory-operand hint recognized at decode time
// (disasm), the seed JumpTablePass's heuristic search expands on.
type IndirectJumpSemantic struct {
	raw          []byte
	forJumpTable bool
	hasHint      bool
	hintAddr     uint64
	hintScale    int
}

func NewIndirectJump(raw []byte) *IndirectJumpSemantic { return &IndirectJumpSemantic{raw: raw} }
func (s *IndirectJumpSemantic) Kind() Kind          { return IndirectJump }
func (s *IndirectJumpSemantic) EncodedSize() uint64 { return uint64(len(s.raw)) }
func (s *IndirectJumpSemantic) Bytes() []byte       { return s.raw }
func (s *IndirectJumpSemantic) IsForJumpTable() bool { return s.forJumpTable }
func (s *IndirectJumpSemantic) SetForJumpTable(v bool) { s.forJumpTable = v }

// SetTableHint records a recognized `jmp [disp32 + reg*scale]`
// memory-operand pattern: disp32 is the candidate table's base
// address, scale its element width in bytes.
func (s *IndirectJumpSemantic) SetTableHint(tableAddr uint64, scale int) {
	s.hasHint = true
	s.hintAddr = tableAddr
	s.hintScale = scale
}

// TableHint reports a recognized memory-operand hint, if any.
func (s *IndirectJumpSemantic) TableHint() (tableAddr uint64, scale int, ok bool) {
	return s.hintAddr, s.hintScale, s.hasHint
}

// IndirectCallSemantic is an indirect call (call *reg / call *mem,
// or AArch64 blr) — used for IFUNC resolver invocations among others.
type IndirectCallSemantic struct{ raw []byte }

func NewIndirectCall(raw []byte) *IndirectCallSemantic { return &IndirectCallSemantic{raw: raw} }
func (s *IndirectCallSemantic) Kind() Kind          { return IndirectCall }
func (s *IndirectCallSemantic) EncodedSize() uint64 { return uint64(len(s.raw)) }
func (s *IndirectCallSemantic) Bytes() []byte       { return s.raw }

// StackFrameSemantic marks a prologue/epilogue instruction affecting
// the stack frame (push rbp / mov rbp, rsp / add rsp, N, ...), as
// recognized by the disasm decoder.
type StackFrameSemantic struct{ raw []byte }

func NewStackFrame(raw []byte) *StackFrameSemantic { return &StackFrameSemantic{raw: raw} }
func (s *StackFrameSemantic) Kind() Kind          { return StackFrame }
func (s *StackFrameSemantic) EncodedSize() uint64 { return uint64(len(s.raw)) }
func (s *StackFrameSemantic) Bytes() []byte       { return s.raw }
