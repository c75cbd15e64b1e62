package pass

import (
	"encoding/binary"
	"fmt"

	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/link"
	"github.com/xyproto/etelf/internal/position"
	"github.com/xyproto/etelf/internal/semantic"
)

// rel8Min/rel8Max bound the signed 8-bit displacement range a short
// jump/Jcc can encode.
const (
	rel8Min = -128
	rel8Max = 127
	// margin narrows the accepted rel8 range by 4 bytes at each end,
	// measured from current addresses: room for one other jump between
	// this instruction and its target growing by up to 4 bytes. It does
	// not bound where the target lands once every pending promotion is
	// applied; a jump pushed out of range by several promotions is
	// picked up in the next round.
	margin = 4
)

// PromoteJumpsPass re-encodes short-form ControlFlow branches whose
// target falls outside the 8-bit displacement range into the 32-bit
// near form, re-running until no further promotions occur (spec.md
// §4.4: "monotone: no jump is ever demoted").
type PromoteJumpsPass struct{}

func (p *PromoteJumpsPass) Name() string { return "PromoteJumps" }

func (p *PromoteJumpsPass) Run(prog *chunk.Program) error {
	const maxRounds = 64 // generous bound; a converging run needs far fewer
	for round := 0; round < maxRounds; round++ {
		promoted := 0
		walkFunctions(prog, func(_ *chunk.Module, f *chunk.Function) {
			walkInstructions(f, func(_ *chunk.Block, instr *chunk.Instruction) {
				cf, ok := instr.Semantic().(*semantic.ControlFlowSemantic)
				if !ok || !cf.IsShortForm() {
					return
				}
				if promoteIfNeeded(instr, cf) {
					promoted++
				}
			})
		})
		if promoted == 0 {
			return nil
		}
		position.Bump()
	}
	return fmt.Errorf("transformation failure: PromoteJumps did not converge within %d rounds", maxRounds)
}

func promoteIfNeeded(instr *chunk.Instruction, cf *semantic.ControlFlowSemantic) bool {
	targetAddr, known := resolveTargetAddress(cf.Link())
	if !known {
		return false
	}

	instrAddr := instr.Address()
	nextAddr := instrAddr + cf.EncodedSize()
	disp := int64(targetAddr) - int64(nextAddr)
	if disp >= rel8Min+margin && disp <= rel8Max-margin {
		return false
	}

	raw := cf.Bytes()
	var newRaw []byte
	switch {
	case len(raw) >= 1 && raw[0] == 0xEB: // jmp rel8 -> jmp rel32
		newRaw = make([]byte, 5)
		newRaw[0] = 0xE9
	case len(raw) >= 1 && raw[0] >= 0x70 && raw[0] <= 0x7F: // Jcc rel8 -> Jcc rel32
		newRaw = make([]byte, 6)
		newRaw[0] = 0x0F
		newRaw[1] = 0x80 + (raw[0] - 0x70)
	default:
		return false
	}

	// Placeholder displacement; the relocation/emission stage or a
	// subsequent round recomputes the final value once every
	// instruction's final size is known (two-phase resolve, C6).
	dispOffset := len(newRaw) - 4
	binary.LittleEndian.PutUint32(newRaw[dispOffset:], uint32(int32(disp)))
	cf.SetRaw(newRaw, 4)
	cf.SetDispOffset(dispOffset)
	return true
}

func resolveTargetAddress(l *link.Link) (uint64, bool) {
	if l == nil {
		return 0, false
	}
	switch l.Variant {
	case link.Normal:
		if addressable, ok := l.Target.(interface{ Address() uint64 }); ok {
			return addressable.Address(), true
		}
	case link.Unresolved:
		return l.Address, true
	}
	return 0, false
}
