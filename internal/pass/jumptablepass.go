package pass

import (
	"fmt"

	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/link"
	"github.com/xyproto/etelf/internal/logregistry"
	"github.com/xyproto/etelf/internal/semantic"
)

// Descriptor is one discovered (or cached) jump-table candidate,
// matching the five fields spec.md §4.4/§6 persist to disk.
type Descriptor struct {
	ModuleName   string
	InstrAddress uint64
	TableAddress uint64
	TargetBase   uint64
	Scale        int
	Entries      int // -1 if unknown
}

// RawTableReader reads the width-byte value at address within the
// named module's original image (copy_base + address, spec.md §4.4).
// Supplied by the conductor, backed by the module's ElfMap mapping.
type RawTableReader func(moduleName string, address uint64, width int) (value int64, ok bool)

// CacheStore persists/retrieves discovered descriptors, the external
// on-disk cache format spec.md §1 calls out as "specified only by
// interface" (implemented concretely in internal/cache).
type CacheStore interface {
	Load(moduleName string) ([]Descriptor, bool)
	Save(moduleName string, descriptors []Descriptor) error
}

// JumpTableArch selects the scale-to-target arithmetic: AArch64
// multiplies the sign-extended entry by 4 (spec.md §4.4), x86-64 does
// not.
type JumpTableArch int

const (
	ArchX86_64 JumpTableArch = iota
	ArchAArch64
)

// JumpTablePass discovers indirect-jump dispatch tables (spec.md
// §4.4). The byte-pattern search itself is seeded by disasm's
// TableHint recognition of the `jmp [disp32 + reg*scale]` memory
// operand; this pass owns collision resolution, raw-table resolution,
// and cache merge/persist.
type JumpTablePass struct {
	Arch  JumpTableArch
	Read  RawTableReader
	Cache CacheStore
}

func (p *JumpTablePass) Name() string { return "JumpTable" }

func (p *JumpTablePass) Run(prog *chunk.Program) error {
	for _, m := range prog.Modules() {
		if err := p.runModule(prog, m); err != nil {
			return err
		}
	}
	return nil
}

func (p *JumpTablePass) runModule(prog *chunk.Program, m *chunk.Module) error {
	discovered := discoverCandidates(m)

	cacheable := !m.IsExecutableModule() && !m.IsEgalitoModule()
	var cached []Descriptor
	if p.Cache != nil && cacheable {
		cached, _ = p.Cache.Load(m.Name())
	}
	merged := mergeDescriptors(discovered, cached)

	jl := m.JumpTableList()
	if jl == nil {
		jl = chunk.NewJumpTableList()
		m.SetJumpTableList(jl)
	}

	for _, d := range merged {
		jt := chunk.NewJumpTable(d.TableAddress, d.InstrAddress, d.TargetBase, d.Scale, d.Entries)
		jl.Append(jt)
		if d.Entries < 0 || p.Read == nil {
			continue
		}
		for i := 0; i < d.Entries; i++ {
			entryAddr := d.TableAddress + uint64(i*d.Scale)
			raw, ok := p.Read(m.Name(), entryAddr, d.Scale)
			if !ok {
				logregistry.Log("jumptable", 1, "module %s: failed to read entry %d of table at 0x%x", m.Name(), i, d.TableAddress)
				break
			}
			value := signExtendScale(raw, d.Scale)
			if p.Arch == ArchAArch64 {
				value *= 4
			}
			target := d.TargetBase + uint64(value)

			var l *link.Link
			if fl := moduleFunctionList(m); fl != nil {
				if fn := fl.FindContaining(target); fn != nil {
					if instr := instructionAt(fn, target); instr != nil {
						l = link.NewNormal(instr, link.ScopeInternal)
					}
				}
			}
			if l == nil {
				l = link.NewUnresolved(target)
			}
			entry := chunk.NewJumpTableEntry(l, d.Scale)
			jt.Append(entry)
		}
	}

	if p.Cache != nil && cacheable {
		if err := p.Cache.Save(m.Name(), merged); err != nil {
			return fmt.Errorf("save jump-table cache for %s: %w", m.Name(), err)
		}
	}
	return nil
}

func moduleFunctionList(m *chunk.Module) *chunk.FunctionList { return m.FunctionList() }

func instructionAt(f *chunk.Function, addr uint64) *chunk.Instruction {
	for _, b := range f.Blocks() {
		for _, instr := range b.Instructions() {
			start := instr.Address()
			if addr >= start && addr < start+instr.Size() {
				return instr
			}
		}
	}
	return nil
}

func discoverCandidates(m *chunk.Module) []Descriptor {
	var out []Descriptor
	fl := m.FunctionList()
	if fl == nil {
		return out
	}
	for _, f := range fl.Functions() {
		for _, b := range f.Blocks() {
			for _, instr := range b.Instructions() {
				ij, ok := instr.Semantic().(*semantic.IndirectJumpSemantic)
				if !ok {
					continue
				}
				addr, scale, hasHint := ij.TableHint()
				if !hasHint {
					continue
				}
				ij.SetForJumpTable(true)
				out = append(out, Descriptor{
					ModuleName:   m.Name(),
					InstrAddress: instr.Address(),
					TableAddress: addr,
					TargetBase:   0,
					Scale:        scale,
					Entries:      -1,
				})
			}
		}
	}
	return out
}

// mergeDescriptors resolves collisions on a shared table address per
// spec.md §4.4: known entry count wins over unknown; between two
// known counts, the larger wins (logged).
func mergeDescriptors(discovered, cached []Descriptor) []Descriptor {
	byAddr := make(map[uint64]Descriptor)
	order := make([]uint64, 0, len(discovered)+len(cached))
	add := func(d Descriptor) {
		existing, ok := byAddr[d.TableAddress]
		if !ok {
			byAddr[d.TableAddress] = d
			order = append(order, d.TableAddress)
			return
		}
		byAddr[d.TableAddress] = resolveCollision(existing, d)
	}
	for _, d := range discovered {
		add(d)
	}
	for _, d := range cached {
		add(d)
	}
	out := make([]Descriptor, 0, len(order))
	for _, addr := range order {
		out = append(out, byAddr[addr])
	}
	return out
}

func resolveCollision(a, b Descriptor) Descriptor {
	switch {
	case a.Entries < 0 && b.Entries >= 0:
		return b
	case b.Entries < 0 && a.Entries >= 0:
		return a
	case a.Entries >= 0 && b.Entries >= 0 && a.Entries != b.Entries:
		logregistry.Log("jumptable", 0, "colliding jump tables at 0x%x disagree on entry count (%d vs %d); keeping the larger", a.TableAddress, a.Entries, b.Entries)
		if b.Entries > a.Entries {
			return b
		}
		return a
	default:
		return a
	}
}

func signExtendScale(raw int64, scale int) int64 {
	switch scale {
	case 1:
		return int64(int8(raw))
	case 2:
		return int64(int16(raw))
	default:
		return int64(int32(raw))
	}
}
