package pass

import (
	"github.com/xyproto/etelf/internal/chunk"
	"github.com/xyproto/etelf/internal/link"
)

// environNames lists the libc global variables that alias the
// process environment pointer. A statically-union-linked binary ends
// up with one copy of libc's globals per merged module; without this
// pass each copy would carry its own independent (and wrong) idea of
// `environ`.
var environNames = []string{"environ", "__environ", "_environ"}

// FixEnvironPass runs only in union mode, before CollapsePLT (spec.md
// §4.4). It repoints every module's environ-family DataVariable at
// one canonical copy (the first one encountered), so the merged
// static binary has a single source of truth for the environment
// pointer instead of one per duplicated libc copy.
type FixEnvironPass struct{}

func (p *FixEnvironPass) Name() string { return "FixEnviron" }

func (p *FixEnvironPass) Run(prog *chunk.Program) error {
	var canonical *chunk.DataVariable

	for _, m := range prog.Modules() {
		dr := m.DataRegion()
		if dr == nil {
			continue
		}
		for _, sec := range dr.Sections() {
			for _, v := range sec.Variables() {
				if !isEnvironName(v.Name()) {
					continue
				}
				if canonical == nil {
					canonical = v
					continue
				}
				if v == canonical {
					continue
				}
				v.SetLink(link.NewNormal(canonical, link.ScopeInternal))
			}
		}
	}
	return nil
}

func isEnvironName(name string) bool {
	for _, n := range environNames {
		if name == n {
			return true
		}
	}
	return false
}
