// Package cache implements the on-disk jump-table cache format
// spec.md §6 names but leaves, like the ELF parser and disassembler,
// "specified only by interface": one text file per module named
// "<module>-jumptable", five decimal integers per table (instruction
// address, table address, target base, scale, entry count), newline
// separated.
package cache

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xyproto/etelf/internal/pass"
	"github.com/xyproto/etelf/internal/rerror"
)

// Store is a directory of per-module jump-table cache files,
// satisfying pass.CacheStore.
type Store struct {
	Dir string
}

// New builds a Store rooted at dir. dir is created on first Save if
// it does not already exist.
func New(dir string) *Store { return &Store{Dir: dir} }

func (s *Store) path(moduleName string) string {
	return filepath.Join(s.Dir, moduleName+"-jumptable")
}

// Load reads descriptors for moduleName. A missing file is a cache
// miss (ok=false), not an error: spec.md §4.4 "cache is advisory —
// discovery must be deterministic on a cache miss."
func (s *Store) Load(moduleName string) ([]pass.Descriptor, bool) {
	f, err := os.Open(s.path(moduleName))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var out []pass.Descriptor
	sc := bufio.NewScanner(f)
	for {
		var d pass.Descriptor
		d.ModuleName = moduleName
		ok, fields := scanFive(sc)
		if !ok {
			break
		}
		d.InstrAddress = fields[0]
		d.TableAddress = fields[1]
		d.TargetBase = fields[2]
		d.Scale = int(fields[3])
		d.Entries = int(int64(fields[4]))
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// scanFive reads the next five decimal-integer lines, one descriptor.
func scanFive(sc *bufio.Scanner) (bool, [5]uint64) {
	var fields [5]uint64
	for i := 0; i < 5; i++ {
		if !sc.Scan() {
			return false, fields
		}
		var v int64
		if _, err := fmt.Sscanf(sc.Text(), "%d", &v); err != nil {
			return false, fields
		}
		fields[i] = uint64(v)
	}
	return true, fields
}

// Save writes descriptors for moduleName, excluding the two synthetic
// modules spec.md §6 names (module-(executable), module-(egalito));
// callers are expected to have already filtered those out, but Save
// re-checks as a last line of defense.
func (s *Store) Save(moduleName string, descriptors []pass.Descriptor) error {
	if moduleName == "module-(executable)" || moduleName == "module-(egalito)" {
		return nil
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return rerror.Wrap(rerror.Transformation, "create jump-table cache directory", err)
	}

	f, err := os.Create(s.path(moduleName))
	if err != nil {
		return rerror.Wrap(rerror.Transformation, "create jump-table cache file", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, d := range descriptors {
		fmt.Fprintf(w, "%d\n%d\n%d\n%d\n%d\n", d.InstrAddress, d.TableAddress, d.TargetBase, d.Scale, d.Entries)
	}
	return w.Flush()
}
