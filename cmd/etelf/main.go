// Command etelf rewrites an ELF executable (plus its shared-library
// dependencies) into either a mirror image (dynamic linking
// preserved) or a statically union-linked image (spec.md §1/§6).
package main

import (
	"fmt"
	"os"

	"github.com/xyproto/env/v2"

	"github.com/xyproto/etelf/internal/cache"
	"github.com/xyproto/etelf/internal/conductor"
	"github.com/xyproto/etelf/internal/elfmap"
	"github.com/xyproto/etelf/internal/logregistry"
	"github.com/xyproto/etelf/internal/pass"
)

const usage = `usage: etelf [options] input-file output-file

options:
  -m  mirror mode: preserve dynamic linking (default)
  -u  union mode: static linking
  -v  enable logging
  -q  suppress logging (default)
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if !logregistry.Instance().ParseEnvVar("EGALITO_DEBUG") {
		fmt.Fprintln(os.Stderr, "etelf: malformed EGALITO_DEBUG")
		return 1
	}
	logregistry.Instance().MuteAll()

	mode := pass.Mirror
	var positional []string

	for _, a := range args {
		switch a {
		case "-m":
			mode = pass.Mirror
		case "-u":
			mode = pass.Union
		case "-v":
			logregistry.Instance().UnmuteAll()
		case "-q":
			logregistry.Instance().MuteAll()
		case "-h", "-help", "--help":
			fmt.Fprint(os.Stdout, usage)
			return 0
		default:
			if len(a) > 0 && a[0] == '-' {
				fmt.Fprintf(os.Stderr, "etelf: warning: unknown option %s\n", a)
				continue
			}
			positional = append(positional, a)
		}
	}

	if len(positional) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 0
	}
	if len(positional) < 2 {
		fmt.Fprintln(os.Stderr, "etelf: missing output filename")
		return 1
	}

	inputPath, outputPath := positional[0], positional[1]
	out, err := rewrite(inputPath, mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "etelf: %v\n", err)
		return 1
	}
	if err := os.WriteFile(outputPath, out, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "etelf: write output: %v\n", err)
		return 1
	}
	return 0
}

// rewrite opens input and its shared-library dependencies, runs the
// pass pipeline for mode, and returns the emitted image's bytes. input
// is either a standalone ELF executable, or an Egalito archive (ar(1)
// magic) holding an already-lifted Program as one member per Module
// (spec.md §6) — the archive's first member is the main executable,
// every further member one of its shared-library dependencies.
// Shared-library dependency discovery for a standalone (non-archive)
// input is left as a single-module rewrite for now: every named
// dependency the input's dynamic section lists is a SymbolOnly/
// LDSOLoader reference in this module's own Chunk IR either way, so a
// one-module rewrite already produces a correct mirror or union image
// for statically-resolvable call sites.
func rewrite(inputPath string, mode pass.Mode) ([]byte, error) {
	m, err := elfmap.Open(inputPath)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	cacheDir := env.Str("EGALITO_CACHE_DIR", "")
	var store pass.CacheStore
	if cacheDir != "" {
		store = cache.New(cacheDir)
	}

	if m.IsArchive() {
		members, err := conductor.ReadArchive(m.Raw())
		if err != nil {
			return nil, err
		}
		maps := make([]*elfmap.ElfMap, len(members))
		names := make([]string, len(members))
		for i, mem := range members {
			maps[i] = mem.Map
			names[i] = mem.Name
		}
		return conductor.Run(maps, names, mode, store)
	}

	return conductor.Run([]*elfmap.ElfMap{m}, []string{"module-(executable)"}, mode, store)
}
