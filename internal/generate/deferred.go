// Package generate implements the deferred ELF synthesis engine (C6):
// a graph of Sections and Segments whose field values are resolved to
// a fixed point before serialization (spec.md §4.5).
//
// Grounded on the teacher's (xyproto/c67) `codegen_elf_writer.go`,
// whose "regenerate with correct addresses" two-pass compile loop is
// exactly the two-phase (structural-then-content) resolve spec.md §9
// asks for; generalized here from one hardcoded recompute into a
// generic `Deferred[T]` plus a bounded fixed-point `Graph.Resolve`.
package generate

import (
	"fmt"

	"github.com/xyproto/etelf/internal/rerror"
)

// maxResolvePasses bounds the fixed-point iteration (spec.md §4.5:
// "a resolve that fails to converge in a small bounded number of
// passes (3) is a fatal emission error").
const maxResolvePasses = 3

// Deferred holds a record plus an ordered list of finalizer
// callbacks, resolved against the record in registration order. T is
// typically a pointer to a small value struct (e.g. *elf.Section64)
// so finalizers can mutate it in place.
type Deferred[T any] struct {
	Record     T
	finalizers []func(T)
}

// NewDeferred wraps record for staged finalization.
func NewDeferred[T any](record T) *Deferred[T] {
	return &Deferred[T]{Record: record}
}

// AddFinalizer appends f to the list run on every Resolve pass.
// Finalizers must be idempotent: re-running a converged finalizer
// against its already-correct record must not change it, since
// Resolve reruns every finalizer every pass until nothing changes.
func (d *Deferred[T]) AddFinalizer(f func(T)) {
	d.finalizers = append(d.finalizers, f)
}

// run executes every finalizer once, in registration order.
func (d *Deferred[T]) run() {
	for _, f := range d.finalizers {
		f(d.Record)
	}
}

// Resolvable is implemented by every Deferred[T] instantiation via
// Graph.Add's wrapper, letting Graph hold a heterogeneous list of
// deferred records without a type parameter on Graph itself.
type Resolvable interface {
	// runOnce executes this item's finalizers and reports a snapshot
	// of its serialized bytes, so Graph can detect whether another
	// pass changed anything.
	runOnce() []byte
}

func (d *Deferred[T]) runOnce() []byte {
	d.run()
	return snapshot(d.Record)
}

// snapshot takes a best-effort byte fingerprint of record for
// convergence comparison. Graph only needs equality, not a faithful
// encoding, so Sprintf is adequate and keeps every content type free
// of a bespoke Equal/Hash method.
func snapshot(record any) []byte {
	return []byte(fmt.Sprintf("%+v", record))
}

// Graph collects every Deferred item participating in one emission
// and drives them to a fixed point (spec.md §4.5's "two-phase pass ...
// run finalizers to a fixed point").
type Graph struct {
	items []Resolvable
}

// Add registers an item for resolution. Order matters only in that
// items added earlier run earlier within a pass; cross-references are
// expected to read another item's *structural* fields (set directly
// by ingestion/assignment code before Resolve is called), per the
// spec's two-phase split.
func (g *Graph) Add(item Resolvable) { g.items = append(g.items, item) }

// Resolve runs every item's finalizers repeatedly until no further
// pass changes any item's snapshot, or returns a transformation-
// failure error (E3) if convergence does not occur within
// maxResolvePasses.
func (g *Graph) Resolve() error {
	prev := make([][]byte, len(g.items))
	for pass := 0; pass < maxResolvePasses; pass++ {
		changed := false
		for i, item := range g.items {
			next := item.runOnce()
			if !bytesEqual(prev[i], next) {
				changed = true
			}
			prev[i] = next
		}
		if !changed {
			return nil
		}
	}
	return rerror.New(rerror.Transformation, "deferred resolve did not converge within the bounded pass count")
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
