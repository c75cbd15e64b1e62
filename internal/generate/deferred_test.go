package generate

import "testing"

type counter struct{ n int }

func (c *counter) runOnce() []byte {
	c.n++
	if c.n > 2 {
		c.n = 2
	}
	return []byte{byte(c.n)}
}

func TestGraphResolveConverges(t *testing.T) {
	g := &Graph{}
	c := &counter{}
	g.Add(c)
	if err := g.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.n != 2 {
		t.Fatalf("expected counter to settle at 2, got %d", c.n)
	}
}

type neverSettles struct{ n int }

func (s *neverSettles) runOnce() []byte {
	s.n++
	return []byte{byte(s.n)}
}

func TestGraphResolveFailsToConverge(t *testing.T) {
	g := &Graph{}
	g.Add(&neverSettles{})
	if err := g.Resolve(); err == nil {
		t.Fatal("expected a non-convergence error")
	}
}

func TestDeferredFinalizerAppliesRecordMutation(t *testing.T) {
	type rec struct{ v int }
	d := NewDeferred(&rec{})
	d.AddFinalizer(func(r *rec) { r.v = 7 })
	d.runOnce()
	if d.Record.v != 7 {
		t.Fatalf("expected finalizer to set v=7, got %d", d.Record.v)
	}
}
