package graph

import (
	"testing"

	"github.com/evalgo/forgecache/engineerrors"
)

func h(fp string) KeyHandle { return KeyHandle{Fingerprint: fp, Label: fp} }

func TestAddEdgeSimple(t *testing.T) {
	g := New()
	if err := g.AddEdge(h("A"), h("B")); err != nil {
		t.Fatal(err)
	}
}

func TestAddEdgeDetectsDirectCycle(t *testing.T) {
	g := New()
	if err := g.AddEdge(h("A"), h("B")); err != nil {
		t.Fatal(err)
	}
	err := g.AddEdge(h("B"), h("A"))
	if err == nil {
		t.Fatal("expected cycle error")
	}
	var cyc *engineerrors.CycleDetected
	if !asCycle(err, &cyc) {
		t.Fatalf("expected CycleDetected, got %T: %v", err, err)
	}
	// The diagnostic path starts at the origin that would have closed
	// the loop and walks back to it through the existing edges.
	if len(cyc.Path) < 2 || !contains(cyc.Path, "A") || !contains(cyc.Path, "B") {
		t.Fatalf("expected both A and B in the cycle path, got %v", cyc.Path)
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func TestAddEdgeDetectsTransitiveCycle(t *testing.T) {
	g := New()
	must(t, g.AddEdge(h("A"), h("B")))
	must(t, g.AddEdge(h("B"), h("C")))
	err := g.AddEdge(h("C"), h("A"))
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestRemoveEdgeUnblocksPath(t *testing.T) {
	g := New()
	must(t, g.AddEdge(h("A"), h("B")))
	g.RemoveEdge(h("A"), h("B"))
	// B -> A no longer closes a cycle since A -> B was removed.
	if err := g.AddEdge(h("B"), h("A")); err != nil {
		t.Fatalf("expected no cycle after edge removal, got %v", err)
	}
}

func TestActiveEdgeRefcount(t *testing.T) {
	g := New()
	must(t, g.AddEdge(h("A"), h("B")))
	must(t, g.AddEdge(h("A"), h("B"))) // second concurrent request on same edge
	g.RemoveEdge(h("A"), h("B"))
	// One reference remains; the edge must still be present, so a cycle
	// through it is still detected.
	err := g.AddEdge(h("B"), h("A"))
	if err == nil {
		t.Fatal("expected cycle error while an active reference remains")
	}
	g.RemoveEdge(h("A"), h("B"))
	// Now fully released.
	if _, ok := g.edges["A"]["B"]; ok {
		t.Fatal("expected edge to be gone after last release")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func asCycle(err error, target **engineerrors.CycleDetected) bool {
	c, ok := err.(*engineerrors.CycleDetected)
	if ok {
		*target = c
	}
	return ok
}
