// Package graph tracks the live origin->destination request edges
// between in-flight keys, detecting cycles before they can deadlock the
// engine. Edges are keyed by stable fingerprint and are never persisted;
// the graph only describes the shape of the build currently in flight.
package graph

import (
	"fmt"
	"sync"

	"github.com/evalgo/forgecache/engineerrors"
)

// KeyHandle is a cheap, human-readable stand-in for a key used only to
// reconstruct cycle diagnostics; the graph never retains the key itself.
type KeyHandle struct {
	Fingerprint string
	Label       string
}

// Graph is the Key Dependency Graph (component B). The zero value is not
// usable; construct with New.
type Graph struct {
	mu sync.Mutex

	// edges is the set of distinct origin->dest edges currently known.
	edges map[string]map[string]struct{}
	// active is the reference count per edge: the number of concurrent
	// outstanding requests currently traversing it.
	active map[[2]string]int
	// known lets AddEdge's cycle search report a path of labels instead
	// of opaque fingerprints.
	known map[string]KeyHandle
}

// New returns an empty dependency graph.
func New() *Graph {
	return &Graph{
		edges:  make(map[string]map[string]struct{}),
		active: make(map[[2]string]int),
		known:  make(map[string]KeyHandle),
	}
}

// AddEdge records that origin is waiting on dest. If the edge is already
// known, only the active-edge count is incremented. Otherwise a
// reachability search from dest to origin runs first; if dest can already
// reach origin, inserting this edge would close a cycle and the call
// fails with *engineerrors.CycleDetected, leaving the graph unchanged.
func (g *Graph) AddEdge(origin, dest KeyHandle) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.known[origin.Fingerprint] = origin
	g.known[dest.Fingerprint] = dest

	pairKey := [2]string{origin.Fingerprint, dest.Fingerprint}
	g.active[pairKey]++

	if _, known := g.edges[origin.Fingerprint][dest.Fingerprint]; known {
		return nil
	}

	if path, found := g.reachable(dest.Fingerprint, origin.Fingerprint); found {
		g.active[pairKey]--
		if g.active[pairKey] <= 0 {
			delete(g.active, pairKey)
		}
		labels := make([]string, 0, len(path)+1)
		labels = append(labels, g.label(origin.Fingerprint))
		for _, fp := range path {
			labels = append(labels, g.label(fp))
		}
		return &engineerrors.CycleDetected{Path: labels}
	}

	if g.edges[origin.Fingerprint] == nil {
		g.edges[origin.Fingerprint] = make(map[string]struct{})
	}
	g.edges[origin.Fingerprint][dest.Fingerprint] = struct{}{}
	return nil
}

// RemoveEdge decrements the active count for origin->dest; once it
// reaches zero the edge is dropped from the graph entirely.
func (g *Graph) RemoveEdge(origin, dest KeyHandle) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pairKey := [2]string{origin.Fingerprint, dest.Fingerprint}
	if g.active[pairKey] > 0 {
		g.active[pairKey]--
	}
	if g.active[pairKey] > 0 {
		return
	}
	delete(g.active, pairKey)
	if adj, ok := g.edges[origin.Fingerprint]; ok {
		delete(adj, dest.Fingerprint)
		if len(adj) == 0 {
			delete(g.edges, origin.Fingerprint)
		}
	}
}

func (g *Graph) label(fp string) string {
	if h, ok := g.known[fp]; ok && h.Label != "" {
		return h.Label
	}
	return fp
}

// reachable performs an iterative DFS from start looking for target.
// It returns the first path found, start first and target last, which
// is not guaranteed to be the shortest.
func (g *Graph) reachable(start, target string) ([]string, bool) {
	if start == target {
		return []string{start}, true
	}

	type frame struct {
		node string
		path []string
	}

	visited := map[string]bool{start: true}
	stack := []frame{{node: start, path: []string{start}}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for next := range g.edges[top.node] {
			if next == target {
				return append(append([]string{}, top.path...), next), true
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			nextPath := append(append([]string{}, top.path...), next)
			stack = append(stack, frame{node: next, path: nextPath})
		}
	}
	return nil, false
}

// TopologicalOrder reports a legal evaluation order (Kahn's algorithm)
// of the fingerprints currently known to the graph. It is a diagnostics
// helper only: the authoritative, incremental cycle check is AddEdge's
// DFS, and this function errors if the live edge set is (transiently)
// inconsistent rather than trying to detect cycles itself.
func (g *Graph) TopologicalOrder() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	inDegree := make(map[string]int)
	for node := range g.known {
		inDegree[node] = 0
	}
	for _, adj := range g.edges {
		for dest := range adj {
			inDegree[dest]++
		}
	}

	var queue []string
	for node, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, node)
		}
	}

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for dest := range g.edges[n] {
			inDegree[dest]--
			if inDegree[dest] == 0 {
				queue = append(queue, dest)
			}
		}
	}

	if len(order) != len(inDegree) {
		return nil, fmt.Errorf("graph: topological order incomplete, %d of %d nodes ordered (live cycle?)", len(order), len(inDegree))
	}
	return order, nil
}
