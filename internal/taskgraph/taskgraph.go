// Package taskgraph implements the graph primitives described by spec.md
// §4.2: a directed graph keyed by generational node ids, a Tarjan-based
// strongly-connected-component finder used as the cycle check, and a
// topological Walker that yields nodes in reverse-topological order (leaves
// first) behind a done-token completion protocol.
//
// The underlying edge storage is mirrored into a github.com/pyr-sh/dag
// AcyclicGraph exactly the way internal/core/engine.go builds its TaskGraph
// (Add + Connect(dag.BasicEdge(...))), so the same dependency the reference
// engine relies on is exercised here too. The walker and SCC-finder
// themselves are implemented directly over this package's own adjacency
// maps rather than delegated to the library, so their ordering and
// done-token semantics are fully specified and testable without depending
// on unreviewed internals of a vendored copy of that library.
package taskgraph

import (
	"fmt"
	"sync"

	"github.com/pyr-sh/dag"
)

// NodeID is a generational identifier: Gen increases every time the slot at
// Index is reused after a node is removed, so a stale NodeID captured before
// a removal can never silently alias a newer node that happens to land in
// the same slot.
type NodeID struct {
	Index int
	Gen    uint32
}

func (n NodeID) String() string {
	return fmt.Sprintf("n%d.%d", n.Index, n.Gen)
}

type nodeSlot struct {
	gen    uint32
	alive  bool
	label  string
	out    map[NodeID]struct{} // edges to dependencies (this node depends on them)
	in     map[NodeID]struct{} // edges from dependents (they depend on this node)
}

// Graph is a directed graph of generational node ids. Edges point from a
// dependent to its dependency: AddEdge(dependent, dependency).
type Graph struct {
	mu       sync.RWMutex
	slots    []nodeSlot
	byLabel  map[string]NodeID
	free     []int
	underlay *dag.AcyclicGraph
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		byLabel:  make(map[string]NodeID),
		underlay: &dag.AcyclicGraph{},
	}
}

// AddNode inserts a node with the given label (used as the pyr-sh/dag vertex
// name, and as a stable external key e.g. a TaskId string) and returns its
// generational id. Adding the same label twice returns the existing id.
func (g *Graph) AddNode(label string) NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.byLabel[label]; ok {
		return id
	}
	var idx int
	if n := len(g.free); n > 0 {
		idx = g.free[n-1]
		g.free = g.free[:n-1]
		g.slots[idx].alive = true
		g.slots[idx].label = label
		g.slots[idx].out = make(map[NodeID]struct{})
		g.slots[idx].in = make(map[NodeID]struct{})
	} else {
		idx = len(g.slots)
		g.slots = append(g.slots, nodeSlot{gen: 1, alive: true, label: label, out: map[NodeID]struct{}{}, in: map[NodeID]struct{}{}})
	}
	id := NodeID{Index: idx, Gen: g.slots[idx].gen}
	g.byLabel[label] = id
	g.underlay.Add(label)
	return id
}

// RemoveNode removes a node and all edges touching it, bumping the
// generation of its slot so stale ids referencing it are detectable.
func (g *Graph) RemoveNode(id NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.validLocked(id) {
		return
	}
	slot := &g.slots[id.Index]
	for out := range slot.out {
		if g.validLocked(out) {
			delete(g.slots[out.Index].in, id)
		}
	}
	for in := range slot.in {
		if g.validLocked(in) {
			delete(g.slots[in.Index].out, id)
		}
	}
	delete(g.byLabel, slot.label)
	// The pyr-sh/dag mirror is additive-only: it exists so callers can reuse
	// its Dot/Ancestors/Descendents helpers on the graph shape as last built,
	// not as a live mutable mirror of every removal.
	slot.alive = false
	slot.gen++
	slot.out = nil
	slot.in = nil
	g.free = append(g.free, id.Index)
}

func (g *Graph) validLocked(id NodeID) bool {
	return id.Index >= 0 && id.Index < len(g.slots) && g.slots[id.Index].alive && g.slots[id.Index].gen == id.Gen
}

// Valid reports whether id still refers to a live node.
func (g *Graph) Valid(id NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.validLocked(id)
}

// Lookup resolves a label to its current generational id.
func (g *Graph) Lookup(label string) (NodeID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byLabel[label]
	return id, ok
}

// Label returns the stable label for a node id.
func (g *Graph) Label(id NodeID) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.validLocked(id) {
		return ""
	}
	return g.slots[id.Index].label
}

// AddEdge records that `dependent` depends on `dependency`: dependency must
// be walked, and must fire its done token, before dependent is eligible.
func (g *Graph) AddEdge(dependent, dependency NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.validLocked(dependent) || !g.validLocked(dependency) {
		return
	}
	g.slots[dependent.Index].out[dependency] = struct{}{}
	g.slots[dependency.Index].in[dependent] = struct{}{}
	g.underlay.Connect(dag.BasicEdge(g.slots[dependent.Index].label, g.slots[dependency.Index].label))
}

// RemoveEdge undoes AddEdge.
func (g *Graph) RemoveEdge(dependent, dependency NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.validLocked(dependent) || !g.validLocked(dependency) {
		return
	}
	delete(g.slots[dependent.Index].out, dependency)
	delete(g.slots[dependency.Index].in, dependent)
}

// NeighborsOut returns the set of dependencies of a node.
func (g *Graph) NeighborsOut(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.validLocked(id) {
		return nil
	}
	out := make([]NodeID, 0, len(g.slots[id.Index].out))
	for n := range g.slots[id.Index].out {
		out = append(out, n)
	}
	return out
}

// NeighborsIn returns the set of dependents of a node.
func (g *Graph) NeighborsIn(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.validLocked(id) {
		return nil
	}
	out := make([]NodeID, 0, len(g.slots[id.Index].in))
	for n := range g.slots[id.Index].in {
		out = append(out, n)
	}
	return out
}

// Nodes returns every live node id.
func (g *Graph) Nodes() []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]NodeID, 0, len(g.slots))
	for i, s := range g.slots {
		if s.alive {
			out = append(out, NodeID{Index: i, Gen: s.gen})
		}
	}
	return out
}

// Underlay exposes the mirrored pyr-sh/dag graph, e.g. for callers that want
// its own traversal/validation helpers (such as Validate for acyclicity
// checks independent of this package's own SCC finder).
func (g *Graph) Underlay() *dag.AcyclicGraph {
	return g.underlay
}

// TarjanSCC returns the strongly connected components of the graph in no
// particular order; a component with more than one node, or a single node
// with a self-edge, indicates a cycle. The walker refuses to run over a
// graph with any such component.
func (g *Graph) TarjanSCC() [][]NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	index := 0
	indices := make(map[NodeID]int)
	lowlink := make(map[NodeID]int)
	onStack := make(map[NodeID]bool)
	var stack []NodeID
	var sccs [][]NodeID

	var strongconnect func(v NodeID)
	strongconnect = func(v NodeID) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for w := range g.slots[v.Index].out {
			if !g.validLocked(w) {
				continue
			}
			if _, seen := indices[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var component []NodeID
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, component)
		}
	}

	for i, s := range g.slots {
		if !s.alive {
			continue
		}
		v := NodeID{Index: i, Gen: s.gen}
		if _, seen := indices[v]; !seen {
			strongconnect(v)
		}
	}
	return sccs
}

// HasCycle reports whether any strongly connected component contains more
// than one node, or a single node with a self-loop.
func (g *Graph) HasCycle() bool {
	for _, comp := range g.TarjanSCC() {
		if len(comp) > 1 {
			return true
		}
		if len(comp) == 1 {
			self := comp[0]
			g.mu.RLock()
			_, loop := g.slots[self.Index].out[self]
			g.mu.RUnlock()
			if loop {
				return true
			}
		}
	}
	return false
}
