// Package taskengine implements the memoizing task scheduler: registered
// functions with a cache cell, dirty propagation through everything that
// read a cell, and recomputation deferred to the next read rather than
// done eagerly when a dependency changes.
//
// Dependency edges recorded while a task runs are mirrored into both an
// internal/taskgraph.Graph (for dependents lookup) and an
// internal/aggregation.Tree (for an O(depth) "how many dirty tasks does
// this subtree contain" query instead of a full subtree walk on every
// check). Edges are rebuilt from scratch on every recomputation, since a
// task can read a different set of cells on different runs; stale edges
// from the previous run are removed once the new read set is known.
package taskengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/turbocache/turbo/internal/aggregation"
	"github.com/turbocache/turbo/internal/taskgraph"
)

// TaskFunc is a registered task body. It receives a RunContext used to read
// other cells (recording a dependency edge) and to emit collectibles.
type TaskFunc func(rc *RunContext) (interface{}, error)

type cellState int

const (
	stateEmpty cellState = iota
	stateDirty
	stateClean
)

type cell struct {
	mu    sync.Mutex
	id    string
	fn    TaskFunc
	state cellState
	value interface{}
	err   error
	// deps is the read set recorded by the most recent successful run.
	deps map[string]struct{}
	// emitted is the set of (type, key) pairs this cell emitted directly on
	// its most recent run, used to reconcile collectibles the same way deps
	// reconciles read edges.
	emitted map[[2]string]struct{}
}

// Engine holds the cell table and the two graph mirrors that drive dirty
// propagation and collectible aggregation.
type Engine struct {
	mu      sync.Mutex
	cells   map[string]*cell
	nodeIDs map[string]taskgraph.NodeID
	graph   *taskgraph.Graph

	dirty        *aggregation.Tree[string, int]
	collectibles *aggregation.Tree[string, collectibleSummary]
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{
		cells:        make(map[string]*cell),
		nodeIDs:      make(map[string]taskgraph.NodeID),
		graph:        taskgraph.New(),
		dirty:        aggregation.New[string, int](dirtyContext{}, 0),
		collectibles: aggregation.New[string, collectibleSummary](collectibleContext{}, 0),
	}
}

type dirtyContext struct{}

func (dirtyContext) Zero() int                 { return 0 }
func (dirtyContext) Merge(dst *int, delta int)   { *dst += delta }
func (dirtyContext) Unmerge(dst *int, delta int) { *dst -= delta }

// Register associates id with fn. Registering the same id twice replaces
// the function and marks the cell dirty, since its recomputation logic
// changed.
func (e *Engine) Register(id string, fn TaskFunc) {
	c := e.getOrCreateCell(id)
	c.mu.Lock()
	c.fn = fn
	wasClean := c.state == stateClean
	if wasClean {
		c.state = stateDirty
	}
	c.mu.Unlock()
	if wasClean {
		e.setDirty(id, true)
		e.propagateDirty(id, make(map[string]struct{}))
	}
}

func (e *Engine) getOrCreateCell(id string) *cell {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cells[id]
	if !ok {
		c = &cell{id: id, state: stateEmpty}
		e.cells[id] = c
		e.ensureNodeLocked(id)
	}
	return c
}

func (e *Engine) ensureNodeLocked(id string) taskgraph.NodeID {
	if nid, ok := e.nodeIDs[id]; ok {
		return nid
	}
	nid := e.graph.AddNode(id)
	e.nodeIDs[id] = nid
	e.dirty.AddNode(id, 0)
	e.collectibles.AddNode(id, collectibleSummary{})
	return nid
}

// Get returns id's current value, computing or recomputing it first if
// necessary. This is the entry point for a top-level caller (e.g. the
// executor asking for a root task's result); it records no dependency
// edge, since nothing is "reading" id on id's own behalf.
func (e *Engine) Get(ctx context.Context, id string) (interface{}, error) {
	return e.read(ctx, id, "")
}

// DirtyCount returns the number of dirty cells in id's transitive
// dependency subtree, including id itself if it is dirty. Answered in
// O(depth of the aggregating chain) rather than a subtree walk.
func (e *Engine) DirtyCount(id string) int {
	return e.dirty.Query(id)
}

func (e *Engine) read(ctx context.Context, id, reader string) (interface{}, error) {
	if reader != "" {
		e.linkEdge(reader, id)
	}
	c := e.getOrCreateCell(id)
	c.mu.Lock()
	stale := c.state != stateClean
	c.mu.Unlock()
	if stale {
		if err := e.recompute(ctx, c); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	v, err := c.value, c.err
	c.mu.Unlock()
	return v, err
}

func (e *Engine) recompute(ctx context.Context, c *cell) error {
	c.mu.Lock()
	fn := c.fn
	c.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("taskengine: %q has no registered function", c.id)
	}

	rc := &RunContext{
		Context: ctx,
		engine:  e,
		taskID:  c.id,
		reads:   make(map[string]struct{}),
		emits:   make(map[[2]string]collectibleItem),
	}
	value, err := fn(rc)

	c.mu.Lock()
	wasDirty := c.state == stateDirty
	oldDeps := c.deps
	oldEmitted := c.emitted
	c.deps = rc.reads
	c.emitted = make(map[[2]string]struct{}, len(rc.emits))
	for k := range rc.emits {
		c.emitted[k] = struct{}{}
	}
	c.value, c.err = value, err
	c.state = stateClean
	c.mu.Unlock()

	for dep := range oldDeps {
		if _, ok := rc.reads[dep]; !ok {
			e.unlinkEdge(c.id, dep)
		}
	}
	for k := range oldEmitted {
		if _, ok := rc.emits[k]; !ok {
			e.retractEmit(c.id, k[0], k[1])
		}
	}
	if wasDirty {
		e.setDirty(c.id, false)
	}
	return err
}

func (e *Engine) linkEdge(dependent, dependency string) {
	e.mu.Lock()
	dNode := e.ensureNodeLocked(dependent)
	depNode := e.ensureNodeLocked(dependency)
	e.mu.Unlock()
	e.graph.AddEdge(dNode, depNode)
	e.dirty.AddEdge(dependent, dependency)
	e.collectibles.AddEdge(dependent, dependency)
}

func (e *Engine) unlinkEdge(dependent, dependency string) {
	e.mu.Lock()
	dNode, ok1 := e.nodeIDs[dependent]
	depNode, ok2 := e.nodeIDs[dependency]
	e.mu.Unlock()
	if ok1 && ok2 {
		e.graph.RemoveEdge(dNode, depNode)
	}
	e.dirty.RemoveEdge(dependent, dependency)
	e.collectibles.RemoveEdge(dependent, dependency)
}

func (e *Engine) setDirty(id string, dirty bool) {
	if dirty {
		e.dirty.UpdateValue(id, 1)
	} else {
		e.dirty.UpdateValue(id, -1)
	}
}

// MarkDirty marks id (a task, or a file-backed pseudo-cell an Invalidator
// targets) dirty and propagates dirtiness to every cell that, directly or
// transitively, read it. Recomputation itself is deferred to the next Get.
func (e *Engine) MarkDirty(id string) {
	c := e.getOrCreateCell(id)
	c.mu.Lock()
	wasClean := c.state == stateClean || c.state == stateEmpty
	c.state = stateDirty
	c.mu.Unlock()
	if wasClean {
		e.setDirty(id, true)
	}
	e.propagateDirty(id, make(map[string]struct{}))
}

func (e *Engine) propagateDirty(id string, seen map[string]struct{}) {
	if _, ok := seen[id]; ok {
		return
	}
	seen[id] = struct{}{}

	e.mu.Lock()
	nid, ok := e.nodeIDs[id]
	e.mu.Unlock()
	if !ok {
		return
	}
	for _, dependent := range e.graph.NeighborsIn(nid) {
		label := e.graph.Label(dependent)
		c := e.getOrCreateCell(label)
		c.mu.Lock()
		alreadyDirty := c.state == stateDirty
		c.state = stateDirty
		c.mu.Unlock()
		if !alreadyDirty {
			e.setDirty(label, true)
		}
		e.propagateDirty(label, seen)
	}
}

// RunContext is passed to a TaskFunc. It tracks cells read (for dependency
// edges) and collectibles emitted (for aggregation).
type RunContext struct {
	context.Context
	engine *Engine
	taskID string

	mu     sync.Mutex
	reads  map[string]struct{}
	emits  map[[2]string]collectibleItem
}

// Get reads another cell on behalf of the running task, recording a
// dependency edge from this task to it.
func (rc *RunContext) Get(id string) (interface{}, error) {
	rc.mu.Lock()
	rc.reads[id] = struct{}{}
	rc.mu.Unlock()
	return rc.engine.read(rc.Context, id, rc.taskID)
}

// TaskID returns the id of the task this RunContext belongs to.
func (rc *RunContext) TaskID() string { return rc.taskID }
