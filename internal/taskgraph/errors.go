package taskgraph

import "errors"

// ErrCycle is returned by NewWalker when the graph contains a cycle.
// spec.md §4.2: "Cycles are a fatal error detected up front by SCC; the
// walker assumes acyclic input."
var ErrCycle = errors.New("task graph contains a cycle")
