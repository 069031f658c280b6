package taskgraph

import "sync"

// DoneToken is handed to the consumer of a yielded node. Firing it (calling
// Done) tells the walker that the node's work is finished — successfully or
// not — so that node's dependents become eligible once every other
// dependency has also fired its token. A DoneToken must be fired exactly
// once; firing more than once is a no-op, never firing leaves dependents
// permanently blocked (by design — the walker never guesses).
type DoneToken struct {
	node NodeID
	w    *Walker
	once *sync.Once
}

// Done reports completion of the node's work.
func (d DoneToken) Done() {
	d.once.Do(func() {
		d.w.complete(d.node)
	})
}

// Node returns the node this token completes.
func (d DoneToken) Node() NodeID { return d.node }

// Walker yields nodes of a Graph in reverse-topological order — a node is
// only yielded once every node it depends on has fired its DoneToken. This
// is the exact ordering guarantee spec.md §8 calls "Walker ordering" and
// §4.8 relies on for the executor: a dependent never starts before all its
// dependencies complete.
type Walker struct {
	g          *Graph
	mu         sync.Mutex
	remaining  map[NodeID]int // count of not-yet-done dependencies, per node
	cancelled  bool
	out        chan yield
	pending    int // nodes added to out but not yet completed
	closedOut  bool
}

type yield struct {
	node  NodeID
	token DoneToken
}

// NewWalker builds a walker over g. It returns an error if the graph has a
// cycle — per spec.md §4.2, "the walker assumes acyclic input" and cycle
// detection is the caller's responsibility up front via TarjanSCC/HasCycle.
func NewWalker(g *Graph) (*Walker, error) {
	if g.HasCycle() {
		return nil, ErrCycle
	}
	w := &Walker{
		g:         g,
		remaining: make(map[NodeID]int),
		out:       make(chan yield, len(g.Nodes())+1),
	}
	nodes := g.Nodes()
	ready := make([]NodeID, 0, len(nodes))
	for _, n := range nodes {
		deps := g.NeighborsOut(n)
		w.remaining[n] = len(deps)
		if len(deps) == 0 {
			ready = append(ready, n)
		}
	}
	for _, n := range ready {
		w.emit(n)
	}
	if len(ready) == 0 && len(nodes) == 0 {
		w.closeIfDone()
	}
	return w, nil
}

func (w *Walker) emit(n NodeID) {
	w.mu.Lock()
	w.pending++
	w.mu.Unlock()
	tok := DoneToken{node: n, w: w, once: &sync.Once{}}
	w.out <- yield{node: n, token: tok}
}

// Next blocks until a node is ready to run, the walk is cancelled, or the
// walk is exhausted. ok is false once there is nothing left to yield.
func (w *Walker) Next() (NodeID, DoneToken, bool) {
	y, ok := <-w.out
	if !ok {
		return NodeID{}, DoneToken{}, false
	}
	return y.node, y.token, true
}

func (w *Walker) complete(n NodeID) {
	w.mu.Lock()
	w.pending--
	var newlyReady []NodeID
	if !w.cancelled {
		for _, dependent := range w.g.NeighborsIn(n) {
			if _, ok := w.remaining[dependent]; !ok {
				continue
			}
			w.remaining[dependent]--
			if w.remaining[dependent] == 0 {
				newlyReady = append(newlyReady, dependent)
			}
		}
	}
	// Reserve pending slots for the nodes we're about to emit before
	// evaluating whether the walk is fully drained, so a close-on-drain
	// race can never land between "pending hit zero" and "we emit the next
	// batch" — emit() below would otherwise push onto an already-closed
	// channel.
	w.pending += len(newlyReady)
	w.closeIfDoneLocked()
	w.mu.Unlock()
	for _, n := range newlyReady {
		w.emitLocked(n)
	}
}

// emitLocked pushes a yield for a node whose pending slot has already been
// reserved by the caller (see complete). It must not touch w.pending again.
func (w *Walker) emitLocked(n NodeID) {
	tok := DoneToken{node: n, w: w, once: &sync.Once{}}
	w.out <- yield{node: n, token: tok}
}

func (w *Walker) closeIfDone() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeIfDoneLocked()
}

func (w *Walker) closeIfDoneLocked() {
	if w.closedOut {
		return
	}
	if w.pending == 0 {
		close(w.out)
		w.closedOut = true
	}
}

// Cancel stops the walker from yielding any node that is not already
// in-flight. It does not wait for in-flight nodes — spec.md §4.8: "A cancel
// operation stops further yields but does not wait."
func (w *Walker) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelled = true
	w.closeIfDoneLocked()
}
