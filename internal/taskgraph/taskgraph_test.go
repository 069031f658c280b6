package taskgraph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func chain(t *testing.T, n int) (*Graph, []NodeID) {
	g := New()
	ids := make([]NodeID, n)
	for i := 0; i < n; i++ {
		ids[i] = g.AddNode(string(rune('a' + i)))
	}
	for i := 1; i < n; i++ {
		g.AddEdge(ids[i], ids[i-1]) // i depends on i-1
	}
	return g, ids
}

func TestWalkerOrderingRespectsDependencies(t *testing.T) {
	g, ids := chain(t, 5)
	w, err := NewWalker(g)
	require.NoError(t, err)

	finished := map[NodeID]bool{}
	var mu sync.Mutex
	for {
		n, tok, ok := w.Next()
		if !ok {
			break
		}
		mu.Lock()
		for _, dep := range g.NeighborsOut(n) {
			require.True(t, finished[dep], "node %v yielded before dependency %v finished", n, dep)
		}
		mu.Unlock()
		tok.Done()
		mu.Lock()
		finished[n] = true
		mu.Unlock()
	}
	for _, id := range ids {
		require.True(t, finished[id])
	}
}

func TestWalkerDiamond(t *testing.T) {
	g := New()
	root := g.AddNode("root")
	left := g.AddNode("left")
	right := g.AddNode("right")
	leaf := g.AddNode("leaf")
	g.AddEdge(root, left)
	g.AddEdge(root, right)
	g.AddEdge(left, leaf)
	g.AddEdge(right, leaf)

	w, err := NewWalker(g)
	require.NoError(t, err)
	var order []NodeID
	for {
		n, tok, ok := w.Next()
		if !ok {
			break
		}
		order = append(order, n)
		tok.Done()
	}
	require.Len(t, order, 4)
	require.Equal(t, leaf, order[0])
	require.Equal(t, root, order[3])
}

func TestCycleDetected(t *testing.T) {
	g := New()
	a := g.AddNode("a")
	b := g.AddNode("b")
	g.AddEdge(a, b)
	g.AddEdge(b, a)
	require.True(t, g.HasCycle())
	_, err := NewWalker(g)
	require.ErrorIs(t, err, ErrCycle)
}

func TestSelfLoopIsCycle(t *testing.T) {
	g := New()
	a := g.AddNode("a")
	g.AddEdge(a, a)
	require.True(t, g.HasCycle())
}

func TestEmptyGraphWalkerExhaustsImmediately(t *testing.T) {
	g := New()
	w, err := NewWalker(g)
	require.NoError(t, err)
	_, _, ok := w.Next()
	require.False(t, ok)
}

func TestCancelStopsFurtherYields(t *testing.T) {
	g, _ := chain(t, 3)
	w, err := NewWalker(g)
	require.NoError(t, err)

	_, tok, ok := w.Next()
	require.True(t, ok)
	w.Cancel()
	tok.Done()

	// No more nodes should be yielded after cancellation, even though
	// completing the first node would otherwise unblock its dependent.
	_, _, ok = w.Next()
	require.False(t, ok)
}

func TestGenerationalIDPreventsStaleAlias(t *testing.T) {
	g := New()
	a := g.AddNode("a")
	g.RemoveNode(a)
	b := g.AddNode("b")
	// b may reuse a's slot index, but must not be Valid under a's old id.
	if b.Index == a.Index {
		require.NotEqual(t, a.Gen, b.Gen)
	}
	require.False(t, g.Valid(a))
	require.True(t, g.Valid(b))
}
