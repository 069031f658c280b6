package taskengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetComputesOnce(t *testing.T) {
	e := New()
	calls := 0
	e.Register("//#build", func(rc *RunContext) (interface{}, error) {
		calls++
		return "built", nil
	})

	v1, err := e.Get(context.Background(), "//#build")
	require.NoError(t, err)
	require.Equal(t, "built", v1)

	v2, err := e.Get(context.Background(), "//#build")
	require.NoError(t, err)
	require.Equal(t, "built", v2)
	require.Equal(t, 1, calls, "second Get must hit the cache cell, not recompute")
}

func TestDirtyPropagatesToReadersNotEagerly(t *testing.T) {
	e := New()
	leafCalls, rootCalls := 0, 0
	e.Register("pkg-a#compile", func(rc *RunContext) (interface{}, error) {
		leafCalls++
		return 1, nil
	})
	e.Register("pkg-b#build", func(rc *RunContext) (interface{}, error) {
		rootCalls++
		v, err := rc.Get("pkg-a#compile")
		if err != nil {
			return nil, err
		}
		return v.(int) + 1, nil
	})

	v, err := e.Get(context.Background(), "pkg-b#build")
	require.NoError(t, err)
	require.Equal(t, 2, v)
	require.Equal(t, 1, leafCalls)
	require.Equal(t, 1, rootCalls)

	// Marking the leaf dirty must not recompute anything by itself.
	e.MarkDirty("pkg-a#compile")
	require.Equal(t, 1, leafCalls)
	require.Equal(t, 1, rootCalls)

	// The next read recomputes both the leaf and its reader.
	v, err = e.Get(context.Background(), "pkg-b#build")
	require.NoError(t, err)
	require.Equal(t, 2, v)
	require.Equal(t, 2, leafCalls)
	require.Equal(t, 2, rootCalls)
}

func TestDirtyDoesNotPropagateToUnrelatedTasks(t *testing.T) {
	e := New()
	e.Register("pkg-a#build", func(rc *RunContext) (interface{}, error) { return 1, nil })
	e.Register("pkg-b#build", func(rc *RunContext) (interface{}, error) { return 2, nil })

	_, err := e.Get(context.Background(), "pkg-a#build")
	require.NoError(t, err)
	_, err = e.Get(context.Background(), "pkg-b#build")
	require.NoError(t, err)

	e.MarkDirty("pkg-a#build")
	require.Equal(t, 1, e.DirtyCount("pkg-a#build"))
	require.Equal(t, 0, e.DirtyCount("pkg-b#build"))
}

func TestDirtyCountReflectsSubtree(t *testing.T) {
	e := New()
	e.Register("a", func(rc *RunContext) (interface{}, error) { return 1, nil })
	e.Register("b", func(rc *RunContext) (interface{}, error) {
		_, err := rc.Get("a")
		return 1, err
	})
	e.Register("c", func(rc *RunContext) (interface{}, error) {
		_, err := rc.Get("b")
		return 1, err
	})

	_, err := e.Get(context.Background(), "c")
	require.NoError(t, err)
	require.Equal(t, 0, e.DirtyCount("c"))

	e.MarkDirty("a")
	// Dirtying a marks every transitive reader dirty too (b, then c), so
	// c's subtree now contains three dirty nodes: a, b, and c itself.
	require.Equal(t, 3, e.DirtyCount("c"))

	_, err = e.Get(context.Background(), "c")
	require.NoError(t, err)
	require.Equal(t, 0, e.DirtyCount("c"))
}

func TestStaleDependencyEdgeIsDroppedOnRecompute(t *testing.T) {
	e := New()
	useA := true
	e.Register("switcher", func(rc *RunContext) (interface{}, error) {
		if useA {
			return rc.Get("a")
		}
		return rc.Get("b")
	})
	e.Register("a", func(rc *RunContext) (interface{}, error) { return "a", nil })
	e.Register("b", func(rc *RunContext) (interface{}, error) { return "b", nil })

	v, err := e.Get(context.Background(), "switcher")
	require.NoError(t, err)
	require.Equal(t, "a", v)

	useA = false
	e.MarkDirty("switcher")
	v, err = e.Get(context.Background(), "switcher")
	require.NoError(t, err)
	require.Equal(t, "b", v)

	// switcher no longer depends on a: dirtying a must not dirty switcher.
	e.MarkDirty("a")
	require.Equal(t, 0, e.DirtyCount("switcher"))

	e.MarkDirty("b")
	// Dirtying b marks its reader switcher dirty too, so the subtree now
	// contains two dirty nodes: b itself and switcher.
	require.Equal(t, 2, e.DirtyCount("switcher"))
}

func TestGetOnUnregisteredTaskErrors(t *testing.T) {
	e := New()
	_, err := e.Get(context.Background(), "missing")
	require.Error(t, err)
}

func TestCollectiblesPeekIsNonConsuming(t *testing.T) {
	e := New()
	e.Register("leaf", func(rc *RunContext) (interface{}, error) {
		rc.Emit("warning", "w1", "disk low")
		return nil, nil
	})
	e.Register("root", func(rc *RunContext) (interface{}, error) {
		return rc.Get("leaf")
	})

	_, err := e.Get(context.Background(), "root")
	require.NoError(t, err)

	first := e.Peek("root", "warning")
	require.Equal(t, []interface{}{"disk low"}, first)

	second := e.Peek("root", "warning")
	require.Equal(t, first, second, "peek must not consume")
}

func TestCollectiblesTakeStopsPropagationPastBoundary(t *testing.T) {
	e := New()
	e.Register("leaf", func(rc *RunContext) (interface{}, error) {
		rc.Emit("warning", "w1", "disk low")
		return nil, nil
	})
	e.Register("root", func(rc *RunContext) (interface{}, error) {
		return rc.Get("leaf")
	})

	_, err := e.Get(context.Background(), "root")
	require.NoError(t, err)

	taken := e.Take("leaf", "warning")
	require.Equal(t, []interface{}{"disk low"}, taken)

	// root's view is severed until it reads leaf again.
	require.Empty(t, e.Peek("root", "warning"))

	// leaf itself still has the value available (non-consuming w.r.t. its
	// own node) until it recomputes.
	require.Equal(t, []interface{}{"disk low"}, e.Peek("leaf", "warning"))
}
