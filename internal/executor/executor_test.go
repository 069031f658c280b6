package executor

import (
	"context"
	"os/exec"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbocache/turbo/internal/cache"
	"github.com/turbocache/turbo/internal/taskgraph"
	"github.com/turbocache/turbo/internal/turbopath"
)

// fakeCache is a minimal in-memory cache.Cache, the same shape as
// internal/cache's own testCache, so a cache hit/miss can be driven
// deterministically without touching disk.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]bool
}

func newFakeCache() *fakeCache { return &fakeCache{entries: make(map[string]bool)} }

func (c *fakeCache) Fetch(_ turbopath.AbsoluteSystemPath, hash string, _ []string) (cache.ItemStatus, []turbopath.AnchoredSystemPath, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[hash] {
		return cache.ItemStatus{Local: true}, nil, 5, nil
	}
	return cache.NewCacheMiss(), nil, 0, nil
}

func (c *fakeCache) Exists(hash string) cache.ItemStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[hash] {
		return cache.ItemStatus{Local: true}
	}
	return cache.NewCacheMiss()
}

func (c *fakeCache) Put(_ turbopath.AbsoluteSystemPath, hash string, _ int, _ []turbopath.AnchoredSystemPath) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[hash] = true
	return nil
}

func (c *fakeCache) Clean(_ turbopath.AbsoluteSystemPath) {}
func (c *fakeCache) CleanAll()                            {}
func (c *fakeCache) Shutdown()                            {}

// recordingManager runs the given *exec.Cmd for real (trivial commands only,
// e.g. "true"/"false") while recording each invocation, matching the
// teacher's convention of exercising real subprocesses rather than mocking
// process.Manager.
type recordingManager struct {
	mu  sync.Mutex
	ran []string
}

func (m *recordingManager) Exec(cmd *exec.Cmd) error {
	m.mu.Lock()
	m.ran = append(m.ran, cmd.Path)
	m.mu.Unlock()
	return cmd.Run()
}

func (m *recordingManager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ran)
}

func buildGraph(t *testing.T, edges map[string][]string) *taskgraph.Graph {
	t.Helper()
	g := taskgraph.New()
	nodes := make(map[string]taskgraph.NodeID)
	for label := range edges {
		nodes[label] = g.AddNode(label)
	}
	for label, deps := range edges {
		for _, dep := range deps {
			if _, ok := nodes[dep]; !ok {
				nodes[dep] = g.AddNode(dep)
			}
			g.AddEdge(nodes[label], nodes[dep])
		}
	}
	return g
}

func TestRunExecutesInDependencyOrder(t *testing.T) {
	dir := turbopath.AbsoluteSystemPath(t.TempDir())
	g := buildGraph(t, map[string][]string{
		"app#build": {"lib#build"},
		"lib#build": nil,
	})

	tasks := map[string]*Task{
		"lib#build": {ID: "lib#build", Fingerprint: "hash-lib", Command: "true", Cwd: dir},
		"app#build": {ID: "app#build", Fingerprint: "hash-app", Command: "true", Cwd: dir},
	}

	c := newFakeCache()
	mgr := &recordingManager{}

	ex, err := New(hclog.NewNullLogger(), g, tasks, c, mgr, Options{Concurrency: 2})
	require.NoError(t, err)

	var events []Event
	done := make(chan struct{})
	go func() {
		for ev := range ex.Events() {
			events = append(events, ev)
		}
		close(done)
	}()

	err = ex.Run(context.Background())
	require.NoError(t, err)
	<-done

	assert.Equal(t, 2, mgr.count())
	assert.True(t, c.entries["hash-lib"])
	assert.True(t, c.entries["hash-app"])

	libDone, appStart := -1, -1
	for i, ev := range events {
		if ev.TaskID == "lib#build" && ev.Kind == EventSucceeded {
			libDone = i
		}
		if ev.TaskID == "app#build" && ev.Kind == EventStart {
			appStart = i
		}
	}
	require.NotEqual(t, -1, libDone)
	require.NotEqual(t, -1, appStart)
	assert.Less(t, libDone, appStart, "app#build must start after lib#build succeeded")
}

func TestRunSkipsCacheHit(t *testing.T) {
	dir := turbopath.AbsoluteSystemPath(t.TempDir())
	g := buildGraph(t, map[string][]string{"pkg#build": nil})
	tasks := map[string]*Task{
		"pkg#build": {ID: "pkg#build", Fingerprint: "precomputed", Command: "false", Cwd: dir},
	}

	c := newFakeCache()
	c.entries["precomputed"] = true
	mgr := &recordingManager{}

	ex, err := New(hclog.NewNullLogger(), g, tasks, c, mgr, Options{Concurrency: 1})
	require.NoError(t, err)

	var events []Event
	done := make(chan struct{})
	go func() {
		for ev := range ex.Events() {
			events = append(events, ev)
		}
		close(done)
	}()

	err = ex.Run(context.Background())
	require.NoError(t, err)
	<-done

	assert.Equal(t, 0, mgr.count(), "command should not run on a cache hit")
	require.Len(t, events, 1)
	assert.Equal(t, EventCacheHit, events[0].Kind)
}

func TestRunStopsOnFailureWithoutContinue(t *testing.T) {
	dir := turbopath.AbsoluteSystemPath(t.TempDir())
	g := buildGraph(t, map[string][]string{
		"b#build": {"a#build"},
		"a#build": nil,
	})
	tasks := map[string]*Task{
		"a#build": {ID: "a#build", Fingerprint: "a", Command: "false", Cwd: dir},
		"b#build": {ID: "b#build", Fingerprint: "b", Command: "true", Cwd: dir},
	}

	c := newFakeCache()
	mgr := &recordingManager{}

	ex, err := New(hclog.NewNullLogger(), g, tasks, c, mgr, Options{Concurrency: 1})
	require.NoError(t, err)

	go Drain(ex.Events(), collectingReporter{})

	err = ex.Run(context.Background())
	require.Error(t, err)
	// "b#build" depends on "a#build"; since "a#build" fails and
	// ContinueOnError is false, "b#build" must never be cached.
	assert.False(t, c.entries["b"])
}

func TestRunContinuesOnErrorAggregatesFailures(t *testing.T) {
	dir := turbopath.AbsoluteSystemPath(t.TempDir())
	g := buildGraph(t, map[string][]string{
		"a#build": nil,
		"b#build": nil,
	})
	tasks := map[string]*Task{
		"a#build": {ID: "a#build", Fingerprint: "a", Command: "false", Cwd: dir},
		"b#build": {ID: "b#build", Fingerprint: "b", Command: "false", Cwd: dir},
	}

	c := newFakeCache()
	mgr := &recordingManager{}

	ex, err := New(hclog.NewNullLogger(), g, tasks, c, mgr, Options{Concurrency: 2, ContinueOnError: true})
	require.NoError(t, err)

	go Drain(ex.Events(), collectingReporter{})

	err = ex.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, mgr.count(), "both independent failing tasks should still run")
}

func TestNewRejectsPersistentTaskWithDependents(t *testing.T) {
	dir := turbopath.AbsoluteSystemPath(t.TempDir())
	g := buildGraph(t, map[string][]string{
		"app#dev":    {"server#dev"},
		"server#dev": nil,
	})
	tasks := map[string]*Task{
		"server#dev": {ID: "server#dev", Fingerprint: "s", Command: "true", Cwd: dir, Persistent: true},
		"app#dev":    {ID: "app#dev", Fingerprint: "a", Command: "true", Cwd: dir},
	}

	_, err := New(hclog.NewNullLogger(), g, tasks, newFakeCache(), &recordingManager{}, Options{})
	require.ErrorIs(t, err, ErrPersistentTaskHasDependents)
}

func TestNewAllowsPersistentTaskWithoutDependents(t *testing.T) {
	dir := turbopath.AbsoluteSystemPath(t.TempDir())
	g := buildGraph(t, map[string][]string{"server#dev": nil})
	tasks := map[string]*Task{
		"server#dev": {ID: "server#dev", Fingerprint: "s", Command: "true", Cwd: dir, Persistent: true},
	}

	ex, err := New(hclog.NewNullLogger(), g, tasks, newFakeCache(), &recordingManager{}, Options{})
	require.NoError(t, err)

	go Drain(ex.Events(), collectingReporter{})
	require.NoError(t, ex.Run(context.Background()))
}

type collectingReporter struct{}

func (collectingReporter) Report(Event) {}
