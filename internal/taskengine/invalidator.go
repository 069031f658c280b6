// Invalidator map and event batching for filesystem-driven invalidation,
// grounded on _examples/original_source/crates/turbo-tasks-fs/src/watcher.rs:
// that watcher sorts raw filesystem events into the same four buckets used
// here (data modification, create/remove, rename, metadata-only/ignored)
// and applies each bucket's invalidations in one batch once its event
// channel goes briefly idle, rather than invalidating on every individual
// event. invalidate_path there is an exact-key removal; its
// invalidate_path_and_children_execute additionally removes every key that
// is a descendant path, found by a prefix match against the map's keys.
// Both are reproduced below as InvalidatorMap.InvalidatePath and
// InvalidatePathAndChildren.
package taskengine

import (
	"strings"
	"sync"
	"time"
)

// EventKind classifies a raw filesystem event the way the watcher does
// before it reaches the invalidator map.
type EventKind int

const (
	// EventModifyData is a write to an existing file's contents.
	EventModifyData EventKind = iota
	// EventCreateRemove is a file or directory appearing or disappearing.
	EventCreateRemove
	// EventRename is a path being moved from or to its current location.
	EventRename
	// EventMetadataOnly covers permission/mtime/access changes that never
	// invalidate a cell's content-derived state.
	EventMetadataOnly
)

// FileEvent is one raw, unbatched filesystem notification.
type FileEvent struct {
	Path string
	Kind EventKind
}

// Invalidator is anything an invalidator-map entry can fire. TaskInvalidator
// is the concrete implementation used to wire a path to a task engine cell.
type Invalidator interface {
	Invalidate()
}

// TaskInvalidator marks a task engine cell dirty when fired.
type TaskInvalidator struct {
	Engine *Engine
	TaskID string
}

// Invalidate marks the wrapped task dirty.
func (t TaskInvalidator) Invalidate() {
	t.Engine.MarkDirty(t.TaskID)
}

// InvalidatorMap is a HashMap<FilePathKey, HashSet<Invalidator>>: every path
// a running task read is registered here against the invalidators that
// should fire if that path (or, for structural changes, anything under it)
// changes.
type InvalidatorMap struct {
	mu    sync.Mutex
	exact map[string]map[Invalidator]struct{}
}

// NewInvalidatorMap returns an empty map.
func NewInvalidatorMap() *InvalidatorMap {
	return &InvalidatorMap{exact: make(map[string]map[Invalidator]struct{})}
}

// Register associates path with inv: inv fires the next time path (or, for
// a structural invalidation, an ancestor directory of path) is invalidated.
func (m *InvalidatorMap) Register(path string, inv Invalidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.exact[path]
	if !ok {
		set = make(map[Invalidator]struct{})
		m.exact[path] = set
	}
	set[inv] = struct{}{}
}

// Unregister removes a previously registered path/invalidator pair without
// firing it, e.g. when a cell recomputes and no longer reads that path.
func (m *InvalidatorMap) Unregister(path string, inv Invalidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.exact[path]
	if !ok {
		return
	}
	delete(set, inv)
	if len(set) == 0 {
		delete(m.exact, path)
	}
}

// InvalidatePath fires and removes every invalidator registered at exactly
// path. Used for Modify-Data events: only readers of that exact path need
// to recompute.
func (m *InvalidatorMap) InvalidatePath(path string) {
	m.mu.Lock()
	set := m.exact[path]
	delete(m.exact, path)
	m.mu.Unlock()
	for inv := range set {
		inv.Invalidate()
	}
}

// InvalidatePathAndChildren fires and removes every invalidator registered
// at path or at any path nested under it. Used for Create/Remove and
// Rename events, where a directory listing a reader consulted may now be
// stale even if no single file under it was individually read.
func (m *InvalidatorMap) InvalidatePathAndChildren(path string) {
	prefix := path
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	m.mu.Lock()
	var toFire []Invalidator
	for p, set := range m.exact {
		if p == path || strings.HasPrefix(p, prefix) {
			for inv := range set {
				toFire = append(toFire, inv)
			}
			delete(m.exact, p)
		}
	}
	m.mu.Unlock()

	for _, inv := range toFire {
		inv.Invalidate()
	}
}

// parentDir returns the forward-slash parent of path, or "" if path has no
// parent component. Paths here are already normalized to forward slashes by
// the caller the way the rest of the fingerprinter/hasher requires.
func parentDir(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// Batcher collects FileEvents until its channel is briefly idle, then
// applies every pending event's invalidation in a single critical section
// — this is what keeps a burst of events (e.g. a package manager rewriting
// a whole node_modules tree) from causing repeated partial invalidations.
type Batcher struct {
	Map        *InvalidatorMap
	IdleWindow time.Duration

	events chan FileEvent
	done   chan struct{}
}

// NewBatcher starts a batcher draining into m. idleWindow is how long the
// event stream must be quiet before a pending batch is applied.
func NewBatcher(m *InvalidatorMap, idleWindow time.Duration) *Batcher {
	b := &Batcher{
		Map:        m,
		IdleWindow: idleWindow,
		events:     make(chan FileEvent, 256),
		done:       make(chan struct{}),
	}
	go b.run()
	return b
}

// Emit queues a raw event for the next batch.
func (b *Batcher) Emit(ev FileEvent) {
	b.events <- ev
}

// Close stops accepting events, flushes any pending batch, and waits for
// the batcher goroutine to exit.
func (b *Batcher) Close() {
	close(b.events)
	<-b.done
}

func (b *Batcher) run() {
	defer close(b.done)
	var pending []FileEvent
	var timerC <-chan time.Time
	for {
		select {
		case ev, ok := <-b.events:
			if !ok {
				if len(pending) > 0 {
					b.apply(pending)
				}
				return
			}
			pending = append(pending, ev)
			timerC = time.After(b.IdleWindow)
		case <-timerC:
			if len(pending) > 0 {
				b.apply(pending)
				pending = nil
			}
			timerC = nil
		}
	}
}

// apply classifies a batch into the four actions and invalidates each
// affected path exactly once, regardless of how many raw events touched it.
func (b *Batcher) apply(events []FileEvent) {
	dataPaths := make(map[string]struct{})
	structPaths := make(map[string]struct{})
	for _, ev := range events {
		switch ev.Kind {
		case EventModifyData:
			dataPaths[ev.Path] = struct{}{}
		case EventCreateRemove, EventRename:
			structPaths[ev.Path] = struct{}{}
		case EventMetadataOnly:
			// ignored: metadata-only/access events never invalidate.
		}
	}
	for p := range dataPaths {
		b.Map.InvalidatePath(p)
	}
	for p := range structPaths {
		b.Map.InvalidatePathAndChildren(p)
		if parent := parentDir(p); parent != "" {
			b.Map.InvalidatePath(parent)
		}
	}
}
