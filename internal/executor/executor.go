// Package executor implements spec.md §4.8: walking the task DAG with
// fingerprints already populated, consulting the cache at each node, and
// spawning the task's command on a miss. It sits directly on top of
// internal/taskgraph's Walker/DoneToken protocol, internal/cache's Cache
// interface, and internal/process's Manager, the same three components the
// reference CLI wires together inside internal/run/run.go and
// internal/runcache/runcache.go — this package gives that wiring its own
// home instead of burying it in the run command.
package executor

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/turbocache/turbo/internal/cache"
	"github.com/turbocache/turbo/internal/taskgraph"
	"github.com/turbocache/turbo/internal/turbopath"
)

// ErrPersistentTaskHasDependents is returned by New when a task marked
// Persistent has one or more dependents in the graph — spec.md §4.8:
// "Persistent tasks ... must have no dependents in the walk (validated at
// build time)".
var ErrPersistentTaskHasDependents = errors.New("persistent task has dependents")

// EventKind identifies the kind of lifecycle event a task produced.
type EventKind int

const (
	// EventStart fires the moment a task begins executing (cache miss only;
	// a cache hit goes straight to EventCacheHit).
	EventStart EventKind = iota
	// EventOutput carries a chunk of interleaved stdout/stderr from a
	// running task's child process.
	EventOutput
	// EventCacheHit fires when a task's fingerprint was already present in
	// the cache; its outputs were restored instead of re-executed.
	EventCacheHit
	// EventSucceeded fires when a task's command exited zero.
	EventSucceeded
	// EventFailed fires when a task's command exited non-zero or could not
	// be spawned at all.
	EventFailed
)

// Event is emitted once per task per state transition onto the Executor's
// Events channel. UI concerns (colorizing, prefixing by task name) live in
// the Reporter, not here — the executor only emits facts.
type Event struct {
	TaskID   string
	Kind     EventKind
	Output   []byte
	Err      error
	Duration time.Duration
	Cached   cache.ItemStatus
}

// Task is everything the executor needs to run or skip one graph node.
// Callers (the run command, or a test) populate one Task per taskgraph node
// before calling New.
type Task struct {
	// ID must equal the label the task was added to the Graph under.
	ID string
	// Fingerprint is the cache key for this invocation; spec.md §4.5's
	// output feeds this field directly.
	Fingerprint string
	// Command and Args build the child process; Args is passed verbatim,
	// order preserved (spec.md §4.5's "user-ordered pass-through args" rule
	// applies to how Args was assembled upstream, not here).
	Command string
	Args    []string
	Cwd     turbopath.AbsoluteSystemPath
	Env     []string
	// Outputs are the package-relative paths considered this task's cache
	// payload on a successful run.
	Outputs []turbopath.AnchoredSystemPath
	// Persistent tasks may have no dependents; New rejects a graph where
	// one does. The executor runs them like any other task: their DoneToken
	// fires once the command exits, and Run does not return before then.
	Persistent bool
}

// Options configures one Run.
type Options struct {
	// Concurrency bounds the number of tasks executing their command at
	// once. Ignored when Parallel is true.
	Concurrency int
	// Parallel disables the concurrency semaphore entirely — spec.md §4.8
	// step 2a: "acquire a semaphore permit ... unless parallel is set".
	Parallel bool
	// ContinueOnError keeps the walker running after a task fails instead
	// of cancelling remaining work.
	ContinueOnError bool
}

// Executor runs every node of a Graph exactly once, in dependency order,
// consulting Cache before spawning anything.
type Executor struct {
	graph   *taskgraph.Graph
	tasks   map[taskgraph.NodeID]*Task
	cache   cache.Cache
	manager processManager
	logger  hclog.Logger
	opts    Options

	events chan Event
}

// processManager is the subset of *process.Manager the executor needs; a
// narrow interface keeps tests free of real child processes.
type processManager interface {
	Exec(cmd *exec.Cmd) error
}

// New validates the persistent-task invariant and builds an Executor over
// graph. tasks must contain exactly one entry per node the caller intends to
// run, keyed by the label the node was added to graph under.
func New(logger hclog.Logger, graph *taskgraph.Graph, tasks map[string]*Task, c cache.Cache, manager processManager, opts Options) (*Executor, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	byNode := make(map[taskgraph.NodeID]*Task, len(tasks))
	for _, n := range graph.Nodes() {
		label := graph.Label(n)
		t, ok := tasks[label]
		if !ok {
			return nil, errors.Errorf("no task registered for graph node %q", label)
		}
		byNode[n] = t
		if t.Persistent && len(graph.NeighborsIn(n)) > 0 {
			return nil, errors.Wrapf(ErrPersistentTaskHasDependents, "task %q", label)
		}
	}

	return &Executor{
		graph:   graph,
		tasks:   byNode,
		cache:   c,
		manager: manager,
		logger:  logger,
		opts:    opts,
		events:  make(chan Event, len(byNode)*4+1),
	}, nil
}

// Events returns the channel every Event is published on. Run closes it
// once the walk is fully drained (or cancelled).
func (e *Executor) Events() <-chan Event {
	return e.events
}

// Run drives the walker to completion. It returns a *multierror.Error
// aggregating every task failure observed (spec.md §0/§7: independent
// parallel failures must all surface, not just the first).
func (e *Executor) Run(ctx context.Context) error {
	defer close(e.events)

	runID := uuid.New().String()
	e.logger.Debug("starting run", "id", runID, "concurrency", e.opts.Concurrency)

	w, err := taskgraph.NewWalker(e.graph)
	if err != nil {
		return errors.Wrap(err, "building walker")
	}

	var sem chan struct{}
	if !e.opts.Parallel {
		sem = make(chan struct{}, e.opts.Concurrency)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		combined *multierror.Error
	)

	for {
		node, token, ok := w.Next()
		if !ok {
			break
		}
		task, known := e.tasks[node]
		if !known {
			// Graph grew a node after New was called; nothing to run.
			token.Done()
			continue
		}

		wg.Add(1)
		go func(task *Task, token taskgraph.DoneToken) {
			defer wg.Done()
			if task.Persistent {
				// The token fires once the command exits; New guarantees no
				// task depends on a persistent one, so nothing waits on it.
				if err := e.runOne(ctx, task, sem); err != nil {
					mu.Lock()
					combined = multierror.Append(combined, err)
					mu.Unlock()
				}
				token.Done()
				return
			}

			err := e.runOne(ctx, task, sem)
			if err != nil {
				mu.Lock()
				combined = multierror.Append(combined, err)
				mu.Unlock()
				if !e.opts.ContinueOnError {
					// Cancel before releasing the token so no dependent of
					// the failed task is queued.
					w.Cancel()
				}
			}
			token.Done()
		}(task, token)
	}

	wg.Wait()
	if combined != nil {
		return combined.ErrorOrNil()
	}
	return nil
}

func (e *Executor) runOne(ctx context.Context, task *Task, sem chan struct{}) error {
	status, _, duration, err := e.cache.Fetch(task.Cwd, task.Fingerprint, nil)
	if err != nil {
		e.logger.Debug("cache fetch error, treating as miss", "task", task.ID, "error", err)
	}
	if err == nil && status.Hit() {
		e.emit(Event{TaskID: task.ID, Kind: EventCacheHit, Duration: time.Duration(duration) * time.Millisecond, Cached: status})
		return nil
	}

	if sem != nil {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.emit(Event{TaskID: task.ID, Kind: EventStart})

	cmd := exec.CommandContext(ctx, task.Command, task.Args...)
	cmd.Dir = task.Cwd.ToString()
	cmd.Env = task.Env

	buf := &taskBuffer{}
	writer := &eventWriter{exec: e, taskID: task.ID, buf: buf}
	cmd.Stdout = writer
	cmd.Stderr = writer

	start := time.Now()
	runErr := e.manager.Exec(cmd)
	elapsed := time.Since(start)

	if runErr != nil {
		e.emit(Event{TaskID: task.ID, Kind: EventFailed, Output: buf.Bytes(), Err: runErr, Duration: elapsed})
		return errors.Wrapf(runErr, "task %q", task.ID)
	}

	if putErr := e.cache.Put(task.Cwd, task.Fingerprint, int(elapsed.Milliseconds()), task.Outputs); putErr != nil {
		e.logger.Warn("failed to write cache entry", "task", task.ID, "error", putErr)
	}

	e.emit(Event{TaskID: task.ID, Kind: EventSucceeded, Output: buf.Bytes(), Duration: elapsed})
	return nil
}

func (e *Executor) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		// The channel is sized for the expected event volume; a full
		// buffer means a consumer stopped draining. Fall back to a
		// blocking send rather than dropping an event silently.
		e.events <- ev
	}
}

// taskBuffer accumulates a task's combined stdout/stderr for the final
// EventSucceeded/EventFailed payload, guarded for concurrent writes from
// the child's separate stdout/stderr pipes.
type taskBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *taskBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *taskBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// eventWriter tees a running task's output both into its accumulating
// buffer and out as incremental EventOutput events, so a reporter can
// stream lines as they happen instead of waiting for task completion.
type eventWriter struct {
	exec   *Executor
	taskID string
	buf    *taskBuffer
}

func (w *eventWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	if err != nil {
		return n, err
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	w.exec.emit(Event{TaskID: w.taskID, Kind: EventOutput, Output: chunk})
	return n, nil
}
