package executor

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/turbocache/turbo/internal/colorcache"
)

// Reporter renders Events for a human. It is entirely outside spec.md's
// core scope (per spec.md §1's UI non-goal) — the executor never calls it
// directly, a caller drains Events() and feeds them in. DefaultReporter is
// the minimal implementation that exercises the event shape end to end.
type Reporter interface {
	Report(Event)
}

// DefaultReporter prefixes each line of task output with a per-task color
// and writes a one-line summary on completion. It colorizes only when Out
// is a terminal.
type DefaultReporter struct {
	Out    io.Writer
	colors *colorcache.ColorCache
	color  bool
}

// NewDefaultReporter builds a DefaultReporter writing to out, detecting
// color support the same way the reference CLI's internal/ui package does
// (isatty on the underlying fd when out is an *os.File).
func NewDefaultReporter(out io.Writer) *DefaultReporter {
	colorOK := false
	if f, ok := out.(*os.File); ok {
		colorOK = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &DefaultReporter{Out: out, colors: colorcache.New(), color: colorOK}
}

// Report renders a single Event. It is safe to call from multiple
// goroutines only if Out itself is safe for concurrent writes; callers
// draining Executor.Events() from one goroutine (the common case) need no
// extra locking.
func (r *DefaultReporter) Report(ev Event) {
	prefix := ev.TaskID
	if r.color {
		prefix = r.colors.PrefixWithColor(ev.TaskID, ev.TaskID)
	} else {
		prefix = fmt.Sprintf("%s: ", ev.TaskID)
	}

	switch ev.Kind {
	case EventStart:
		fmt.Fprintf(r.Out, "%s%s\n", prefix, "cache miss, executing")
	case EventCacheHit:
		fmt.Fprintf(r.Out, "%s%s (%s)\n", prefix, "cache hit, replaying output", ev.Duration)
	case EventOutput:
		for _, line := range strings.Split(strings.TrimRight(string(ev.Output), "\n"), "\n") {
			if line == "" {
				continue
			}
			fmt.Fprintf(r.Out, "%s%s\n", prefix, line)
		}
	case EventSucceeded:
		fmt.Fprintf(r.Out, "%s%s (%s)\n", prefix, "done", ev.Duration)
	case EventFailed:
		fmt.Fprintf(r.Out, "%s%s: %v\n", prefix, "failed", ev.Err)
	}
}

// Drain reads every Event off events and reports it, returning once the
// channel is closed. Intended usage: `go executor.Drain(ex.Events(), reporter)`
// started before calling Executor.Run.
func Drain(events <-chan Event, r Reporter) {
	for ev := range events {
		r.Report(ev)
	}
}
