package taskengine

import (
	"github.com/fsnotify/fsnotify"
)

// Watcher feeds a Batcher from a real filesystem notification source,
// classifying fsnotify's raw Op bits into the four batched actions the
// same way the Rust watcher classifies notify::EventKind: a content write
// is Modify-Data, a path appearing or disappearing is Create/Remove, a
// rename is Rename, and a bare permission/attribute change (Chmod) is
// metadata-only and ignored.
type Watcher struct {
	fsw     *fsnotify.Watcher
	batcher *Batcher
	done    chan struct{}
}

// NewWatcher wraps a fresh fsnotify.Watcher and starts forwarding its
// events into batcher until Close is called.
func NewWatcher(batcher *Batcher) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{fsw: fsw, batcher: batcher, done: make(chan struct{})}
	go w.run()
	return w, nil
}

// Add registers path (a file or directory) for notifications.
func (w *Watcher) Add(path string) error {
	return w.fsw.Add(path)
}

// Remove deregisters path.
func (w *Watcher) Remove(path string) error {
	return w.fsw.Remove(path)
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.batcher.Emit(FileEvent{Path: ev.Name, Kind: classify(ev.Op)})
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Watcher errors (e.g. a watched directory removed out from
			// under it) don't map to any single path; the next Create/Remove
			// event for that directory's parent will still re-invalidate it.
		}
	}
}

// Close stops the underlying fsnotify watcher and waits for the forwarding
// goroutine to exit. It does not close the Batcher, which may still be
// draining events fed by other sources.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

func classify(op fsnotify.Op) EventKind {
	switch {
	case op&fsnotify.Write != 0:
		return EventModifyData
	case op&(fsnotify.Create|fsnotify.Remove) != 0:
		return EventCreateRemove
	case op&fsnotify.Rename != 0:
		return EventRename
	default: // Chmod and anything else fsnotify might add
		return EventMetadataOnly
	}
}
