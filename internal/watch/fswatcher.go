package watch

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

var ErrWatcherClosed = errors.New("watcher closed")

// Op is a set of file operations.
type Op uint8

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

func (o Op) String() string {
	switch {
	case o&OpCreate != 0:
		return "create"
	case o&OpWrite != 0:
		return "write"
	case o&OpRemove != 0:
		return "remove"
	case o&OpRename != 0:
		return "rename"
	}
	return "none"
}

// Event is a change to a file or directory.
type Event struct {
	Path string // absolute
	Op   Op
	Time time.Time
}

// FSWatcher watches directory trees with fsnotify. Directories created
// under a watched directory are watched automatically. Chmod-only events
// are dropped.
type FSWatcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	paths   map[string]bool

	events chan Event
	errors chan error

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewFSWatcher creates a watcher and starts its event loop.
func NewFSWatcher() (*FSWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &FSWatcher{
		watcher: fsw,
		paths:   make(map[string]bool),
		events:  make(chan Event, 64),
		errors:  make(chan error, 16),
		closeCh: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Watch adds a single directory. Watching a path twice is a no-op.
func (w *FSWatcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if w.paths[abs] {
		return nil
	}
	if err := w.watcher.Add(abs); err != nil {
		return err
	}
	w.paths[abs] = true
	return nil
}

// WatchRecursive watches dir and every directory below it.
func (w *FSWatcher) WatchRecursive(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Watch(abs)
	}
	return filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != abs && isHidden(p) {
			return filepath.SkipDir
		}
		return w.Watch(p)
	})
}

// WatchedPaths returns the watched directories in sorted order.
func (w *FSWatcher) WatchedPaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.paths))
	for p := range w.paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Events returns the event channel. It is closed by Close.
func (w *FSWatcher) Events() <-chan Event { return w.events }

// Errors returns the error channel. It is closed by Close.
func (w *FSWatcher) Errors() <-chan error { return w.errors }

// Close stops the watcher.
func (w *FSWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return err
}

func (w *FSWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *FSWatcher) handle(ev fsnotify.Event) {
	op := convertOp(ev.Op)
	if op == 0 {
		return
	}

	if op&OpCreate != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !isHidden(ev.Name) {
			_ = w.WatchRecursive(ev.Name)
		}
	}

	// Blocks while the consumer is busy so rapid saves queue up.
	select {
	case w.events <- Event{Path: ev.Name, Op: op, Time: time.Now()}:
	case <-w.closeCh:
	}
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	return op
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return len(base) > 1 && base[0] == '.'
}
