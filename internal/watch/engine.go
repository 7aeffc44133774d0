// Package watch re-runs tasks when files matching glob rules change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Alex-f1/poly-bem/internal/plan"
	"github.com/Alex-f1/poly-bem/internal/state"
)

var ErrAlreadyStarted = errors.New("watch engine already started")

// Rule maps a glob, relative to the engine root, to the tasks re-run when
// a matching file changes. With Reload set, the reloader is notified after
// the tasks succeed; a rule may have Reload and no tasks.
type Rule struct {
	Pattern string
	Tasks   []string
	Reload  bool
}

// Runner resolves and runs tasks by name.
type Runner interface {
	Plan(names ...string) (*plan.ExecutionPlan, error)
	Run(ctx context.Context, names ...string) (*state.RunState, error)
}

// Reloader notifies browsers of changed files (root-relative, slash paths).
type Reloader interface {
	Reload(paths ...string)
}

// Logger receives watcher warnings.
type Logger interface {
	Warn(format string, args ...any)
}

// Engine dispatches file events to rules. Events are handled one at a time
// on a single goroutine: overlapping rules each fire, in declaration order,
// and a run is never preempted by a later event.
type Engine struct {
	Root     string
	Rules    []Rule
	Runner   Runner
	Reloader Reloader
	Log      Logger

	mu   sync.Mutex
	fsw  *FSWatcher
	stop chan struct{}
	wg   sync.WaitGroup
}

// Start watches the base directory of every rule pattern and processes
// events until ctx is done or Close is called. Every task a rule names must
// resolve; an unregistered one fails Start with a *task.NotFoundError.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fsw != nil {
		return ErrAlreadyStarted
	}

	for _, r := range e.Rules {
		if !doublestar.ValidatePattern(normalize(r.Pattern)) {
			return fmt.Errorf("watch %q: %w", r.Pattern, doublestar.ErrBadPattern)
		}
		if len(r.Tasks) > 0 && e.Runner != nil {
			if _, err := e.Runner.Plan(r.Tasks...); err != nil {
				return fmt.Errorf("watch %q: %w", r.Pattern, err)
			}
		}
	}

	fsw, err := NewFSWatcher()
	if err != nil {
		return fmt.Errorf("starting file watcher: %w", err)
	}
	for _, dir := range e.watchDirs() {
		if err := fsw.WatchRecursive(dir); err != nil {
			fsw.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	e.fsw = fsw
	e.stop = make(chan struct{})
	e.wg.Add(1)
	go e.loop(ctx, fsw, e.stop)
	return nil
}

// Close stops the engine and waits for an in-flight event to finish.
func (e *Engine) Close() error {
	e.mu.Lock()
	fsw, stop := e.fsw, e.stop
	e.fsw, e.stop = nil, nil
	e.mu.Unlock()

	if fsw == nil {
		return nil
	}
	close(stop)
	e.wg.Wait()
	return fsw.Close()
}

// WatchedPaths returns the directories currently watched.
func (e *Engine) WatchedPaths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fsw == nil {
		return nil
	}
	return e.fsw.WatchedPaths()
}

func (e *Engine) loop(ctx context.Context, fsw *FSWatcher, stop <-chan struct{}) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case ev, ok := <-fsw.Events():
			if !ok {
				return
			}
			e.Handle(ctx, ev)
		case err, ok := <-fsw.Errors():
			if ok && e.Log != nil {
				e.Log.Warn("watch: %v", err)
			}
		}
	}
}

// Handle runs every rule matching the event, in rule order. It returns the
// patterns of the rules that fired.
func (e *Engine) Handle(ctx context.Context, ev Event) []string {
	if ev.Op == 0 {
		return nil
	}
	rel, ok := e.relative(ev.Path)
	if !ok {
		return nil
	}

	var fired []string
	for _, r := range e.Rules {
		if ctx.Err() != nil {
			return fired
		}
		match, err := doublestar.Match(normalize(r.Pattern), rel)
		if err != nil || !match {
			continue
		}
		fired = append(fired, r.Pattern)

		failed := false
		if len(r.Tasks) > 0 && e.Runner != nil {
			st, err := e.Runner.Run(ctx, r.Tasks...)
			failed = err != nil || (st != nil && st.Failed())
		}
		if r.Reload && !failed && e.Reloader != nil {
			e.Reloader.Reload(rel)
		}
	}
	return fired
}

func (e *Engine) relative(path string) (string, bool) {
	root, err := filepath.Abs(e.Root)
	if err != nil {
		return "", false
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// watchDirs returns the directories to watch recursively: each pattern's
// static base, or its nearest existing ancestor under the root.
func (e *Engine) watchDirs() []string {
	root, err := filepath.Abs(e.Root)
	if err != nil {
		root = e.Root
	}

	seen := make(map[string]bool)
	var dirs []string
	for _, r := range e.Rules {
		base, _ := doublestar.SplitPattern(normalize(r.Pattern))
		dir := filepath.Join(root, filepath.FromSlash(base))
		for dir != root {
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// normalize turns "./assets/**/*.js" into "assets/**/*.js".
func normalize(p string) string {
	p = filepath.ToSlash(p)
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return p
}
