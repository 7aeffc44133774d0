package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Alex-f1/poly-bem/internal/plan"
	"github.com/Alex-f1/poly-bem/internal/state"
	"github.com/Alex-f1/poly-bem/internal/task"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]bool
	missing map[string]bool
	called  chan string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fail: make(map[string]bool), missing: make(map[string]bool), called: make(chan string, 32)}
}

func (f *fakeRunner) Plan(names ...string) (*plan.ExecutionPlan, error) {
	for _, n := range names {
		if f.missing[n] {
			return nil, &task.NotFoundError{Name: n}
		}
	}
	return &plan.ExecutionPlan{}, nil
}

func (f *fakeRunner) Run(_ context.Context, names ...string) (*state.RunState, error) {
	joined := strings.Join(names, ",")
	f.mu.Lock()
	f.calls = append(f.calls, joined)
	f.mu.Unlock()
	select {
	case f.called <- joined:
	default:
	}

	st := state.New(names...)
	if f.fail[joined] {
		st.SetStatus(state.RunFailed)
		return st, errors.New("boom")
	}
	st.SetStatus(state.RunCompleted)
	return st, nil
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeReloader struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeReloader) Reload(paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, paths...)
}

func (f *fakeReloader) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func siteRules() []Rule {
	return []Rule{
		{Pattern: "./assets/**/*.styl", Tasks: []string{"styl"}},
		{Pattern: "./assets/**/*.hbs", Tasks: []string{"beml"}, Reload: true},
		{Pattern: "./dist/**/*.html", Reload: true},
		{Pattern: "./assets/**/*.js", Tasks: []string{"all-scripts"}, Reload: true},
	}
}

func newEngine(root string) (*Engine, *fakeRunner, *fakeReloader) {
	r, rl := newFakeRunner(), &fakeReloader{}
	return &Engine{Root: root, Rules: siteRules(), Runner: r, Reloader: rl}, r, rl
}

func TestHandle_StylesheetRunsStylOnly(t *testing.T) {
	root := t.TempDir()
	e, r, rl := newEngine(root)

	fired := e.Handle(context.Background(), Event{Path: filepath.Join(root, "assets", "css", "style.styl"), Op: OpWrite})

	if len(fired) != 1 || fired[0] != "./assets/**/*.styl" {
		t.Errorf("expected only the styl rule, got %v", fired)
	}
	if calls := r.Calls(); len(calls) != 1 || calls[0] != "styl" {
		t.Errorf("expected [styl], got %v", calls)
	}
	if len(rl.Paths()) != 0 {
		t.Errorf("expected no reload from the rule, got %v", rl.Paths())
	}
}

func TestHandle_TemplateRunsBemlThenReloads(t *testing.T) {
	root := t.TempDir()
	e, r, rl := newEngine(root)

	e.Handle(context.Background(), Event{Path: filepath.Join(root, "assets", "section", "nav.hbs"), Op: OpWrite})

	if calls := r.Calls(); len(calls) != 1 || calls[0] != "beml" {
		t.Errorf("expected [beml], got %v", calls)
	}
	if paths := rl.Paths(); len(paths) != 1 || paths[0] != "assets/section/nav.hbs" {
		t.Errorf("expected reload of assets/section/nav.hbs, got %v", paths)
	}
}

func TestHandle_ReloadOnlyRule(t *testing.T) {
	root := t.TempDir()
	e, r, rl := newEngine(root)

	e.Handle(context.Background(), Event{Path: filepath.Join(root, "dist", "index.html"), Op: OpCreate})

	if len(r.Calls()) != 0 {
		t.Errorf("expected no task runs, got %v", r.Calls())
	}
	if paths := rl.Paths(); len(paths) != 1 || paths[0] != "dist/index.html" {
		t.Errorf("expected reload of dist/index.html, got %v", paths)
	}
}

func TestHandle_FailedRunSuppressesReload(t *testing.T) {
	root := t.TempDir()
	e, r, rl := newEngine(root)
	r.fail["all-scripts"] = true

	e.Handle(context.Background(), Event{Path: filepath.Join(root, "assets", "js", "main.js"), Op: OpWrite})

	if calls := r.Calls(); len(calls) != 1 || calls[0] != "all-scripts" {
		t.Errorf("expected [all-scripts], got %v", calls)
	}
	if len(rl.Paths()) != 0 {
		t.Errorf("expected no reload after a failed run, got %v", rl.Paths())
	}
}

func TestHandle_OverlappingRulesEachFire(t *testing.T) {
	root := t.TempDir()
	r, rl := newFakeRunner(), &fakeReloader{}
	e := &Engine{Root: root, Runner: r, Reloader: rl, Rules: []Rule{
		{Pattern: "src/**/*", Tasks: []string{"all"}},
		{Pattern: "src/*.txt", Tasks: []string{"txt"}, Reload: true},
	}}

	fired := e.Handle(context.Background(), Event{Path: filepath.Join(root, "src", "a.txt"), Op: OpWrite})
	if len(fired) != 2 {
		t.Errorf("expected both rules to fire, got %v", fired)
	}
	if got := strings.Join(r.Calls(), " "); got != "all txt" {
		t.Errorf("expected runs in rule order, got %s", got)
	}
}

func TestHandle_IgnoresOutsideRootAndEmptyOp(t *testing.T) {
	root := t.TempDir()
	e, r, _ := newEngine(root)

	e.Handle(context.Background(), Event{Path: filepath.Join(filepath.Dir(root), "assets", "x.styl"), Op: OpWrite})
	e.Handle(context.Background(), Event{Path: filepath.Join(root, "assets", "x.styl")})

	if len(r.Calls()) != 0 {
		t.Errorf("expected no runs, got %v", r.Calls())
	}
}

func TestWatchDirs_FallsBackToExistingAncestor(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "assets"), 0755); err != nil {
		t.Fatal(err)
	}
	e, _, _ := newEngine(root)

	dirs := e.watchDirs()
	want := []string{filepath.Join(root, "assets"), root}
	if len(dirs) != len(want) {
		t.Fatalf("expected %v, got %v", want, dirs)
	}
	for i := range want {
		if dirs[i] != want[i] {
			t.Errorf("expected %s, got %s", want[i], dirs[i])
		}
	}
}

func TestStart_BadPattern(t *testing.T) {
	e := &Engine{Root: t.TempDir(), Rules: []Rule{{Pattern: "assets/[.js"}}}
	if err := e.Start(context.Background()); err == nil {
		e.Close()
		t.Fatal("expected an error for a bad pattern")
	}
}

func TestStart_UnregisteredTask(t *testing.T) {
	root := t.TempDir()
	r := newFakeRunner()
	r.missing["nope"] = true
	e := &Engine{Root: root, Runner: r, Rules: []Rule{
		{Pattern: "**/*.styl", Tasks: []string{"styl"}},
		{Pattern: "**/*.hbs", Tasks: []string{"nope"}},
	}}

	err := e.Start(context.Background())
	if err == nil {
		e.Close()
		t.Fatal("expected Start to fail for an unregistered task")
	}
	var nf *task.NotFoundError
	if !errors.As(err, &nf) || nf.Name != "nope" {
		t.Errorf("expected *task.NotFoundError for nope, got %v", err)
	}
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if paths := e.WatchedPaths(); len(paths) != 0 {
		t.Errorf("expected nothing watched, got %v", paths)
	}
	if len(r.Calls()) != 0 {
		t.Errorf("expected no runs, got %v", r.Calls())
	}
}

func waitCall(t *testing.T, r *fakeRunner, want string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-r.called:
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for run of %s (calls: %v)", want, r.Calls())
		}
	}
}

func TestStart_WatchesFilesystem(t *testing.T) {
	root := t.TempDir()
	assets := filepath.Join(root, "assets")
	if err := os.MkdirAll(assets, 0755); err != nil {
		t.Fatal(err)
	}

	r := newFakeRunner()
	e := &Engine{Root: root, Runner: r, Rules: []Rule{{Pattern: "./assets/**/*.styl", Tasks: []string{"styl"}}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Close()

	if err := e.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(assets, "style.styl"), []byte("body\n  margin 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitCall(t, r, "styl")

	// New directories are picked up.
	nested := filepath.Join(assets, "blocks")
	if err := os.Mkdir(nested, 0755); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		watched := false
		for _, p := range e.WatchedPaths() {
			if p == nested {
				watched = true
			}
		}
		if watched {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("new directory was not watched: %v", e.WatchedPaths())
		}
		time.Sleep(10 * time.Millisecond)
	}
	for len(r.called) > 0 {
		<-r.called
	}

	if err := os.WriteFile(filepath.Join(nested, "header.styl"), []byte(".h\n  margin 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitCall(t, r, "styl")
}

func TestClose_Idempotent(t *testing.T) {
	e := &Engine{Root: t.TempDir()}
	if err := e.Close(); err != nil {
		t.Errorf("Close on an unstarted engine: %v", err)
	}
}
