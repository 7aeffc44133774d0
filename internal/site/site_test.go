package site

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Alex-f1/poly-bem/internal/config"
	"github.com/Alex-f1/poly-bem/internal/runner"
	"github.com/Alex-f1/poly-bem/internal/task"
	"github.com/Alex-f1/poly-bem/internal/watch"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

func project(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write(t, root, "assets/css/style.styl", "body\n  margin 0\n  .page\n    color #333\n")
	write(t, root, "assets/css/libs.css", ".lib {\n  padding : 0 ;\n}\n")
	write(t, root, "assets/plugins/jquery/dist/jquery.min.js", "var jQuery = function ( a ) {\n  return a ;\n};\n")
	write(t, root, "assets/js/main.js", "console.log('main');\n")
	write(t, root, "assets/section/header.hbs", "<header block=\"header\"><h1 elem=\"title\">{{capitals firstName}}</h1></header>")
	write(t, root, "assets/layout.hbs", "<html><body block=\"page\">{{> header}}<p elem=\"text\">{{firstName}}</p></body></html>")
	return root
}

type reloads struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *reloads) Reload(paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, paths)
}

func (r *reloads) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func newSite(t *testing.T, root string) (*Site, *reloads) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Port = 0
	s, err := New(root, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rl := &reloads{}
	s.SetReloader(rl)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Close(ctx)
	})
	return s, rl
}

func TestRegistry(t *testing.T) {
	s, _ := newSite(t, t.TempDir())
	want := []string{"all-scripts", "beml", "browser-sync", "build", "css-libs", "scripts", "styl", "watch"}
	got := s.Registry.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}

	w, _ := s.Registry.Lookup(TaskWatch)
	if strings.Join(w.Prerequisites, ",") != "browser-sync,styl,css-libs,scripts,all-scripts,beml" {
		t.Errorf("unexpected watch prerequisites %v", w.Prerequisites)
	}
	if _, err := s.Runner.Run(context.Background(), "nope"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBuild_EndToEnd(t *testing.T) {
	root := project(t)
	s, _ := newSite(t, root)

	st, err := s.Runner.Run(context.Background(), TaskBuild, TaskBrowserSync)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Failed() {
		t.Fatal("expected the run to succeed")
	}

	if got := read(t, root, "dist/css/style.css"); got != "body {\n  margin: 0;\n}\nbody .page {\n  color: #333;\n}\n" {
		t.Errorf("unexpected dist/css/style.css %q", got)
	}
	if read(t, root, "assets/css/style.css") != read(t, root, "dist/css/style.css") {
		t.Error("expected the stylesheet to be mirrored into assets/css")
	}
	if got := read(t, root, "dist/css/libs.min.css"); strings.ContainsAny(got, " \n") {
		t.Errorf("expected minified libs, got %q", got)
	}
	if got := read(t, root, "dist/js/plugins.min.js"); !strings.Contains(got, "jQuery") || strings.Contains(got, "\n") {
		t.Errorf("unexpected plugins.min.js %q", got)
	}
	if got := read(t, root, "dist/js/main.js"); got != "console.log('main');\n" {
		t.Errorf("expected main.js copied verbatim, got %q", got)
	}

	html := read(t, root, "dist/index.html")
	for _, want := range []string{
		`<body class="page">`,
		`<header class="header"><h1 class="header__title">POLY-BEM.JS</h1></header>`,
		`<p class="page__text">Poly-Bem.js</p>`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("expected %s in %s", want, html)
		}
	}

	resp, err := http.Get(s.Server.URL() + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "/__polybem/client.js") {
		t.Error("expected the live-reload client in the served page")
	}
}

func TestBuild_Idempotent(t *testing.T) {
	root := project(t)
	s, rl := newSite(t, root)
	ctx := context.Background()

	if _, err := s.Runner.Run(ctx, TaskBuild); err != nil {
		t.Fatalf("Run: %v", err)
	}
	first := read(t, root, "dist/index.html") + read(t, root, "dist/css/style.css") + read(t, root, "dist/js/plugins.min.js")

	if _, err := s.Runner.Run(ctx, TaskBuild); err != nil {
		t.Fatalf("Run: %v", err)
	}
	second := read(t, root, "dist/index.html") + read(t, root, "dist/css/style.css") + read(t, root, "dist/js/plugins.min.js")

	if first != second {
		t.Error("expected byte-identical output on unchanged input")
	}
	calls := rl.Calls()
	if len(calls) != 2 || strings.Join(calls[0], ",") != strings.Join(calls[1], ",") {
		t.Errorf("expected the same stylesheet reload on both runs, got %v", calls)
	}
}

func startedTasks(s *Site) func() []string {
	var mu sync.Mutex
	var started []string
	s.Runner.Observe(runner.ObserverFunc(func(e runner.Event) {
		if e.Kind == runner.EventStart {
			mu.Lock()
			started = append(started, e.Task)
			mu.Unlock()
		}
	}))
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), started...)
	}
}

func TestWatch_StylesheetChangeInjectsCSS(t *testing.T) {
	root := project(t)
	s, rl := newSite(t, root)
	ctx := context.Background()

	if _, err := s.Runner.Run(ctx, TaskBuild); err != nil {
		t.Fatalf("Run: %v", err)
	}
	started := startedTasks(s)
	n := len(rl.Calls())

	write(t, root, "assets/css/style.styl", "body\n  margin 1px\n")
	s.Engine().Handle(ctx, watch.Event{Path: filepath.Join(root, "assets", "css", "style.styl"), Op: watch.OpWrite})

	if got := started(); len(got) != 1 || got[0] != TaskStyl {
		t.Errorf("expected only styl to run, got %v", got)
	}
	calls := rl.Calls()[n:]
	if len(calls) != 1 {
		t.Fatalf("expected one reload, got %v", calls)
	}
	for _, p := range calls[0] {
		if filepath.Ext(p) != ".css" {
			t.Errorf("expected only stylesheet paths, got %v", calls[0])
		}
	}
	if !strings.Contains(read(t, root, "dist/css/style.css"), "margin: 1px;") {
		t.Error("expected recompiled stylesheet")
	}
}

func TestWatch_UnchangedStylesheetOutputStillInjectsCSS(t *testing.T) {
	root := project(t)
	s, rl := newSite(t, root)
	ctx := context.Background()

	if _, err := s.Runner.Run(ctx, TaskBuild); err != nil {
		t.Fatalf("Run: %v", err)
	}
	before := read(t, root, "dist/css/style.css")
	n := len(rl.Calls())

	write(t, root, "assets/css/style.styl", "// tweak\nbody\n  margin 0\n  .page\n    color #333\n")
	s.Engine().Handle(ctx, watch.Event{Path: filepath.Join(root, "assets", "css", "style.styl"), Op: watch.OpWrite})

	if read(t, root, "dist/css/style.css") != before {
		t.Fatal("expected a comment-only edit to leave the compiled stylesheet unchanged")
	}
	calls := rl.Calls()[n:]
	if len(calls) != 1 {
		t.Fatalf("expected one reload, got %v", calls)
	}
	if strings.Join(calls[0], ",") != "assets/css/style.css,dist/css/style.css" {
		t.Errorf("expected a stylesheet reload, got %v", calls[0])
	}
}

func TestWatch_TemplateChangeReloadsPage(t *testing.T) {
	root := project(t)
	s, rl := newSite(t, root)
	ctx := context.Background()

	if _, err := s.Runner.Run(ctx, TaskBuild); err != nil {
		t.Fatalf("Run: %v", err)
	}
	started := startedTasks(s)
	n := len(rl.Calls())

	write(t, root, "assets/section/header.hbs", "<header block=\"header\">changed</header>")
	s.Engine().Handle(ctx, watch.Event{Path: filepath.Join(root, "assets", "section", "header.hbs"), Op: watch.OpWrite})

	if got := started(); len(got) != 1 || got[0] != TaskBeml {
		t.Errorf("expected only beml to run, got %v", got)
	}
	calls := rl.Calls()[n:]
	if len(calls) != 1 || len(calls[0]) != 1 || calls[0][0] != "assets/section/header.hbs" {
		t.Errorf("expected a full reload for the template, got %v", calls)
	}
	if !strings.Contains(read(t, root, "dist/index.html"), `<header class="header">changed</header>`) {
		t.Error("expected the page to be rebuilt")
	}
}

func TestWatch_FailedRunDoesNotReload(t *testing.T) {
	root := project(t)
	s, rl := newSite(t, root)
	ctx := context.Background()

	write(t, root, "assets/layout.hbs", "<p elem=\"orphan\"></p>")
	s.Engine().Handle(ctx, watch.Event{Path: filepath.Join(root, "assets", "layout.hbs"), Op: watch.OpWrite})

	if len(rl.Calls()) != 0 {
		t.Errorf("expected no reload after a failed build, got %v", rl.Calls())
	}
}

func TestWatch_RuleWithUnregisteredTaskFailsStartup(t *testing.T) {
	root := project(t)
	s, _ := newSite(t, root)
	e := s.Engine()
	e.Rules = append(e.Rules, watch.Rule{Pattern: "./assets/**/*.txt", Tasks: []string{"nope"}})

	st, err := s.Runner.Run(context.Background(), TaskWatch)
	if !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !st.Failed() {
		t.Error("expected the watch run to fail")
	}
	if paths := e.WatchedPaths(); len(paths) != 0 {
		t.Errorf("expected the engine not to start, got %v", paths)
	}
}

func TestRules(t *testing.T) {
	s, _ := newSite(t, t.TempDir())
	rules := s.Rules()
	want := []string{"./assets/**/*.styl", "./assets/**/*.hbs", "./dist/**/*.html", "./assets/**/*.js"}
	if len(rules) != len(want) {
		t.Fatalf("expected %d rules, got %d", len(want), len(rules))
	}
	for i, r := range rules {
		if r.Pattern != want[i] {
			t.Errorf("rule %d: expected %s, got %s", i, want[i], r.Pattern)
		}
	}
	if rules[0].Reload || !rules[1].Reload || len(rules[2].Tasks) != 0 {
		t.Errorf("unexpected rule flags %+v", rules)
	}
}
