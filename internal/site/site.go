// Package site declares the project's tasks and watch rules: templates,
// stylesheets and scripts compiled from the assets directory into the
// distribution directory, plus the development server.
package site

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/Alex-f1/poly-bem/internal/beml"
	"github.com/Alex-f1/poly-bem/internal/config"
	"github.com/Alex-f1/poly-bem/internal/devserver"
	"github.com/Alex-f1/poly-bem/internal/hbs"
	"github.com/Alex-f1/poly-bem/internal/runner"
	"github.com/Alex-f1/poly-bem/internal/stylus"
	"github.com/Alex-f1/poly-bem/internal/task"
	"github.com/Alex-f1/poly-bem/internal/transform"
	"github.com/Alex-f1/poly-bem/internal/ui"
	"github.com/Alex-f1/poly-bem/internal/watch"
)

// Task names.
const (
	TaskBeml        = "beml"
	TaskStyl        = "styl"
	TaskScripts     = "scripts"
	TaskCSSLibs     = "css-libs"
	TaskAllScripts  = "all-scripts"
	TaskBrowserSync = "browser-sync"
	TaskBuild       = "build"
	TaskWatch       = "watch"
)

// Site wires the task registry, runner, dev server and watch engine of a
// project rooted at Root.
type Site struct {
	Root     string
	Config   *config.Config
	Registry *task.Registry
	Runner   *runner.Runner
	Server   *devserver.Server

	log *ui.Logger

	mu       sync.Mutex
	reloader watch.Reloader
	engine   *watch.Engine
}

// New declares the site's tasks. log may be nil.
func New(root string, cfg *config.Config, log *ui.Logger) (*Site, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	opts := devserver.Options{
		BaseDir: config.Abs(root, cfg.Server.BaseDir),
		Port:    cfg.Server.Port,
		Notify:  cfg.Server.Notify,
	}
	var observers []runner.Observer
	if log != nil {
		opts.Log = log
		observers = append(observers, log)
	}

	s := &Site{
		Root:     root,
		Config:   cfg,
		Registry: task.NewRegistry(),
		Server:   devserver.New(opts),
		log:      log,
	}
	s.reloader = s.Server
	s.Runner = runner.New(s.Registry, runner.Config{MaxParallel: cfg.Runner.MaxParallel}, observers...)

	if err := s.register(); err != nil {
		return nil, err
	}
	if err := s.Registry.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Site) register() error {
	assets, dist := s.Config.Assets, s.Config.Dist
	tpl := s.Config.Template

	compiler := hbs.New(hbs.Options{
		Data:        tpl.Data,
		DataFile:    config.Abs(s.Root, tpl.DataFile),
		PartialsDir: config.Abs(s.Root, path.Join(assets, tpl.Partials)),
		HelpersFile: config.Abs(s.Root, tpl.Helpers),
	})

	decls := []struct {
		name    string
		prereqs []string
		handler task.Handler
	}{
		{TaskBeml, nil, s.pipeline(&transform.Pipeline{
			Sources: []string{path.Join(assets, tpl.Layout)},
			Steps:   []transform.Step{compiler.Step(), beml.Step(), transform.RenameTo("index.html")},
			Dests:   []string{dist},
		})},
		{TaskStyl, nil, s.pipeline(&transform.Pipeline{
			Sources: []string{path.Join(assets, "css/style.styl")},
			Steps:   []transform.Step{stylus.Step()},
			Dests:   []string{path.Join(assets, "css"), path.Join(dist, "css")},
			OnOutput: func(outputs []string) { s.Reload(outputs...) },
		})},
		{TaskScripts, nil, s.pipeline(&transform.Pipeline{
			Sources: []string{path.Join(assets, "plugins/jquery/dist/jquery.min.js")},
			Steps:   []transform.Step{transform.Concat("plugins.min.js"), transform.MinifyJS()},
			Dests:   []string{path.Join(assets, "js"), path.Join(dist, "js")},
		})},
		{TaskCSSLibs, []string{TaskStyl}, s.pipeline(&transform.Pipeline{
			Sources: []string{path.Join(assets, "css/libs.css")},
			Steps:   []transform.Step{transform.MinifyCSS(), transform.RenameSuffix(".min")},
			Dests:   []string{path.Join(assets, "css"), path.Join(dist, "css")},
		})},
		{TaskAllScripts, nil, s.pipeline(&transform.Pipeline{
			Sources: []string{path.Join(assets, "js/main.js")},
			Dests:   []string{path.Join(assets, "js"), path.Join(dist, "js")},
		})},
		{TaskBrowserSync, nil, s.serve},
		{TaskBuild, []string{TaskStyl, TaskCSSLibs, TaskScripts, TaskAllScripts, TaskBeml}, nil},
		{TaskWatch, []string{TaskBrowserSync, TaskStyl, TaskCSSLibs, TaskScripts, TaskAllScripts, TaskBeml}, s.watch},
	}

	for _, d := range decls {
		if err := s.Registry.Register(d.name, d.prereqs, d.handler); err != nil {
			return fmt.Errorf("register %s: %w", d.name, err)
		}
	}
	return nil
}

func (s *Site) pipeline(p *transform.Pipeline) task.Handler {
	p.Root = s.Root
	return func(ctx context.Context) error {
		_, err := p.Run(ctx)
		return err
	}
}

func (s *Site) serve(context.Context) error {
	url, err := s.Server.Start()
	if errors.Is(err, devserver.ErrAlreadyServing) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.log != nil {
		s.log.Log("Serving files from", ui.Cyan(s.Config.Server.BaseDir), "at", ui.BoldCyan(url))
	}
	return nil
}

func (s *Site) watch(ctx context.Context) error {
	e := s.Engine()
	if err := e.Start(ctx); err != nil {
		if errors.Is(err, watch.ErrAlreadyStarted) {
			return nil
		}
		return err
	}
	if s.log != nil {
		s.log.Log("Watching", ui.Bold(fmt.Sprint(len(e.Rules))), "patterns for changes")
	}
	return nil
}

// Rules returns the watch rules.
func (s *Site) Rules() []watch.Rule {
	assets, dist := "./"+s.Config.Assets, "./"+s.Config.Dist
	return []watch.Rule{
		{Pattern: assets + "/**/*.styl", Tasks: []string{TaskStyl}},
		{Pattern: assets + "/**/*.hbs", Tasks: []string{TaskBeml}, Reload: true},
		{Pattern: dist + "/**/*.html", Reload: true},
		{Pattern: assets + "/**/*.js", Tasks: []string{TaskAllScripts}, Reload: true},
	}
}

// Engine returns the site's watch engine, creating it on first use. It is
// started by the watch task.
func (s *Site) Engine() *watch.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		s.engine = &watch.Engine{
			Root:     s.Root,
			Rules:    s.Rules(),
			Runner:   s.Runner,
			Reloader: s,
		}
		if s.log != nil {
			s.engine.Log = s.log
		}
	}
	return s.engine
}

// SetReloader replaces the dev server as the receiver of reload requests.
func (s *Site) SetReloader(r watch.Reloader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloader = r
}

// Reload forwards changed paths to the reloader.
func (s *Site) Reload(paths ...string) {
	s.mu.Lock()
	r := s.reloader
	s.mu.Unlock()
	if r != nil {
		r.Reload(paths...)
	}
}

// Close stops the watch engine and the dev server.
func (s *Site) Close(ctx context.Context) error {
	s.mu.Lock()
	e := s.engine
	s.mu.Unlock()

	var errs []error
	if e != nil {
		errs = append(errs, e.Close())
	}
	errs = append(errs, s.Server.Close(ctx))
	return errors.Join(errs...)
}
