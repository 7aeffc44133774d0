// Package hbs renders Handlebars templates with template data, a batch
// directory of partials and helpers.
package hbs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/Alex-f1/poly-bem/internal/transform"
)

// Options configures a Compiler.
type Options struct {
	// Data is the template context.
	Data map[string]any
	// DataFile is an optional YAML file whose top-level keys override Data.
	DataFile string
	// PartialsDir holds *.hbs partials, registered by their path relative to
	// the directory without extension ("nav", "blocks/footer"). A missing
	// directory means no partials.
	PartialsDir string
	// HelpersFile is an optional Lua script returning a table of helpers.
	HelpersFile string
}

// Compiler renders templates. Data, partials and helpers are reloaded on
// every batch so edits to them are picked up by the next run.
type Compiler struct {
	opts Options
}

// New creates a Compiler.
func New(opts Options) *Compiler {
	return &Compiler{opts: opts}
}

// Step returns the rendering step. Output records keep their paths.
func (c *Compiler) Step() transform.Step {
	return transform.StepFunc{StepName: "handlebars", Fn: c.apply}
}

func (c *Compiler) apply(ctx context.Context, recs []transform.Record) ([]transform.Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	data, err := c.data()
	if err != nil {
		return nil, err
	}
	partials, err := c.partials()
	if err != nil {
		return nil, err
	}
	helpers, closeHelpers, err := c.helpers()
	if err != nil {
		return nil, err
	}
	defer closeHelpers()

	out := make([]transform.Record, 0, len(recs))
	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		html, err := render(string(r.Contents), data, partials, helpers)
		if err != nil {
			return nil, &transform.TransformError{Step: "handlebars", Path: r.Path, Err: err}
		}
		r.Contents = []byte(html)
		out = append(out, r)
	}
	return out, nil
}

// Render renders a single template source.
func (c *Compiler) Render(src string) (string, error) {
	data, err := c.data()
	if err != nil {
		return "", err
	}
	partials, err := c.partials()
	if err != nil {
		return "", err
	}
	helpers, closeHelpers, err := c.helpers()
	if err != nil {
		return "", err
	}
	defer closeHelpers()
	return render(src, data, partials, helpers)
}

// partialRefRe matches the name of a static partial call: {{> name}},
// {{~> "name" ctx}}. Dynamic (subexpression) partials are not matched.
var partialRefRe = regexp.MustCompile(`\{\{~?>\s*("[^"]*"|'[^']*'|[^\s}()~]+)`)

func render(src string, data map[string]any, partials map[string]string, helpers map[string]any) (string, error) {
	tpl, err := raymond.Parse(src)
	if err != nil {
		return "", err
	}
	tpl.RegisterPartials(partials)
	// Unknown partials render as empty text.
	for _, name := range missingPartials(src, partials) {
		tpl.RegisterPartial(name, "")
	}
	tpl.RegisterHelpers(helpers)
	return tpl.Exec(data)
}

// missingPartials lists partial names referenced by src, or by the known
// partials, that are not registered.
func missingPartials(src string, partials map[string]string) []string {
	seen := make(map[string]bool)
	var missing []string
	scan := func(s string) {
		for _, m := range partialRefRe.FindAllStringSubmatch(s, -1) {
			name := strings.Trim(m[1], `"'`)
			if _, ok := partials[name]; ok || seen[name] {
				continue
			}
			seen[name] = true
			missing = append(missing, name)
		}
	}
	scan(src)
	for _, p := range partials {
		scan(p)
	}
	return missing
}

func (c *Compiler) data() (map[string]any, error) {
	data := make(map[string]any, len(c.opts.Data))
	for k, v := range c.opts.Data {
		data[k] = v
	}
	if c.opts.DataFile == "" {
		return data, nil
	}

	raw, err := os.ReadFile(c.opts.DataFile)
	if err != nil {
		return nil, fmt.Errorf("read template data: %w", err)
	}
	var file map[string]any
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse template data %s: %w", c.opts.DataFile, err)
	}
	for k, v := range file {
		data[k] = v
	}
	return data, nil
}

func (c *Compiler) partials() (map[string]string, error) {
	partials := make(map[string]string)
	if c.opts.PartialsDir == "" {
		return partials, nil
	}

	fsys := os.DirFS(c.opts.PartialsDir)
	matches, err := doublestar.Glob(fsys, "**/*.hbs", doublestar.WithFilesOnly())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return partials, nil
		}
		return nil, fmt.Errorf("list partials: %w", err)
	}
	for _, m := range matches {
		src, err := fs.ReadFile(fsys, m)
		if err != nil {
			return nil, fmt.Errorf("read partial %s: %w", m, err)
		}
		partials[strings.TrimSuffix(m, path.Ext(m))] = string(src)
	}
	return partials, nil
}

func (c *Compiler) helpers() (map[string]any, func(), error) {
	helpers := map[string]any{
		"capitals": capitals,
	}
	if c.opts.HelpersFile == "" {
		return helpers, func() {}, nil
	}

	lh, err := loadLuaHelpers(c.opts.HelpersFile)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range lh.Names() {
		name := name
		helpers[name] = func(v any) string {
			s, err := lh.call(name, raymond.Str(v))
			if err != nil {
				// raymond turns panics with an error value into Exec errors
				panic(err)
			}
			return s
		}
	}
	return helpers, lh.Close, nil
}

func capitals(v any) string {
	return strings.ToUpper(raymond.Str(v))
}
