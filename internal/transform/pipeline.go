package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pipeline reads Sources, applies Steps in order and writes to every Dest.
// Sources and Dests are relative to Root.
type Pipeline struct {
	Root    string
	Sources []string
	Steps   []Step
	Dests   []string

	// OnOutput, if set, receives the destination path of every record
	// produced (relative to Root, slash-separated) after a successful run,
	// including files left untouched because their contents were unchanged.
	OnOutput func(outputs []string)
}

// Run executes the pipeline and returns the records it produced.
func (p *Pipeline) Run(ctx context.Context) ([]Record, error) {
	recs, err := Src(p.Root, p.Sources...)
	if err != nil {
		return nil, err
	}

	for _, s := range p.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, err = s.Apply(ctx, recs)
		if err != nil {
			var te *TransformError
			if errors.As(err, &te) {
				return nil, err
			}
			return nil, &TransformError{Step: s.Name(), Err: err}
		}
	}

	var outputs []string
	for _, d := range p.Dests {
		if _, err := Dest(p.Root, d, recs); err != nil {
			return nil, err
		}
		for _, r := range recs {
			outputs = append(outputs, destPath(d, r))
		}
	}

	if p.OnOutput != nil && len(outputs) > 0 {
		p.OnOutput(outputs)
	}
	return recs, nil
}

// Src reads the files matching the given glob patterns. Pattern order is
// preserved; matches of one pattern are sorted; a file matched twice is read
// once. A pattern without matches contributes nothing.
//
// Each record is relative to its pattern's static prefix, so
// "assets/css/style.styl" yields "style.styl" and "assets/**/*.js" yields
// e.g. "js/main.js".
func Src(root string, patterns ...string) ([]Record, error) {
	fsys := os.DirFS(root)
	seen := make(map[string]bool)
	var recs []Record

	for _, raw := range patterns {
		pattern := cleanPattern(raw)
		if !doublestar.ValidatePattern(pattern) {
			return nil, &TransformError{Step: "src", Path: raw, Err: doublestar.ErrBadPattern}
		}

		base, _ := doublestar.SplitPattern(pattern)
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, &TransformError{Step: "src", Path: raw, Err: err}
		}
		sort.Strings(matches)

		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true

			data, err := fs.ReadFile(fsys, m)
			if err != nil {
				return nil, &TransformError{Step: "src", Path: m, Err: err}
			}

			rel := m
			baseDir := root
			if base != "." {
				rel = strings.TrimPrefix(m, base+"/")
				baseDir = filepath.Join(root, filepath.FromSlash(base))
			}
			recs = append(recs, Record{Base: baseDir, Path: rel, Contents: data})
		}
	}
	return recs, nil
}

// Dest writes records under root/dir. Files whose current contents are
// identical are left untouched. Returns the paths written, relative to root.
func Dest(root, dir string, recs []Record) ([]string, error) {
	var written []string
	for _, r := range recs {
		rel := destPath(dir, r)
		target := filepath.Join(root, filepath.FromSlash(rel))

		if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, r.Contents) {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return written, fmt.Errorf("dest %s: %w", dir, err)
		}
		if err := os.WriteFile(target, r.Contents, 0644); err != nil {
			return written, fmt.Errorf("dest %s: %w", dir, err)
		}
		written = append(written, rel)
	}
	return written, nil
}

func destPath(dir string, r Record) string {
	return path.Join(cleanPattern(dir), r.Path)
}

// cleanPattern normalizes "./assets/**/*.js" to "assets/**/*.js".
func cleanPattern(p string) string {
	p = filepath.ToSlash(p)
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "."
	}
	return p
}
