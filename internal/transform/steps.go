package transform

import (
	"bytes"
	"context"
	"path"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"
)

// Concat joins all records, in order, into a single record named name.
// Contents are separated by a newline. No input means no output.
func Concat(name string) Step {
	return StepFunc{
		StepName: "concat",
		Fn: func(_ context.Context, recs []Record) ([]Record, error) {
			if len(recs) == 0 {
				return nil, nil
			}
			parts := make([][]byte, len(recs))
			for i, r := range recs {
				parts[i] = r.Contents
			}
			return []Record{{
				Base:     recs[0].Base,
				Path:     name,
				Contents: bytes.Join(parts, []byte("\n")),
			}}, nil
		},
	}
}

// RenameTo replaces the base name of every record, keeping its directory.
func RenameTo(name string) Step {
	return EachFunc("rename", func(r Record) (Record, error) {
		r.Path = path.Join(path.Dir(r.Path), name)
		return r, nil
	})
}

// RenameSuffix inserts suffix before the extension: libs.css -> libs.min.css.
func RenameSuffix(suffix string) Step {
	return EachFunc("rename", func(r Record) (Record, error) {
		ext := path.Ext(r.Path)
		r.Path = strings.TrimSuffix(r.Path, ext) + suffix + ext
		return r, nil
	})
}

// ReplaceExt swaps a record's extension.
func ReplaceExt(ext string) Step {
	return EachFunc("rename", func(r Record) (Record, error) {
		r.Path = strings.TrimSuffix(r.Path, path.Ext(r.Path)) + ext
		return r, nil
	})
}

var minifier = func() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)
	return m
}()

// MinifyJS minifies JavaScript records.
func MinifyJS() Step {
	return EachFunc("minify-js", func(r Record) (Record, error) {
		out, err := minifier.Bytes("application/javascript", r.Contents)
		if err != nil {
			return r, err
		}
		r.Contents = out
		return r, nil
	})
}

// MinifyCSS minifies stylesheet records.
func MinifyCSS() Step {
	return EachFunc("minify-css", func(r Record) (Record, error) {
		out, err := minifier.Bytes("text/css", r.Contents)
		if err != nil {
			return r, err
		}
		r.Contents = out
		return r, nil
	})
}
