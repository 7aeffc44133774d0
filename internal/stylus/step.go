package stylus

import (
	"context"

	"github.com/Alex-f1/poly-bem/internal/transform"
)

var toCSS = transform.ReplaceExt(".css")

// Step compiles .styl records to CSS and renames them to .css. Imports are
// resolved relative to each record's source file.
func Step() transform.Step {
	compile := transform.EachFunc("stylus", func(r transform.Record) (transform.Record, error) {
		out, err := Compile(r.Contents, r.Abs())
		if err != nil {
			return r, err
		}
		r.Contents = out
		return r, nil
	})
	return transform.StepFunc{
		StepName: "stylus",
		Fn: func(ctx context.Context, recs []transform.Record) ([]transform.Record, error) {
			recs, err := compile.Apply(ctx, recs)
			if err != nil {
				return nil, err
			}
			return toCSS.Apply(ctx, recs)
		},
	}
}
