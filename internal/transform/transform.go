// Package transform implements file pipelines: read sources matching glob
// patterns into in-memory records, apply ordered steps, and write the
// results to one or more destination directories.
package transform

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
)

// Record is an in-memory file.
type Record struct {
	Base     string // absolute directory the record is relative to
	Path     string // slash-separated path relative to Base
	Contents []byte
}

// Abs returns the record's absolute filesystem path.
func (r Record) Abs() string {
	return filepath.Join(r.Base, filepath.FromSlash(r.Path))
}

// Ext returns the extension of the record's path.
func (r Record) Ext() string {
	return path.Ext(r.Path)
}

// Step transforms a batch of records. Steps return new records and never
// touch the filesystem they were read from.
type Step interface {
	Name() string
	Apply(ctx context.Context, recs []Record) ([]Record, error)
}

// StepFunc adapts a function to Step.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, recs []Record) ([]Record, error)
}

// Name returns the step name.
func (s StepFunc) Name() string { return s.StepName }

// Apply calls Fn.
func (s StepFunc) Apply(ctx context.Context, recs []Record) ([]Record, error) {
	return s.Fn(ctx, recs)
}

// EachFunc builds a step that maps every record independently.
func EachFunc(name string, fn func(Record) (Record, error)) Step {
	return StepFunc{
		StepName: name,
		Fn: func(ctx context.Context, recs []Record) ([]Record, error) {
			out := make([]Record, 0, len(recs))
			for _, r := range recs {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				nr, err := fn(r)
				if err != nil {
					return nil, &TransformError{Step: name, Path: r.Path, Err: err}
				}
				out = append(out, nr)
			}
			return out, nil
		},
	}
}

// TransformError reports a failure inside a step.
type TransformError struct {
	Step string
	Path string
	Err  error
}

func (e *TransformError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Path, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }
