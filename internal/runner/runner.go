package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/Alex-f1/poly-bem/internal/graph"
	"github.com/Alex-f1/poly-bem/internal/plan"
	"github.com/Alex-f1/poly-bem/internal/state"
	"github.com/Alex-f1/poly-bem/internal/task"
)

// Runner executes tasks and their prerequisites.
type Runner struct {
	Tasks  graph.Lookup
	Config Config

	mu        sync.Mutex
	observers []Observer
}

// New creates a new Runner.
func New(tasks graph.Lookup, cfg Config, observers ...Observer) *Runner {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	return &Runner{
		Tasks:     tasks,
		Config:    cfg,
		observers: observers,
	}
}

// Observe adds an observer for lifecycle events of subsequent runs.
func (r *Runner) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Runner) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	r.mu.Lock()
	obs := make([]Observer, len(r.observers))
	copy(obs, r.observers)
	r.mu.Unlock()

	for _, o := range obs {
		o.OnEvent(e)
	}
}

// Plan resolves the prerequisite closure of names into an execution plan
// without running anything.
func (r *Runner) Plan(names ...string) (*plan.ExecutionPlan, error) {
	g, err := graph.Build(r.Tasks, names...)
	if err != nil {
		return nil, err
	}
	return plan.Generate(g, names)
}

// Run executes the named tasks after all of their prerequisites.
//
// Each task is dispatched the moment all its prerequisites have completed,
// in topological order, with at most Config.MaxParallel handlers running.
// A failing task does not stop independent tasks; tasks depending on it are
// skipped. The returned state describes the run; the error is the first
// *TaskError, a *task.NotFoundError, or the context error on cancellation.
func (r *Runner) Run(ctx context.Context, names ...string) (*state.RunState, error) {
	st := state.New(names...)

	p, err := r.Plan(names...)
	if err != nil {
		var nf *task.NotFoundError
		if errors.As(err, &nf) {
			r.emit(Event{Kind: EventNotFound, Task: nf.Name, RunID: st.RunID, Err: err})
		}
		st.SetStatus(state.RunFailed)
		return st, err
	}
	st.SetWaves(p.WaveNames())

	// Number of unfinished prerequisites per task
	pending := make(map[string]int, len(p.Order))
	var ready []string
	for _, name := range p.Order {
		pending[name] = len(p.Deps.Predecessors[name])
		if pending[name] == 0 {
			ready = append(ready, name)
		}
	}

	total := len(p.Order)
	done := make(chan taskResult, total)
	finished := make(map[string]bool, total)
	inflight := 0
	settled := 0
	cancelled := false
	var firstErr error

	for settled < total {
		for !cancelled && len(ready) > 0 && inflight < r.Config.MaxParallel {
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			name := ready[0]
			ready = ready[1:]
			t, _ := r.Tasks.Lookup(name)
			r.dispatch(ctx, st, t, done)
			inflight++
		}

		if inflight == 0 {
			// Nothing running and nothing dispatchable: cancelled
			break
		}

		var res taskResult
		if cancelled {
			res = <-done
		} else {
			select {
			case res = <-done:
			case <-ctx.Done():
				cancelled = true
				continue
			}
		}

		inflight--
		finished[res.Task] = true
		settled++

		if res.Err != nil && ctx.Err() != nil && errors.Is(res.Err, ctx.Err()) {
			// The handler gave up because the run was cancelled
			cancelled = true
			st.UpdateTask(res.Task, &state.TaskState{
				Status:     state.StatusCancelled,
				StartedAt:  &res.StartedAt,
				FinishedAt: &res.FinishedAt,
			})
			continue
		}

		if res.Err != nil {
			te := &TaskError{
				Task:     res.Task,
				Duration: res.FinishedAt.Sub(res.StartedAt),
				Err:      res.Err,
				Stack:    res.Stack,
			}
			st.UpdateTask(res.Task, &state.TaskState{
				Status:     state.StatusFailed,
				StartedAt:  &res.StartedAt,
				FinishedAt: &res.FinishedAt,
				Error:      res.Err.Error(),
			})
			r.emit(Event{Kind: EventError, Task: res.Task, RunID: st.RunID, Duration: te.Duration, Err: te})
			if firstErr == nil {
				firstErr = te
			}
			settled += r.cascadeSkip(st, p, res.Task, finished)
			continue
		}

		st.UpdateTask(res.Task, &state.TaskState{
			Status:     state.StatusCompleted,
			StartedAt:  &res.StartedAt,
			FinishedAt: &res.FinishedAt,
		})
		r.emit(Event{Kind: EventStop, Task: res.Task, RunID: st.RunID, Duration: res.FinishedAt.Sub(res.StartedAt)})

		for _, succ := range p.Deps.Successors[res.Task] {
			if finished[succ] {
				continue
			}
			pending[succ]--
			if pending[succ] == 0 {
				ready = insertOrdered(ready, succ, p)
			}
		}
	}

	if cancelled {
		now := time.Now()
		for _, name := range p.Order {
			if !finished[name] {
				st.UpdateTask(name, &state.TaskState{Status: state.StatusCancelled, FinishedAt: &now})
			}
		}
		st.SetStatus(state.RunCancelled)
		return st, fmt.Errorf("run cancelled: %w", ctx.Err())
	}

	if firstErr != nil {
		st.SetStatus(state.RunFailed)
		return st, firstErr
	}

	st.SetStatus(state.RunCompleted)
	return st, nil
}

// dispatch launches a task handler in a goroutine and reports on done.
// Panics are recovered into an error carrying the stack.
func (r *Runner) dispatch(ctx context.Context, st *state.RunState, t *task.Task, done chan<- taskResult) {
	now := time.Now()
	st.UpdateTask(t.Name, &state.TaskState{Status: state.StatusRunning, StartedAt: &now})
	r.emit(Event{Kind: EventStart, Task: t.Name, RunID: st.RunID, Time: now})

	go func() {
		res := taskResult{Task: t.Name, StartedAt: now}
		func() {
			defer func() {
				if v := recover(); v != nil {
					res.Err = fmt.Errorf("panic: %v", v)
					res.Stack = debug.Stack()
				}
			}()
			if t.Handler != nil {
				res.Err = t.Handler(ctx)
			}
		}()
		res.FinishedAt = time.Now()
		done <- res
	}()
}

// cascadeSkip performs BFS through the successor graph from a failed task,
// marking all transitively dependent tasks as skipped. Returns count of skipped tasks.
func (r *Runner) cascadeSkip(st *state.RunState, p *plan.ExecutionPlan, failed string, finished map[string]bool) int {
	skipped := 0
	queue := append([]string(nil), p.Deps.Successors[failed]...)

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if finished[name] {
			continue
		}
		finished[name] = true
		skipped++

		now := time.Now()
		st.UpdateTask(name, &state.TaskState{Status: state.StatusSkipped, FinishedAt: &now})
		r.emit(Event{Kind: EventSkip, Task: name, RunID: st.RunID})

		queue = append(queue, p.Deps.Successors[name]...)
	}

	return skipped
}

// insertOrdered inserts name into ready keeping topological order.
func insertOrdered(ready []string, name string, p *plan.ExecutionPlan) []string {
	pos := p.Position(name)
	i := sort.Search(len(ready), func(i int) bool {
		return p.Position(ready[i]) > pos
	})
	ready = append(ready, "")
	copy(ready[i+1:], ready[i:])
	ready[i] = name
	return ready
}
