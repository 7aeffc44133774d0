package runner

import (
	"fmt"
	"time"
)

// Config holds runner configuration.
type Config struct {
	MaxParallel int // handlers executing at once (default: 4)
}

// EventKind identifies a task lifecycle transition.
type EventKind string

const (
	EventStart    EventKind = "start"
	EventStop     EventKind = "stop"
	EventError    EventKind = "error"
	EventNotFound EventKind = "not_found"
	EventSkip     EventKind = "skip"
)

// Event is a task lifecycle transition.
type Event struct {
	Kind     EventKind
	Task     string
	RunID    string
	Time     time.Time
	Duration time.Duration // set on stop and error
	Err      error         // set on error and not_found
}

// Observer receives lifecycle events. Events of one run are delivered
// sequentially from the runner's scheduling goroutine.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// TaskError is a failure raised by a task handler.
type TaskError struct {
	Task     string
	Duration time.Duration
	Err      error
	Stack    []byte // set when the handler panicked
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// taskResult communicates task completion from worker goroutines to the scheduling loop.
type taskResult struct {
	Task       string
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
	Stack      []byte
}
