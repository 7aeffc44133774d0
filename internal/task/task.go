package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when a task name is not registered.
var ErrNotFound = errors.New("task not found")

// Handler performs the work of a task. Returning means the task is complete.
type Handler func(ctx context.Context) error

// Task is a named unit of work with optional prerequisites.
type Task struct {
	Name          string
	Prerequisites []string
	Handler       Handler
}

// NotFoundError reports a missing task and which task referenced it.
type NotFoundError struct {
	Name       string
	RequiredBy string // empty when the name was requested directly
}

func (e *NotFoundError) Error() string {
	if e.RequiredBy == "" {
		return fmt.Sprintf("task %q is not registered", e.Name)
	}
	return fmt.Sprintf("task %q (required by %q) is not registered", e.Name, e.RequiredBy)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Registry maps task names to their definitions.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Register adds a task. A nil handler is allowed for pure aggregate tasks.
func (r *Registry) Register(name string, prerequisites []string, h Handler) error {
	if name == "" {
		return fmt.Errorf("register task: empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[name]; ok {
		return fmt.Errorf("register task %q: already registered", name)
	}

	deps := make([]string, len(prerequisites))
	copy(deps, prerequisites)

	r.tasks[name] = &Task{Name: name, Prerequisites: deps, Handler: h}
	return nil
}

// Lookup returns the task registered under name.
func (r *Registry) Lookup(name string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

// Names returns all registered task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every prerequisite of every task is registered.
// The first missing name (in sorted task order) is returned as a *NotFoundError.
func (r *Registry) Validate() error {
	for _, name := range r.Names() {
		t, _ := r.Lookup(name)
		for _, dep := range t.Prerequisites {
			if _, ok := r.Lookup(dep); !ok {
				return &NotFoundError{Name: dep, RequiredBy: name}
			}
		}
	}
	return nil
}
