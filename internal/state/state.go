package state

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the status of a task within a run.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
	StatusSkipped   TaskStatus = "skipped"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

// Run status values.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// RunState is the state of a single runner invocation. It is created per run
// and handed back to the caller; nothing about a run is kept globally.
type RunState struct {
	RunID      string                `json:"run_id"`
	Roots      []string              `json:"roots"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at,omitempty"`
	Status     string                `json:"status"` // "running", "completed", "failed", "cancelled"
	Waves      [][]string            `json:"waves"`
	Tasks      map[string]*TaskState `json:"tasks"`

	mu sync.Mutex `json:"-"`
}

// TaskState is the state of a single task in a run.
type TaskState struct {
	Status     TaskStatus `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Duration returns how long the task ran, or zero if it never finished.
func (ts *TaskState) Duration() time.Duration {
	if ts == nil || ts.StartedAt == nil || ts.FinishedAt == nil {
		return 0
	}
	return ts.FinishedAt.Sub(*ts.StartedAt)
}

// New creates a RunState for the given root tasks.
func New(roots ...string) *RunState {
	return &RunState{
		RunID:     uuid.NewString(),
		Roots:     append([]string(nil), roots...),
		StartedAt: time.Now(),
		Status:    RunRunning,
		Tasks:     make(map[string]*TaskState),
	}
}

// SetWaves records the planned waves.
func (s *RunState) SetWaves(waves [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Waves = waves
	for _, w := range waves {
		for _, name := range w {
			if _, ok := s.Tasks[name]; !ok {
				s.Tasks[name] = &TaskState{Status: StatusPending}
			}
		}
	}
}

// SetStatus updates the overall run status. Terminal statuses stamp FinishedAt.
func (s *RunState) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
	if status != RunRunning {
		s.FinishedAt = time.Now()
	}
}

// GetStatus returns the overall run status.
func (s *RunState) GetStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status
}

// Failed reports whether the run ended in failure.
func (s *RunState) Failed() bool {
	return s.GetStatus() == RunFailed
}

// UpdateTask replaces a task's state.
func (s *RunState) UpdateTask(name string, ts *TaskState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tasks[name] = ts
}

// GetTask returns a copy of a task's state, or nil.
func (s *RunState) GetTask(name string) *TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.Tasks[name]
	if !ok {
		return nil
	}
	cp := *ts
	return &cp
}

// Count returns how many tasks are in the given status.
func (s *RunState) Count(status TaskStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ts := range s.Tasks {
		if ts.Status == status {
			n++
		}
	}
	return n
}

// MarshalJSON serializes the state under its lock.
func (s *RunState) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type alias struct {
		RunID      string                `json:"run_id"`
		Roots      []string              `json:"roots"`
		StartedAt  time.Time             `json:"started_at"`
		FinishedAt time.Time             `json:"finished_at,omitempty"`
		Status     string                `json:"status"`
		Waves      [][]string            `json:"waves"`
		Tasks      map[string]*TaskState `json:"tasks"`
	}
	return json.Marshal(alias{
		RunID:      s.RunID,
		Roots:      s.Roots,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Status:     s.Status,
		Waves:      s.Waves,
		Tasks:      s.Tasks,
	})
}
