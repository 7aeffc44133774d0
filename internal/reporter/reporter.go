package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Alex-f1/poly-bem/internal/plan"
	"github.com/Alex-f1/poly-bem/internal/state"
	"github.com/Alex-f1/poly-bem/internal/task"
	"github.com/Alex-f1/poly-bem/internal/ui"
)

// Reporter renders the outcome of a run.
type Reporter struct {
	State *state.RunState
}

// New creates a new Reporter.
func New(st *state.RunState) *Reporter {
	return &Reporter{State: st}
}

// PrintSummary writes the run summary: header, per-wave breakdown with task
// outcomes and timing, and totals. The output is also returned as a string.
func (r *Reporter) PrintSummary(w io.Writer) string {
	var b strings.Builder
	mw := io.MultiWriter(w, &b)

	statusText := ui.BoldGreen("completed")
	statusEmoji := "✅"
	switch r.State.GetStatus() {
	case state.RunFailed:
		statusText = ui.BoldRed("failed")
		statusEmoji = "❌"
	case state.RunCancelled:
		statusText = ui.Yellow("cancelled")
		statusEmoji = "🚫"
	case state.RunRunning:
		statusText = ui.BoldCyan("running")
		statusEmoji = "⏳"
	}

	waves := r.waves()
	fmt.Fprintf(mw, "\n%s %s\n", statusEmoji, ui.BoldCyan("Poly-Bem Run Summary"))
	fmt.Fprintf(mw, "%s\n", ui.Cyan("════════════════════"))
	fmt.Fprintf(mw, "Run:       %s\n", ui.Dim(r.State.RunID))
	fmt.Fprintf(mw, "Tasks:     %s\n", strings.Join(r.State.Roots, ", "))
	fmt.Fprintf(mw, "Status:    %s\n", statusText)
	fmt.Fprintf(mw, "Duration:  %s\n", ui.Bold(ui.PrettyDuration(r.duration())))
	fmt.Fprintf(mw, "Waves:     %d\n\n", len(waves))

	for i, wave := range waves {
		fmt.Fprintf(mw, "  🌊 %s %d  %s  (%d tasks)\n",
			ui.BoldWhite("Wave"), i+1, r.waveProgress(wave), len(wave))
		for _, name := range wave {
			r.printTask(mw, name)
		}
		fmt.Fprintln(mw)
	}

	completed := r.State.Count(state.StatusCompleted)
	failed := r.State.Count(state.StatusFailed)
	skipped := r.State.Count(state.StatusSkipped)
	cancelled := r.State.Count(state.StatusCancelled)

	fmt.Fprintf(mw, "%s\n", ui.Cyan("────────────────────"))
	fmt.Fprintf(mw, "Totals:  %s  %s  %s",
		ui.Green(fmt.Sprintf("%d completed", completed)),
		ui.Red(fmt.Sprintf("%d failed", failed)),
		ui.Yellow(fmt.Sprintf("%d skipped", skipped)))
	if cancelled > 0 {
		fmt.Fprintf(mw, "  %s", ui.Dim(fmt.Sprintf("%d cancelled", cancelled)))
	}
	fmt.Fprintln(mw)

	if failed > 0 {
		fmt.Fprintf(mw, "\n%s\n", ui.BoldRed("Failed tasks:"))
		for _, name := range r.taskNames() {
			ts := r.State.GetTask(name)
			if ts.Status != state.StatusFailed {
				continue
			}
			fmt.Fprintf(mw, "  %s %s %s  %s\n",
				ui.Red("✗"), ui.BoldMagenta(name),
				ui.Red("after "+ui.PrettyDuration(ts.Duration())),
				ui.Dim(firstLine(ts.Error)))
		}
	}

	return b.String()
}

func (r *Reporter) printTask(w io.Writer, name string) {
	status := state.StatusPending
	timeCol := ""
	if ts := r.State.GetTask(name); ts != nil {
		status = ts.Status
		if ts.FinishedAt != nil {
			timeCol = ui.Dim(fmt.Sprintf("[%s]", ui.PrettyDuration(ts.Duration())))
		}
	}
	fmt.Fprintf(w, "    %s %-14s %-10s %s\n", ui.StatusIcon(status), ui.BoldMagenta(name), status, timeCol)
}

func (r *Reporter) waves() [][]string {
	return r.State.Waves
}

// waveSettled counts the wave's tasks in a final state and reports whether
// any is still running.
func (r *Reporter) waveSettled(wave []string) (settled int, running bool) {
	for _, name := range wave {
		ts := r.State.GetTask(name)
		switch {
		case ts == nil:
		case ts.Status.Terminal():
			settled++
		case ts.Status == state.StatusRunning:
			running = true
		}
	}
	return settled, running
}

func (r *Reporter) waveProgress(wave []string) string {
	settled, running := r.waveSettled(wave)
	return ui.Progress(settled, len(wave), running)
}

// duration is the wall-clock time of the run, up to now if still running.
func (r *Reporter) duration() time.Duration {
	if r.State.GetStatus() == state.RunRunning || r.State.FinishedAt.IsZero() {
		return time.Since(r.State.StartedAt)
	}
	return r.State.FinishedAt.Sub(r.State.StartedAt)
}

func (r *Reporter) taskNames() []string {
	var names []string
	for _, wave := range r.waves() {
		names = append(names, wave...)
	}
	return names
}

// JSON returns machine-readable run results.
func (r *Reporter) JSON() ([]byte, error) {
	type taskStatus struct {
		Name       string  `json:"name"`
		Status     string  `json:"status"`
		Wave       int     `json:"wave"`
		DurationMS float64 `json:"duration_ms"`
		Error      string  `json:"error,omitempty"`
	}

	type output struct {
		RunID      string       `json:"run_id"`
		Roots      []string     `json:"roots"`
		Status     string       `json:"status"`
		Duration   string       `json:"duration"`
		TotalWaves int          `json:"total_waves"`
		TotalTasks int          `json:"total_tasks"`
		Tasks      []taskStatus `json:"tasks"`
	}

	waves := r.waves()
	o := output{
		RunID:      r.State.RunID,
		Roots:      r.State.Roots,
		Status:     r.State.GetStatus(),
		Duration:   ui.PrettyDuration(r.duration()),
		TotalWaves: len(waves),
		Tasks:      []taskStatus{},
	}

	for i, wave := range waves {
		for _, name := range wave {
			ts := taskStatus{Name: name, Wave: i, Status: string(state.StatusPending)}
			if s := r.State.GetTask(name); s != nil {
				ts.Status = string(s.Status)
				ts.DurationMS = float64(s.Duration()) / float64(time.Millisecond)
				ts.Error = s.Error
			}
			o.Tasks = append(o.Tasks, ts)
		}
	}
	o.TotalTasks = len(o.Tasks)

	return json.MarshalIndent(o, "", "  ")
}

// PrintTasks lists tasks with their prerequisites in name order.
func PrintTasks(w io.Writer, tasks []*task.Task) {
	sorted := append([]*task.Task(nil), tasks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	fmt.Fprintf(w, "%s\n", ui.BoldCyan("Tasks"))
	for _, t := range sorted {
		deps := ui.Dim("(none)")
		if len(t.Prerequisites) > 0 {
			deps = strings.Join(t.Prerequisites, ", ")
		}
		fmt.Fprintf(w, "  %s %s %s\n", ui.BoldMagenta(t.Name), ui.Dim("←"), deps)
	}
}

// PrintPlan writes the waves of an execution plan.
func PrintPlan(w io.Writer, p *plan.ExecutionPlan) {
	fmt.Fprintf(w, "%s %s (%d tasks, %d waves)\n",
		ui.BoldCyan("Plan for"), strings.Join(p.Roots, ", "), p.TotalTasks, len(p.Waves))
	for _, wave := range p.Waves {
		fmt.Fprintf(w, "  🌊 %s %d  %s\n", ui.BoldWhite("Wave"), wave.Index+1, strings.Join(wave.Tasks, "  "))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
