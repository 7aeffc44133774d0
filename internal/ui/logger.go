package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Alex-f1/poly-bem/internal/runner"
)

// Logger writes timestamped console lines: "[15:04:05] message".
// It implements runner.Observer.
type Logger struct {
	w   io.Writer
	mu  sync.Mutex
	now func() time.Time
}

// NewLogger creates a Logger writing to w.
func NewLogger(w io.Writer) *Logger {
	return &Logger{w: w, now: time.Now}
}

// Log writes the operands separated by spaces.
func (l *Logger) Log(args ...any) {
	l.write(strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

func (l *Logger) write(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "[%s] %s\n", Gray(l.now().Format("15:04:05")), msg)
}

// Warn logs a yellow warning.
func (l *Logger) Warn(format string, args ...any) {
	l.Log(Yellow("Warning:"), fmt.Sprintf(format, args...))
}

// OnEvent logs a task lifecycle event.
func (l *Logger) OnEvent(e runner.Event) {
	switch e.Kind {
	case runner.EventStart:
		l.Log("Starting", TaskName(e.Task)+"...")
	case runner.EventStop:
		l.Log("Finished", TaskName(e.Task), "after", Magenta(PrettyDuration(e.Duration)))
	case runner.EventError:
		l.Log(TaskName(e.Task), Red("errored after"), Magenta(PrettyDuration(e.Duration)))
		l.logError(e.Err)
	case runner.EventSkip:
		l.Log("Skipping", TaskName(e.Task), Yellow("(prerequisite failed)"))
	case runner.EventNotFound:
		l.Log(Red(fmt.Sprintf("Task '%s' is not registered", e.Task)))
		l.Log("Please check the task declarations")
	}
}

// logError writes an error message and, for recovered panics, the stack.
func (l *Logger) logError(err error) {
	if err == nil {
		return
	}
	lw := NewLineWriter(l, "")

	var te *runner.TaskError
	if errors.As(err, &te) {
		io.WriteString(lw, te.Err.Error()+"\n")
		if len(te.Stack) > 0 {
			lw.Write(te.Stack)
		}
	} else {
		io.WriteString(lw, err.Error()+"\n")
	}
	lw.Flush()
}
