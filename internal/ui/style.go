package ui

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/Alex-f1/poly-bem/internal/state"
)

var (
	Bold        = color.New(color.Bold).SprintFunc()
	Dim         = color.New(color.Faint).SprintFunc()
	Gray        = color.New(color.FgHiBlack).SprintFunc()
	Cyan        = color.New(color.FgCyan).SprintFunc()
	Green       = color.New(color.FgGreen).SprintFunc()
	Red         = color.New(color.FgRed).SprintFunc()
	Yellow      = color.New(color.FgYellow).SprintFunc()
	Magenta     = color.New(color.FgMagenta).SprintFunc()
	BoldCyan    = color.New(color.Bold, color.FgCyan).SprintFunc()
	BoldGreen   = color.New(color.Bold, color.FgGreen).SprintFunc()
	BoldRed     = color.New(color.Bold, color.FgRed).SprintFunc()
	BoldMagenta = color.New(color.Bold, color.FgMagenta).SprintFunc()
	BoldWhite   = color.New(color.Bold, color.FgWhite).SprintFunc()
)

// TaskName returns a quoted, colored task name: 'styl'.
func TaskName(name string) string {
	return "'" + Cyan(name) + "'"
}

type icon struct {
	mark  string
	paint func(a ...any) string
}

var taskIcons = map[state.TaskStatus]icon{
	state.StatusCompleted: {"✓", Green},
	state.StatusRunning:   {"›", Cyan},
	state.StatusFailed:    {"✗", Red},
	state.StatusSkipped:   {"-", Yellow},
	state.StatusCancelled: {"-", Gray},
}

// StatusIcon returns the one-character marker printed before a task in
// the run summary. Pending and unknown statuses get a dim dot.
func StatusIcon(s state.TaskStatus) string {
	if ic, ok := taskIcons[s]; ok {
		return ic.paint(ic.mark)
	}
	return Dim("·")
}

// Progress renders how many tasks of a wave have settled: green once all
// have, cyan while any is running, dim otherwise.
func Progress(settled, total int, running bool) string {
	label := fmt.Sprintf("%d/%d", settled, total)
	switch {
	case settled == total:
		return Green(label)
	case running:
		return BoldCyan(label)
	default:
		return Dim(label)
	}
}
