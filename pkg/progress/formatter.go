// Package progress composes human-readable status text from task state and
// throttles how often it is actually emitted to a front end.
package progress

import (
	"fmt"
	"strings"

	"github.com/corestack/taskorch/pkg/task"
)

// ANSI color codes, matching the palette used elsewhere in this codebase's
// terminal output.
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[90m"
)

var phaseLabel = map[task.Phase]string{
	task.PhasePlan:   "planning",
	task.PhaseWork:   "working",
	task.PhaseReview: "reviewing",
}

var phaseColor = map[task.Phase]string{
	task.PhasePlan:   colorCyan,
	task.PhaseWork:   colorYellow,
	task.PhaseReview: colorGreen,
}

// Format renders a single-line human-readable status for s. note, if
// non-empty, is appended verbatim (e.g. "completed", "stopped: ...").
func Format(s *task.State, note string, useColor bool) string {
	label := phaseLabel[s.Phase]
	if label == "" {
		label = string(s.Phase)
	}

	var b strings.Builder
	if useColor {
		b.WriteString(phaseColor[s.Phase])
	}
	b.WriteString(strings.ToUpper(label))
	if useColor {
		b.WriteString(colorReset)
	}

	fmt.Fprintf(&b, " iteration %d", s.Iterations)

	if n := len(s.ToolsUsed); n > 0 {
		fmt.Fprintf(&b, ", %d tool call(s)", n)
		if last := s.ToolsUsed[n-1]; last != "" {
			fmt.Fprintf(&b, " (last: %s)", last)
		}
	}

	if note != "" {
		b.WriteString(" — ")
		if useColor {
			b.WriteString(colorDim)
		}
		b.WriteString(note)
		if useColor {
			b.WriteString(colorReset)
		}
	}

	return b.String()
}
