// Package report renders a human-readable run summary for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"pipeweld/internal/core"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	skipStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	abortStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// Summary renders the final state plus one line per stage. With color off
// the output is plain text; the layout is identical either way.
func Summary(res *core.RunResult, color bool) string {
	var b strings.Builder

	header := fmt.Sprintf("%s  run=%s  %s  (%s)",
		res.Pipeline, shortID(res.RunID), strings.ToUpper(string(res.State)),
		res.Finished.Sub(res.Started).Round(10*time.Millisecond))
	b.WriteString(style(header, stateStyle(res.State), color))
	b.WriteByte('\n')
	if res.Reason != "" {
		b.WriteString("  " + res.Reason + "\n")
	}

	for _, st := range res.Stages {
		writeStage(&b, st, 1, color)
	}

	for _, w := range res.Warnings {
		b.WriteString(style("  warning: "+w, abortStyle, color))
		b.WriteByte('\n')
	}
	return b.String()
}

func writeStage(b *strings.Builder, st *core.StageResult, depth int, color bool) {
	indent := strings.Repeat("  ", depth)
	line := fmt.Sprintf("%s%-9s %s", indent, st.Status, st.Name)
	if st.Status == core.StatusFailure && st.Reason != "" {
		line += "  (" + st.Reason + ")"
	}
	if n := len(st.Artifacts); n > 0 {
		line += fmt.Sprintf("  [%d artifact(s)]", n)
	}
	b.WriteString(style(line, statusStyle(st.Status), color))
	b.WriteByte('\n')
	for _, c := range st.Children {
		writeStage(b, c, depth+1, color)
	}
}

func stateStyle(s core.RunState) lipgloss.Style {
	switch s {
	case core.RunSucceeded:
		return okStyle
	case core.RunFailed:
		return failStyle
	case core.RunAborted:
		return abortStyle
	default:
		return headerStyle
	}
}

func statusStyle(s core.Status) lipgloss.Style {
	switch s {
	case core.StatusSuccess:
		return okStyle
	case core.StatusFailure:
		return failStyle
	case core.StatusAborted:
		return abortStyle
	default:
		return skipStyle
	}
}

func style(s string, st lipgloss.Style, color bool) string {
	if !color {
		return s
	}
	return st.Render(s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
