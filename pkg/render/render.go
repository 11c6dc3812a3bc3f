// Package render formats history and status output for the CLI.
// Styling adapts to terminal capabilities via lipgloss; the MCP surface
// never goes through here — hosts get plain strings from the engine.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/handley-lab/chainer/pkg/schema"
)

// Outcome glyphs — convey meaning without relying on color alone.
const (
	GlyphSuccess = "✓"
	GlyphFailure = "✗"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorDim    = lipgloss.Color("240")
)

var (
	successStyle = lipgloss.NewStyle().Foreground(colorGreen)
	failureStyle = lipgloss.NewStyle().Foreground(colorRed)
	warnStyle    = lipgloss.NewStyle().Foreground(colorYellow)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

// History renders execution records, oldest first.
func History(records []schema.ExecutionRecord) string {
	if len(records) == 0 {
		return dimStyle.Render("no executions found")
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("Execution history"))
	b.WriteString("\n")
	for i, r := range records {
		line := fmt.Sprintf("%3d. chain '%s' — %d/%d steps", i+1, r.ChainID, r.StepsExecuted, r.StepsTotal)
		if r.Outcome == schema.OutcomeFailure {
			detail := ""
			if r.FailingStepIndex != nil {
				detail = fmt.Sprintf(" (step %d: %s)", *r.FailingStepIndex+1, r.ErrorMessage)
			}
			b.WriteString(failureStyle.Render(GlyphFailure+" "+line) + detail)
		} else {
			b.WriteString(successStyle.Render(GlyphSuccess + " " + line))
		}
		if r.SaveError != "" {
			b.WriteString(" " + warnStyle.Render("[save warning: "+r.SaveError+"]"))
		}
		if !r.StartedAt.IsZero() {
			b.WriteString(" " + dimStyle.Render(r.StartedAt.Format("2006-01-02 15:04:05")))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Info renders store counts for the CLI info command.
func Info(tools, chains, history int, statePath string) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("chainer") + " " + successStyle.Render("ready") + "\n")
	fmt.Fprintf(&b, "  tools registered: %d\n", tools)
	fmt.Fprintf(&b, "  chains defined:   %d\n", chains)
	fmt.Fprintf(&b, "  history entries:  %d\n", history)
	b.WriteString("  state file:       " + dimStyle.Render(statePath))
	return b.String()
}
