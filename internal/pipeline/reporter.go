package pipeline

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// TextReporter prints one line per result.
type TextReporter struct {
	w    io.Writer
	pass lipgloss.Style
	fail lipgloss.Style
	dim  lipgloss.Style
}

// NewTextReporter creates a reporter writing to w. Colors are used only
// when w is a terminal.
func NewTextReporter(w io.Writer) *TextReporter {
	r := lipgloss.NewRenderer(w)
	return &TextReporter{
		w:    w,
		pass: r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		fail: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		dim:  r.NewStyle().Faint(true),
	}
}

// Report implements Reporter.
func (t *TextReporter) Report(res Result) {
	label := t.pass.Render("PASS")
	if !res.Pass {
		label = t.fail.Render("FAIL")
	}
	u := res.Unit
	fmt.Fprintf(t.w, "%s %s %s\n",
		label,
		u.Name(),
		t.dim.Render(fmt.Sprintf("(status %d, expected %d, %s)", res.Status, u.Fixture.ExpectedStatus, res.Duration)),
	)
}

// Summarize prints the aggregate counts.
func (t *TextReporter) Summarize(s Summary) {
	passed := t.pass.Render(fmt.Sprintf("%d passed", s.Passed))
	failed := fmt.Sprintf("%d failed", s.Failed)
	if s.Failed > 0 {
		failed = t.fail.Render(failed)
	}
	fmt.Fprintf(t.w, "\n%s, %s\n", passed, failed)
}
