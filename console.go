package datalogger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Console is the operator-facing side of a session.
type Console interface {
	Connecting(device string, baud int)
	Connected(path string)
	HeaderWritten(header string)
	Status(text string)
	Progress(count int, latest string)
	Stopped(sum Summary)
	Failure(err error)
}

var (
	styleTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleDevice = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	styleError  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleHint   = lipgloss.NewStyle().Faint(true)
	ruler       = strings.Repeat("=", 60)
	styledRuler = styleDevice.Render(ruler)
)

// TerminalConsole prints colored lines for a human watching the capture.
type TerminalConsole struct {
	w io.Writer
}

func NewTerminalConsole(w io.Writer) *TerminalConsole {
	if w == nil {
		w = os.Stdout
	}
	return &TerminalConsole{w: w}
}

func (c *TerminalConsole) Banner(title string) {
	fmt.Fprintln(c.w, styledRuler)
	fmt.Fprintln(c.w, styleTitle.Render(title))
	fmt.Fprintln(c.w, styledRuler)
}

func (c *TerminalConsole) Connecting(device string, baud int) {
	fmt.Fprintf(c.w, "\nConnecting to %s at %d baud...\n", device, baud)
}

func (c *TerminalConsole) Connected(path string) {
	fmt.Fprintf(c.w, "%s Logging data to: %s\n", styleOK.Render("Connected!"), path)
	fmt.Fprintln(c.w, styleHint.Render("Press Ctrl+C to stop logging"))
	fmt.Fprintln(c.w)
}

func (c *TerminalConsole) HeaderWritten(header string) {
	fmt.Fprintln(c.w, styleOK.Render("✓ CSV Header written"))
	fmt.Fprintln(c.w, styleHint.Render(header))
	fmt.Fprintln(c.w, styledRuler)
}

func (c *TerminalConsole) Status(text string) {
	fmt.Fprintln(c.w, styleDevice.Render(text))
}

func (c *TerminalConsole) Progress(count int, latest string) {
	fmt.Fprintf(c.w, "%s (latest: %s)\n", styleOK.Render(fmt.Sprintf("✓ Logged %d records...", count)), latest)
}

func (c *TerminalConsole) Stopped(sum Summary) {
	fmt.Fprintln(c.w)
	switch sum.Reason {
	case ReasonInterrupted:
		fmt.Fprintln(c.w, styleWarn.Render("Logging stopped by user"))
	default:
		fmt.Fprintf(c.w, "Logging ended: %s\n", sum.Reason)
	}
	fmt.Fprintf(c.w, "Records saved: %d\n", sum.Records)
	if sum.Path != "" {
		fmt.Fprintf(c.w, "Data saved to: %s\n", sum.Path)
	}
	if sum.PortClosed {
		fmt.Fprintln(c.w, "Serial port closed")
	}
}

func (c *TerminalConsole) Failure(err error) {
	fmt.Fprintln(c.w, styleError.Render("Error: "+err.Error()))
	if hint := Remediation(err); hint != "" {
		fmt.Fprintln(c.w)
		fmt.Fprintln(c.w, styleHint.Render(hint))
	}
}

// Highlight renders s in the success color; used for starred port listings.
func Highlight(s string) string { return styleOK.Render(s) }

// Faint renders s dimmed.
func Faint(s string) string { return styleHint.Render(s) }
