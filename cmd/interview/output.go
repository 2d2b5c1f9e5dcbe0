package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	stderr io.Writer = os.Stderr

	renderer = lipgloss.NewRenderer(os.Stderr)

	styleSuccess = renderer.NewStyle().Foreground(lipgloss.Color("2"))
	styleError   = renderer.NewStyle().Foreground(lipgloss.Color("1"))
	styleWarning = renderer.NewStyle().Foreground(lipgloss.Color("3"))
	styleStep    = renderer.NewStyle().Foreground(lipgloss.Color("6"))
	styleBold    = renderer.NewStyle().Bold(true)
	styleDim     = renderer.NewStyle().Faint(true)
)

// noColor disables styling. It is set by --no-color and when stderr is not
// a terminal.
var noColor = !term.IsTerminal(int(os.Stderr.Fd()))

func colorize(style lipgloss.Style, text string) string {
	if noColor {
		return text
	}
	return style.Render(text)
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(styleSuccess, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(styleError, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(styleWarning, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(styleBold, label+":")
	fmt.Fprintf(stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(styleStep, "→ "+msg))
}
