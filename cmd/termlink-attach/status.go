package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
)

var (
	bannerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func initColorProfile() {
	if termenv.ColorProfile() == termenv.Ascii {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.ANSI256)
}

// statusLine renders a one-line message truncated to the terminal width.
// Raw mode needs the explicit \r\n.
func statusLine(style lipgloss.Style, msg string, width int) string {
	if width > 0 {
		msg = runewidth.Truncate(msg, width, "…")
	}
	return "\r\n" + style.Render(msg) + "\r\n"
}

func printBanner(msg string, width int) {
	fmt.Fprint(os.Stdout, statusLine(bannerStyle, msg, width))
}

func printSubtle(msg string, width int) {
	fmt.Fprint(os.Stdout, statusLine(subtleStyle, msg, width))
}

func printError(msg string, width int) {
	fmt.Fprint(os.Stdout, statusLine(errorStyle, msg, width))
}
