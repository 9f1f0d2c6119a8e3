package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Dracula palette
var (
	colorPurple  = lipgloss.Color("#bd93f9")
	colorComment = lipgloss.Color("#6272a4")
	colorGreen   = lipgloss.Color("#50fa7b")
	colorOrange  = lipgloss.Color("#ffb86c")
)

// BannerInfo is what the startup banner shows
type BannerInfo struct {
	Version     string
	BuildDate   string
	URL         string
	RestorePath string
	Mode        string
	// Shown as a warning when no admin account exists yet
	NoAdmins bool
}

// getTerminalWidth returns terminal width, defaulting to 80
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width == 0 {
		return 80
	}
	return width
}

// getBinaryName returns the actual binary name
func getBinaryName() string {
	return filepath.Base(os.Args[0])
}

// DisplayBanner prints the startup banner to stdout, sized to the terminal
func DisplayBanner(info BannerInfo) {
	fmt.Fprint(os.Stdout, RenderBanner(info, getBinaryName(), getTerminalWidth()))
}

// RenderBanner builds the banner for a terminal of the given width
func RenderBanner(info BannerInfo, binaryName string, width int) string {
	var b strings.Builder
	switch {
	case width >= 60:
		writeFullBanner(&b, info, binaryName)
	case width >= 40:
		fmt.Fprintf(&b, "%s v%s %s\n", binaryName, info.Version, info.URL)
		if info.NoAdmins {
			fmt.Fprintf(&b, "no admin: run %s admin add <name>\n", binaryName)
		}
	default:
		fmt.Fprintf(&b, "%s %s\n", binaryName, info.URL)
	}
	return b.String()
}

func writeFullBanner(w io.Writer, info BannerInfo, binaryName string) {
	titleStyle := lipgloss.NewStyle().
		Foreground(colorPurple).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(colorPurple).
		Padding(0, 2)

	labelStyle := lipgloss.NewStyle().
		Foreground(colorComment).
		Width(10)

	okStyle := lipgloss.NewStyle().
		Foreground(colorGreen)

	warnStyle := lipgloss.NewStyle().
		Foreground(colorOrange)

	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
	}

	lines := []string{
		titleStyle.Render(fmt.Sprintf("%s v%s", binaryName, info.Version)),
		"",
		row("Listen:", info.URL),
		row("Restore:", info.URL+info.RestorePath),
		row("Mode:", info.Mode),
	}
	if info.BuildDate != "" {
		lines = append(lines, row("Built:", info.BuildDate))
	}
	lines = append(lines, "")
	if info.NoAdmins {
		lines = append(lines, warnStyle.Render(fmt.Sprintf("No admin account yet: %s admin add <name>", binaryName)))
	} else {
		lines = append(lines, okStyle.Render("Server ready"))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
	fmt.Fprintln(w)
}
