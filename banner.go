package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("10"))
	bannerLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("8")).
				Width(12)
	bannerBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("2")).
			Padding(0, 1)
)

// printBanner shows where the session's files are and how to drive it.
func printBanner(w io.Writer, cfg *Config) {
	row := func(label, value string) string {
		return bannerLabelStyle.Render(label) + value
	}

	lines := []string{
		bannerTitleStyle.Render("MUD Agent " + version),
		"",
		row("server", cfg.Addr()),
		row("user", cfg.Username),
		row("encoding", string(cfg.Encoding)),
		row("transcript", transcriptPath()),
		row("commands", fifoPath()),
	}
	if cfg.WebAddr != "" {
		lines = append(lines, row("web viewer", "http://"+cfg.WebAddr))
	}
	if cfg.TelegramToken != "" {
		lines = append(lines, row("telegram", fmt.Sprintf("%d allowed user(s)", len(cfg.TelegramAllowedUsers))))
	}
	lines = append(lines,
		"",
		fmt.Sprintf("tail -f %s", transcriptPath()),
		fmt.Sprintf("echo \"look\" > %s", fifoPath()),
		"send \"exit\" or press Ctrl+C to stop",
	)

	fmt.Fprintln(w, bannerBoxStyle.Render(strings.Join(lines, "\n")))
}
