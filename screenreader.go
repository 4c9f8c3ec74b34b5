package main

import (
	"strings"

	"github.com/charmbracelet/x/vt"
)

// ScreenReader feeds display text through a virtual terminal and reads back
// what a human would see. MUD output mixes colors with the occasional
// cursor movement (status lines, maps drawn in place), so rendering it is
// more faithful than stripping escape codes.
type ScreenReader struct {
	emu *vt.SafeEmulator
}

// NewScreenReader creates a virtual terminal with the given dimensions.
func NewScreenReader(cols, rows int) *ScreenReader {
	return &ScreenReader{
		emu: vt.NewSafeEmulator(cols, rows),
	}
}

// WriteString feeds display text into the virtual terminal. Bare newlines
// are given a carriage return so each line starts at column zero.
func (sr *ScreenReader) WriteString(s string) (int, error) {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	return sr.emu.Write([]byte(s))
}

// Screen returns the current screen content as plain text.
// Trailing whitespace is trimmed from each line and trailing empty lines
// are removed.
func (sr *ScreenReader) Screen() string {
	raw := sr.emu.String()

	lines := strings.Split(raw, "\n")
	lastNonEmpty := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimRight(lines[i], " \t\r") != "" {
			lastNonEmpty = i
			break
		}
	}

	if lastNonEmpty < 0 {
		return ""
	}

	trimmed := make([]string, lastNonEmpty+1)
	for i := 0; i <= lastNonEmpty; i++ {
		trimmed[i] = strings.TrimRight(lines[i], " \t\r")
	}

	return strings.Join(trimmed, "\n")
}

// findNewContent returns the part of current that follows old. Old content
// may have scrolled up, so the longest suffix of old found as a contiguous
// block in current marks where the new text begins. With no overlap at all
// the whole of current is new.
func findNewContent(old, current string) string {
	if old == "" {
		return current
	}
	if current == old {
		return ""
	}

	oldLines := strings.Split(old, "\n")
	newLines := strings.Split(current, "\n")

	norm := func(s string) string {
		return strings.TrimRight(s, " \t")
	}

	for suffixStart := 0; suffixStart < len(oldLines); suffixStart++ {
		suffix := oldLines[suffixStart:]

		for nStart := 0; nStart+len(suffix) <= len(newLines); nStart++ {
			match := true
			for j := 0; j < len(suffix); j++ {
				if norm(newLines[nStart+j]) != norm(suffix[j]) {
					match = false
					break
				}
			}
			if match {
				afterIdx := nStart + len(suffix)
				if afterIdx >= len(newLines) {
					return ""
				}
				return strings.TrimSpace(strings.Join(newLines[afterIdx:], "\n"))
			}
		}
	}

	return current
}
