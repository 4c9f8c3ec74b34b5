package main

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// fakeEscapePattern matches an SGR color/style code that arrived without its
// leading ESC byte, e.g. "[1;32m". Some servers emit these when their own
// output passes through a filter that drops control characters.
var fakeEscapePattern = regexp.MustCompile(`\[\d+(?:;\d+)*m`)

// junkToken is IAC GA after a server has re-encoded it as Latin-1 text.
// It shows up at the end of prompts and carries no meaning for a reader.
const junkToken = "ÿù"

const escByte = '\x1b'

// StripEscapeCodes returns s with every terminal control sequence removed:
// true escape sequences (CSI, OSC, DCS, ...), bare "[<n>;<n>m" codes missing
// their ESC, the Unicode replacement character and the junk token.
// Printable text and whitespace are left exactly as they were.
//
// Removing one bare code can join its neighbours into a new one
// ("[[1m1m"), so the passes repeat until nothing changes. This keeps the
// function idempotent.
func StripEscapeCodes(s string) string {
	for {
		cleaned := ansi.Strip(openStringIntroducerRemoved(s))
		cleaned = fakeEscapePattern.ReplaceAllString(cleaned, "")
		cleaned = strings.ReplaceAll(cleaned, "\uFFFD", "")
		cleaned = strings.ReplaceAll(cleaned, junkToken, "")
		if cleaned == s {
			return cleaned
		}
		s = cleaned
	}
}

// RewriteFakeEscapes restores the missing ESC in front of every bare
// "[<n>;<n>m" code so a terminal renders the intended colors. Codes already
// preceded by ESC and all other text are left untouched.
func RewriteFakeEscapes(s string) string {
	matches := fakeEscapePattern.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + len(matches))
	last := 0
	for _, m := range matches {
		start := m[0]
		if start > 0 && s[start-1] == escByte {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteByte(escByte)
		last = start
	}
	b.WriteString(s[last:])
	return b.String()
}

// Normalize produces the two views of one chunk of server output. Each view
// is computed from its own copy of raw; the functions are never chained.
func Normalize(raw string) (transcript, display string) {
	return StripEscapeCodes(raw), RewriteFakeEscapes(raw)
}

// isStringIntroducer reports whether ESC c opens a control string (OSC,
// DCS, SOS, PM or APC) that runs until BEL or ST.
func isStringIntroducer(c byte) bool {
	return strings.IndexByte("]PX^_", c) >= 0
}

// unterminatedString returns the index of the ESC opening a control string
// that has no terminator in s, or -1. Any later ESC ends the string, and
// BEL also ends an OSC.
func unterminatedString(s string) int {
	i := strings.LastIndexByte(s, escByte)
	if i < 0 || i+1 >= len(s) || !isStringIntroducer(s[i+1]) {
		return -1
	}
	if s[i+1] == ']' && strings.IndexByte(s[i+2:], '\a') >= 0 {
		return -1
	}
	return i
}

// openStringIntroducerRemoved drops the introducer of an unterminated
// control string so the text after it is kept instead of being swallowed
// as the string's payload.
func openStringIntroducerRemoved(s string) string {
	if i := unterminatedString(s); i >= 0 {
		return s[:i] + s[i+2:]
	}
	return s
}

// splitIncompleteEscape cuts a trailing escape sequence that has not been
// terminated yet, so a sequence split across two reads is normalized as a
// whole once the rest arrives.
func splitIncompleteEscape(s string) (complete, tail string) {
	i := strings.LastIndexByte(s, escByte)
	if i < 0 || len(s)-i > maxPendingEscape {
		return s, ""
	}
	rest := s[i+1:]
	if rest == "" {
		return s[:i], s[i:]
	}
	if isStringIntroducer(rest[0]) {
		if unterminatedString(s) == i {
			return s[:i], s[i:]
		}
		return s, ""
	}
	if rest[0] != '[' {
		return s, ""
	}
	for j := 1; j < len(rest); j++ {
		c := rest[j]
		if c >= 0x40 && c <= 0x7e {
			return s, ""
		}
		if c < 0x20 || c > 0x3f {
			return s, ""
		}
	}
	return s[:i], s[i:]
}

const maxPendingEscape = 32
