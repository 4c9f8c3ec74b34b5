package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripEscapeCodes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "你向北走去。\r\n", "你向北走去。\r\n"},
		{"true SGR", "\x1b[1;32m欢迎\x1b[0m", "欢迎"},
		{"bare SGR", "[1;33m密码[2;37;0m：", "密码："},
		{"cursor movement", "\x1b[2J\x1b[1;1Hmap", "map"},
		{"OSC title", "\x1b]0;pkuxkx\x07hello", "hello"},
		{"OSC with ST", "\x1b]0;pkuxkx\x1b\\hello", "hello"},
		{"unterminated OSC keeps text", "a\x1b]0;title 你好 no terminator", "a0;title 你好 no terminator"},
		{"unterminated DCS keeps text", "x\x1bPdcs 你好", "xdcs 你好"},
		{"replacement character", "a\uFFFDb", "ab"},
		{"junk token", "> ÿù", "> "},
		{"nested bare codes", "[[1m1mtext", "text"},
		{"brackets that are not codes", "[north] [1] [a;b]", "[north] [1] [a;b]"},
		{"whitespace kept", "\tline one\n  line two\r\n", "\tline one\n  line two\r\n"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripEscapeCodes(tt.in))
		})
	}
}

// TestStripEscapeCodesIdempotent verifies stripping twice equals stripping once.
func TestStripEscapeCodesIdempotent(t *testing.T) {
	inputs := []string{
		"\x1b[1;32mgreen\x1b[0m [1;31mred[0m",
		"[[1m1m[[[2;3m4;5m6m",
		"a\x1b[\x1b[1mb",
		"ÿÿùù",
		"\x1b[38;5;208morange\x1b[m",
		"a\x1b]0;open \x1bPdcs",
	}
	for _, in := range inputs {
		once := StripEscapeCodes(in)
		assert.Equal(t, once, StripEscapeCodes(once), "input %q", in)
		assert.NotContains(t, once, "\x1b", "input %q", in)
		assert.False(t, fakeEscapePattern.MatchString(once), "input %q", in)
	}
}

func TestRewriteFakeEscapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare code gets ESC", "[1;33m密码", "\x1b[1;33m密码"},
		{"several codes", "[1m[31mx[0m", "\x1b[1m\x1b[31mx\x1b[0m"},
		{"true escape unchanged", "\x1b[1;32mok\x1b[0m", "\x1b[1;32mok\x1b[0m"},
		{"mixed", "\x1b[1mA[2mB", "\x1b[1mA\x1b[2mB"},
		{"no codes", "look north", "look north"},
		{"code at start", "[0m", "\x1b[0m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteFakeEscapes(tt.in))
		})
	}
}

// TestRewriteFakeEscapesOnlyInsertsESC verifies that removing every ESC
// from the rewritten text gives back the input with its ESCs removed: the
// rewrite adds ESC bytes and changes nothing else.
func TestRewriteFakeEscapesOnlyInsertsESC(t *testing.T) {
	inputs := []string{
		"你好[1;32m世界[0m",
		"\x1b[1mA[2mB\x1b[0m",
		"[[1m1m",
		"x[1;2;3;4;5mY",
	}
	for _, in := range inputs {
		out := RewriteFakeEscapes(in)
		assert.Equal(t,
			strings.ReplaceAll(in, "\x1b", ""),
			strings.ReplaceAll(out, "\x1b", ""),
			"input %q", in)
		for _, loc := range fakeEscapePattern.FindAllStringIndex(out, -1) {
			assert.True(t, loc[0] > 0 && out[loc[0]-1] == '\x1b', "code at %d in %q lacks ESC", loc[0], out)
		}
	}
}

// TestNormalizeViewsIndependent verifies both views come from the raw text.
func TestNormalizeViewsIndependent(t *testing.T) {
	transcript, display := Normalize("请输入[1;33m密码[2;37;0m：")
	assert.Equal(t, "请输入密码：", transcript)
	assert.Equal(t, "请输入\x1b[1;33m密码\x1b[2;37;0m：", display)
}

func TestSplitIncompleteEscape(t *testing.T) {
	tests := []struct {
		in       string
		complete string
		tail     string
	}{
		{"plain", "plain", ""},
		{"abc\x1b", "abc", "\x1b"},
		{"abc\x1b[", "abc", "\x1b["},
		{"abc\x1b[1;3", "abc", "\x1b[1;3"},
		{"abc\x1b[1;32m", "abc\x1b[1;32m", ""},
		{"abc\x1b]0;t", "abc", "\x1b]0;t"},
		{"abc\x1b]0;t\x07", "abc\x1b]0;t\x07", ""},
		{"abc\x1b]0;t\x1b\\", "abc\x1b]0;t\x1b\\", ""},
		{"abc\x1bPq", "abc", "\x1bPq"},
		{"\x1b[1mdone", "\x1b[1mdone", ""},
		{"x\x1b[" + strings.Repeat("1", 40), "x\x1b[" + strings.Repeat("1", 40), ""},
	}
	for _, tt := range tests {
		complete, tail := splitIncompleteEscape(tt.in)
		assert.Equal(t, tt.complete, complete, "input %q", tt.in)
		assert.Equal(t, tt.tail, tail, "input %q", tt.in)
	}
}
