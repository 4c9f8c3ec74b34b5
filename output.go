package main

import (
	"log"
	"sync"
)

// OutputSink is the interface for sending output (console, web viewer,
// Telegram, mock, etc)
type OutputSink interface {
	SendOutput(output string)
}

// MultiSink fans output out to several sinks. A sink that panics is logged
// and skipped; the others still receive the output.
type MultiSink []OutputSink

func (m MultiSink) SendOutput(output string) {
	for _, sink := range m {
		sendSafely(sink, output)
	}
}

func sendSafely(sink OutputSink, output string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: output sink %T panicked: %v", sink, r)
		}
	}()
	sink.SendOutput(output)
}

// Output routes session text to the transcript and the live display.
// Server text is normalized into two views: the transcript gets the
// stripped form, the display gets the form with fake escapes restored.
// Agent notes and operator commands are plain text and go out unchanged.
type Output struct {
	transcript *Transcript
	display    OutputSink

	mu    sync.Mutex
	carry string // unterminated escape sequence from the previous chunk
}

// NewOutput returns an Output writing to transcript and, when display is
// non-nil, to display.
func NewOutput(transcript *Transcript, display OutputSink) *Output {
	return &Output{transcript: transcript, display: display}
}

// Server records a chunk of decoded server output.
func (o *Output) Server(raw string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	raw, o.carry = splitIncompleteEscape(o.carry + raw)
	o.emit(raw)
}

// Flush records an escape sequence left pending by Server. Called when the
// server has gone quiet, so a truncated sequence is not held forever.
func (o *Output) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()

	raw := o.carry
	o.carry = ""
	o.emit(raw)
}

// Note records a message from the agent itself (connection events, hints).
func (o *Output) Note(text string) {
	o.transcript.Append(text)
	o.show(text)
}

// Command records an operator command forwarded to the server. Control
// sequences typed by the operator are stripped like server text.
func (o *Output) Command(text string) {
	o.transcript.Append("> " + StripEscapeCodes(text) + "\n")
}

func (o *Output) emit(raw string) {
	if raw == "" {
		return
	}
	plain, display := Normalize(raw)
	o.transcript.Append(plain)
	o.show(display)
}

func (o *Output) show(text string) {
	if o.display == nil || text == "" {
		return
	}
	sendSafely(o.display, text)
}
