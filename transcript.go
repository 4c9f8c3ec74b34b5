package main

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

const bannerTimeFormat = "2006-01-02 15:04:05"

// Transcript is the durable, append-only record of the session's text
// traffic. Each Append opens the file, writes its whole argument and closes
// it again, so an external `tail -f` or log rotation never sees a held
// descriptor. A mutex makes every call one atomic append.
//
// Write failures are logged to the operational log and swallowed: a broken
// disk must never take the session down with it.
type Transcript struct {
	path string
	now  func() time.Time

	mu        sync.Mutex
	initOnce  sync.Once
	finalOnce sync.Once
}

// NewTranscript returns a writer for the transcript at path. Nothing is
// touched on disk until Initialize.
func NewTranscript(path string) *Transcript {
	return &Transcript{path: path, now: time.Now}
}

// Path returns the transcript file location.
func (t *Transcript) Path() string { return t.path }

// Initialize truncates the transcript and writes the session-start banner.
// Only the first call has any effect.
func (t *Transcript) Initialize() {
	t.initOnce.Do(func() {
		banner := fmt.Sprintf("====== session started (%s) ======\n", t.now().Format(bannerTimeFormat))

		t.mu.Lock()
		defer t.mu.Unlock()
		if err := os.WriteFile(t.path, []byte(banner), 0644); err != nil {
			t.report(err)
		}
	})
}

// Append adds text to the end of the transcript verbatim.
func (t *Transcript) Append(text string) {
	if text == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		t.report(err)
		return
	}
	if _, err := f.WriteString(text); err != nil {
		t.report(err)
	}
	if err := f.Close(); err != nil {
		t.report(err)
	}
}

// Finalize appends the session-end banner. Only the first call has any
// effect.
func (t *Transcript) Finalize() {
	t.finalOnce.Do(func() {
		t.Append(fmt.Sprintf("\n====== session ended (%s) ======\n", t.now().Format(bannerTimeFormat)))
	})
}

func (t *Transcript) report(err error) {
	log.Printf("ERROR: %v", &TranscriptIOError{Path: t.path, Err: err})
}
