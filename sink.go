package main

import (
	"io"
	"log"
	"sync"
)

// ConsoleSink writes display text to a terminal, normally stdout.
type ConsoleSink struct {
	mu     sync.Mutex
	w      io.Writer
	failed bool
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

func (c *ConsoleSink) SendOutput(output string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failed {
		return
	}
	if _, err := io.WriteString(c.w, output); err != nil {
		// A closed terminal stays closed; report it once.
		c.failed = true
		log.Printf("WARN: Console display disabled: %v", err)
	}
}
