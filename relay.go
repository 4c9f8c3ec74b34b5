package main

import (
	"context"
	"log"
	"strings"
	"time"
)

const (
	// maxCommandLen caps one command line; the rest of a longer line is
	// discarded.
	maxCommandLen = 4096

	// maxSendAttempts bounds retries of a command whose send failed.
	maxSendAttempts = 3
)

// Command is one operator-issued line.
type Command struct {
	Text   string
	Source string // "fifo", "web", "telegram"
}

// CommandSource feeds operator commands into the relay's queue until ctx is
// done or Close is called.
type CommandSource interface {
	Run(ctx context.Context, out chan<- Command) error
	Close() error
}

// isControlDirective reports whether text asks the agent to shut down
// instead of being sent to the server.
func isControlDirective(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "exit", "quit":
		return true
	}
	return false
}

type sender interface {
	Send(text string) error
}

// Relay forwards operator commands into the session. It is the only flow
// that writes to the connection.
type Relay struct {
	Commands <-chan Command
	Session  sender
	Output   *Output

	// Shutdown is called when an exit or quit directive arrives.
	Shutdown func()

	WaitInterval time.Duration
	RetryPause   time.Duration
}

// Run forwards commands until ctx is done or a control directive arrives.
func (r *Relay) Run(ctx context.Context) error {
	wait := r.WaitInterval
	if wait <= 0 {
		wait = 200 * time.Millisecond
	}
	pause := r.RetryPause
	if pause <= 0 {
		pause = time.Second
	}

	ticker := time.NewTicker(wait)
	defer ticker.Stop()

	var pending *Command
	attempts := 0

	for ctx.Err() == nil {
		if pending == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				continue
			case cmd, ok := <-r.Commands:
				if !ok {
					return nil
				}
				text := strings.TrimRight(cmd.Text, "\r\n")
				if strings.TrimSpace(text) == "" {
					continue
				}
				if isControlDirective(text) {
					log.Printf("INFO: Received %q from %s, shutting down", strings.TrimSpace(text), cmd.Source)
					r.Output.Note("received exit command, closing session...\n")
					if r.Shutdown != nil {
						r.Shutdown()
					}
					return nil
				}
				cmd.Text = text
				pending = &cmd
				attempts = 0
			}
		}

		attempts++
		debugf("sending command from %s: %s", pending.Source, pending.Text)
		err := r.Session.Send(pending.Text)
		if err == nil {
			r.Output.Command(pending.Text)
			pending = nil
			continue
		}

		log.Printf("ERROR: Sending command %q failed (attempt %d/%d): %v", pending.Text, attempts, maxSendAttempts, err)
		if attempts >= maxSendAttempts {
			log.Printf("WARN: Dropping command %q", pending.Text)
			pending = nil
		}
		if err := sleepContext(ctx, pause); err != nil {
			return nil
		}
	}
	return nil
}
