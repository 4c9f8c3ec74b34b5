package main

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Pump continuously drains the current connection into the output and
// re-establishes the session when the transport fails. It is the only flow
// that replaces the connection.
type Pump struct {
	Handle *SessionHandle
	Output *Output

	// Connect dials a new connection and logs in on it.
	Connect func(ctx context.Context) (*Conn, error)

	// ReconnectAttempts bounds how many times Connect is tried after one
	// transport failure before the pump gives up.
	ReconnectAttempts int

	ReadTimeout time.Duration
}

// Run reads until ctx is done. It returns nil on shutdown and an error
// wrapping ErrReconnectFailed when the session could not be re-established.
func (p *Pump) Run(ctx context.Context) error {
	timeout := p.ReadTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}

	for ctx.Err() == nil {
		conn := p.Handle.Current()
		if conn == nil {
			if err := p.reconnect(ctx, errNoSession); err != nil {
				return err
			}
			continue
		}

		text, err := conn.Read(timeout)
		if text != "" {
			p.Output.Server(text)
		} else if err == nil {
			p.Output.Flush()
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			// Shutdown closed the connection under us.
			return nil
		}
		if err := p.reconnect(ctx, err); err != nil {
			return err
		}
	}
	return nil
}

// reconnect replaces the failed connection, trying at most
// ReconnectAttempts times.
func (p *Pump) reconnect(ctx context.Context, cause error) error {
	if isClosedConnError(cause) {
		log.Printf("WARN: Server closed the connection: %v", cause)
	} else {
		log.Printf("ERROR: Connection lost: %v", cause)
	}
	p.Output.Note(fmt.Sprintf("\nconnection lost: %v. reconnecting...\n", cause))

	if old := p.Handle.Swap(nil); old != nil {
		old.Close()
	}

	attempts := p.ReconnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := p.Connect(ctx)
		if err == nil {
			p.Handle.Swap(conn)
			p.Handle.countReconnect()
			log.Printf("INFO: Reconnected (connection %s)", conn.ID())
			p.Output.Note("reconnected\n")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		lastErr = err
		log.Printf("ERROR: Reconnect attempt %d/%d failed: %v", attempt, attempts, err)
	}

	log.Printf("ERROR: Reconnect failed, exiting.")
	p.Output.Note("reconnect failed, exiting.\n")
	return fmt.Errorf("%w after %d attempt(s): %v", ErrReconnectFailed, attempts, lastErr)
}
