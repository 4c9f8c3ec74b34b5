package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ShutdownTimeout bounds how long Run waits for the pump and the relay to
// notice shutdown before finalizing anyway.
const ShutdownTimeout = 5 * time.Second

// Agent owns one background session: it logs in, then runs the output pump
// and the command relay against a shared connection until an exit command,
// a signal (ctx) or an unrecoverable reconnect failure stops it.
type Agent struct {
	cfg        *Config
	transcript *Transcript
	output     *Output
	handle     *SessionHandle
	sequencer  *Sequencer
	commands   chan Command
	sources    []CommandSource

	dial func(ctx context.Context, addr string) (*Conn, error)

	// Timing knobs; tests shorten them.
	readTimeout  time.Duration
	waitInterval time.Duration
	retryPause   time.Duration
}

// NewAgent builds an agent for cfg writing its transcript to transcript and
// its live display to display (which may be nil).
func NewAgent(cfg *Config, transcript *Transcript, display OutputSink) *Agent {
	output := NewOutput(transcript, display)
	a := &Agent{
		cfg:        cfg,
		transcript: transcript,
		output:     output,
		handle:     &SessionHandle{},
		commands:   make(chan Command, 64),
		sequencer: &Sequencer{
			Addr:        cfg.Addr(),
			Credentials: Credentials{Username: cfg.Username, Password: cfg.Password},
			Encoding:    cfg.Encoding,
			Prompts:     DefaultPrompts,
			StepDelay:   cfg.StepDelay,
			Output:      output,
		},
		readTimeout:  100 * time.Millisecond,
		waitInterval: 200 * time.Millisecond,
		retryPause:   time.Second,
	}
	a.dial = func(ctx context.Context, addr string) (*Conn, error) {
		return Dial(ctx, addr, ConnOptions{Encoding: cfg.Encoding})
	}
	return a
}

// AddSource registers a command source. Must be called before Run.
func (a *Agent) AddSource(src CommandSource) {
	a.sources = append(a.sources, src)
}

// Status reports the current session state.
func (a *Agent) Status() SessionStatus {
	return a.handle.Status()
}

// Run initializes the transcript, logs in and relays the session until
// shutdown. A failed first login or an exhausted reconnect is returned as an
// error; a clean shutdown returns nil. The transcript is finalized exactly
// once in every case.
func (a *Agent) Run(ctx context.Context) error {
	a.transcript.Initialize()
	defer a.transcript.Finalize()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := a.connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Printf("INFO: Shutdown requested during login")
			return nil
		}
		log.Printf("ERROR: Unable to connect to the server, exiting.")
		return err
	}
	a.handle.Swap(conn)

	var sourceWG sync.WaitGroup
	for _, src := range a.sources {
		sourceWG.Add(1)
		go func(src CommandSource) {
			defer sourceWG.Done()
			if err := src.Run(ctx, a.commands); err != nil {
				log.Printf("ERROR: Command source stopped: %v", err)
			}
		}(src)
	}

	pump := &Pump{
		Handle:            a.handle,
		Output:            a.output,
		Connect:           a.connect,
		ReconnectAttempts: a.cfg.ReconnectAttempts,
		ReadTimeout:       a.readTimeout,
	}
	relay := &Relay{
		Commands:     a.commands,
		Session:      a.handle,
		Output:       a.output,
		Shutdown:     cancel,
		WaitInterval: a.waitInterval,
		RetryPause:   a.retryPause,
	}

	var flows sync.WaitGroup
	pumpDone := make(chan error, 1)
	flows.Add(2)
	go func() {
		defer flows.Done()
		err := pump.Run(ctx)
		pumpDone <- err
		if err != nil {
			cancel()
		}
	}()
	go func() {
		defer flows.Done()
		relay.Run(ctx)
	}()

	<-ctx.Done()
	log.Printf("INFO: Shutting down session...")

	// Unblock a pump read in progress.
	if conn := a.handle.Swap(nil); conn != nil {
		conn.Close()
	}
	for _, src := range a.sources {
		src.Close()
	}

	if !waitTimeout(&flows, ShutdownTimeout) {
		log.Printf("WARN: Session flows did not stop within %s", ShutdownTimeout)
	}
	if !waitTimeout(&sourceWG, ShutdownTimeout) {
		log.Printf("WARN: Command sources did not stop within %s", ShutdownTimeout)
	}

	// A reconnect that finished after shutdown began leaves a connection.
	if conn := a.handle.Swap(nil); conn != nil {
		conn.Close()
	}

	select {
	case err := <-pumpDone:
		if errors.Is(err, ErrReconnectFailed) {
			return err
		}
	default:
	}
	return nil
}

// connect dials the server and logs in. The connection is closed again if
// the login fails.
func (a *Agent) connect(ctx context.Context) (*Conn, error) {
	addr := a.cfg.Addr()
	a.handle.SetState(AwaitingWelcome)

	conn, err := a.dial(ctx, addr)
	if err != nil {
		a.handle.SetState(Failed)
		log.Printf("ERROR: Connection error: %v", err)
		a.output.Note(fmt.Sprintf("connection error: %v\n", err))
		return nil, err
	}
	log.Printf("INFO: Connected to %s (connection %s)", addr, conn.ID())
	a.output.Note(fmt.Sprintf("connected to %s\n", addr))

	state, err := a.sequencer.Login(ctx, conn)
	a.handle.SetState(state)
	if err != nil {
		conn.Close()
		log.Printf("ERROR: Login failed: %v", err)
		a.output.Note(fmt.Sprintf("connection error: %v\n", err))
		return nil, err
	}

	a.output.Note(a.hints())
	return conn, nil
}

// hints are written to the transcript after each login so an operator
// tailing it knows how to drive the session.
func (a *Agent) hints() string {
	return fmt.Sprintf("login complete, session running in the background.\n"+
		"- view output: tail -f %s\n"+
		"- send commands: echo \"command\" > %s\n"+
		"- stop: kill $(cat %s)\n",
		a.transcript.Path(), fifoPath(), pidFilePath())
}

// waitTimeout waits for wg, giving up after d. It reports whether wg
// finished in time.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
