package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// ConsoleSource reads commands typed on the agent's own terminal, so a
// foreground agent can be played directly.
type ConsoleSource struct {
	r         io.Reader
	done      chan struct{}
	closeOnce sync.Once
}

func NewConsoleSource(r io.Reader) *ConsoleSource {
	return &ConsoleSource{r: r, done: make(chan struct{})}
}

// Run reads lines until ctx is done, Close is called or input ends. A
// blocked terminal read cannot be interrupted, so the reading goroutine may
// outlive Run until the next line or process exit.
func (c *ConsoleSource) Run(ctx context.Context, out chan<- Command) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		r := bufio.NewReaderSize(c.r, maxCommandLen)
		for {
			line, err := readCommandLine(r)
			if err != nil {
				errc <- err
				return
			}
			select {
			case lines <- line:
			case <-c.done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case err := <-errc:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			if strings.TrimSpace(line) == "" {
				continue
			}
			select {
			case out <- Command{Text: line, Source: "console"}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (c *ConsoleSource) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// readCommandLine reads one line, keeping at most maxCommandLen bytes of it.
func readCommandLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return string(line), nil
			}
			return "", err
		}
		if room := maxCommandLen - len(line); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			line = append(line, chunk...)
		}
		if !isPrefix {
			return strings.ToValidUTF8(string(line), "\uFFFD"), nil
		}
	}
}
