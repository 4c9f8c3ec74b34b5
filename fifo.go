//go:build !windows

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
)

// FIFOSource reads newline-delimited commands from a named pipe that any
// local process can write to (`echo look > mud_input_pipe`).
type FIFOSource struct {
	path      string
	f         *os.File
	closeOnce sync.Once
}

// OpenFIFO creates the pipe at path if needed and opens it for reading.
//
// The pipe is opened read-write: the agent then always counts as a writer
// itself, so a writer closing its end never produces EOF, and the open does
// not block waiting for the first writer.
func OpenFIFO(path string) (*FIFOSource, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := syscall.Mkfifo(path, 0600); err != nil {
			return nil, fmt.Errorf("failed to create command pipe %s: %w", path, err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat command pipe %s: %w", path, err)
	case info.Mode()&os.ModeNamedPipe == 0:
		return nil, fmt.Errorf("%s exists and is not a named pipe", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open command pipe %s: %w", path, err)
	}
	return &FIFOSource{path: path, f: f}, nil
}

// Run reads lines from the pipe until ctx is done or the source is closed.
func (s *FIFOSource) Run(ctx context.Context, out chan<- Command) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	r := bufio.NewReaderSize(s.f, maxCommandLen)
	for {
		line, err := readCommandLine(r)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("command pipe %s: %w", s.path, err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		select {
		case out <- Command{Text: line, Source: "fifo"}:
		case <-ctx.Done():
			return nil
		}
	}
}

// Close stops Run. The pipe itself is left in place for the next run.
func (s *FIFOSource) Close() error {
	s.closeOnce.Do(func() {
		s.f.Close()
	})
	return nil
}

// sendToFIFO writes one command line into the pipe of a running agent.
// Opening without O_NONBLOCK would hang when no agent is reading.
func sendToFIFO(path, command string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, syscall.ENXIO) {
			return fmt.Errorf("no agent is reading %s", path)
		}
		return fmt.Errorf("failed to open command pipe: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(command + "\n"); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}
