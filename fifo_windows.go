//go:build windows

package main

import (
	"context"
	"errors"
)

var errNoFIFO = errors.New("named pipe commands are not supported on Windows; use the web viewer (--web) or Telegram")

// FIFOSource is unavailable on Windows.
type FIFOSource struct{}

// OpenFIFO always fails on Windows.
func OpenFIFO(path string) (*FIFOSource, error) {
	return nil, errNoFIFO
}

func (s *FIFOSource) Run(ctx context.Context, out chan<- Command) error { return errNoFIFO }

func (s *FIFOSource) Close() error { return nil }

func sendToFIFO(path, command string) error {
	return errNoFIFO
}
