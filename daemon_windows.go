//go:build windows

package main

import (
	"errors"
	"io"
)

var errNoDaemon = errors.New("background mode is not supported on Windows; run the agent in a separate console instead")

// isProcessAlive is a stub on Windows. Always returns false.
func isProcessAlive(pid int) bool {
	return false
}

func daemonize(w io.Writer, childArgs []string) error {
	return errNoDaemon
}

func daemonStop(w io.Writer) error {
	return errNoDaemon
}

func daemonStatus(w io.Writer) error {
	return errNoDaemon
}
