package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// writePIDFile writes the given PID to the PID file.
func writePIDFile(pid int) error {
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

// readPIDFile reads and parses the PID from the PID file.
func readPIDFile() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// removePIDFile removes the PID file, ignoring errors (best-effort cleanup).
func removePIDFile() {
	os.Remove(pidFilePath())
}

// runningPID returns the PID of a live agent using the current runtime
// directory, or 0. A stale PID file is removed.
func runningPID() int {
	pid, err := readPIDFile()
	if err != nil {
		return 0
	}
	if pid != os.Getpid() && isProcessAlive(pid) {
		return pid
	}
	if pid != os.Getpid() {
		removePIDFile()
	}
	return 0
}
