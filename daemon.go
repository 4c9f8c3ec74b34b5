//go:build !windows

package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// stopTimeout is how long daemonStop waits after SIGTERM before SIGKILL.
var stopTimeout = 5 * time.Second

// isProcessAlive checks whether a process with the given PID is still running.
// Uses the Unix convention of sending signal 0 to test for process existence.
func isProcessAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil
}

// daemonize starts the agent as a background process. It re-executes the
// binary with --daemon-child in place of --daemon, detaches from the
// terminal using setsid, and redirects output to the operational log. The
// child writes its own PID file once it is running.
func daemonize(w io.Writer, childArgs []string) error {
	if pid := runningPID(); pid != 0 {
		return fmt.Errorf("agent is already running (PID %d); use 'stop' first", pid)
	}

	logPath := logFilePath()
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("cannot open log file %s: %w", logPath, err)
	}
	defer logFile.Close()

	args := append([]string{"--daemon-child"}, childArgs...)

	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	cmd := exec.Command(exe, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Detach from controlling terminal
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}
	cmd.Process.Release()

	fmt.Fprintf(w, "Agent started in the background (PID %d).\n", cmd.Process.Pid)
	fmt.Fprintf(w, "Transcript: %s\n", transcriptPath())
	fmt.Fprintf(w, "Log file:   %s\n", logPath)
	fmt.Fprintf(w, "PID file:   %s\n", pidFilePath())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Use 'status' to check it, 'stop' to stop it.")
	return nil
}

// daemonStop sends SIGTERM to the running agent and waits for it to exit,
// falling back to SIGKILL.
func daemonStop(w io.Writer) error {
	pid, err := readPIDFile()
	if err != nil {
		fmt.Fprintln(w, "No agent is running (PID file not found).")
		return nil
	}

	if !isProcessAlive(pid) {
		fmt.Fprintf(w, "Agent (PID %d) is not running. Removing stale PID file.\n", pid)
		removePIDFile()
		return nil
	}

	fmt.Fprintf(w, "Stopping agent (PID %d)...\n", pid)
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to %d: %w", pid, err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if !isProcessAlive(pid) {
			fmt.Fprintln(w, "Agent stopped.")
			removePIDFile()
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	fmt.Fprintln(w, "Agent did not stop gracefully. Sending SIGKILL...")
	syscall.Kill(pid, syscall.SIGKILL)
	time.Sleep(500 * time.Millisecond)

	removePIDFile()
	if isProcessAlive(pid) {
		return fmt.Errorf("failed to kill agent (PID %d)", pid)
	}
	fmt.Fprintln(w, "Agent killed.")
	return nil
}

// daemonStatus prints whether an agent is running in the runtime directory.
func daemonStatus(w io.Writer) error {
	pid, err := readPIDFile()
	if err != nil {
		fmt.Fprintln(w, "Status: Not running (no PID file).")
		return nil
	}

	if isProcessAlive(pid) {
		fmt.Fprintf(w, "Status: Running (PID %d)\n", pid)
		fmt.Fprintf(w, "Transcript: %s\n", transcriptPath())
		fmt.Fprintf(w, "Commands:   %s\n", fifoPath())
		fmt.Fprintf(w, "Log file:   %s\n", logFilePath())
	} else {
		fmt.Fprintf(w, "Status: Not running (stale PID %d)\n", pid)
		removePIDFile()
	}
	return nil
}
