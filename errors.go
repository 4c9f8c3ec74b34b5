package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrReconnectFailed is returned by the output pump when every reconnect
// attempt has failed. The process stops; there is no further retry.
var ErrReconnectFailed = errors.New("reconnect failed")

// errNoSession is the cause of a WriteError while the connection is being
// replaced.
var errNoSession = errors.New("no active session")

// ConfigError reports required settings that are missing or invalid.
type ConfigError struct {
	Missing []string
	Err     error
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConnectError reports that the transport to the server could not be
// established.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// WriteError reports a failed send on the session connection.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// TranscriptIOError reports a failed transcript write. It is logged and
// never propagated.
type TranscriptIOError struct {
	Path string
	Err  error
}

func (e *TranscriptIOError) Error() string {
	return fmt.Sprintf("transcript %s: %v", e.Path, e.Err)
}

func (e *TranscriptIOError) Unwrap() error { return e.Err }

// isClosedConnError reports whether err is a normal connection termination:
// EOF, closed connection, broken pipe, or connection reset.
func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// isTimeout reports whether err is a read deadline expiring.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
