package main

import (
	"io"
	"log"
	"os"
)

// debugEnabled controls whether debugf produces output.
// Set via --debug or MUD_DEBUG=1.
var debugEnabled bool

// debugf logs a message only when debugEnabled is true.
func debugf(format string, args ...any) {
	if debugEnabled {
		log.Printf("DEBUG: "+format, args...)
	}
}

// setupLogging sends the operational log to logFilePath(). In the
// foreground it also goes to stderr; a daemon child's stderr is already the
// log file, so it writes there only once.
func setupLogging(daemonChild bool) (io.Closer, error) {
	f, err := os.OpenFile(logFilePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	if daemonChild {
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}
	return f, nil
}
