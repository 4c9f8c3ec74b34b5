package main

import (
	"fmt"
	"sync"
	"time"
)

// Session is the part of a connection the login sequencer drives.
type Session interface {
	Send(text string) error
	DrainAvailable() (string, error)
}

// SessionHandle holds the current connection shared by the output pump and
// the command relay. The pump replaces it on reconnect with Swap; Send holds
// the read lock for the whole write, so a command is never written to a
// connection that is being replaced. While the handle is empty, Send fails
// with a *WriteError.
type SessionHandle struct {
	mu         sync.RWMutex
	conn       *Conn
	state      LoginState
	reconnects int
}

// Current returns the active connection, or nil during a reconnect.
func (h *SessionHandle) Current() *Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn
}

// Swap installs conn as the active connection and returns the previous one.
func (h *SessionHandle) Swap(conn *Conn) *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.conn
	h.conn = conn
	return old
}

// Send forwards text to the active connection.
func (h *SessionHandle) Send(text string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.conn == nil {
		return &WriteError{Err: errNoSession}
	}
	return h.conn.Send(text)
}

// SetState records the login state of the current connection attempt.
func (h *SessionHandle) SetState(state LoginState) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
}

func (h *SessionHandle) countReconnect() {
	h.mu.Lock()
	h.reconnects++
	h.mu.Unlock()
}

// Status returns a snapshot for status queries from the web viewer and the
// Telegram bridge.
func (h *SessionHandle) Status() SessionStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := SessionStatus{
		State:      h.state,
		Reconnects: h.reconnects,
	}
	if h.conn != nil {
		st.Connected = true
		st.ID = h.conn.ID()
		st.Addr = h.conn.Addr()
		st.ConnectedAt = h.conn.ConnectedAt()
	}
	return st
}

// SessionStatus describes the session at one point in time.
type SessionStatus struct {
	Connected   bool       `json:"connected"`
	ID          string     `json:"id,omitempty"`
	Addr        string     `json:"addr,omitempty"`
	ConnectedAt time.Time  `json:"connectedAt,omitempty"`
	State       LoginState `json:"state"`
	Reconnects  int        `json:"reconnects"`
}

func (s SessionStatus) String() string {
	if !s.Connected {
		return fmt.Sprintf("Status: not connected (login %s, %d reconnects)", s.State, s.Reconnects)
	}
	return fmt.Sprintf("Status: connected\n\n"+
		"Server: %s\n"+
		"Connection: %s\n"+
		"Login: %s\n"+
		"Duration: %s\n"+
		"Reconnects: %d",
		s.Addr,
		s.ID,
		s.State,
		time.Since(s.ConnectedAt).Round(time.Second),
		s.Reconnects)
}
