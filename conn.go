package main

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// drainPoll is how long DrainAvailable waits for more bytes before
	// deciding nothing else is buffered.
	drainPoll = 10 * time.Millisecond

	// maxReadChunk bounds a single Read so a server that never pauses
	// cannot keep the caller in the read loop forever.
	maxReadChunk = 64 * 1024

	writeTimeout = 10 * time.Second
)

// ConnOptions configures Dial.
type ConnOptions struct {
	Encoding       Encoding
	ConnectTimeout time.Duration
}

// Conn is a live telnet text session with one server. Reads strip telnet
// negotiation and decode the server's charset; writes encode, escape 0xFF
// and append the line terminator.
//
// A Conn is never reused after Close; reconnecting creates a new one.
// Reads must come from a single goroutine. Send may be called from any.
type Conn struct {
	id          string
	addr        string
	conn        net.Conn
	connectedAt time.Time

	readMu sync.Mutex
	codec  *Codec
	filter telnetFilter
	buf    []byte

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Dial connects to addr. Failure to connect within opts.ConnectTimeout is
// reported as a *ConnectError.
func Dial(ctx context.Context, addr string, opts ConnOptions) (*Conn, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	return newConn(nc, addr, opts.Encoding), nil
}

func newConn(nc net.Conn, addr string, enc Encoding) *Conn {
	return &Conn{
		id:          uuid.NewString(),
		addr:        addr,
		conn:        nc,
		connectedAt: time.Now(),
		codec:       NewCodec(enc),
		buf:         make([]byte, 4096),
	}
}

// ID uniquely identifies this connection instance.
func (c *Conn) ID() string { return c.id }

// Addr returns the server address.
func (c *Conn) Addr() string { return c.addr }

// ConnectedAt returns when the transport was established.
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// Send writes text followed by a newline.
func (c *Conn) Send(text string) error {
	if c.closed.Load() {
		return &WriteError{Err: net.ErrClosed}
	}
	payload := append(escapeIAC(c.codec.Encode(text)), '\n')
	if err := c.write(payload); err != nil {
		return &WriteError{Err: err}
	}
	return nil
}

// DrainAvailable returns whatever the server has already sent without
// waiting for more. It returns "" when nothing is buffered. A transport
// error is returned together with any text read before it.
func (c *Conn) DrainAvailable() (string, error) {
	return c.Read(drainPoll)
}

// Read waits up to timeout for the server to send something and then drains
// everything else already buffered. A timeout with no data is not an error.
func (c *Conn) Read(timeout time.Duration) (string, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.closed.Load() {
		return "", net.ErrClosed
	}

	var out strings.Builder
	total := 0
	wait := timeout
	for total < maxReadChunk {
		c.conn.SetReadDeadline(time.Now().Add(wait))
		n, err := c.conn.Read(c.buf)
		if n > 0 {
			total += n
			data, replies := c.filter.Filter(c.buf[:n])
			if len(replies) > 0 {
				if werr := c.write(replies); werr != nil {
					debugf("telnet negotiation reply failed: %v", werr)
				}
			}
			out.WriteString(c.codec.Decode(data))
		}
		if err != nil {
			if isTimeout(err) {
				return out.String(), nil
			}
			return out.String() + c.codec.Flush(), err
		}
		wait = drainPoll
	}
	return out.String(), nil
}

// Close releases the transport. It is safe to call more than once.
func (c *Conn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.conn.Close()
	}
	return nil
}

func (c *Conn) write(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(p)
	return err
}
