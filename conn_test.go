package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func dialFake(t *testing.T, m *fakeMUD, enc Encoding) *Conn {
	t.Helper()
	c, err := Dial(context.Background(), m.addr(), ConnOptions{Encoding: enc, ConnectTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// readUntil reads until len(want) bytes of text arrived or a deadline hits.
func readUntil(t *testing.T, c *Conn, want string) string {
	t.Helper()
	var got string
	deadline := time.Now().Add(3 * time.Second)
	for len(got) < len(want) && time.Now().Before(deadline) {
		s, err := c.Read(50 * time.Millisecond)
		require.NoError(t, err)
		got += s
	}
	return got
}

func TestConnSendEncodesAndTerminates(t *testing.T) {
	lines := make(chan []byte, 1)
	m := newFakeMUD(t, func(_ *fakeMUD, _ int, c net.Conn) {
		line, _ := bufio.NewReader(c).ReadBytes('\n')
		lines <- line
	})
	c := dialFake(t, m, EncodingGBK)

	require.NoError(t, c.Send("北"))

	want, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("北"))
	require.NoError(t, err)
	select {
	case got := <-lines:
		assert.Equal(t, append(want, '\n'), got)
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the line")
	}
}

func TestConnReadFiltersNegotiation(t *testing.T) {
	replies := make(chan []byte, 1)
	m := newFakeMUD(t, func(_ *fakeMUD, _ int, c net.Conn) {
		c.Write([]byte{IAC, WILL, 1})
		c.Write([]byte("welcome\r\n"))
		buf := make([]byte, 3)
		c.SetReadDeadline(time.Now().Add(3 * time.Second))
		if _, err := io.ReadFull(c, buf); err == nil {
			replies <- buf
		}
		io.Copy(io.Discard, c)
	})
	c := dialFake(t, m, EncodingUTF8)

	assert.Equal(t, "welcome\r\n", readUntil(t, c, "welcome\r\n"))
	select {
	case got := <-replies:
		assert.Equal(t, []byte{IAC, DONT, 1}, got)
	case <-time.After(3 * time.Second):
		t.Fatal("no negotiation reply")
	}
}

func TestConnReadTimeoutIsNotAnError(t *testing.T) {
	m := newFakeMUD(t, func(_ *fakeMUD, _ int, c net.Conn) {
		time.Sleep(500 * time.Millisecond)
	})
	c := dialFake(t, m, EncodingUTF8)

	s, err := c.Read(20 * time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, "", s)

	s, err = c.DrainAvailable()
	assert.NoError(t, err)
	assert.Equal(t, "", s)
}

func TestConnReadEOF(t *testing.T) {
	m := newFakeMUD(t, func(_ *fakeMUD, _ int, c net.Conn) {
		c.Write([]byte("bye\n"))
	})
	c := dialFake(t, m, EncodingUTF8)

	var got string
	var err error
	deadline := time.Now().Add(3 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		var s string
		s, err = c.Read(50 * time.Millisecond)
		got += s
	}
	assert.True(t, errors.Is(err, io.EOF), "got %v", err)
	assert.Equal(t, "bye\n", got)
}

func TestConnCloseIdempotent(t *testing.T) {
	m := newFakeMUD(t, func(_ *fakeMUD, _ int, c net.Conn) {
		time.Sleep(200 * time.Millisecond)
	})
	c := dialFake(t, m, EncodingUTF8)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	var werr *WriteError
	assert.ErrorAs(t, c.Send("look"), &werr)
	_, err := c.Read(10 * time.Millisecond)
	assert.Error(t, err)
}

func TestConnIdentity(t *testing.T) {
	m := newFakeMUD(t, func(_ *fakeMUD, _ int, c net.Conn) {
		time.Sleep(200 * time.Millisecond)
	})
	a := dialFake(t, m, EncodingUTF8)
	b := dialFake(t, m, EncodingUTF8)

	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, m.addr(), a.Addr())
	assert.WithinDuration(t, time.Now(), a.ConnectedAt(), 5*time.Second)
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), addr, ConnOptions{ConnectTimeout: time.Second})
	var cerr *ConnectError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, addr, cerr.Addr)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, isClosedConnError(io.EOF))
	assert.True(t, isClosedConnError(&WriteError{Err: net.ErrClosed}))
	assert.True(t, isClosedConnError(fmt.Errorf("read: %w", syscall.ECONNRESET)))
	assert.False(t, isClosedConnError(nil))
	assert.False(t, isClosedConnError(errNoSession))

	assert.True(t, isTimeout(os.ErrDeadlineExceeded))
	assert.False(t, isTimeout(io.EOF))
}
