package main

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockSink captures output for testing
type mockSink struct {
	mu      sync.Mutex
	outputs []string
}

func (m *mockSink) SendOutput(output string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = append(m.outputs, output)
}

func (m *mockSink) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.outputs, "")
}

// setTempRuntimeDir points the runtime file helpers at a temp directory and
// registers cleanup.
func setTempRuntimeDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old := runtimeDir
	runtimeDir = dir
	t.Cleanup(func() { runtimeDir = old })
	return dir
}

// newTestOutput returns an Output writing to a transcript in a temp dir.
func newTestOutput(t *testing.T, display OutputSink) (*Output, *Transcript) {
	t.Helper()
	tr := NewTranscript(t.TempDir() + "/mud_output.log")
	tr.Initialize()
	return NewOutput(tr, display), tr
}

// ---------------------------------------------------------------------------
// Fake MUD server
// ---------------------------------------------------------------------------

// fakeMUD is a localhost TCP server running handler on every accepted
// connection.
type fakeMUD struct {
	ln       net.Listener
	accepted atomic.Int32

	mu       sync.Mutex
	received []string
}

func newFakeMUD(t *testing.T, handler func(m *fakeMUD, n int, c net.Conn)) *fakeMUD {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := &fakeMUD{ln: ln}
	var wg sync.WaitGroup
	t.Cleanup(func() {
		ln.Close()
		wg.Wait()
	})

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			n := int(m.accepted.Add(1))
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer c.Close()
				handler(m, n, c)
			}()
		}
	}()
	return m
}

func (m *fakeMUD) host() string {
	return m.ln.Addr().(*net.TCPAddr).IP.String()
}

func (m *fakeMUD) port() int {
	return m.ln.Addr().(*net.TCPAddr).Port
}

func (m *fakeMUD) addr() string {
	return m.ln.Addr().String()
}

func (m *fakeMUD) record(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, line)
}

// lines returns every line the server has read, across connections.
func (m *fakeMUD) lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.received...)
}

func (m *fakeMUD) count(line string) int {
	n := 0
	for _, l := range m.lines() {
		if l == line {
			n++
		}
	}
	return n
}

// loginThenEcho plays a pkuxkx-style login and then answers every command
// with "You said: <command>". Output carries real and bare color codes.
func loginThenEcho(m *fakeMUD, _ int, c net.Conn) {
	r := bufio.NewReader(c)
	readLine := func() (string, bool) {
		c.SetReadDeadline(time.Now().Add(5 * time.Second))
		line, err := r.ReadString('\n')
		if err != nil {
			return "", false
		}
		line = stripNegotiation(strings.TrimRight(line, "\r\n"))
		m.record(line)
		return line, true
	}

	// IAC WILL ECHO, which the client refuses.
	c.Write([]byte{IAC, WILL, 1})
	c.Write([]byte("\x1b[1;32mpkuxkx\x1b[0m\r\nInput 1 for GBK, 2 for UTF8, 3 for BIG5\r\n"))
	if _, ok := readLine(); !ok {
		return
	}
	c.Write([]byte("您的英文名字：\r\n"))
	if _, ok := readLine(); !ok {
		return
	}
	c.Write([]byte("请输入[1;33m密码[2;37;0m：\r\n"))
	if _, ok := readLine(); !ok {
		return
	}
	c.Write([]byte("您要将另一个连线中的相同人物赶出去，取而代之吗？(y/n)\r\n"))
	if _, ok := readLine(); !ok {
		return
	}
	c.Write([]byte("欢迎来到北大侠客行！\r\n> "))

	for {
		line, ok := readLine()
		if !ok {
			return
		}
		c.Write([]byte("You said: [1;36m" + line + "[2;37;0m\r\n> "))
	}
}

// stripNegotiation drops the client's three-byte option replies
// (IAC DONT x, IAC WONT x) from a line the server read.
func stripNegotiation(line string) string {
	var b strings.Builder
	for i := 0; i < len(line); i++ {
		if line[i] == IAC {
			i += 2
			continue
		}
		b.WriteByte(line[i])
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Command sources
// ---------------------------------------------------------------------------

// chanSource is a CommandSource fed by the test.
type chanSource struct {
	in        chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func newChanSource() *chanSource {
	return &chanSource{in: make(chan string, 16), closed: make(chan struct{})}
}

func (s *chanSource) Run(ctx context.Context, out chan<- Command) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return nil
		case text := <-s.in:
			select {
			case out <- Command{Text: text, Source: "test"}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (s *chanSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
