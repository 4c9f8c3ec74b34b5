package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

const (
	wsPingInterval  = 30 * time.Second
	wsReadDeadline  = 60 * time.Second
	wsWriteDeadline = 10 * time.Second

	// backlogChunks is how many display chunks a new viewer is replayed.
	backlogChunks = 500
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the viewer is protected by basic auth, not origin
	},
}

// WebMessage is the JSON frame exchanged with the browser.
type WebMessage struct {
	Type     string `json:"type"`               // "command", "status", "output", "error"
	Content  string `json:"content"`            // Message content
	ClientID int64  `json:"clientId,omitempty"` // Viewer connection ID
}

// WebViewer serves a live view of the session over WebSocket. It is both an
// OutputSink (display text is pushed to every viewer) and a CommandSource
// (viewers can type commands).
type WebViewer struct {
	addr         string
	passwordHash []byte
	status       func() SessionStatus
	backlog      *RingBuffer

	commands chan Command

	mu      sync.Mutex
	clients map[*wsClient]bool
	nextID  int64

	serverMu sync.Mutex
	server   *http.Server
	listener net.Listener
	closed   bool
}

type wsClient struct {
	id     int64
	conn   *websocket.Conn
	send   chan WebMessage
	viewer *WebViewer
}

// NewWebViewer returns a viewer that will listen on addr. When passwordHash
// is non-empty, HTTP basic auth with that bcrypt hash is required.
func NewWebViewer(addr, passwordHash string, status func() SessionStatus) *WebViewer {
	return &WebViewer{
		addr:         addr,
		passwordHash: []byte(passwordHash),
		status:       status,
		backlog:      NewRingBuffer(backlogChunks),
		commands:     make(chan Command, 16),
		clients:      make(map[*wsClient]bool),
		nextID:       1,
	}
}

// Handler returns an http.Handler with all routes configured.
func (v *WebViewer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", v.handleWebSocket)
	mux.HandleFunc("/", serveHTML)

	if len(v.passwordHash) == 0 {
		return mux
	}
	return v.basicAuth(mux)
}

func (v *WebViewer) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, password, ok := r.BasicAuth()
		if !ok || bcrypt.CompareHashAndPassword(v.passwordHash, []byte(password)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="mud-agent"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Listen binds the viewer's address. Run calls it when it has not been
// called already; calling it first lets the caller learn the bound address.
func (v *WebViewer) Listen() (net.Addr, error) {
	v.serverMu.Lock()
	defer v.serverMu.Unlock()

	if v.listener != nil {
		return v.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", v.addr)
	if err != nil {
		return nil, fmt.Errorf("web viewer listen on %s: %w", v.addr, err)
	}
	v.listener = ln
	return ln.Addr(), nil
}

// Run serves the viewer and forwards viewer commands to out until ctx is
// done or Close is called.
func (v *WebViewer) Run(ctx context.Context, out chan<- Command) error {
	addr, err := v.Listen()
	if err != nil {
		return err
	}

	v.serverMu.Lock()
	if v.closed {
		v.listener.Close()
		v.serverMu.Unlock()
		return nil
	}
	v.server = &http.Server{
		Handler:           v.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := v.server
	ln := v.listener
	v.serverMu.Unlock()

	log.Printf("INFO: Web viewer started: http://%s", addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	for {
		select {
		case <-ctx.Done():
			v.Close()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("web viewer: %w", err)
		case cmd := <-v.commands:
			select {
			case out <- cmd:
			case <-ctx.Done():
			}
		}
	}
}

// Close shuts the HTTP server down and disconnects every viewer.
func (v *WebViewer) Close() error {
	v.serverMu.Lock()
	if v.closed {
		v.serverMu.Unlock()
		return nil
	}
	v.closed = true
	server, ln := v.server, v.listener
	v.serverMu.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	} else if ln != nil {
		ln.Close()
	}

	// Hijacked WebSocket connections are not closed by Shutdown.
	v.mu.Lock()
	for c := range v.clients {
		c.conn.Close()
	}
	v.mu.Unlock()
	return nil
}

// SendOutput pushes display text to every viewer and into the backlog.
// A viewer too slow to keep up misses output rather than stalling the
// session.
func (v *WebViewer) SendOutput(output string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.backlog.Write(output)
	msg := WebMessage{Type: "output", Content: output}
	for c := range v.clients {
		select {
		case c.send <- msg:
		default:
			debugf("web viewer %d is behind, dropping output", c.id)
		}
	}
}

func (v *WebViewer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ERROR: WebSocket upgrade error: %v", err)
		return
	}

	c := &wsClient{
		conn:   conn,
		send:   make(chan WebMessage, 256),
		viewer: v,
	}

	// Replay the backlog under the same lock SendOutput takes, so nothing
	// is lost or duplicated between the replay and live output.
	v.mu.Lock()
	c.id = v.nextID
	v.nextID++
	if backlog := v.backlog.String(); backlog != "" {
		c.send <- WebMessage{Type: "output", Content: backlog, ClientID: c.id}
	}
	v.clients[c] = true
	v.mu.Unlock()

	log.Printf("INFO: Web viewer %d connected from %s", c.id, r.RemoteAddr)

	go c.writePump()
	c.readPump()

	log.Printf("INFO: Web viewer %d disconnected", c.id)
}

func (v *WebViewer) removeClient(c *wsClient) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.clients[c] {
		delete(v.clients, c)
		close(c.send)
	}
}

// handleMessage acts on one frame from a viewer.
func (v *WebViewer) handleMessage(c *wsClient, msg WebMessage) {
	switch msg.Type {
	case "command":
		text := strings.TrimRight(msg.Content, "\r\n")
		if strings.TrimSpace(text) == "" {
			return
		}
		log.Printf("INFO: Web viewer %d -> %s", c.id, text)
		select {
		case v.commands <- Command{Text: text, Source: "web"}:
		default:
			c.reply(WebMessage{Type: "error", Content: "command queue is full, try again"})
		}
	case "status":
		c.reply(WebMessage{Type: "status", Content: v.status().String()})
	default:
		c.reply(WebMessage{Type: "error", Content: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

// reply queues a message for this viewer only.
func (c *wsClient) reply(msg WebMessage) {
	c.viewer.mu.Lock()
	defer c.viewer.mu.Unlock()
	if !c.viewer.clients[c] {
		return
	}
	msg.ClientID = c.id
	select {
	case c.send <- msg:
	default:
	}
}

// readPump reads frames from the viewer until it disconnects.
func (c *wsClient) readPump() {
	defer func() {
		c.viewer.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxCommandLen * 2)
	c.conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	for {
		var msg WebMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				debugf("web viewer %d read error: %v", c.id, err)
			}
			return
		}
		c.viewer.handleMessage(c, msg)
	}
}

// writePump writes queued frames to the viewer and keeps it alive with
// pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func serveHTML(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, htmlContent)
}

const htmlContent = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>MUD Agent</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/xterm@5.3.0/css/xterm.css" />
    <script src="https://cdn.jsdelivr.net/npm/xterm@5.3.0/lib/xterm.js"></script>
    <script src="https://cdn.jsdelivr.net/npm/xterm-addon-fit@0.8.0/lib/xterm-addon-fit.js"></script>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: 'SF Mono', 'Monaco', 'Courier New', monospace;
            background: #1a1a1a;
            color: #00ff00;
            height: 100vh;
            display: flex;
            flex-direction: column;
            overflow: hidden;
        }
        header {
            background: #0a0a0a;
            padding: 10px 20px;
            border-bottom: 2px solid #00ff00;
            display: flex;
            justify-content: space-between;
            align-items: center;
        }
        h1 { font-size: 16px; letter-spacing: 2px; }
        .status { font-size: 12px; color: #888; }
        .status.connected { color: #00ff00; }
        .status.disconnected { color: #ff0000; }
        #terminal { flex: 1; overflow: hidden; padding: 10px; background: #0a0a0a; }
        form { display: flex; border-top: 1px solid #333; }
        #command {
            flex: 1;
            background: #0a0a0a;
            color: #00ff00;
            border: none;
            padding: 10px;
            font: inherit;
            outline: none;
        }
    </style>
</head>
<body>
    <header>
        <h1>MUD AGENT</h1>
        <div class="status" id="status">Connecting...</div>
    </header>
    <div id="terminal"></div>
    <form id="input">
        <input id="command" autocomplete="off" placeholder="command (/status for session info)" autofocus>
    </form>
    <script>
        const statusEl = document.getElementById('status');
        const commandEl = document.getElementById('command');
        const history = [];
        let historyPos = 0;

        const term = new Terminal({
            convertEol: true,
            disableStdin: true,
            fontSize: 14,
            scrollback: 10000,
            theme: { background: '#0a0a0a', foreground: '#c0c0c0' }
        });
        const fitAddon = new FitAddon.FitAddon();
        term.loadAddon(fitAddon);
        term.open(document.getElementById('terminal'));
        fitAddon.fit();
        window.addEventListener('resize', () => fitAddon.fit());

        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');

        ws.onopen = () => {
            statusEl.textContent = 'Connected';
            statusEl.className = 'status connected';
        };
        ws.onclose = () => {
            statusEl.textContent = 'Disconnected - refresh to reconnect';
            statusEl.className = 'status disconnected';
        };
        ws.onmessage = (event) => {
            const msg = JSON.parse(event.data);
            if (msg.type === 'output') {
                term.write(msg.content);
            } else if (msg.type === 'status') {
                term.write('\r\n\x1b[33m' + msg.content + '\x1b[0m\r\n');
            } else if (msg.type === 'error') {
                term.write('\r\n\x1b[31m' + msg.content + '\x1b[0m\r\n');
            }
        };

        document.getElementById('input').addEventListener('submit', (e) => {
            e.preventDefault();
            const text = commandEl.value;
            commandEl.value = '';
            if (text.trim() === '') return;
            history.push(text);
            historyPos = history.length;
            if (text.trim() === '/status') {
                ws.send(JSON.stringify({ type: 'status' }));
            } else {
                ws.send(JSON.stringify({ type: 'command', content: text }));
            }
        });
        commandEl.addEventListener('keydown', (e) => {
            if (e.key === 'ArrowUp' && historyPos > 0) {
                commandEl.value = history[--historyPos];
                e.preventDefault();
            } else if (e.key === 'ArrowDown' && historyPos < history.length) {
                historyPos++;
                commandEl.value = history[historyPos] || '';
                e.preventDefault();
            }
        });
    </script>
</body>
</html>
`
