// Package hub exposes the session manager to the UI over a single
// multiplexed websocket connection.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/shellmux/internal/dispatch"
	"github.com/user/shellmux/internal/session"
)

const defaultBatchInterval = 50 * time.Millisecond

// Hub accepts websocket clients, routes their requests to the session
// manager, and fans manager events back out. Output for each session is
// batched so bursts of small PTY reads coalesce into one frame.
type Hub struct {
	manager    *session.Manager
	dispatcher *dispatch.Dispatcher
	batcher    *Batcher
	token      string

	clients    map[string]*Client
	register   chan *clientRegistration
	unregister chan *Client
	broadcast  chan []byte
	mu         sync.RWMutex

	ctxWrap *ctxWrapper
	running atomic.Bool
}

type ctxWrapper struct {
	ctx context.Context
}

type clientRegistration struct {
	client          *Client
	initialSessions []byte
}

// New creates a Hub bound to a manager and a dispatcher. The token
// authenticates websocket upgrades.
func New(token string, manager *session.Manager, dispatcher *dispatch.Dispatcher) *Hub {
	h := &Hub{
		manager:    manager,
		dispatcher: dispatcher,
		token:      token,
		clients:    make(map[string]*Client),
		register:   make(chan *clientRegistration, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan []byte, 256),
		ctxWrap:    &ctxWrapper{ctx: context.Background()},
	}
	h.batcher = NewBatcher(defaultBatchInterval, func(sessionID, data string) {
		h.broadcastJSON(DataMessage{Type: "data", Session: sessionID, Data: data})
	})
	return h
}

func (h *Hub) getContext() context.Context {
	if h.ctxWrap != nil {
		return h.ctxWrap.ctx
	}
	return context.Background()
}

// Run owns the client registry until ctx is canceled. It also starts
// the dispatcher on the manager's event stream, which is the single
// subscription everything downstream shares.
func (h *Hub) Run(ctx context.Context) {
	h.ctxWrap = &ctxWrapper{ctx: ctx}
	h.running.Store(true)
	defer h.running.Store(false)

	go h.dispatcher.Run(ctx, h.manager.Events())

	for {
		select {
		case <-ctx.Done():
			h.batcher.FlushAll()
			h.mu.Lock()
			for _, c := range h.clients {
				close(c.done)
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.client.id] = reg.client
			h.mu.Unlock()
			if reg.initialSessions != nil {
				select {
				case reg.client.send <- reg.initialSessions:
				default:
				}
			}
			go reg.client.writePump(h.getContext())
			go reg.client.readPump(h.getContext())
			slog.Info("client connected", "client_id", reg.client.id, "total", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.done)
			}
			h.mu.Unlock()
			slog.Info("client disconnected", "client_id", client.id, "total", h.ClientCount())

		case data := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				select {
				case c.send <- data:
				default:
					slog.Debug("client send buffer full, dropping message", "client_id", c.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWebSocket upgrades an authenticated request and registers the
// client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || token != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}

	client := newClient(conn, h)

	initial, _ := json.Marshal(SessionsMessage{Type: "sessions", List: h.manager.Sessions()})

	select {
	case h.register <- &clientRegistration{client: client, initialSessions: initial}:
	default:
		slog.Warn("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
	}
}

// attachSession registers the per-session handlers that turn manager
// events into protocol messages. Exit flushes pending output first so
// the final bytes precede the exit notification, then detaches.
func (h *Hub) attachSession(id string) {
	h.dispatcher.OnData(id, func(data string) {
		h.batcher.Add(id, data)
	})
	h.dispatcher.OnInputBuffer(id, func(text string) {
		h.broadcastJSON(InputBufferMessage{Type: "input_buffer", Session: id, Text: text})
	})
	h.dispatcher.OnCommand(id, func(text string) {
		h.broadcastJSON(CommandMessage{Type: "command", Session: id, Text: text, Ts: time.Now().UnixMilli()})
	})
	h.dispatcher.OnExit(id, func(code int) {
		h.batcher.Flush(id)
		h.broadcastJSON(ExitMessage{Type: "exit", Session: id, ExitCode: code})
		h.dispatcher.Detach(id)
		h.broadcastSessions()
	})
}

func (h *Hub) handleCreate(c *Client, msg ClientMessage) {
	if msg.Session == "" {
		h.SendError(c, "session id is required")
		return
	}

	// Handlers go in before the spawn so the shell's first output is not
	// lost to the routing gap.
	h.attachSession(msg.Session)

	res, err := h.manager.Create(msg.Session, clampDim(msg.Cols), clampDim(msg.Rows))
	if err != nil {
		h.dispatcher.Detach(msg.Session)
		if errors.Is(err, session.ErrCapacityExceeded) {
			h.SendError(c, "too many open sessions")
		} else {
			h.SendError(c, err.Error())
		}
		return
	}

	h.sendJSON(c, CreatedMessage{Type: "created", Session: msg.Session, Pid: res.Pid, Shell: res.ShellPath})
	h.broadcastSessions()
}

// clampDim maps an untrusted JSON dimension onto the PTY range. Values
// outside it become 0, which the manager replaces with its default
// geometry; a blind uint16 conversion would turn -1 into 65535.
func clampDim(v int) uint16 {
	if v < 0 || v > 65535 {
		return 0
	}
	return uint16(v)
}

func (h *Hub) handleCwd(c *Client, sessionID string) {
	go func() {
		path := h.manager.Cwd(h.getContext(), sessionID)
		h.sendJSON(c, CwdMessage{Type: "cwd", Session: sessionID, Path: path})
	}()
}

func (h *Hub) broadcastSessions() {
	h.broadcastJSON(SessionsMessage{Type: "sessions", List: h.manager.Sessions()})
}

func (h *Hub) broadcastJSON(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("failed to marshal hub message", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		slog.Debug("broadcast channel full, dropping message")
	}
}

// SendError reports a failed request to one client.
func (h *Hub) SendError(c *Client, message string) {
	h.sendJSON(c, ErrorMessage{Type: "error", Message: message})
}

// sendJSON queues a message for one client. Replies racing the client's
// teardown are dropped, as is anything beyond a full send buffer.
func (h *Hub) sendJSON(c *Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("failed to marshal hub message", "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.running.Load() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		slog.Warn("unregister channel full, forcing close", "client_id", c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
