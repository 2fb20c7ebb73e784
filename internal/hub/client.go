package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// Client is one connected UI instance. All of its tabs share this
// single connection; messages carry session ids for routing.
//
// send is never closed: replies may arrive from goroutines that outlive
// the connection, and a send cannot race a close. Teardown is signaled
// by closing done instead.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	hub  *Hub
}

func newClient(conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
		hub:  hub,
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(32768)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				slog.Debug("client read error", "client_id", c.id, "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("client sent invalid message", "client_id", c.id, "error", err)
			c.hub.SendError(c, "invalid message format")
			continue
		}

		switch msg.Type {
		case "create":
			c.hub.handleCreate(c, msg)
		case "write":
			c.hub.manager.Write(msg.Session, msg.Data)
		case "resize":
			if cols, rows := clampDim(msg.Cols), clampDim(msg.Rows); cols > 0 && rows > 0 {
				c.hub.manager.Resize(msg.Session, cols, rows)
			}
		case "kill":
			c.hub.manager.Kill(msg.Session)
			c.hub.broadcastSessions()
		case "signal":
			c.hub.manager.SendSignal(msg.Session, msg.Name)
		case "run":
			c.hub.manager.RunCommand(msg.Session, msg.Text)
		case "cwd":
			c.hub.handleCwd(c, msg.Session)
		case "sessions":
			c.hub.sendJSON(c, SessionsMessage{Type: "sessions", List: c.hub.manager.Sessions()})
		default:
			c.hub.SendError(c, "unknown message type: "+msg.Type)
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case msg := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}
