package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 * 1024
	sendBuffer = 256
)

// Client is one connected editing session. It holds at most one room
// binding at a time, by id.
type Client struct {
	ID string

	dispatcher *Dispatcher
	conn       *websocket.Conn
	send       chan []byte
	log        *slog.Logger

	mu     sync.Mutex
	roomID string
}

func newClient(d *Dispatcher, conn *websocket.Conn, log *slog.Logger) *Client {
	return &Client{
		ID:         uuid.NewString(),
		dispatcher: d,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		log:        log,
	}
}

// RoomID returns the current room binding, or "".
func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) setRoom(id string) {
	c.mu.Lock()
	c.roomID = id
	c.mu.Unlock()
}

func (c *Client) clearRoom() {
	c.setRoom("")
}

// ReadPump reads frames from the socket and routes them until the
// connection drops, then cleans up the session's room binding.
func (c *Client) ReadPump() {
	defer func() {
		c.dispatcher.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read error", slog.String("session", c.ID), slog.Any("error", err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendEvent(MsgError, ErrorNotice{Message: "invalid message format"})
			continue
		}
		c.dispatcher.Dispatch(c, env)
	}
}

// WritePump drains the send buffer onto the socket and keeps the connection
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands a frame to the write pump without blocking. A full buffer
// drops the frame for this client only.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.log.Warn("send buffer full, dropping message", slog.String("session", c.ID))
	}
}

func (c *Client) sendEvent(event string, data any) {
	c.enqueue(ServerEnvelope{Event: event, Data: data}.Encode())
}

// reply answers a request that carried an ack correlation id. Requests
// without one get no reply.
func (c *Client) reply(ackID *uint64, data any) {
	if ackID == nil {
		return
	}
	c.enqueue(ServerEnvelope{Event: MsgAck, AckID: ackID, Data: data}.Encode())
}
