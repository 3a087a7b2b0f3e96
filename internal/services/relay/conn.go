package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"scene-collab/internal/models"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Conn is one client connection to the relay. Its ID doubles as the
// connection-scoped user id: generated per socket, never persistent
// across reconnects. Each connection owns an independent token bucket;
// exhausting it rejects messages without touching anyone else.
type Conn struct {
	ID string

	sock     *websocket.Conn
	send     chan []byte
	limiter  *rate.Limiter
	room     *Room
	registry *Registry

	closeOnce sync.Once
}

func newConn(id string, sock *websocket.Conn, registry *Registry, quotaPerMinute int) *Conn {
	return &Conn{
		ID:       id,
		sock:     sock,
		send:     make(chan []byte, sendBufferSize),
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(quotaPerMinute)), quotaPerMinute),
		registry: registry,
	}
}

// enqueue queues a frame without blocking. A member whose buffer is full
// is a slow or dead peer; it gets dropped so it cannot stall the room.
func (c *Conn) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		log.Printf("connection %s send buffer full, dropping connection", c.ID)
		// Close first so the client sees why it was evicted; the later
		// normal closure from Leave is a no-op.
		c.close(websocket.CloseTryAgainLater, "Slow consumer")
		go c.registry.Leave(context.Background(), c.room, c)
		return false
	}
}

// enqueueMessage marshals and queues an envelope for this connection.
func (c *Conn) enqueueMessage(msg *models.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("failed to encode %s message: %v", msg.Type, err)
		return
	}
	c.enqueue(data)
}

// sendError sends a direct error reply to this connection only.
func (c *Conn) sendError(text string) {
	c.enqueueMessage(models.MustMessage(models.MessageError, models.ErrorPayload{Message: text}))
}

// close terminates the transport with the given close code. Safe to call
// more than once; later calls are no-ops.
func (c *Conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(writeWait)
		_ = c.sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.sock.Close()
	})
}

// readPump processes the inbound stream in receipt order. Every frame
// spends one rate-limiter token before it is parsed; exhaustion yields a
// direct rate-limit error and the frame is neither applied nor
// broadcast. The pump exits on transport close, which removes the
// connection from its room.
func (c *Conn) readPump(ctx context.Context) {
	defer func() {
		c.registry.Leave(ctx, c.room, c)
		_ = c.sock.Close()
	}()

	c.sock.SetReadLimit(maxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("connection %s read error: %v", c.ID, err)
			}
			return
		}

		_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.Allow() {
			c.sendError("Rate limit exceeded")
			continue
		}

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("Invalid message format")
			continue
		}

		c.registry.dispatch(ctx, c.room, c, &msg)
	}
}

// writePump drains the send channel onto the socket and pings on idle.
// One goroutine per connection writes; nothing else touches the socket
// for data frames.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One envelope per frame; clients parse frames as whole
			// JSON documents.
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
