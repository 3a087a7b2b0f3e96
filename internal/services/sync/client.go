package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"scene-collab/internal/models"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Send while the transport is closed.
// Sends are best-effort: nothing is queued for later delivery.
var ErrNotConnected = errors.New("websocket is not connected")

// HistoryStore is the slice of the operation history the client feeds:
// the apply/reconcile path for peer operations and remote undo/redo
// intents, plus initial replay on join.
type HistoryStore interface {
	Reconcile(op *models.SceneOperation) error
	ApplyRemoteUndo(operationID string) error
	ApplyRemoteRedo(operationID string) error
	Replay(ops []models.SceneOperation) error
}

// Config tunes the client sync service.
type Config struct {
	ServerURL            string // e.g. ws://localhost:8080
	HeartbeatInterval    time.Duration
	ReconnectBase        time.Duration
	MaxReconnectAttempts int
}

// Client owns the transport lifecycle from the editor's side: it dials
// the relay, keeps heartbeats flowing, demultiplexes inbound messages to
// the presence store / chat surface / history store, and recovers from
// unexpected closure with capped exponential backoff. A deliberate
// Disconnect never reconnects.
type Client struct {
	cfg      Config
	presence *PresenceStore
	history  HistoryStore

	onChat        func(models.ChatPayload)
	onServerError func(string)
	onTerminal    func(error)

	// dial is swapped out in tests.
	dial func(ctx context.Context, url string) (*websocket.Conn, *http.Response, error)

	mu            sync.Mutex
	sock          *websocket.Conn
	roomID        string
	attempts      int
	deliberate    bool
	heartbeatStop chan struct{}

	writeMu sync.Mutex
}

func NewClient(cfg Config, presence *PresenceStore) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}

	return &Client{
		cfg:      cfg,
		presence: presence,
		dial: func(ctx context.Context, url string) (*websocket.Conn, *http.Response, error) {
			return websocket.DefaultDialer.DialContext(ctx, url, nil)
		},
	}
}

// AttachHistory wires the operation history store. The history store in
// turn broadcasts through this client, so the two are connected after
// both exist.
func (c *Client) AttachHistory(h HistoryStore) { c.history = h }

// OnChat registers the chat surface callback.
func (c *Client) OnChat(fn func(models.ChatPayload)) { c.onChat = fn }

// OnServerError registers the handler for direct error replies.
func (c *Client) OnServerError(fn func(string)) { c.onServerError = fn }

// OnTerminalDisconnect registers the handler invoked once the reconnect
// attempt cap is exhausted. After it fires the client stays down until
// Connect is called again.
func (c *Client) OnTerminalDisconnect(fn func(error)) { c.onTerminal = fn }

// Presence returns the client's presence store.
func (c *Client) Presence() *PresenceStore { return c.presence }

// Connect opens the transport to the named room, starts the heartbeat
// sender, and resets the reconnect counter. A dial failure here is the
// caller's to handle; automatic reconnection covers only unexpected
// closure of an established connection.
func (c *Client) Connect(ctx context.Context, roomID string) error {
	c.mu.Lock()
	c.roomID = roomID
	c.deliberate = false
	c.mu.Unlock()

	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	url := fmt.Sprintf("%s/room/%s", c.cfg.ServerURL, c.roomID)
	c.mu.Unlock()

	sock, _, err := c.dial(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c.mu.Lock()
	c.sock = sock
	c.attempts = 0
	c.heartbeatStop = make(chan struct{})
	stop := c.heartbeatStop
	c.mu.Unlock()

	if c.presence != nil {
		c.presence.Clear()
	}

	go c.heartbeatLoop(stop)
	go c.readLoop(sock)

	log.Printf("✓ connected to room %s", c.roomID)
	return nil
}

// Disconnect stops the heartbeat and closes the transport deliberately.
// No reconnection is scheduled.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.deliberate = true
	sock := c.sock
	c.sock = nil
	c.stopHeartbeatLocked()
	c.mu.Unlock()

	if sock != nil {
		deadline := time.Now().Add(time.Second)
		_ = sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = sock.Close()
	}
}

// Connected reports whether the transport is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock != nil
}

// Send transmits one envelope. While disconnected it returns
// ErrNotConnected and logs; it never queues silently.
func (c *Client) Send(msg *models.Message) error {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()

	if sock == nil {
		log.Printf("dropping %s message: %v", msg.Type, ErrNotConnected)
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := sock.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s message: %w", msg.Type, err)
	}
	return nil
}

// SendOperation broadcasts a local scene operation to the room. It is
// the history store's Broadcaster hook.
func (c *Client) SendOperation(op *models.SceneOperation) error {
	msg, err := models.NewMessage(models.MessageSceneOperation, op)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// SendHistoryIntent broadcasts an undo or redo intent by operation id.
func (c *Client) SendHistoryIntent(t models.MessageType, operationID string) error {
	return c.Send(models.MustMessage(t, models.HistoryIntentPayload{OperationID: operationID}))
}

// SendCursorUpdate shares the local cursor position.
func (c *Client) SendCursorUpdate(x, y float64) error {
	return c.Send(models.MustMessage(models.MessageCursorUpdate, models.CursorPayload{X: x, Y: y}))
}

// SendSelectionUpdate shares the local selection (nil clears it).
func (c *Client) SendSelectionUpdate(selectionID *string) error {
	return c.Send(models.MustMessage(models.MessageSelectionUpdate, models.SelectionPayload{SelectionID: selectionID}))
}

// SendCameraUpdate shares the local camera pose.
func (c *Client) SendCameraUpdate(pose models.CameraPose) error {
	return c.Send(models.MustMessage(models.MessageCameraUpdate, models.CameraPayload{
		Position: pose.Position,
		Target:   pose.Target,
	}))
}

// SendChatMessage sends a text chat message to the room.
func (c *Client) SendChatMessage(content string) error {
	return c.Send(models.MustMessage(models.MessageChat, models.ChatPayload{Content: content}))
}

func (c *Client) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.Send(models.MustMessage(models.MessageHeartbeat, nil)); err != nil {
				return
			}
		}
	}
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

func (c *Client) readLoop(sock *websocket.Conn) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			c.handleClose(err)
			return
		}
		c.handleMessage(data)
	}
}

// handleClose runs when the transport drops. A deliberate disconnect
// ends here; anything else schedules a reconnection attempt with
// exponential backoff, and exceeding the cap surfaces a terminal
// disconnect instead of retrying forever.
func (c *Client) handleClose(err error) {
	c.mu.Lock()
	c.sock = nil
	c.stopHeartbeatLocked()
	deliberate := c.deliberate
	c.mu.Unlock()

	if deliberate {
		return
	}

	log.Printf("connection to room lost: %v", err)
	c.scheduleReconnect(err)
}

func (c *Client) scheduleReconnect(cause error) {
	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	if attempt > c.cfg.MaxReconnectAttempts {
		log.Printf("max reconnection attempts reached (%d)", c.cfg.MaxReconnectAttempts)
		if c.onTerminal != nil {
			c.onTerminal(cause)
		}
		return
	}

	delay := Backoff(c.cfg.ReconnectBase, attempt)
	log.Printf("reconnect attempt %d in %s", attempt, delay)

	time.AfterFunc(delay, func() {
		c.mu.Lock()
		deliberate := c.deliberate
		c.mu.Unlock()
		if deliberate {
			return
		}

		if err := c.connect(context.Background()); err != nil {
			c.scheduleReconnect(err)
		}
	})
}

// Backoff returns the delay before the given 1-based reconnection
// attempt: base doubled per prior attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	return base << (attempt - 1)
}

// handleMessage demultiplexes one inbound envelope by type tag.
func (c *Client) handleMessage(data []byte) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("failed to decode inbound message: %v", err)
		return
	}

	payload, err := msg.DecodePayload()
	if err != nil {
		log.Printf("failed to decode inbound message: %v", err)
		return
	}

	switch msg.Type {
	case models.MessageSceneOperation:
		op := payload.(*models.SceneOperation)
		if c.presence != nil && op.UserID != "" {
			c.presence.Upsert(op.UserID)
		}
		if c.history != nil {
			if err := c.history.Reconcile(op); err != nil {
				log.Printf("failed to reconcile operation %s: %v", op.ID, err)
			}
		}

	case models.MessageCursorUpdate:
		p := payload.(*models.CursorPayload)
		if c.presence != nil {
			c.presence.UpdateCursor(msg.UserID, p.X, p.Y)
		}

	case models.MessageSelectionUpdate:
		p := payload.(*models.SelectionPayload)
		if c.presence != nil {
			c.presence.UpdateSelection(msg.UserID, p.SelectionID)
		}

	case models.MessageCameraUpdate:
		p := payload.(*models.CameraPayload)
		if c.presence != nil {
			c.presence.UpdateCamera(msg.UserID, models.CameraPose{
				Position: p.Position,
				Target:   p.Target,
			})
		}

	case models.MessageChat:
		p := payload.(*models.ChatPayload)
		if c.onChat != nil {
			c.onChat(*p)
		}

	case models.MessageUndo:
		p := payload.(*models.HistoryIntentPayload)
		if c.history != nil {
			if err := c.history.ApplyRemoteUndo(p.OperationID); err != nil {
				log.Printf("failed to apply remote undo of %s: %v", p.OperationID, err)
			}
		}

	case models.MessageRedo:
		p := payload.(*models.HistoryIntentPayload)
		if c.history != nil {
			if err := c.history.ApplyRemoteRedo(p.OperationID); err != nil {
				log.Printf("failed to apply remote redo of %s: %v", p.OperationID, err)
			}
		}

	case models.MessageUserJoined:
		p := payload.(*models.UserEventPayload)
		if c.presence != nil {
			c.presence.Upsert(p.UserID)
		}

	case models.MessageUserLeft:
		p := payload.(*models.UserEventPayload)
		if c.presence != nil {
			c.presence.Remove(p.UserID)
		}

	case models.MessageInitialState:
		p := payload.(*models.InitialStatePayload)
		if c.history != nil {
			if err := c.history.Replay(p.Operations); err != nil {
				log.Printf("failed to replay initial state: %v", err)
			}
		}

	case models.MessageHeartbeatAck:
		// Liveness confirmed; nothing to update.

	case models.MessageError:
		p := payload.(*models.ErrorPayload)
		log.Printf("server error: %s", p.Message)
		if c.onServerError != nil {
			c.onServerError(p.Message)
		}
	}
}
