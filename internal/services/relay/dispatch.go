package relay

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"scene-collab/internal/middleware"
	"scene-collab/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

// dispatch classifies a validated inbound envelope and routes it. The
// relay stamps the sender's connection id as the author on everything it
// forwards; whatever the client put in userId is discarded. Broadcast
// order equals dispatch order; the relay never reorders.
func (reg *Registry) dispatch(ctx context.Context, room *Room, conn *Conn, msg *models.Message) {
	ctx, span := middleware.StartSpan(ctx, "Relay.Dispatch",
		attribute.String("room.id", room.ID),
		attribute.String("connection.id", conn.ID),
		attribute.String("message.type", string(msg.Type)),
	)
	defer span.End()

	room.touch()
	msg.UserID = conn.ID

	switch msg.Type {
	case models.MessageSceneOperation:
		reg.handleSceneOperation(ctx, room, conn, msg)

	case models.MessageCursorUpdate, models.MessageSelectionUpdate, models.MessageCameraUpdate:
		// Ephemeral presence state: current by definition, so it is
		// fanned out without logging. Replaying it to late joiners
		// would only hand them stale positions.
		reg.broadcast(room, msg, conn.ID)

	case models.MessageChat:
		reg.handleChat(room, conn, msg)

	case models.MessageUndo, models.MessageRedo:
		reg.handleHistoryIntent(room, conn, msg)

	case models.MessageHeartbeat:
		conn.enqueueMessage(models.MustMessage(models.MessageHeartbeatAck, nil))

	default:
		conn.sendError("Unknown message type")
	}
}

// handleSceneOperation appends the operation to the room's bounded log,
// persists it when a store is wired, and fans it out. The relay is not
// an authority: it does not apply, invert, or transform operations.
func (reg *Registry) handleSceneOperation(ctx context.Context, room *Room, conn *Conn, msg *models.Message) {
	var op models.SceneOperation
	if err := json.Unmarshal(msg.Payload, &op); err != nil {
		conn.sendError("Invalid message format")
		return
	}

	op.UserID = conn.ID
	if !op.Valid() {
		conn.sendError("Invalid scene operation")
		return
	}

	// Re-encode so the stamped author travels inside the payload too.
	payload, err := json.Marshal(&op)
	if err != nil {
		log.Printf("failed to re-encode operation %s: %v", op.ID, err)
		return
	}
	msg.Payload = payload

	room.appendOperation(op)

	if reg.store != nil {
		if err := reg.store.Store(ctx, room.ID, &op); err != nil {
			log.Printf("failed to persist operation %s: %v", op.ID, err)
			middleware.AddSpanError(ctx, err)
		}
	}

	reg.broadcast(room, msg, "")
}

// handleChat validates and rebroadcasts text chat. Oversized or
// malformed chat is dropped silently; replying with the validation
// failure would hand a probing client more than it should learn.
func (reg *Registry) handleChat(room *Room, conn *Conn, msg *models.Message) {
	var chat models.ChatPayload
	if err := json.Unmarshal(msg.Payload, &chat); err != nil {
		return
	}
	if chat.Content == "" || len(chat.Content) > reg.cfg.ChatMaxLength {
		return
	}

	out := models.MustMessage(models.MessageChat, models.ChatPayload{
		Content: strings.TrimSpace(chat.Content),
		UserID:  conn.ID,
	})
	out.UserID = conn.ID

	reg.broadcast(room, out, "")
}

// handleHistoryIntent relays an undo/redo intent by operation id. Peers
// run their own local inverse; the inverse itself never travels.
func (reg *Registry) handleHistoryIntent(room *Room, conn *Conn, msg *models.Message) {
	var intent models.HistoryIntentPayload
	if err := json.Unmarshal(msg.Payload, &intent); err != nil || intent.OperationID == "" {
		return
	}

	reg.broadcast(room, msg, "")
}
