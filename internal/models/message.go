package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates the wire envelope. The set is closed: every
// recognized type has exactly one payload shape, and DecodePayload rejects
// anything outside the enumeration.
type MessageType string

const (
	MessageSceneOperation  MessageType = "scene_operation"
	MessageCursorUpdate    MessageType = "cursor_update"
	MessageSelectionUpdate MessageType = "selection_update"
	MessageCameraUpdate    MessageType = "camera_update"
	MessageChat            MessageType = "chat_message"
	MessageUndo            MessageType = "undo_operation"
	MessageRedo            MessageType = "redo_operation"
	MessageHeartbeat       MessageType = "heartbeat"
	MessageHeartbeatAck    MessageType = "heartbeat_ack"
	MessageUserJoined      MessageType = "user_joined"
	MessageUserLeft        MessageType = "user_left"
	MessageInitialState    MessageType = "initial_state"
	MessageError           MessageType = "error"
)

// Message is the envelope every frame carries. UserID is stamped by the
// relay from the connection identity; a value supplied by the client is
// overwritten, never trusted. Timestamp is milliseconds since epoch and
// is not guaranteed monotonic across senders.
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// CursorPayload carries a 2D viewport cursor position.
type CursorPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SelectionPayload carries the currently selected entity id, or null when
// the selection was cleared.
type SelectionPayload struct {
	SelectionID *string `json:"selectionId"`
}

// CameraPayload carries a viewport camera pose.
type CameraPayload struct {
	Position Vec3 `json:"position"`
	Target   Vec3 `json:"target"`
}

// ChatPayload carries a text chat message. UserID is filled by the relay
// on rebroadcast.
type ChatPayload struct {
	Content string `json:"content"`
	UserID  string `json:"userId,omitempty"`
}

// HistoryIntentPayload references an operation by id for undo/redo relay.
// Only the intent travels; each peer computes its own inverse locally.
type HistoryIntentPayload struct {
	OperationID string `json:"operationId"`
}

// UserEventPayload announces a member joining or leaving a room.
type UserEventPayload struct {
	UserID string `json:"userId"`
}

// InitialStatePayload seeds a newly joined client with the room's
// retained operation log and current member count.
type InitialStatePayload struct {
	Operations []SceneOperation `json:"operations"`
	UserCount  int              `json:"userCount"`
}

// ErrorPayload is a direct reply to a single sender, never broadcast.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NowMillis returns the current time as epoch milliseconds, the unit all
// envelope and operation timestamps use.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewMessage builds an envelope of the given type around payload.
// A nil payload produces an envelope with no payload field.
func NewMessage(t MessageType, payload interface{}) (*Message, error) {
	msg := &Message{
		Type:      t,
		Timestamp: NowMillis(),
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", t, err)
		}
		msg.Payload = raw
	}

	return msg, nil
}

// MustMessage is NewMessage for payloads that cannot fail to marshal.
func MustMessage(t MessageType, payload interface{}) *Message {
	msg, err := NewMessage(t, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// DecodePayload unmarshals the envelope's payload into the struct that
// belongs to its type tag. The switch is exhaustive over the closed set;
// a new message type has to be given a decode arm here before anything
// can carry it.
func (m *Message) DecodePayload() (interface{}, error) {
	switch m.Type {
	case MessageSceneOperation:
		var p SceneOperation
		return decodeInto(m, &p)
	case MessageCursorUpdate:
		var p CursorPayload
		return decodeInto(m, &p)
	case MessageSelectionUpdate:
		var p SelectionPayload
		return decodeInto(m, &p)
	case MessageCameraUpdate:
		var p CameraPayload
		return decodeInto(m, &p)
	case MessageChat:
		var p ChatPayload
		return decodeInto(m, &p)
	case MessageUndo, MessageRedo:
		var p HistoryIntentPayload
		return decodeInto(m, &p)
	case MessageHeartbeat, MessageHeartbeatAck:
		return nil, nil
	case MessageUserJoined, MessageUserLeft:
		var p UserEventPayload
		return decodeInto(m, &p)
	case MessageInitialState:
		var p InitialStatePayload
		return decodeInto(m, &p)
	case MessageError:
		var p ErrorPayload
		return decodeInto(m, &p)
	default:
		return nil, fmt.Errorf("unknown message type %q", m.Type)
	}
}

func decodeInto(m *Message, dst interface{}) (interface{}, error) {
	if len(m.Payload) == 0 {
		return dst, nil
	}
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return dst, nil
}
