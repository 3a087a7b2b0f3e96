package relay

import (
	"context"
	"log"
	"net/http"
	"time"

	"scene-collab/internal/middleware"
	"scene-collab/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the editor's origins once they are pinned down
		return true
	},
}

// Handler upgrades HTTP requests on /room/{roomId} into relay
// connections.
type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// HandleRoomConnection is the websocket entrypoint. The room id comes
// from the URI; a connection without one is closed with a policy
// violation before it ever reaches a room. The user identity is the
// generated connection id, scoped to this socket.
func (h *Handler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := mux.Vars(r)["roomId"]

	ctx, span := middleware.StartSpan(ctx, "Relay.Connect",
		attribute.String("room.id", roomID),
	)
	defer span.End()

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("failed to upgrade websocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	if roomID == "" {
		_ = sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Room ID is required"),
			time.Now().Add(writeWait))
		_ = sock.Close()
		return
	}

	conn := newConn(uuid.NewString(), sock, h.registry, h.registry.cfg.RateLimit)
	room := h.registry.Join(ctx, roomID, conn)

	go conn.writePump()

	// Seed the newcomer before any further traffic: the retained
	// operation log plus the member count they just raised.
	conn.enqueueMessage(models.MustMessage(models.MessageInitialState, models.InitialStatePayload{
		Operations: room.snapshotLog(),
		UserCount:  room.memberCount(),
	}))

	joined := models.MustMessage(models.MessageUserJoined, models.UserEventPayload{UserID: conn.ID})
	joined.UserID = conn.ID
	h.registry.broadcast(room, joined, conn.ID)

	// The pump outlives this handler, and net/http cancels the request
	// context the moment the handler returns after the hijack.
	go conn.readPump(context.Background())

	log.Printf("✓ websocket connection %s established for room %s", conn.ID, roomID)
}
