package api

import (
	"encoding/json"
	"net/http"

	"scene-collab/internal/services/relay"

	"github.com/gorilla/mux"
)

// Handler serves the relay's HTTP surface: the websocket entrypoint
// plus a small read-only stats API.
type Handler struct {
	registry  *relay.Registry
	wsHandler *relay.Handler
}

func NewHandler(registry *relay.Registry, wsHandler *relay.Handler) *Handler {
	return &Handler{
		registry:  registry,
		wsHandler: wsHandler,
	}
}

// HandleRoomWebSocket upgrades a client into a room.
func (h *Handler) HandleRoomWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleRoomConnection(w, r)
}

// ListRooms returns a snapshot of every live room.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": h.registry.Stats(),
		"count": h.registry.RoomCount(),
	})
}

// DeleteRoom force-closes a room and purges its persisted history.
func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	if !h.registry.DestroyRoom(r.Context(), roomID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
