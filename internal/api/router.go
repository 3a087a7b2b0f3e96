package api

import (
	"scene-collab/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Middleware runs in order: tracing first, then recovery, then CORS.
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods("GET")
	api.HandleFunc("/rooms", h.ListRooms).Methods("GET")
	api.HandleFunc("/rooms/{roomId}", h.DeleteRoom).Methods("DELETE")

	// WebSocket routes. The bare /room path still upgrades so the
	// client gets a proper close code for the missing room id.
	r.HandleFunc("/room/{roomId}", h.HandleRoomWebSocket)
	r.HandleFunc("/room", h.HandleRoomWebSocket)
	r.HandleFunc("/room/", h.HandleRoomWebSocket)

	return r
}
