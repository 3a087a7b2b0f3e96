package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"scene-collab/internal/models"

	"github.com/gorilla/websocket"
)

// OperationStore is the optional durable backing for room operation
// logs. A nil store leaves the relay fully in-memory.
type OperationStore interface {
	Store(ctx context.Context, roomID string, op *models.SceneOperation) error
	GetRecent(ctx context.Context, roomID string, limit int) ([]models.SceneOperation, error)
	Trim(ctx context.Context, roomID string, keepCount int) error
	DeleteRoom(ctx context.Context, roomID string) error
}

// RegistryConfig carries the relay policy knobs.
type RegistryConfig struct {
	RateLimit     int           // messages per minute per connection
	MaxOperations int           // bounded log capacity per room
	ChatMaxLength int           // chat content ceiling in characters
	RoomTimeout   time.Duration // idle rooms beyond this are evicted
}

// Registry is the process-wide map of room id to Room. It is explicitly
// constructed and injected rather than a package-level singleton, and it
// owns the shutdown path for every room and connection it created.
type Registry struct {
	cfg   RegistryConfig
	store OperationStore

	mu    sync.RWMutex
	rooms map[string]*Room

	done     chan struct{}
	doneOnce sync.Once
}

func NewRegistry(cfg RegistryConfig, store OperationStore) *Registry {
	return &Registry{
		cfg:   cfg,
		store: store,
		rooms: make(map[string]*Room),
		done:  make(chan struct{}),
	}
}

// Join registers a connection in the named room, creating the room on
// first reference. When a durable store is wired, a fresh room is seeded
// with its persisted log tail. Returns the room; the caller seeds the
// client from the room's log snapshot.
func (reg *Registry) Join(ctx context.Context, roomID string, conn *Conn) *Room {
	room := reg.getOrCreateRoom(ctx, roomID)
	conn.room = room
	room.addMember(conn)

	log.Printf("connection %s joined room %s (%d members)", conn.ID, roomID, room.memberCount())
	return room
}

func (reg *Registry) getOrCreateRoom(ctx context.Context, roomID string) *Room {
	reg.mu.RLock()
	room, ok := reg.rooms[roomID]
	reg.mu.RUnlock()
	if ok {
		return room
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	// Re-check: another connection may have created it meanwhile.
	if room, ok := reg.rooms[roomID]; ok {
		return room
	}

	room = newRoom(roomID, reg.cfg.MaxOperations)
	if reg.store != nil {
		ops, err := reg.store.GetRecent(ctx, roomID, reg.cfg.MaxOperations)
		if err != nil {
			log.Printf("failed to load persisted log for room %s: %v", roomID, err)
		} else if len(ops) > 0 {
			room.seedLog(ops)
			log.Printf("room %s seeded with %d persisted operations", roomID, len(ops))
		}
	}

	reg.rooms[roomID] = room
	log.Printf("room %s created", roomID)
	return room
}

// Leave removes a connection from its room, announces the departure to
// the remaining members, and destroys the room once empty. Idempotent:
// a connection already removed is a no-op.
func (reg *Registry) Leave(ctx context.Context, room *Room, conn *Conn) {
	if room == nil {
		return
	}

	room.mu.Lock()
	_, present := room.members[conn.ID]
	if present {
		delete(room.members, conn.ID)
	}
	remaining := len(room.members)
	room.mu.Unlock()

	if !present {
		return
	}

	conn.close(websocket.CloseNormalClosure, "")

	log.Printf("connection %s left room %s (%d members remain)", conn.ID, room.ID, remaining)

	if remaining == 0 {
		reg.destroyRoom(room.ID)
		return
	}

	left := models.MustMessage(models.MessageUserLeft, models.UserEventPayload{UserID: conn.ID})
	left.UserID = conn.ID
	reg.broadcast(room, left, "")
}

func (reg *Registry) destroyRoom(roomID string) {
	reg.mu.Lock()
	room, ok := reg.rooms[roomID]
	if ok && room.memberCount() == 0 {
		delete(reg.rooms, roomID)
	} else {
		ok = false
	}
	reg.mu.Unlock()

	if ok {
		log.Printf("room %s destroyed", roomID)
	}
}

// broadcast fans an envelope out to every room member except
// excludeConnID (empty means everyone). Enqueueing is non-blocking; a
// stalled peer is dropped rather than letting it hold up the room.
func (reg *Registry) broadcast(room *Room, msg *models.Message, excludeConnID string) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("failed to encode %s broadcast: %v", msg.Type, err)
		return
	}

	for _, member := range room.memberList() {
		if excludeConnID != "" && member.ID == excludeConnID {
			continue
		}
		member.enqueue(data)
	}
}

// DestroyRoom force-closes a room on request and purges its persisted
// history so it cannot reseed a future room of the same name. Reports
// whether the room existed.
func (reg *Registry) DestroyRoom(ctx context.Context, roomID string) bool {
	reg.mu.Lock()
	room, ok := reg.rooms[roomID]
	if ok {
		delete(reg.rooms, roomID)
	}
	reg.mu.Unlock()

	if !ok {
		return false
	}

	for _, conn := range room.memberList() {
		conn.close(websocket.CloseNormalClosure, "Room closed")
	}

	if reg.store != nil {
		if err := reg.store.DeleteRoom(ctx, roomID); err != nil {
			log.Printf("failed to delete persisted log for room %s: %v", roomID, err)
		}
	}

	log.Printf("room %s destroyed by request", roomID)
	return true
}

// RoomStats is a point-in-time view of one room for the stats endpoint.
type RoomStats struct {
	ID           string    `json:"id"`
	Members      int       `json:"members"`
	LogLength    int       `json:"logLength"`
	LastActivity time.Time `json:"lastActivity"`
}

// Stats snapshots every live room.
func (reg *Registry) Stats() []RoomStats {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.RUnlock()

	stats := make([]RoomStats, 0, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		stats = append(stats, RoomStats{
			ID:           room.ID,
			Members:      len(room.members),
			LogLength:    len(room.log),
			LastActivity: room.lastActivity,
		})
		room.mu.Unlock()
	}
	return stats
}

// RoomCount returns the number of live rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Shutdown stops the maintenance loop and force-closes every connection
// in every room.
func (reg *Registry) Shutdown() {
	reg.doneOnce.Do(func() { close(reg.done) })

	reg.mu.Lock()
	rooms := reg.rooms
	reg.rooms = make(map[string]*Room)
	reg.mu.Unlock()

	for _, room := range rooms {
		for _, conn := range room.memberList() {
			conn.close(websocket.CloseGoingAway, "server shutting down")
		}
	}

	log.Println("✓ Room registry shutdown complete")
}
