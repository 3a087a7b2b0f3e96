package relay

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// StartMaintenance runs the periodic sweep that evicts inactive rooms.
// Eviction is deliberately whole-room: the retained unit of state is the
// room's operation log, not any individual member's presence, so a room
// whose clock has gone stale closes every member at once. Returns after
// Shutdown closes the registry.
func (reg *Registry) StartMaintenance(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-reg.done:
				return
			case <-ticker.C:
				reg.sweep()
			}
		}
	}()

	log.Printf("✓ Maintenance sweep started (every %s, room timeout %s)", interval, reg.cfg.RoomTimeout)
}

// sweep closes and removes every room idle past the timeout. Members are
// closed with a normal-closure code distinguishable from a policy kick,
// matching the contract that scheduled eviction is not an error.
func (reg *Registry) sweep() {
	cutoff := time.Now().Add(-reg.cfg.RoomTimeout)

	reg.mu.Lock()
	var expired []*Room
	for id, room := range reg.rooms {
		if room.idleSince().Before(cutoff) {
			expired = append(expired, room)
			delete(reg.rooms, id)
		}
	}
	reg.mu.Unlock()

	for _, room := range expired {
		members := room.memberList()
		for _, conn := range members {
			conn.close(websocket.CloseNormalClosure, "Room inactive")
		}
		log.Printf("room %s evicted after inactivity (%d members closed)", room.ID, len(members))

		if reg.store != nil {
			if err := reg.store.Trim(context.Background(), room.ID, reg.cfg.MaxOperations); err != nil {
				log.Printf("failed to trim persisted log for room %s: %v", room.ID, err)
			}
		}
	}
}
