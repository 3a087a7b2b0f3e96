package sync

import (
	"sync"
	"time"

	"scene-collab/internal/models"
)

// Cursor/highlight colors handed out to collaborators in join order.
var presencePalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
}

// PresenceStore tracks the ephemeral state of every collaborator in the
// room: cursor, selection, camera pose, and a last-active clock. It is
// keyed by the connection-scoped user id the relay assigns, so it is
// rebuilt from scratch on every reconnect and never persisted.
type PresenceStore struct {
	mu     sync.RWMutex
	users  map[string]*models.User
	joined int
}

func NewPresenceStore() *PresenceStore {
	return &PresenceStore{users: make(map[string]*models.User)}
}

// Upsert returns the entry for userID, creating it with an assigned
// color on first sight.
func (p *PresenceStore) Upsert(userID string) *models.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.upsertLocked(userID)
}

func (p *PresenceStore) upsertLocked(userID string) *models.User {
	user, ok := p.users[userID]
	if !ok {
		user = &models.User{
			ID:    userID,
			Name:  userID,
			Color: presencePalette[p.joined%len(presencePalette)],
		}
		p.joined++
		p.users[userID] = user
	}
	user.LastActive = time.Now()
	return user
}

// SetName attaches a display name to a user.
func (p *PresenceStore) SetName(userID, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.upsertLocked(userID).Name = name
}

// UpdateCursor records a collaborator's viewport cursor position.
func (p *PresenceStore) UpdateCursor(userID string, x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.upsertLocked(userID).Cursor = models.CursorPos{X: x, Y: y}
}

// UpdateSelection records a collaborator's selected entity (nil clears).
func (p *PresenceStore) UpdateSelection(userID string, selectionID *string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.upsertLocked(userID).Selection = selectionID
}

// UpdateCamera records a collaborator's camera pose.
func (p *PresenceStore) UpdateCamera(userID string, pose models.CameraPose) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.upsertLocked(userID).Camera = pose
}

// Remove drops a user, e.g. on a user_left event.
func (p *PresenceStore) Remove(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.users, userID)
}

// Get returns a copy of one user's entry.
func (p *PresenceStore) Get(userID string) (models.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	user, ok := p.users[userID]
	if !ok {
		return models.User{}, false
	}
	return *user, true
}

// Users snapshots all current entries.
func (p *PresenceStore) Users() []models.User {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.User, 0, len(p.users))
	for _, user := range p.users {
		out = append(out, *user)
	}
	return out
}

// Len returns the number of tracked users.
func (p *PresenceStore) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users)
}

// CleanupInactive drops users whose last activity is older than
// threshold and returns how many were removed.
func (p *PresenceStore) CleanupInactive(threshold time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-threshold)
	removed := 0
	for id, user := range p.users {
		if user.LastActive.Before(cutoff) {
			delete(p.users, id)
			removed++
		}
	}
	return removed
}

// Clear drops every entry, used when the connection is torn down.
func (p *PresenceStore) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = make(map[string]*models.User)
	p.joined = 0
}
