package relay

import (
	"sync"
	"time"

	"scene-collab/internal/models"
)

// Room is a named collaboration session: its members, the bounded
// operation log that seeds late joiners, and the activity clock the
// maintenance sweep reads. All mutation goes through the room mutex, so
// a room processes one writer at a time while distinct rooms proceed in
// parallel.
type Room struct {
	ID string

	mu           sync.Mutex
	members      map[string]*Conn
	log          []models.SceneOperation
	logCapacity  int
	lastActivity time.Time
}

func newRoom(id string, logCapacity int) *Room {
	return &Room{
		ID:           id,
		members:      make(map[string]*Conn),
		log:          make([]models.SceneOperation, 0),
		logCapacity:  logCapacity,
		lastActivity: time.Now(),
	}
}

func (r *Room) addMember(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[c.ID] = c
	r.lastActivity = time.Now()
}

// removeMember drops a connection and reports how many members remain.
func (r *Room) removeMember(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, connID)
	return len(r.members)
}

// appendOperation records a scene operation in the bounded log, evicting
// the oldest entry once capacity is reached. The log is append-only;
// entries are never reordered after insertion.
func (r *Room) appendOperation(op models.SceneOperation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log = append(r.log, op)
	if len(r.log) > r.logCapacity {
		r.log = r.log[len(r.log)-r.logCapacity:]
	}
	r.lastActivity = time.Now()
}

// seedLog installs persisted history on room creation, before any member
// has produced operations.
func (r *Room) seedLog(ops []models.SceneOperation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(ops) > r.logCapacity {
		ops = ops[len(ops)-r.logCapacity:]
	}
	r.log = append(r.log[:0], ops...)
}

// snapshotLog copies the operation log for the initial_state seed.
func (r *Room) snapshotLog() []models.SceneOperation {
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := make([]models.SceneOperation, len(r.log))
	copy(ops, r.log)
	return ops
}

func (r *Room) memberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Room) touch() {
	r.mu.Lock()
	r.lastActivity = time.Now()
	r.mu.Unlock()
}

func (r *Room) idleSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// memberList snapshots the current members so broadcast can enqueue
// outside the room lock.
func (r *Room) memberList() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Conn, 0, len(r.members))
	for _, c := range r.members {
		conns = append(conns, c)
	}
	return conns
}
