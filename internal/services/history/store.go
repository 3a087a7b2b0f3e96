// Package history maintains the client-side timeline of applied scene
// operations: linear undo/redo over local edits, plus the merge and
// rebase paths that reconcile operations arriving from peers out of
// local order. The consistency model is per-target, timestamp-ordered,
// last-write-wins; there is no cross-target atomicity and no causal
// (vector-clock) tracking.
package history

import (
	"fmt"
	"log"
	"sync"

	"scene-collab/internal/models"
)

// Applier applies an operation to the caller's scene state. The history
// store never interprets operation payloads itself.
type Applier interface {
	Apply(op *models.SceneOperation) error
}

// Broadcaster sends local edits and undo/redo intents to the room.
type Broadcaster interface {
	SendOperation(op *models.SceneOperation) error
	SendHistoryIntent(t models.MessageType, operationID string) error
}

// Store is the operation history state machine. Invariants: cursor is a
// valid timeline index or -1; entries at or before the cursor have been
// applied; undo is possible iff cursor >= 0; redo is possible iff the
// undo stack is non-empty. Constructed per client and injected where
// needed; there is no package-level instance.
type Store struct {
	mu        sync.Mutex
	timeline  []models.SceneOperation
	cursor    int
	undoStack []models.SceneOperation
	maxSize   int

	applier     Applier
	broadcaster Broadcaster
}

func NewStore(maxSize int, applier Applier, broadcaster Broadcaster) *Store {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Store{
		timeline: make([]models.SceneOperation, 0),
		cursor:   -1,
		maxSize:  maxSize,
		applier:  applier,
		broadcaster: broadcaster,
	}
}

// Push records a fresh local edit. Any redo-reachable forward history is
// truncated, the undo stack is cleared (a new edit invalidates prior
// redo potential), the operation is broadcast to the room, and applied
// locally. The timeline is bounded; the oldest entries are dropped once
// the cap is exceeded.
func (s *Store) Push(op *models.SceneOperation) error {
	s.mu.Lock()

	s.timeline = append(s.timeline[:s.cursor+1], *op)
	s.cursor = len(s.timeline) - 1
	s.undoStack = s.undoStack[:0]
	s.enforceCapLocked()

	s.mu.Unlock()

	if s.broadcaster != nil {
		if err := s.broadcaster.SendOperation(op); err != nil {
			log.Printf("failed to broadcast operation %s: %v", op.ID, err)
		}
	}

	return s.applier.Apply(op)
}

// Undo reverses the operation at the cursor by applying its locally
// constructed inverse, then notifies peers of the intent by operation
// id only. No-op when there is nothing to undo.
func (s *Store) Undo() error {
	s.mu.Lock()
	if s.cursor < 0 {
		s.mu.Unlock()
		return nil
	}

	op := s.timeline[s.cursor]
	inverse, err := op.Inverse()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("undo %s: %w", op.ID, err)
	}

	s.cursor--
	s.undoStack = append(s.undoStack, op)
	s.mu.Unlock()

	if err := s.applier.Apply(inverse); err != nil {
		return err
	}

	if s.broadcaster != nil {
		if err := s.broadcaster.SendHistoryIntent(models.MessageUndo, op.ID); err != nil {
			log.Printf("failed to broadcast undo of %s: %v", op.ID, err)
		}
	}

	return nil
}

// Redo re-applies the most recently undone operation (the original, not
// an inverse) and notifies peers symmetrically to Undo. No-op when the
// undo stack is empty.
func (s *Store) Redo() error {
	s.mu.Lock()
	if len(s.undoStack) == 0 {
		s.mu.Unlock()
		return nil
	}

	op := s.undoStack[len(s.undoStack)-1]
	s.undoStack = s.undoStack[:len(s.undoStack)-1]
	s.cursor++
	s.mu.Unlock()

	if err := s.applier.Apply(&op); err != nil {
		return err
	}

	if s.broadcaster != nil {
		if err := s.broadcaster.SendHistoryIntent(models.MessageRedo, op.ID); err != nil {
			log.Printf("failed to broadcast redo of %s: %v", op.ID, err)
		}
	}

	return nil
}

// CanUndo reports whether the cursor points at an applied operation.
func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor >= 0
}

// CanRedo reports whether an undone operation is waiting to be redone.
func (s *Store) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undoStack) > 0
}

// Clear resets the history, e.g. when leaving a room.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeline = s.timeline[:0]
	s.undoStack = s.undoStack[:0]
	s.cursor = -1
}

// Len returns the number of timeline entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timeline)
}

// Cursor returns the current timeline cursor (-1 when empty).
func (s *Store) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Replay applies a room's retained log in order and installs it as
// already-applied history. Used on join, when the relay seeds the
// client with initial state.
func (s *Store) Replay(ops []models.SceneOperation) error {
	for i := range ops {
		if err := s.applier.Apply(&ops[i]); err != nil {
			return fmt.Errorf("replay %s: %w", ops[i].ID, err)
		}
	}
	s.Seed(ops)
	return nil
}

// Seed installs a room's retained log as already-applied history, used
// when joining a room whose initial state is replayed by the caller.
func (s *Store) Seed(ops []models.SceneOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timeline = append(s.timeline[:0], ops...)
	s.undoStack = s.undoStack[:0]
	s.cursor = len(s.timeline) - 1
	s.enforceCapLocked()
}

// enforceCapLocked drops the oldest timeline entries beyond maxSize and
// clamps the cursor accordingly. Caller holds s.mu.
func (s *Store) enforceCapLocked() {
	if len(s.timeline) <= s.maxSize {
		return
	}
	drop := len(s.timeline) - s.maxSize
	s.timeline = s.timeline[drop:]
	s.cursor -= drop
	if s.cursor < -1 {
		s.cursor = -1
	}
}
