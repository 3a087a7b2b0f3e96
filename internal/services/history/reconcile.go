package history

import (
	"log"

	"scene-collab/internal/models"
)

// Reconcile routes a peer-originated operation to the right
// reconciliation path: direct merge when the target has no local
// history, rebase when the incoming operation supersedes local edits to
// the same target, and a masked insert when a later local edit already
// supersedes it. The relay echoes a sender's own operations back, so
// anything whose id is already in the timeline is ignored.
func (s *Store) Reconcile(op *models.SceneOperation) error {
	s.mu.Lock()

	if s.containsLocked(op.ID) {
		s.mu.Unlock()
		return nil
	}

	latest, found := s.latestForTargetLocked(op.Target)
	s.mu.Unlock()

	switch {
	case !found:
		return s.Merge(op)
	case op.Timestamp >= latest:
		return s.Rebase(op)
	default:
		// A local edit with a later timestamp already owns this target.
		// Record the operation for history but leave the scene alone:
		// last-write-wins masks its effect.
		s.mu.Lock()
		s.insertLocked(op, false)
		s.mu.Unlock()
		return nil
	}
}

// Merge inserts a peer operation into the timeline at the position
// implied by its timestamp and applies it when that position falls
// within (or immediately extends) the applied prefix. An insertion point
// beyond the cursor — possible only after local undos — is recorded but
// deferred, modelling a late-arriving edit without discarding local
// unconfirmed state.
func (s *Store) Merge(op *models.SceneOperation) error {
	s.mu.Lock()
	apply := s.insertLocked(op, true)
	s.mu.Unlock()

	if !apply {
		return nil
	}
	return s.applier.Apply(op)
}

// Rebase makes op the new ground truth for its target: local timeline
// entries it supersedes (same target id, earlier timestamp) are removed,
// op is applied and inserted, and the removed entries are individually
// re-derived against the new base. Under whole-operation last-write-wins
// a superseded write to the same target never survives re-derivation, so
// earlier local edits to that target are discarded; this is the explicit
// consistency model, not an error path.
func (s *Store) Rebase(op *models.SceneOperation) error {
	s.mu.Lock()

	var removed []models.SceneOperation
	kept := s.timeline[:0]
	cursorShift := 0
	for i, entry := range s.timeline {
		if entry.Target == op.Target && entry.Timestamp < op.Timestamp {
			removed = append(removed, entry)
			if i <= s.cursor {
				cursorShift++
			}
			continue
		}
		kept = append(kept, entry)
	}
	s.timeline = kept
	s.cursor -= cursorShift

	// An undone entry the rebase just removed can no longer be redone;
	// leaving it on the undo stack would let Redo walk the cursor past
	// the timeline end.
	if len(removed) > 0 && len(s.undoStack) > 0 {
		gone := make(map[string]struct{}, len(removed))
		for _, entry := range removed {
			gone[entry.ID] = struct{}{}
		}
		stack := s.undoStack[:0]
		for _, entry := range s.undoStack {
			if _, ok := gone[entry.ID]; !ok {
				stack = append(stack, entry)
			}
		}
		s.undoStack = stack
	}

	apply := s.insertLocked(op, true)
	s.mu.Unlock()

	if apply {
		if err := s.applier.Apply(op); err != nil {
			return err
		}
	}

	for _, old := range removed {
		if rederived := rederive(&old, op); rederived != nil {
			if err := s.Merge(rederived); err != nil {
				return err
			}
		} else {
			log.Printf("operation %s superseded by %s on target %s", old.ID, op.ID, op.Target.ID)
		}
	}

	return nil
}

// ApplyRemoteUndo reverses a peer's operation, located by id in the
// local timeline, by computing and applying the inverse locally. Only
// the intent travels over the wire. Local undo/redo bookkeeping is not
// touched; the peer's history belongs to the peer.
func (s *Store) ApplyRemoteUndo(operationID string) error {
	s.mu.Lock()
	op, ok := s.findLocked(operationID)
	s.mu.Unlock()

	if !ok {
		// Past the bounded window or never seen; nothing to reverse.
		return nil
	}

	inverse, err := op.Inverse()
	if err != nil {
		return err
	}
	return s.applier.Apply(inverse)
}

// ApplyRemoteRedo re-applies a peer's previously undone operation.
func (s *Store) ApplyRemoteRedo(operationID string) error {
	s.mu.Lock()
	op, ok := s.findLocked(operationID)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return s.applier.Apply(&op)
}

// rederive rebuilds a removed local operation against the new base.
// Whole-operation last-write-wins gives a superseded same-target write
// nothing to contribute, so this always discards; the hook is the seam
// where a field-level merge would slot in if one were ever wanted.
func rederive(old, base *models.SceneOperation) *models.SceneOperation {
	return nil
}

// insertLocked places op at its timestamp position and reports whether
// it should be applied now. When applyEligible is false the entry only
// becomes part of the record. Caller holds s.mu.
func (s *Store) insertLocked(op *models.SceneOperation, applyEligible bool) bool {
	idx := len(s.timeline)
	for i, entry := range s.timeline {
		if entry.Timestamp > op.Timestamp {
			idx = i
			break
		}
	}

	s.timeline = append(s.timeline, models.SceneOperation{})
	copy(s.timeline[idx+1:], s.timeline[idx:])
	s.timeline[idx] = *op

	apply := applyEligible && idx <= s.cursor+1
	if idx <= s.cursor || apply {
		s.cursor++
	}
	s.enforceCapLocked()
	return apply
}

func (s *Store) containsLocked(id string) bool {
	for _, entry := range s.timeline {
		if entry.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) findLocked(id string) (models.SceneOperation, bool) {
	for _, entry := range s.timeline {
		if entry.ID == id {
			return entry, true
		}
	}
	return models.SceneOperation{}, false
}

// latestForTargetLocked returns the newest timestamp among timeline
// entries addressing target, if any. Caller holds s.mu.
func (s *Store) latestForTargetLocked(target models.OperationTarget) (int64, bool) {
	var latest int64
	found := false
	for _, entry := range s.timeline {
		if entry.Target.ID == target.ID && entry.Target.Kind == target.Kind {
			if !found || entry.Timestamp > latest {
				latest = entry.Timestamp
			}
			found = true
		}
	}
	return latest, found
}
