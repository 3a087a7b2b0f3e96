package history

import (
	"fmt"
	"testing"

	"scene-collab/internal/models"
)

// fakeScene is a minimal entity store standing in for the scene layer.
type fakeScene struct {
	entities map[string]string
	applies  []string // op ids in apply order
}

func newFakeScene() *fakeScene {
	return &fakeScene{entities: make(map[string]string)}
}

func (s *fakeScene) Apply(op *models.SceneOperation) error {
	s.applies = append(s.applies, op.ID)
	id := op.Target.ID
	switch op.Type {
	case models.OpAdd, models.OpUpdate:
		s.entities[id] = string(op.Data.State)
	case models.OpDelete:
		delete(s.entities, id)
	case models.OpTransform:
		if op.Data.Position != nil {
			s.entities[id] = fmt.Sprintf("pos%v", *op.Data.Position)
		}
	}
	return nil
}

type fakeBroadcaster struct {
	ops     []string
	intents []struct {
		t  models.MessageType
		id string
	}
}

func (b *fakeBroadcaster) SendOperation(op *models.SceneOperation) error {
	b.ops = append(b.ops, op.ID)
	return nil
}

func (b *fakeBroadcaster) SendHistoryIntent(t models.MessageType, operationID string) error {
	b.intents = append(b.intents, struct {
		t  models.MessageType
		id string
	}{t, operationID})
	return nil
}

func addOp(id, target, state string, ts int64) *models.SceneOperation {
	return &models.SceneOperation{
		ID:        id,
		UserID:    "user-1",
		Timestamp: ts,
		Type:      models.OpAdd,
		Target:    models.OperationTarget{Kind: models.TargetShape, ID: target},
		Data:      models.OperationData{State: []byte(state)},
	}
}

func updateOp(id, target, state, prev string, ts int64) *models.SceneOperation {
	return &models.SceneOperation{
		ID:        id,
		UserID:    "user-1",
		Timestamp: ts,
		Type:      models.OpUpdate,
		Target:    models.OperationTarget{Kind: models.TargetShape, ID: target},
		Data: models.OperationData{
			State:         []byte(state),
			PreviousState: []byte(prev),
		},
	}
}

func TestStore_UndoRedoRoundTrip(t *testing.T) {
	scene := newFakeScene()
	bc := &fakeBroadcaster{}
	store := NewStore(100, scene, bc)

	ops := []*models.SceneOperation{
		addOp("op-1", "shape-1", `red`, 100),
		updateOp("op-2", "shape-1", `blue`, `red`, 200),
		updateOp("op-3", "shape-1", `green`, `blue`, 300),
	}
	for _, op := range ops {
		if err := store.Push(op); err != nil {
			t.Fatalf("Push(%s) error: %v", op.ID, err)
		}
	}

	if got := scene.entities["shape-1"]; got != "green" {
		t.Fatalf("entity state = %q, want green", got)
	}

	// An equal number of undos restores the pre-sequence state.
	for i := 0; i < len(ops); i++ {
		if err := store.Undo(); err != nil {
			t.Fatalf("Undo() error: %v", err)
		}
	}
	if _, ok := scene.entities["shape-1"]; ok {
		t.Errorf("entity survived full undo: %q", scene.entities["shape-1"])
	}
	if store.CanUndo() {
		t.Error("CanUndo() = true after full undo")
	}
	if !store.CanRedo() {
		t.Error("CanRedo() = false with populated undo stack")
	}

	// Redos replay the originals, most recently undone last.
	for i := 0; i < len(ops); i++ {
		if err := store.Redo(); err != nil {
			t.Fatalf("Redo() error: %v", err)
		}
	}
	if got := scene.entities["shape-1"]; got != "green" {
		t.Errorf("entity state after redo = %q, want green", got)
	}
	if store.CanRedo() {
		t.Error("CanRedo() = true after full redo")
	}
}

func TestStore_UndoBroadcastsIntentByID(t *testing.T) {
	scene := newFakeScene()
	bc := &fakeBroadcaster{}
	store := NewStore(100, scene, bc)

	op := updateOp("op-1", "shape-1", `blue`, `red`, 100)
	if err := store.Push(op); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	if err := store.Undo(); err != nil {
		t.Fatalf("Undo() error: %v", err)
	}

	if len(bc.ops) != 1 || bc.ops[0] != "op-1" {
		t.Errorf("broadcast ops = %v, want [op-1]", bc.ops)
	}
	if len(bc.intents) != 1 || bc.intents[0].t != models.MessageUndo || bc.intents[0].id != "op-1" {
		t.Errorf("broadcast intents = %v, want undo of op-1", bc.intents)
	}

	if err := store.Redo(); err != nil {
		t.Fatalf("Redo() error: %v", err)
	}
	if len(bc.intents) != 2 || bc.intents[1].t != models.MessageRedo {
		t.Errorf("expected redo intent, got %v", bc.intents)
	}
}

func TestStore_PushTruncatesForwardHistory(t *testing.T) {
	scene := newFakeScene()
	store := NewStore(100, scene, &fakeBroadcaster{})

	_ = store.Push(addOp("op-1", "shape-1", `a`, 100))
	_ = store.Push(addOp("op-2", "shape-2", `b`, 200))
	_ = store.Push(addOp("op-3", "shape-3", `c`, 300))
	_ = store.Undo()

	if !store.CanRedo() {
		t.Fatal("CanRedo() = false after undo")
	}

	// A fresh edit invalidates redo potential.
	_ = store.Push(addOp("op-4", "shape-4", `d`, 400))

	if store.CanRedo() {
		t.Error("CanRedo() = true after fresh push")
	}
	if store.Len() != 3 {
		t.Errorf("Len() = %d, want 3 (op-3 truncated)", store.Len())
	}
	if store.Cursor() != 2 {
		t.Errorf("Cursor() = %d, want 2", store.Cursor())
	}
}

func TestStore_BoundedLength(t *testing.T) {
	scene := newFakeScene()
	store := NewStore(5, scene, &fakeBroadcaster{})

	for i := 0; i < 8; i++ {
		op := addOp(fmt.Sprintf("op-%d", i), fmt.Sprintf("shape-%d", i), `x`, int64(100+i))
		if err := store.Push(op); err != nil {
			t.Fatalf("Push() error: %v", err)
		}
	}

	if store.Len() != 5 {
		t.Errorf("Len() = %d, want 5", store.Len())
	}
	if store.Cursor() != 4 {
		t.Errorf("Cursor() = %d, want 4", store.Cursor())
	}

	// Only the retained window is undoable.
	undone := 0
	for store.CanUndo() {
		if err := store.Undo(); err != nil {
			t.Fatalf("Undo() error: %v", err)
		}
		undone++
	}
	if undone != 5 {
		t.Errorf("undone %d operations, want 5", undone)
	}
}

func TestStore_UndoRedoEmptyAreNoOps(t *testing.T) {
	scene := newFakeScene()
	store := NewStore(100, scene, &fakeBroadcaster{})

	if err := store.Undo(); err != nil {
		t.Errorf("Undo() on empty store error: %v", err)
	}
	if err := store.Redo(); err != nil {
		t.Errorf("Redo() on empty store error: %v", err)
	}
	if len(scene.applies) != 0 {
		t.Errorf("empty undo/redo applied %d operations", len(scene.applies))
	}
}

func TestStore_Replay(t *testing.T) {
	scene := newFakeScene()
	store := NewStore(100, scene, &fakeBroadcaster{})

	ops := []models.SceneOperation{
		*addOp("op-1", "shape-1", `a`, 100),
		*addOp("op-2", "shape-2", `b`, 200),
	}
	if err := store.Replay(ops); err != nil {
		t.Fatalf("Replay() error: %v", err)
	}

	if len(scene.entities) != 2 {
		t.Errorf("replayed entities = %d, want 2", len(scene.entities))
	}
	if store.Cursor() != 1 {
		t.Errorf("Cursor() = %d, want 1", store.Cursor())
	}
	if !store.CanUndo() {
		t.Error("CanUndo() = false after replay")
	}
}

func TestStore_Clear(t *testing.T) {
	scene := newFakeScene()
	store := NewStore(100, scene, &fakeBroadcaster{})

	_ = store.Push(addOp("op-1", "shape-1", `a`, 100))
	store.Clear()

	if store.Len() != 0 || store.Cursor() != -1 || store.CanUndo() || store.CanRedo() {
		t.Error("Clear() left residual history state")
	}
}
