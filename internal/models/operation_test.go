package models

import (
	"errors"
	"testing"
)

func strPtr(v Vec3) *Vec3 { return &v }

func TestSceneOperation_Inverse(t *testing.T) {
	tests := []struct {
		name      string
		op        SceneOperation
		wantType  OperationType
		wantState string
	}{
		{
			name: "add inverts to delete",
			op: SceneOperation{
				ID:     "op-1",
				Type:   OpAdd,
				Target: OperationTarget{Kind: TargetShape, ID: "shape-1"},
				Data:   OperationData{State: []byte(`{"color":"red"}`)},
			},
			wantType:  OpDelete,
			wantState: `{"color":"red"}`,
		},
		{
			name: "delete inverts to add with prior state",
			op: SceneOperation{
				ID:     "op-2",
				Type:   OpDelete,
				Target: OperationTarget{Kind: TargetShape, ID: "shape-1"},
				Data:   OperationData{State: []byte(`{"color":"red"}`)},
			},
			wantType:  OpAdd,
			wantState: `{"color":"red"}`,
		},
		{
			name: "update swaps new and prior state",
			op: SceneOperation{
				ID:     "op-3",
				Type:   OpUpdate,
				Target: OperationTarget{Kind: TargetMaterial, ID: "mat-1"},
				Data: OperationData{
					State:         []byte(`{"color":"blue"}`),
					PreviousState: []byte(`{"color":"red"}`),
				},
			},
			wantType:  OpUpdate,
			wantState: `{"color":"red"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := tt.op.Inverse()
			if err != nil {
				t.Fatalf("Inverse() unexpected error: %v", err)
			}
			if inv.Type != tt.wantType {
				t.Errorf("Inverse() type = %q, want %q", inv.Type, tt.wantType)
			}
			if string(inv.Data.State) != tt.wantState {
				t.Errorf("Inverse() state = %s, want %s", inv.Data.State, tt.wantState)
			}
			if inv.Target != tt.op.Target {
				t.Errorf("Inverse() target = %+v, want %+v", inv.Target, tt.op.Target)
			}
			if inv.ID == tt.op.ID {
				t.Error("Inverse() should get a fresh id")
			}
		})
	}
}

func TestSceneOperation_InverseTransform(t *testing.T) {
	op := SceneOperation{
		ID:     "op-4",
		Type:   OpTransform,
		Target: OperationTarget{Kind: TargetShape, ID: "shape-1"},
		Data: OperationData{
			Position:         strPtr(Vec3{1, 2, 3}),
			PreviousPosition: strPtr(Vec3{0, 0, 0}),
		},
	}

	inv, err := op.Inverse()
	if err != nil {
		t.Fatalf("Inverse() unexpected error: %v", err)
	}
	if inv.Type != OpTransform {
		t.Errorf("Inverse() type = %q, want %q", inv.Type, OpTransform)
	}
	if inv.Data.Position == nil || *inv.Data.Position != (Vec3{0, 0, 0}) {
		t.Errorf("Inverse() position = %v, want prior position", inv.Data.Position)
	}
	if inv.Data.PreviousPosition == nil || *inv.Data.PreviousPosition != (Vec3{1, 2, 3}) {
		t.Errorf("Inverse() previousPosition = %v, want original position", inv.Data.PreviousPosition)
	}
}

func TestSceneOperation_InverseMissingPriorState(t *testing.T) {
	tests := []struct {
		name string
		op   SceneOperation
	}{
		{
			name: "update without prior state",
			op: SceneOperation{
				Type:   OpUpdate,
				Target: OperationTarget{Kind: TargetShape, ID: "shape-1"},
				Data:   OperationData{State: []byte(`{"color":"blue"}`)},
			},
		},
		{
			name: "transform without prior pose",
			op: SceneOperation{
				Type:   OpTransform,
				Target: OperationTarget{Kind: TargetShape, ID: "shape-1"},
				Data:   OperationData{Position: strPtr(Vec3{1, 2, 3})},
			},
		},
		{
			name: "delete without recorded state",
			op: SceneOperation{
				Type:   OpDelete,
				Target: OperationTarget{Kind: TargetShape, ID: "shape-1"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.op.Inverse(); !errors.Is(err, ErrNoPriorState) {
				t.Errorf("Inverse() error = %v, want ErrNoPriorState", err)
			}
		})
	}
}

func TestSceneOperation_Valid(t *testing.T) {
	valid := SceneOperation{
		ID:     "op-1",
		Type:   OpAdd,
		Target: OperationTarget{Kind: TargetShape, ID: "shape-1"},
	}
	if !valid.Valid() {
		t.Error("Valid() = false for well-formed operation")
	}

	invalid := []SceneOperation{
		{ID: "op-2", Type: "rename", Target: OperationTarget{Kind: TargetShape, ID: "s"}},
		{ID: "op-3", Type: OpAdd, Target: OperationTarget{Kind: "light", ID: "s"}},
		{ID: "", Type: OpAdd, Target: OperationTarget{Kind: TargetShape, ID: "s"}},
		{ID: "op-4", Type: OpAdd, Target: OperationTarget{Kind: TargetShape, ID: ""}},
	}
	for i, op := range invalid {
		if op.Valid() {
			t.Errorf("Valid() = true for malformed operation %d", i)
		}
	}
}

func TestMessage_DecodePayloadUnknownType(t *testing.T) {
	msg := &Message{Type: "presence_blast", Payload: []byte(`{}`)}
	if _, err := msg.DecodePayload(); err == nil {
		t.Error("DecodePayload() expected error for unknown type")
	}
}

func TestMessage_DecodePayloadRoundTrip(t *testing.T) {
	msg := MustMessage(MessageChat, ChatPayload{Content: "hello"})
	decoded, err := msg.DecodePayload()
	if err != nil {
		t.Fatalf("DecodePayload() error: %v", err)
	}
	chat, ok := decoded.(*ChatPayload)
	if !ok {
		t.Fatalf("DecodePayload() returned %T, want *ChatPayload", decoded)
	}
	if chat.Content != "hello" {
		t.Errorf("DecodePayload() content = %q, want %q", chat.Content, "hello")
	}
}
