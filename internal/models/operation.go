package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/ksuid"
)

// OperationType enumerates the mutations a SceneOperation can express.
type OperationType string

const (
	OpAdd       OperationType = "add"
	OpUpdate    OperationType = "update"
	OpDelete    OperationType = "delete"
	OpTransform OperationType = "transform"
)

// TargetKind enumerates the entity kinds an operation can address.
type TargetKind string

const (
	TargetShape     TargetKind = "shape"
	TargetMaterial  TargetKind = "material"
	TargetHierarchy TargetKind = "hierarchy"
)

// Vec3 is an xyz triple used for positions, rotations, and scales.
type Vec3 [3]float64

// OperationTarget identifies the entity an operation mutates.
type OperationTarget struct {
	Kind TargetKind `json:"type"`
	ID   string     `json:"id"`
}

// OperationData carries the kind-specific payload of an operation. The
// core never interprets entity state; State/PreviousState are opaque JSON
// owned by the scene layer. Invariant: update records PreviousState and
// transform records the Previous* pose, so the inverse is always
// constructible without consulting any external store.
type OperationData struct {
	State         json.RawMessage `json:"state,omitempty"`
	PreviousState json.RawMessage `json:"previousState,omitempty"`

	Position         *Vec3 `json:"position,omitempty"`
	Rotation         *Vec3 `json:"rotation,omitempty"`
	Scale            *Vec3 `json:"scale,omitempty"`
	PreviousPosition *Vec3 `json:"previousPosition,omitempty"`
	PreviousRotation *Vec3 `json:"previousRotation,omitempty"`
	PreviousScale    *Vec3 `json:"previousScale,omitempty"`
}

// SceneOperation is a single authored mutation to a shared entity.
type SceneOperation struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Timestamp int64           `json:"timestamp"`
	Type      OperationType   `json:"type"`
	Target    OperationTarget `json:"target"`
	Data      OperationData   `json:"data"`
}

// ErrNoPriorState is returned when an inverse cannot be built because the
// operation did not record the state it replaced.
var ErrNoPriorState = errors.New("operation carries no prior state")

// NewSceneOperation stamps a fresh id and timestamp on an operation.
func NewSceneOperation(userID string, opType OperationType, target OperationTarget, data OperationData) *SceneOperation {
	return &SceneOperation{
		ID:        ksuid.New().String(),
		UserID:    userID,
		Timestamp: NowMillis(),
		Type:      opType,
		Target:    target,
		Data:      data,
	}
}

// Inverse constructs the operation that undoes op against the same
// target: add becomes delete, delete becomes re-add of the recorded
// state, and update/transform swap new state for the recorded prior
// state. The inverse gets its own id and timestamp.
func (op *SceneOperation) Inverse() (*SceneOperation, error) {
	inv := &SceneOperation{
		ID:        ksuid.New().String(),
		UserID:    op.UserID,
		Timestamp: NowMillis(),
		Target:    op.Target,
	}

	switch op.Type {
	case OpAdd:
		inv.Type = OpDelete
		inv.Data.State = op.Data.State

	case OpDelete:
		if len(op.Data.State) == 0 {
			return nil, fmt.Errorf("inverse of delete %s: %w", op.Target.ID, ErrNoPriorState)
		}
		inv.Type = OpAdd
		inv.Data.State = op.Data.State

	case OpUpdate:
		if len(op.Data.PreviousState) == 0 {
			return nil, fmt.Errorf("inverse of update %s: %w", op.Target.ID, ErrNoPriorState)
		}
		inv.Type = OpUpdate
		inv.Data.State = op.Data.PreviousState
		inv.Data.PreviousState = op.Data.State

	case OpTransform:
		if op.Data.PreviousPosition == nil && op.Data.PreviousRotation == nil && op.Data.PreviousScale == nil {
			return nil, fmt.Errorf("inverse of transform %s: %w", op.Target.ID, ErrNoPriorState)
		}
		inv.Type = OpTransform
		inv.Data.Position = op.Data.PreviousPosition
		inv.Data.Rotation = op.Data.PreviousRotation
		inv.Data.Scale = op.Data.PreviousScale
		inv.Data.PreviousPosition = op.Data.Position
		inv.Data.PreviousRotation = op.Data.Rotation
		inv.Data.PreviousScale = op.Data.Scale

	default:
		return nil, fmt.Errorf("cannot invert operation type %q", op.Type)
	}

	return inv, nil
}

// Valid reports whether the operation is well-formed enough to relay.
func (op *SceneOperation) Valid() bool {
	switch op.Type {
	case OpAdd, OpUpdate, OpDelete, OpTransform:
	default:
		return false
	}
	switch op.Target.Kind {
	case TargetShape, TargetMaterial, TargetHierarchy:
	default:
		return false
	}
	return op.ID != "" && op.Target.ID != ""
}
