package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// OperationRecord is the persisted form of a room's scene operation. The
// relay keeps the authoritative bounded log in memory; records exist only
// so a room's seed history survives a server restart.
type OperationRecord struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(27)"`
	RoomID     string    `json:"room_id" gorm:"index;not null"`
	UserID     string    `json:"user_id"`
	Type       string    `json:"type"`
	TargetKind string    `json:"target_kind"`
	TargetID   string    `json:"target_id"`
	Timestamp  int64     `json:"timestamp"`
	Payload    []byte    `json:"payload" gorm:"type:jsonb"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r *OperationRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = ksuid.New().String()
	}
	return nil
}

// NewOperationRecord flattens an operation for storage. The full
// operation rides along as JSON so replay loses nothing.
func NewOperationRecord(roomID string, op *SceneOperation) (*OperationRecord, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation %s: %w", op.ID, err)
	}

	return &OperationRecord{
		ID:         op.ID,
		RoomID:     roomID,
		UserID:     op.UserID,
		Type:       string(op.Type),
		TargetKind: string(op.Target.Kind),
		TargetID:   op.Target.ID,
		Timestamp:  op.Timestamp,
		Payload:    payload,
	}, nil
}

// Operation reconstructs the stored operation.
func (r *OperationRecord) Operation() (*SceneOperation, error) {
	var op SceneOperation
	if err := json.Unmarshal(r.Payload, &op); err != nil {
		return nil, fmt.Errorf("failed to decode operation record %s: %w", r.ID, err)
	}
	return &op, nil
}
