package repository

import (
	"context"
	"fmt"

	"scene-collab/internal/models"

	"gorm.io/gorm"
)

// OperationRepository persists room operation logs so the bounded
// in-memory window can be reseeded after a relay restart. The in-memory
// log stays authoritative while the process is up; this store is
// write-behind and best-effort.
type OperationRepository struct {
	db *gorm.DB
}

func NewOperationRepository(db *gorm.DB) *OperationRepository {
	return &OperationRepository{db: db}
}

// Store persists one scene operation for a room.
func (r *OperationRepository) Store(ctx context.Context, roomID string, op *models.SceneOperation) error {
	record, err := models.NewOperationRecord(roomID, op)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to store operation %s: %w", op.ID, err)
	}

	return nil
}

// GetRecent returns up to limit of the room's most recent operations in
// chronological order, matching the shape of the in-memory log.
func (r *OperationRepository) GetRecent(ctx context.Context, roomID string, limit int) ([]models.SceneOperation, error) {
	var records []models.OperationRecord

	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load operations for room %s: %w", roomID, err)
	}

	// Reverse into chronological order.
	ops := make([]models.SceneOperation, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		op, err := records[i].Operation()
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}

	return ops, nil
}

// Trim deletes a room's rows beyond keepCount, oldest first. Called
// periodically so the table tracks the in-memory eviction policy.
func (r *OperationRepository) Trim(ctx context.Context, roomID string, keepCount int) error {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.OperationRecord{}).
		Where("room_id = ?", roomID).
		Count(&count).Error; err != nil {
		return err
	}

	if count <= int64(keepCount) {
		return nil
	}

	var cutoff models.OperationRecord
	offset := count - int64(keepCount)
	if err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("timestamp ASC").
		Offset(int(offset)).
		First(&cutoff).Error; err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Where("room_id = ? AND timestamp < ?", roomID, cutoff.Timestamp).
		Delete(&models.OperationRecord{})
	if result.Error != nil {
		return fmt.Errorf("failed to trim operations for room %s: %w", roomID, result.Error)
	}

	return nil
}

// DeleteRoom removes all rows for a destroyed room.
func (r *OperationRepository) DeleteRoom(ctx context.Context, roomID string) error {
	result := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Delete(&models.OperationRecord{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete operations for room %s: %w", roomID, result.Error)
	}
	return nil
}
