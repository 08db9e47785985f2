package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/voicedesk/voicequote/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCallLogRepository implements CallLogRepository using GORM
type GormCallLogRepository struct {
	db *gorm.DB
}

// NewGormCallLogRepository creates a new GORM call log repository
func NewGormCallLogRepository(db *gorm.DB) *GormCallLogRepository {
	return &GormCallLogRepository{db: db}
}

// Create persists a call audit record. Writing the same call id twice
// updates the existing row, so a retried disconnect event stays idempotent.
func (r *GormCallLogRepository) Create(ctx context.Context, log *domain.CallLog) error {
	now := time.Now()
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = now
	}
	log.UpdatedAt = now

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "call_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "transcript", "quote_created", "end_reason", "ended_at", "updated_at",
		}),
	}).Create(log).Error
	if err != nil {
		return fmt.Errorf("failed to create call log: %w", err)
	}
	return nil
}

// GetByCallID fetches the audit record for one call
func (r *GormCallLogRepository) GetByCallID(ctx context.Context, callID string) (*domain.CallLog, error) {
	var log domain.CallLog
	err := r.db.WithContext(ctx).Where("call_id = ?", callID).First(&log).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call log: %w", err)
	}
	return &log, nil
}

// List returns call logs newest first
func (r *GormCallLogRepository) List(ctx context.Context, limit, offset int) ([]*domain.CallLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var logs []*domain.CallLog
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list call logs: %w", err)
	}
	return logs, nil
}
