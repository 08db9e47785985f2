package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/voicedesk/voicequote/internal/domain"
	"gorm.io/gorm"
)

// GormQuoteSubmissionRepository implements QuoteSubmissionRepository using GORM
type GormQuoteSubmissionRepository struct {
	db *gorm.DB
}

// NewGormQuoteSubmissionRepository creates a new GORM quote submission repository
func NewGormQuoteSubmissionRepository(db *gorm.DB) *GormQuoteSubmissionRepository {
	return &GormQuoteSubmissionRepository{db: db}
}

// Create persists a quote submission audit record
func (r *GormQuoteSubmissionRepository) Create(ctx context.Context, submission *domain.QuoteSubmission) error {
	now := time.Now()
	if submission.ID == "" {
		submission.ID = uuid.New().String()
	}
	submission.CreatedAt = now
	submission.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(submission).Error; err != nil {
		return fmt.Errorf("failed to create quote submission: %w", err)
	}
	return nil
}

// GetByCallID returns all submissions made during one call
func (r *GormQuoteSubmissionRepository) GetByCallID(ctx context.Context, callID string) ([]*domain.QuoteSubmission, error) {
	var submissions []*domain.QuoteSubmission
	err := r.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("created_at ASC").
		Find(&submissions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get quote submissions: %w", err)
	}
	return submissions, nil
}

// List returns submissions newest first
func (r *GormQuoteSubmissionRepository) List(ctx context.Context, limit, offset int) ([]*domain.QuoteSubmission, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var submissions []*domain.QuoteSubmission
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&submissions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list quote submissions: %w", err)
	}
	return submissions, nil
}
