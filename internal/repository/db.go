package repository

import (
	"context"

	"github.com/voicedesk/voicequote/internal/domain"
	"gorm.io/gorm"
)

// CallLogRepository defines the interface for call audit log operations
type CallLogRepository interface {
	Create(ctx context.Context, log *domain.CallLog) error
	GetByCallID(ctx context.Context, callID string) (*domain.CallLog, error)
	List(ctx context.Context, limit, offset int) ([]*domain.CallLog, error)
}

// QuoteSubmissionRepository defines the interface for quote submission audit operations
type QuoteSubmissionRepository interface {
	Create(ctx context.Context, submission *domain.QuoteSubmission) error
	GetByCallID(ctx context.Context, callID string) ([]*domain.QuoteSubmission, error)
	List(ctx context.Context, limit, offset int) ([]*domain.QuoteSubmission, error)
}

// RepositoryManager combines all repositories
type RepositoryManager interface {
	CallLogs() CallLogRepository
	QuoteSubmissions() QuoteSubmissionRepository

	// Transaction support
	WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connection
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM
type GormRepositoryManager struct {
	db                  *gorm.DB
	callLogRepo         *GormCallLogRepository
	quoteSubmissionRepo *GormQuoteSubmissionRepository
}

// NewGormRepositoryManager creates a new GORM repository manager
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:                  db,
		callLogRepo:         NewGormCallLogRepository(db),
		quoteSubmissionRepo: NewGormQuoteSubmissionRepository(db),
	}
}

// CallLogs returns the call log repository
func (m *GormRepositoryManager) CallLogs() CallLogRepository {
	return m.callLogRepo
}

// QuoteSubmissions returns the quote submission repository
func (m *GormRepositoryManager) QuoteSubmissions() QuoteSubmissionRepository {
	return m.quoteSubmissionRepo
}

// WithTx executes a function within a database transaction
func (m *GormRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewGormRepositoryManager(tx))
	})
}

// Ping checks the database connection
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
