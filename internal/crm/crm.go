package crm

import (
	"context"

	"github.com/voicedesk/voicequote/internal/domain"
)

// QuoteRequest carries everything needed to create a CRM quote
type QuoteRequest struct {
	AccountID    string
	ContactID    string
	CustomerName string
	Items        []domain.QuoteItem
	StartDate    string
	Notes        string
}

// QuoteResult identifies the created quote
type QuoteResult struct {
	QuoteID     string
	QuoteNumber string
	QuoteURL    string
	// UnmatchedItems are requested products that had no priced catalog entry;
	// they were recorded on the quote description instead of as line items.
	UnmatchedItems []string
}

// Backend is the CRM capability surface the quote finalizer consumes.
// Every method returns an error instead of panicking; callers treat any error
// as "quote not created" and keep state for retry.
type Backend interface {
	// FindOrCreateAccount resolves an account id for the caller, preferring a
	// contact-by-email lookup and falling back to account-by-name
	FindOrCreateAccount(ctx context.Context, name, contactInfo string) (string, error)

	// FindOrCreateContact resolves or creates the person record under the account
	FindOrCreateContact(ctx context.Context, accountID, name, contactInfo string) (string, error)

	// ListActiveProducts returns the sellable catalog
	ListActiveProducts(ctx context.Context) ([]domain.Product, error)

	// CreateQuote creates the quote header and its line items
	CreateQuote(ctx context.Context, req QuoteRequest) (*QuoteResult, error)
}

// Notifier sends the post-submission quote summary to the customer
type Notifier interface {
	SendQuoteEmail(ctx context.Context, to string, result *QuoteResult, fields domain.ExtractedFields) error
}
