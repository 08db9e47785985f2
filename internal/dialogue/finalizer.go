package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/voicedesk/voicequote/internal/crm"
	"github.com/voicedesk/voicequote/internal/domain"
	"github.com/voicedesk/voicequote/pkg/logger"
	"go.uber.org/zap"
)

// Finalizer turns a confirmed set of quote fields into CRM records:
// account, then contact, then the quote itself, with a confirmation email
// when the caller left an address.
type Finalizer struct {
	crm    crm.Backend
	mailer crm.Notifier
}

// NewFinalizer creates a finalizer; mailer may be nil when email is not configured
func NewFinalizer(backend crm.Backend, mailer crm.Notifier) *Finalizer {
	return &Finalizer{crm: backend, mailer: mailer}
}

// Finalize creates the quote in the CRM. The email step is best effort:
// a send failure is logged and reported via the second return value but does
// not fail the submission.
func (f *Finalizer) Finalize(ctx context.Context, fields domain.ExtractedFields) (*crm.QuoteResult, bool, error) {
	if f.crm == nil {
		return nil, false, fmt.Errorf("no CRM backend configured")
	}

	accountID, err := f.crm.FindOrCreateAccount(ctx, fields.CustomerName, fields.ContactInfo)
	if err != nil {
		return nil, false, fmt.Errorf("resolve account: %w", err)
	}
	contactID, err := f.crm.FindOrCreateContact(ctx, accountID, fields.CustomerName, fields.ContactInfo)
	if err != nil {
		return nil, false, fmt.Errorf("resolve contact: %w", err)
	}

	result, err := f.crm.CreateQuote(ctx, crm.QuoteRequest{
		AccountID:    accountID,
		ContactID:    contactID,
		CustomerName: fields.CustomerName,
		Items:        fields.QuoteItems,
		StartDate:    fields.ExpectedStartDate,
		Notes:        fields.Notes,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create quote: %w", err)
	}

	emailSent := false
	if f.mailer != nil && strings.Contains(fields.ContactInfo, "@") {
		if err := f.mailer.SendQuoteEmail(ctx, fields.ContactInfo, result, fields); err != nil {
			logger.Base().Warn("quote confirmation email failed",
				zap.String("quote_id", result.QuoteID),
				zap.Error(err))
		} else {
			emailSent = true
		}
	}
	return result, emailSent, nil
}
