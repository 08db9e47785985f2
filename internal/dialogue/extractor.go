package dialogue

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/voicedesk/voicequote/internal/crm"
	"github.com/voicedesk/voicequote/internal/domain"
	"github.com/voicedesk/voicequote/internal/llm"
	"github.com/voicedesk/voicequote/internal/normalize"
	"github.com/voicedesk/voicequote/pkg/logger"
	"go.uber.org/zap"
)

// Extractor runs the structured-field extraction pass over the conversation
// and merges its output into the running quote state. Extraction is additive:
// a pass can only refine or extend what the caller already provided, never
// silently erase it.
type Extractor struct {
	model llm.LanguageModel
	crm   crm.Backend
}

// NewExtractor creates an extractor backed by the given model and catalog source
func NewExtractor(model llm.LanguageModel, backend crm.Backend) *Extractor {
	return &Extractor{model: model, crm: backend}
}

// Run produces the next quote state from the conversation history and the
// prior state. On any model or catalog failure it returns the prior fields
// untouched with every required field reported missing, so a transient
// outage degrades to a re-prompt instead of data loss.
func (e *Extractor) Run(ctx context.Context, history []domain.Message, prior *domain.QuoteState) *domain.QuoteState {
	catalog, err := e.loadCatalog(ctx, prior)
	if err != nil {
		logger.Base().Warn("product catalog lookup failed", zap.Error(err))
		return failedExtraction(prior, nil)
	}

	priorFields := domain.ExtractedFields{}
	if prior != nil {
		priorFields = prior.Extracted
	}

	update, err := e.model.Extract(ctx, history, priorFields, catalogNames(catalog))
	if err != nil {
		logger.Base().Warn("field extraction failed", zap.Error(err))
		return failedExtraction(prior, catalog)
	}

	merged := Merge(priorFields, update, catalog)
	missing := MissingFields(merged)

	next := &domain.QuoteState{
		Extracted:         merged,
		MissingFields:     missing,
		IsComplete:        len(missing) == 0,
		ProductsAvailable: catalog,
	}
	if next.IsComplete {
		if prior != nil && prior.ConfirmNonce != "" {
			next.ConfirmNonce = prior.ConfirmNonce
		} else {
			next.ConfirmNonce = uuid.NewString()
		}
	}
	return next
}

// loadCatalog reuses the catalog already cached on the state when present,
// fetching from the CRM only on the first extraction of a call.
func (e *Extractor) loadCatalog(ctx context.Context, prior *domain.QuoteState) ([]domain.Product, error) {
	if prior != nil && len(prior.ProductsAvailable) > 0 {
		return prior.ProductsAvailable, nil
	}
	if e.crm == nil {
		return nil, nil
	}
	return e.crm.ListActiveProducts(ctx)
}

func catalogNames(catalog []domain.Product) []string {
	names := make([]string, 0, len(catalog))
	for _, p := range catalog {
		names = append(names, p.Name)
	}
	return names
}

// failedExtraction keeps whatever the caller already gave us and forces a
// full re-prompt by marking all required fields missing.
func failedExtraction(prior *domain.QuoteState, catalog []domain.Product) *domain.QuoteState {
	fields := domain.ExtractedFields{}
	if prior != nil {
		fields = prior.Extracted
		if len(catalog) == 0 {
			catalog = prior.ProductsAvailable
		}
	}
	return &domain.QuoteState{
		Extracted:         fields,
		MissingFields:     append([]string(nil), domain.RequiredQuoteFields...),
		IsComplete:        false,
		ProductsAvailable: catalog,
	}
}

// Merge folds a model update into the prior fields:
// scalar fields only change when the update carries a non-null value, new
// items are matched against the catalog and merged by product name, and
// contact info is normalized when it can be read as an email address.
func Merge(prior domain.ExtractedFields, update *llm.Update, catalog []domain.Product) domain.ExtractedFields {
	merged := domain.ExtractedFields{
		CustomerName:      prior.CustomerName,
		ContactInfo:       prior.ContactInfo,
		ExpectedStartDate: prior.ExpectedStartDate,
		Notes:             prior.Notes,
		QuoteItems:        append([]domain.QuoteItem(nil), prior.QuoteItems...),
	}
	if update == nil {
		return merged
	}

	if update.CustomerName != nil && strings.TrimSpace(*update.CustomerName) != "" {
		merged.CustomerName = strings.TrimSpace(*update.CustomerName)
	}
	if update.ExpectedStartDate != nil && strings.TrimSpace(*update.ExpectedStartDate) != "" {
		merged.ExpectedStartDate = strings.TrimSpace(*update.ExpectedStartDate)
	}
	if update.Notes != nil && strings.TrimSpace(*update.Notes) != "" {
		merged.Notes = strings.TrimSpace(*update.Notes)
	}
	if update.ContactInfo != nil && strings.TrimSpace(*update.ContactInfo) != "" {
		merged.ContactInfo = normalizeContact(*update.ContactInfo)
	}

	for _, item := range update.QuoteItems {
		name := strings.TrimSpace(item.ProductName)
		if name == "" {
			continue
		}
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		next := domain.QuoteItem{ProductName: name, Quantity: quantity}
		if product, ok := normalize.MatchProduct(name, catalog); ok {
			next.ProductName = product.Name
			next.Matched = true
		}
		merged.QuoteItems = upsertItem(merged.QuoteItems, next)
	}
	return merged
}

// upsertItem replaces the quantity of an existing line with the same product
// name, or appends a new line.
func upsertItem(items []domain.QuoteItem, next domain.QuoteItem) []domain.QuoteItem {
	for i := range items {
		if items[i].ProductName == next.ProductName {
			items[i].Quantity = next.Quantity
			items[i].Matched = next.Matched
			return items
		}
	}
	return append(items, next)
}

// normalizeContact runs spoken-email normalization, keeping the raw text
// when it cannot produce a valid address. Phone numbers pass through as-is.
func normalizeContact(raw string) string {
	raw = strings.TrimSpace(raw)
	if email, ok := normalize.Email(raw); ok {
		return email
	}
	return raw
}

// MissingFields reports which required fields are still empty. Quote items
// count only when at least one line has a product name and positive quantity.
func MissingFields(fields domain.ExtractedFields) []string {
	var missing []string
	if strings.TrimSpace(fields.CustomerName) == "" {
		missing = append(missing, domain.FieldCustomerName)
	}
	if strings.TrimSpace(fields.ContactInfo) == "" {
		missing = append(missing, domain.FieldContactInfo)
	}
	hasItem := false
	for _, item := range fields.QuoteItems {
		if strings.TrimSpace(item.ProductName) != "" && item.Quantity > 0 {
			hasItem = true
			break
		}
	}
	if !hasItem {
		missing = append(missing, domain.FieldQuoteItems)
	}
	return missing
}
