package dialogue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicedesk/voicequote/internal/crm"
	"github.com/voicedesk/voicequote/internal/domain"
	"github.com/voicedesk/voicequote/internal/llm"
)

// fakeModel implements llm.LanguageModel with overridable behavior per test
type fakeModel struct {
	classifyFn func(utterance string) (domain.Behavior, error)
	extractFn  func(prior domain.ExtractedFields) (*llm.Update, error)
	confirmFn  func(utterance string) (bool, error)
	recapFn    func(utterance string) ([]string, error)
	answerFn   func(utterance string) (string, error)

	confirmCalls int
	extractCalls int
	answerCalls  int
}

func (f *fakeModel) Classify(_ context.Context, utterance string, _ []domain.Message, _, _ bool) (domain.Behavior, error) {
	if f.classifyFn != nil {
		return f.classifyFn(utterance)
	}
	return domain.BehaviorGeneralQA, nil
}

func (f *fakeModel) Extract(_ context.Context, _ []domain.Message, prior domain.ExtractedFields, _ []string) (*llm.Update, error) {
	f.extractCalls++
	if f.extractFn != nil {
		return f.extractFn(prior)
	}
	return &llm.Update{}, nil
}

func (f *fakeModel) Confirm(_ context.Context, utterance string, _ []domain.Message, _ bool) (bool, error) {
	f.confirmCalls++
	if f.confirmFn != nil {
		return f.confirmFn(utterance)
	}
	return false, nil
}

func (f *fakeModel) RecapFields(_ context.Context, utterance string, _ []domain.Message) ([]string, error) {
	if f.recapFn != nil {
		return f.recapFn(utterance)
	}
	return nil, nil
}

func (f *fakeModel) Answer(_ context.Context, utterance string, _ []domain.Message) (string, error) {
	f.answerCalls++
	if f.answerFn != nil {
		return f.answerFn(utterance)
	}
	return "Happy to help with quotes for our product range.", nil
}

// fakeCRM implements crm.Backend against in-memory data
type fakeCRM struct {
	products    []domain.Product
	productsErr error
	createErr   error
	createCalls int
	lastRequest crm.QuoteRequest
	quoteNumber string
}

func (f *fakeCRM) FindOrCreateAccount(context.Context, string, string) (string, error) {
	return "acct-1", nil
}

func (f *fakeCRM) FindOrCreateContact(context.Context, string, string, string) (string, error) {
	return "cont-1", nil
}

func (f *fakeCRM) ListActiveProducts(context.Context) ([]domain.Product, error) {
	return f.products, f.productsErr
}

func (f *fakeCRM) CreateQuote(_ context.Context, req crm.QuoteRequest) (*crm.QuoteResult, error) {
	f.createCalls++
	f.lastRequest = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	number := f.quoteNumber
	if number == "" {
		number = "Q-00042"
	}
	return &crm.QuoteResult{QuoteID: "quote-1", QuoteNumber: number, QuoteURL: "https://example.my.salesforce.com/lightning/r/Quote/quote-1/view"}, nil
}

func strPtr(s string) *string { return &s }

func TestMergeScalarNullNeverErases(t *testing.T) {
	prior := domain.ExtractedFields{CustomerName: "Ann Lee", ContactInfo: "ann@example.com"}

	merged := Merge(prior, &llm.Update{Notes: strPtr("needs delivery")}, nil)

	assert.Equal(t, "Ann Lee", merged.CustomerName)
	assert.Equal(t, "ann@example.com", merged.ContactInfo)
	assert.Equal(t, "needs delivery", merged.Notes)

	merged = Merge(merged, &llm.Update{CustomerName: strPtr("Ann Leung")}, nil)
	assert.Equal(t, "Ann Leung", merged.CustomerName)
	assert.Equal(t, "needs delivery", merged.Notes)
}

func TestMergeItemQuantityOverwrite(t *testing.T) {
	prior := domain.ExtractedFields{
		QuoteItems: []domain.QuoteItem{{ProductName: "Widget", Quantity: 2}},
	}
	update := &llm.Update{QuoteItems: []llm.ItemUpdate{
		{ProductName: "Widget", Quantity: 5},
		{ProductName: "Gadget", Quantity: 1},
	}}

	merged := Merge(prior, update, nil)

	require.Len(t, merged.QuoteItems, 2)
	assert.Equal(t, domain.QuoteItem{ProductName: "Widget", Quantity: 5}, merged.QuoteItems[0])
	assert.Equal(t, domain.QuoteItem{ProductName: "Gadget", Quantity: 1}, merged.QuoteItems[1])
}

func TestMergeMatchesItemsAgainstCatalog(t *testing.T) {
	catalog := []domain.Product{{ID: "p1", Name: "Inverter X2"}, {ID: "p2", Name: "Solar Panel 450W"}}
	update := &llm.Update{QuoteItems: []llm.ItemUpdate{
		{ProductName: "inverter x 2", Quantity: 2},
		{ProductName: "garden gnome", Quantity: 1},
	}}

	merged := Merge(domain.ExtractedFields{}, update, catalog)

	require.Len(t, merged.QuoteItems, 2)
	assert.Equal(t, "Inverter X2", merged.QuoteItems[0].ProductName)
	assert.True(t, merged.QuoteItems[0].Matched)
	assert.Equal(t, "garden gnome", merged.QuoteItems[1].ProductName)
	assert.False(t, merged.QuoteItems[1].Matched)
}

func TestMergeDefaultsZeroQuantityToOne(t *testing.T) {
	update := &llm.Update{QuoteItems: []llm.ItemUpdate{{ProductName: "Widget"}}}

	merged := Merge(domain.ExtractedFields{}, update, nil)

	require.Len(t, merged.QuoteItems, 1)
	assert.Equal(t, 1, merged.QuoteItems[0].Quantity)
}

func TestMergeNormalizesSpokenEmailContact(t *testing.T) {
	update := &llm.Update{ContactInfo: strPtr("john DOT smith AT gmail DOT com")}

	merged := Merge(domain.ExtractedFields{}, update, nil)

	assert.Equal(t, "john.smith@gmail.com", merged.ContactInfo)
}

func TestMergeKeepsPhoneContactVerbatim(t *testing.T) {
	update := &llm.Update{ContactInfo: strPtr("+44 7700 900123")}

	merged := Merge(domain.ExtractedFields{}, update, nil)

	assert.Equal(t, "+44 7700 900123", merged.ContactInfo)
}

func TestMissingFieldsRules(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{domain.FieldCustomerName, domain.FieldContactInfo, domain.FieldQuoteItems},
		MissingFields(domain.ExtractedFields{}))

	fields := domain.ExtractedFields{
		CustomerName: "Ann",
		ContactInfo:  "ann@example.com",
		QuoteItems:   []domain.QuoteItem{{ProductName: "Widget", Quantity: 0}},
	}
	assert.Equal(t, []string{domain.FieldQuoteItems}, MissingFields(fields))

	fields.QuoteItems[0].Quantity = 3
	assert.Empty(t, MissingFields(fields))
}

func TestRunKeepsPriorFieldsOnModelFailure(t *testing.T) {
	model := &fakeModel{extractFn: func(domain.ExtractedFields) (*llm.Update, error) {
		return nil, errors.New("deployment overloaded")
	}}
	backend := &fakeCRM{products: []domain.Product{{ID: "p1", Name: "Widget"}}}
	ex := NewExtractor(model, backend)

	prior := &domain.QuoteState{
		Extracted: domain.ExtractedFields{CustomerName: "Ann", ContactInfo: "ann@example.com"},
	}
	next := ex.Run(context.Background(), nil, prior)

	assert.Equal(t, prior.Extracted, next.Extracted)
	assert.Equal(t, []string{domain.FieldCustomerName, domain.FieldContactInfo, domain.FieldQuoteItems}, next.MissingFields)
	assert.False(t, next.IsComplete)
}

func TestRunIssuesNonceOnCompletion(t *testing.T) {
	model := &fakeModel{extractFn: func(domain.ExtractedFields) (*llm.Update, error) {
		return &llm.Update{
			CustomerName: strPtr("Ann Lee"),
			ContactInfo:  strPtr("ann@example.com"),
			QuoteItems:   []llm.ItemUpdate{{ProductName: "Widget", Quantity: 2}},
		}, nil
	}}
	backend := &fakeCRM{products: []domain.Product{{ID: "p1", Name: "Widget"}}}
	ex := NewExtractor(model, backend)

	first := ex.Run(context.Background(), nil, nil)
	require.True(t, first.IsComplete)
	require.NotEmpty(t, first.ConfirmNonce)

	// a further extraction on a complete quote keeps the same token
	second := ex.Run(context.Background(), nil, first)
	assert.Equal(t, first.ConfirmNonce, second.ConfirmNonce)
}

func TestRunCachesCatalogOnState(t *testing.T) {
	model := &fakeModel{}
	backend := &fakeCRM{products: []domain.Product{{ID: "p1", Name: "Widget"}}}
	ex := NewExtractor(model, backend)

	first := ex.Run(context.Background(), nil, nil)
	require.Len(t, first.ProductsAvailable, 1)

	backend.productsErr = errors.New("crm down")
	second := ex.Run(context.Background(), nil, first)
	assert.Len(t, second.ProductsAvailable, 1)
}
