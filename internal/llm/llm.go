package llm

import (
	"context"

	"github.com/voicedesk/voicequote/internal/domain"
)

// Update is the structured output of an extraction call. Pointer scalars
// distinguish "not mentioned" (nil) from "explicitly provided" so a merge can
// never erase known values with nulls.
type Update struct {
	CustomerName      *string      `json:"customer_name"`
	ContactInfo       *string      `json:"contact_info"`
	QuoteItems        []ItemUpdate `json:"quote_items"`
	ExpectedStartDate *string      `json:"expected_start_date"`
	Notes             *string      `json:"notes"`
}

// ItemUpdate is one extracted product line, pre catalog matching
type ItemUpdate struct {
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

// LanguageModel is the narrow capability surface the dialogue layer consumes.
// Implementations must be safe for concurrent use.
type LanguageModel interface {
	// Classify buckets the utterance into one behavior category
	Classify(ctx context.Context, utterance string, history []domain.Message, hasQuote, quoteComplete bool) (domain.Behavior, error)

	// Extract reads the conversation window plus prior extracted state and
	// returns the fields mentioned so far
	Extract(ctx context.Context, history []domain.Message, prior domain.ExtractedFields, catalogNames []string) (*Update, error)

	// Confirm decides whether the utterance confirms submitting the quote
	Confirm(ctx context.Context, utterance string, history []domain.Message, quoteComplete bool) (bool, error)

	// RecapFields names which quote fields the caller is asking to hear back
	RecapFields(ctx context.Context, utterance string, history []domain.Message) ([]string, error)

	// Answer produces a free-form spoken reply for general questions
	Answer(ctx context.Context, utterance string, history []domain.Message) (string, error)
}
